package classify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mamasecure/scanstore/pkg/session"
	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIClient is the subset of *openai.Client used by the classifier.
type OpenAIClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	GetModel(ctx context.Context, modelID string) (openai.Model, error)
}

// OpenAI classifies through an OpenAI-compatible chat completion API.
type OpenAI struct {
	client OpenAIClient
	model  string
}

// NewOpenAI creates a classifier backed by the OpenAI API. baseURL selects
// an OpenAI-compatible endpoint and may be empty.
func NewOpenAI(apiKey, baseURL, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingCredentials)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewOpenAIFromClient(openai.NewClientWithConfig(cfg), model), nil
}

// NewOpenAIFromClient wraps an existing client.
func NewOpenAIFromClient(client OpenAIClient, model string) *OpenAI {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{client: client, model: model}
}

func (o *OpenAI) Name() string {
	return "openai"
}

func (o *OpenAI) Classify(ctx context.Context, input string) (session.ScanResult, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: input},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	text, err := withRetry(ctx, o.Name(), func(ctx context.Context) (string, error) {
		resp, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", wrapOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return "", &Error{Classifier: "openai", Err: errors.New("no choices in response")}
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return session.ScanResult{}, err
	}
	return parseVerdict(text)
}

// Ping checks that the configured model is reachable.
func (o *OpenAI) Ping(ctx context.Context) error {
	if _, err := o.client.GetModel(ctx, o.model); err != nil {
		return wrapOpenAIError(err)
	}
	return nil
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{
			Classifier: "openai",
			Retryable:  apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500,
			Err:        err,
		}
	}
	return &Error{Classifier: "openai", Retryable: isRetryable(err), Err: err}
}
