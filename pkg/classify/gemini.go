package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mamasecure/scanstore/pkg/session"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiModels is the subset of genai.Models used by the classifier.
type GeminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	Get(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error)
}

// GeminiConfig selects the Gemini API (APIKey) or Vertex AI (Project).
type GeminiConfig struct {
	APIKey   string
	Project  string
	Location string
	Model    string
}

// Gemini classifies through the Google Gen AI SDK.
type Gemini struct {
	models GeminiModels
	model  string
}

// NewGemini creates a Gen AI client. An API key selects the Gemini API;
// otherwise Project selects the Vertex AI backend with application default
// credentials.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	cc := &genai.ClientConfig{}
	switch {
	case cfg.APIKey != "":
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case cfg.Project != "":
		location := cfg.Location
		if location == "" {
			location = "us-central1"
		}
		cc.Project = cfg.Project
		cc.Location = location
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("gemini: %w", ErrMissingCredentials)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gen AI client: %w", err)
	}
	return NewGeminiFromModels(client.Models, cfg.Model), nil
}

// NewGeminiFromModels wraps an existing models service.
func NewGeminiFromModels(models GeminiModels, model string) *Gemini {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{models: models, model: model}
}

func (g *Gemini) Name() string {
	return "gemini"
}

func (g *Gemini) Classify(ctx context.Context, input string) (session.ScanResult, error) {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr(float32(0)),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		},
	}
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: input}},
	}}

	text, err := withRetry(ctx, g.Name(), func(ctx context.Context) (string, error) {
		resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
		if err != nil {
			return "", err
		}
		return responseText(resp)
	})
	if err != nil {
		return session.ScanResult{}, err
	}
	return parseVerdict(text)
}

// Ping fetches the configured model's metadata.
func (g *Gemini) Ping(ctx context.Context) error {
	if _, err := g.models.Get(ctx, g.model, nil); err != nil {
		return &Error{Classifier: "gemini", Retryable: isRetryable(err), Err: err}
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", &Error{Classifier: "gemini", Err: errors.New("no candidates in response")}
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return "", &Error{Classifier: "gemini", Err: fmt.Errorf("empty candidate (finish reason %s)", candidate.FinishReason)}
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}
