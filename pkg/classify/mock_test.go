package classify

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// mockOpenAIClient replays queued responses in order.
type mockOpenAIClient struct {
	mu        sync.Mutex
	responses []openai.ChatCompletionResponse
	errors    []error
	calls     []openai.ChatCompletionRequest
	modelErr  error
}

func (m *mockOpenAIClient) addResponse(content string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
		}},
	})
	m.errors = append(m.errors, err)
}

func (m *mockOpenAIClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.calls)
	m.calls = append(m.calls, req)
	if idx >= len(m.responses) {
		return openai.ChatCompletionResponse{}, nil
	}
	return m.responses[idx], m.errors[idx]
}

func (m *mockOpenAIClient) GetModel(ctx context.Context, modelID string) (openai.Model, error) {
	return openai.Model{ID: modelID}, m.modelErr
}

func (m *mockOpenAIClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockGeminiModels returns one canned text answer.
type mockGeminiModels struct {
	mu     sync.Mutex
	text   string
	err    error
	model  string
	config *genai.GenerateContentConfig
	getErr error
}

func (m *mockGeminiModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = model
	m.config = config
	if m.err != nil {
		return nil, m.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.text}}},
		}},
	}, nil
}

func (m *mockGeminiModels) Get(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &genai.Model{Name: model}, nil
}

// mockBedrock serves both the runtime and catalog interfaces.
type mockBedrock struct {
	text     string
	err      error
	input    *bedrockruntime.ConverseInput
	modelErr error
}

func (m *mockBedrock) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.text}},
			},
		},
	}, nil
}

func (m *mockBedrock) GetFoundationModel(ctx context.Context, params *bedrock.GetFoundationModelInput, optFns ...func(*bedrock.Options)) (*bedrock.GetFoundationModelOutput, error) {
	if m.modelErr != nil {
		return nil, m.modelErr
	}
	return &bedrock.GetFoundationModelOutput{}, nil
}
