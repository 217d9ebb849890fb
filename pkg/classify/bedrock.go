package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/mamasecure/scanstore/pkg/session"
)

// DefaultBedrockModel is used when no model is configured.
const DefaultBedrockModel = "anthropic.claude-3-haiku-20240307-v1:0"

// BedrockRuntime is the subset of *bedrockruntime.Client used to classify.
type BedrockRuntime interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockCatalog is the subset of *bedrock.Client used for health probes.
type BedrockCatalog interface {
	GetFoundationModel(ctx context.Context, params *bedrock.GetFoundationModelInput, optFns ...func(*bedrock.Options)) (*bedrock.GetFoundationModelOutput, error)
}

// Bedrock classifies through the Amazon Bedrock Converse API.
type Bedrock struct {
	runtime BedrockRuntime
	catalog BedrockCatalog
	model   string
}

// NewBedrock loads the default AWS credential chain for region.
func NewBedrock(ctx context.Context, region, model string) (*Bedrock, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("bedrock: %w: no AWS region", ErrMissingCredentials)
	}
	return NewBedrockFromClients(bedrockruntime.NewFromConfig(cfg), bedrock.NewFromConfig(cfg), model), nil
}

// NewBedrockFromClients wraps existing clients. catalog may be nil, in which
// case Ping is a no-op.
func NewBedrockFromClients(runtime BedrockRuntime, catalog BedrockCatalog, model string) *Bedrock {
	if model == "" {
		model = DefaultBedrockModel
	}
	return &Bedrock{runtime: runtime, catalog: catalog, model: model}
}

func (b *Bedrock) Name() string {
	return "bedrock"
}

func (b *Bedrock) Classify(ctx context.Context, input string) (session.ScanResult, error) {
	in := &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.model),
		System: []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: systemPrompt},
		},
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: input}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(0),
			MaxTokens:   aws.Int32(512),
		},
	}

	text, err := withRetry(ctx, b.Name(), func(ctx context.Context) (string, error) {
		out, err := b.runtime.Converse(ctx, in)
		if err != nil {
			return "", err
		}
		return converseText(out)
	})
	if err != nil {
		return session.ScanResult{}, err
	}
	return parseVerdict(text)
}

// Ping looks up the configured foundation model.
func (b *Bedrock) Ping(ctx context.Context) error {
	if b.catalog == nil {
		return nil
	}
	_, err := b.catalog.GetFoundationModel(ctx, &bedrock.GetFoundationModelInput{
		ModelIdentifier: aws.String(b.model),
	})
	if err != nil {
		return &Error{Classifier: "bedrock", Retryable: isRetryable(err), Err: err}
	}
	return nil
}

func converseText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", &Error{Classifier: "bedrock", Err: errors.New("empty response")}
	}
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", &Error{Classifier: "bedrock", Err: fmt.Errorf("unexpected output type %T", out.Output)}
	}

	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(t.Value)
		}
	}
	return sb.String(), nil
}
