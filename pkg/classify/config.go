package classify

import (
	"context"
	"fmt"
	"time"
)

// Config selects and tunes the classifier.
type Config struct {
	// Kind is "heuristic" (default), "openai", "gemini" or "bedrock".
	Kind string `yaml:"kind"`

	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// Project and Location select Vertex AI for the gemini kind.
	Project  string `yaml:"project"`
	Location string `yaml:"location"`

	// Region is the AWS region for the bedrock kind.
	Region string `yaml:"region"`

	// Latency delays every classification. Zero means DefaultLatency for
	// the heuristic kind and no delay otherwise; negative disables it.
	Latency time.Duration `yaml:"latency"`

	// RatePerSecond limits calls when positive.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`

	// BreakerFailures opens a circuit breaker after that many consecutive
	// failures. Zero disables it.
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset"`
}

// New builds the configured classifier, wrapped with latency, rate limiting
// and instrumentation as configured.
func New(ctx context.Context, cfg Config) (Classifier, error) {
	var (
		c   Classifier
		err error
	)

	latency := cfg.Latency
	switch cfg.Kind {
	case "", "heuristic":
		c = NewHeuristic()
		if latency == 0 {
			latency = DefaultLatency
		}
	case "openai":
		c, err = NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "gemini":
		c, err = NewGemini(ctx, GeminiConfig{
			APIKey:   cfg.APIKey,
			Project:  cfg.Project,
			Location: cfg.Location,
			Model:    cfg.Model,
		})
	case "bedrock":
		c, err = NewBedrock(ctx, cfg.Region, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown classifier kind: %s", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}

	if cfg.BreakerFailures > 0 {
		reset := cfg.BreakerReset
		if reset <= 0 {
			reset = 30 * time.Second
		}
		c = NewBreaker(c, cfg.BreakerFailures, reset)
	}
	if cfg.RatePerSecond > 0 {
		c = NewRateLimited(c, cfg.RatePerSecond, cfg.Burst)
	}
	if latency > 0 {
		c = NewDelayed(c, latency)
	}
	return NewInstrumented(c), nil
}
