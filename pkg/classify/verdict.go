package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/mamasecure/scanstore/pkg/session"
)

// systemPrompt asks a model for a single JSON verdict.
const systemPrompt = `You are a scam detection assistant. Decide whether the user's message or URL is a scam.
Answer with one JSON object and nothing else:
{"status": "scam" or "safe", "confidence": integer 0-100, "explanation": [short reasons], "sources": [references consulted]}`

const (
	maxRetries   = 4
	maxDelay     = 8 * time.Second
	jitterFactor = 0.3
)

// baseDelay is the first retry delay. Tests shorten it.
var baseDelay = 500 * time.Millisecond

type verdict struct {
	Status      string   `json:"status"`
	Confidence  *float64 `json:"confidence"`
	Explanation []string `json:"explanation"`
	Sources     []string `json:"sources"`
}

// parseVerdict extracts the JSON verdict from a model answer. Markdown code
// fences around the object are tolerated.
func parseVerdict(text string) (session.ScanResult, error) {
	raw := extractJSON(text)
	if raw == "" {
		return session.ScanResult{}, fmt.Errorf("%w: no JSON object in %q", ErrInvalidVerdict, truncate(text, 80))
	}

	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return session.ScanResult{}, fmt.Errorf("%w: %v", ErrInvalidVerdict, err)
	}
	if v.Confidence == nil {
		return session.ScanResult{}, fmt.Errorf("%w: missing confidence", ErrInvalidVerdict)
	}

	confidence := *v.Confidence
	// Some models answer with a probability instead of a percentage.
	if confidence > 0 && confidence < 1 {
		confidence *= 100
	}

	result := session.ScanResult{
		Status:      session.Status(strings.ToLower(strings.TrimSpace(v.Status))),
		Confidence:  int(confidence + 0.5),
		Explanation: nonEmpty(v.Explanation),
		Sources:     nonEmpty(v.Sources),
	}
	if err := result.Validate(); err != nil {
		return session.ScanResult{}, fmt.Errorf("%w: %v", ErrInvalidVerdict, err)
	}
	return result, nil
}

func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return text[start : end+1]
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// isRetryable reports whether err looks like a transient upstream failure.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "timeout", "unavailable", "throttl"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// withRetry calls fn until it succeeds, fails permanently or the attempts
// are used up. Failures are wrapped in *Error for name.
func withRetry(ctx context.Context, name string, fn func(ctx context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}

		text, err := fn(ctx)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			return "", asError(name, err)
		}
	}
	return "", asError(name, lastErr)
}

func asError(name string, err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Classifier: name, Retryable: isRetryable(err), Err: err}
}

// backoff returns baseDelay doubled per attempt, capped at maxDelay, with
// +/-30% jitter.
func backoff(attempt int) time.Duration {
	shift := min(max(attempt-1, 0), 16)
	delay := min(baseDelay<<shift, maxDelay)
	jitter := time.Duration(float64(delay) * jitterFactor * (rand.Float64()*2 - 1))
	return delay + jitter
}
