// Package classify turns submitted text into a scan verdict.
//
// Every classifier returns a session.ScanResult that passes
// ScanResult.Validate. Remote classifiers ask a model for a JSON verdict and
// share one parser, so a malformed answer surfaces as ErrInvalidVerdict
// instead of a bad record.
package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/mamasecure/scanstore/pkg/session"
)

// Classifier produces a verdict for one input.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, input string) (session.ScanResult, error)
}

// Pinger is implemented by classifiers that can probe their upstream.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Func adapts a function to a Classifier.
type Func func(ctx context.Context, input string) (session.ScanResult, error)

// Classify calls f.
func (f Func) Classify(ctx context.Context, input string) (session.ScanResult, error) {
	return f(ctx, input)
}

// Name returns "func".
func (f Func) Name() string {
	return "func"
}

var (
	// ErrInvalidVerdict is returned when a model answer cannot be turned
	// into a valid result.
	ErrInvalidVerdict = errors.New("invalid verdict")

	// ErrMissingCredentials is returned by constructors when no API key or
	// project is configured.
	ErrMissingCredentials = errors.New("missing credentials")
)

// Error wraps a failure reported by a remote classifier.
type Error struct {
	Classifier string
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s classifier: %v", e.Classifier, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
