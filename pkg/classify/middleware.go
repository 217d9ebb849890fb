package classify

import (
	"context"
	"time"

	tracing "github.com/mamasecure/scanstore/internal/observability"
	"github.com/mamasecure/scanstore/pkg/observability"
	"github.com/mamasecure/scanstore/pkg/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// DefaultLatency is the artificial delay applied by Delayed when none is
// given.
const DefaultLatency = 2500 * time.Millisecond

// Delayed holds every classification back by a fixed latency. The wait is
// cut short when the context is cancelled.
type Delayed struct {
	next    Classifier
	latency time.Duration
}

// NewDelayed wraps next. A non-positive latency uses DefaultLatency.
func NewDelayed(next Classifier, latency time.Duration) *Delayed {
	if latency <= 0 {
		latency = DefaultLatency
	}
	return &Delayed{next: next, latency: latency}
}

func (d *Delayed) Name() string {
	return d.next.Name()
}

func (d *Delayed) Classify(ctx context.Context, input string) (session.ScanResult, error) {
	timer := time.NewTimer(d.latency)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return session.ScanResult{}, ctx.Err()
	case <-timer.C:
	}
	return d.next.Classify(ctx, input)
}

// Ping forwards to the wrapped classifier when it supports probing.
func (d *Delayed) Ping(ctx context.Context) error {
	return ping(ctx, d.next)
}

// RateLimited caps the rate of calls reaching the wrapped classifier.
type RateLimited struct {
	next    Classifier
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond calls per second with the given burst.
func NewRateLimited(next Classifier, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (r *RateLimited) Name() string {
	return r.next.Name()
}

// Classify blocks until the limiter admits the call or ctx is done.
func (r *RateLimited) Classify(ctx context.Context, input string) (session.ScanResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return session.ScanResult{}, err
	}
	return r.next.Classify(ctx, input)
}

func (r *RateLimited) Ping(ctx context.Context) error {
	return ping(ctx, r.next)
}

// Instrumented records a span and the latency histogram for every call.
type Instrumented struct {
	next Classifier
}

// NewInstrumented wraps next.
func NewInstrumented(next Classifier) *Instrumented {
	return &Instrumented{next: next}
}

func (i *Instrumented) Name() string {
	return i.next.Name()
}

func (i *Instrumented) Classify(ctx context.Context, input string) (session.ScanResult, error) {
	ctx, span := tracing.StartSpanWithOtel(ctx, "classify."+i.next.Name(),
		trace.WithAttributes(
			attribute.String("classifier", i.next.Name()),
			attribute.Int("input.length", len(input)),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := i.next.Classify(ctx, input)
	duration := time.Since(start)
	observability.RecordClassification(i.next.Name(), duration)

	span.SetAttributes(
		attribute.Int64("duration_ms", duration.Milliseconds()),
		attribute.Bool("success", err == nil),
	)
	if err != nil {
		span.RecordError(err)
		return session.ScanResult{}, err
	}
	span.SetAttributes(
		attribute.String("verdict.status", string(result.Status)),
		attribute.Int("verdict.confidence", result.Confidence),
	)
	return result, nil
}

func (i *Instrumented) Ping(ctx context.Context) error {
	return ping(ctx, i.next)
}

func ping(ctx context.Context, c Classifier) error {
	if p, ok := c.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
