// Package scan submits inputs for classification and records the verdicts
// in a session store.
//
// A submission is bound to the session that was active when it was made.
// Classification runs asynchronously, and appends to one session happen in
// submission order even when classifications finish out of order.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	tracing "github.com/mamasecure/scanstore/internal/observability"
	"github.com/mamasecure/scanstore/pkg/classify"
	"github.com/mamasecure/scanstore/pkg/observability"
	"github.com/mamasecure/scanstore/pkg/session"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrScanDropped is reported when a completion was discarded because
	// the job was cancelled or its session no longer exists.
	ErrScanDropped = errors.New("scan dropped")

	// ErrPipelineClosed is returned by Submit after Close.
	ErrPipelineClosed = errors.New("scan pipeline is closed")
)

// DefaultBatchConcurrency bounds concurrent classifications in SubmitBatch.
const DefaultBatchConcurrency = 4

// Pipeline classifies inputs and appends the results to a store.
type Pipeline struct {
	store       *session.Store
	classifier  classify.Classifier
	concurrency int

	mu     sync.Mutex
	tails  map[string]chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBatchConcurrency sets how many inputs of a batch are classified at
// once.
func WithBatchConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// NewPipeline creates a pipeline writing to store.
func NewPipeline(store *session.Store, classifier classify.Classifier, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		classifier:  classifier,
		concurrency: DefaultBatchConcurrency,
		tails:       make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Store returns the store the pipeline writes to.
func (p *Pipeline) Store() *session.Store {
	return p.store
}

// Submit classifies input for the currently active session. Input that is
// empty after trimming is ignored and yields a nil job and nil error.
// The job is cancelled when ctx is.
func (p *Pipeline) Submit(ctx context.Context, input string) (*Job, error) {
	return p.submit(ctx, "", input)
}

// SubmitTo classifies input for the session with the given id.
func (p *Pipeline) SubmitTo(ctx context.Context, sessionID, input string) (*Job, error) {
	if sessionID == "" {
		return nil, session.ErrSessionNotFound
	}
	return p.submit(ctx, sessionID, input)
}

func (p *Pipeline) submit(ctx context.Context, sessionID, input string) (*Job, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}

	sessionID, prev, appended, err := p.reserve(sessionID)
	if err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(ctx)
	job := &Job{
		sessionID: sessionID,
		input:     input,
		ctx:       jobCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	observability.IncPendingScans()
	go p.run(job, prev, appended)
	return job, nil
}

// reserve takes the next append slot for a session. An empty id means the
// active session. prev is closed once the previous job for that session has
// finished appending.
func (p *Pipeline) reserve(sessionID string) (string, <-chan struct{}, chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", nil, nil, ErrPipelineClosed
	}
	if sessionID == "" {
		sessionID = p.store.ActiveID()
		if sessionID == "" {
			return "", nil, nil, session.ErrNotInitialized
		}
	} else if _, err := p.store.Session(sessionID); err != nil {
		return "", nil, nil, err
	}

	prev := p.tails[sessionID]
	appended := make(chan struct{})
	p.tails[sessionID] = appended
	p.wg.Add(1)
	return sessionID, prev, appended, nil
}

// release hands the append slot to the next job.
func (p *Pipeline) release(sessionID string, appended chan struct{}) {
	p.mu.Lock()
	if p.tails[sessionID] == appended {
		delete(p.tails, sessionID)
	}
	p.mu.Unlock()
	close(appended)
	p.wg.Done()
}

func (p *Pipeline) run(job *Job, prev <-chan struct{}, appended chan struct{}) {
	defer observability.DecPendingScans()
	defer p.release(job.sessionID, appended)
	defer close(job.done)
	defer job.cancel()

	ctx, span := tracing.StartSpanWithContext(job.ctx, "scan.job", map[string]any{
		"session.id":   job.sessionID,
		"input.length": len(job.input),
	})
	defer span.End()

	result, err := p.classifier.Classify(ctx, job.input)

	if prev != nil {
		<-prev
	}

	switch {
	case job.ctx.Err() != nil:
		err = fmt.Errorf("%w: %v", ErrScanDropped, job.ctx.Err())
		observability.RecordScanDropped("cancelled")
	case err != nil:
		err = fmt.Errorf("classify: %w", err)
		observability.RecordScanDropped("classifier_error")
		log.Printf("[Scan] Classification failed for session %s: %v", job.sessionID, err)
	default:
		err = p.append(context.WithoutCancel(ctx), job.sessionID, job.input, result)
	}

	span.SetError(err)
	job.result = result
	job.err = err
}

// append records one result. A session deleted in the meantime drops the
// completion instead of recreating it.
func (p *Pipeline) append(ctx context.Context, sessionID, input string, result session.ScanResult) error {
	err := p.store.AppendScan(ctx, sessionID, input, result)
	if errors.Is(err, session.ErrSessionNotFound) {
		observability.RecordScanDropped("session_deleted")
		log.Printf("[Scan] Session %s was deleted before its scan completed; dropping result", sessionID)
		return fmt.Errorf("%w: session %s no longer exists", ErrScanDropped, sessionID)
	}
	return err
}

// SubmitBatch classifies inputs concurrently and appends the results to the
// active session in input order. Blank inputs are skipped. If any
// classification fails nothing is appended. The returned results line up
// with the non-blank inputs. A non-nil error together with results is a
// persistence warning.
func (p *Pipeline) SubmitBatch(ctx context.Context, inputs []string) ([]session.ScanResult, error) {
	items := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if strings.TrimSpace(in) != "" {
			items = append(items, in)
		}
	}
	if len(items) == 0 {
		return nil, nil
	}

	sessionID, prev, appended, err := p.reserve("")
	if err != nil {
		return nil, err
	}
	defer p.release(sessionID, appended)

	ctx, span := tracing.StartSpanWithContext(ctx, "scan.batch", map[string]any{
		"session.id":  sessionID,
		"batch.size":  len(items),
		"concurrency": p.concurrency,
	})
	defer span.End()

	results := make([]session.ScanResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, in := range items {
		g.Go(func() error {
			r, err := p.classifier.Classify(gctx, in)
			if err != nil {
				return fmt.Errorf("classify input %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}
	classifyErr := g.Wait()

	if prev != nil {
		<-prev
	}
	if classifyErr != nil {
		span.SetError(classifyErr)
		return nil, classifyErr
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScanDropped, err)
	}

	var warning error
	for i, in := range items {
		err := p.append(context.WithoutCancel(ctx), sessionID, in, results[i])
		switch {
		case err == nil:
		case session.IsWarning(err):
			warning = err
		default:
			span.SetError(err)
			return results[:i], err
		}
	}
	return results, warning
}

// Close stops accepting submissions and waits for in-flight jobs to finish
// or ctx to expire.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
