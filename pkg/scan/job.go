package scan

import (
	"context"

	"github.com/mamasecure/scanstore/pkg/session"
)

// Job is one submitted input awaiting its verdict.
type Job struct {
	sessionID string
	input     string
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	// Written before done is closed.
	result session.ScanResult
	err    error
}

// SessionID returns the session the result will be appended to.
func (j *Job) SessionID() string {
	return j.sessionID
}

// Input returns the submitted text.
func (j *Job) Input() string {
	return j.input
}

// Done is closed once the job has finished, whether the result was
// recorded or not.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Cancel abandons the job. A result that has not been appended yet is
// dropped.
func (j *Job) Cancel() {
	j.cancel()
}

// Wait blocks until the job finishes or ctx is done. It returns the
// classification result and:
//   - nil when the record was appended and persisted
//   - a *session.PersistenceError when it was appended but not persisted
//   - ErrScanDropped when the completion was discarded
//   - the classifier's error, wrapped, when classification failed
func (j *Job) Wait(ctx context.Context) (session.ScanResult, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return session.ScanResult{}, ctx.Err()
	}
}
