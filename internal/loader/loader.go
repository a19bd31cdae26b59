package loader

import (
	"context"
	"time"

	"github.com/ericcug/dashcore/internal/dasherr"
	"github.com/ericcug/dashcore/internal/logger"
)

// Retry/backoff constants, adapted from veld's WorkerPool
// (500ms * 2^attempt, maxRetries=5), specialized down from a multi-worker
// pool into the single-flight-per-track shape spec §4.4/§5 requires.
const (
	maxRetries   = 5
	baseBackoff  = 500 * time.Millisecond
)

// Result is posted to the driver on completion, cancellation, or error of
// one chunk load.
type Result struct {
	Chunk     Chunk
	Err       error
	Canceled  bool
}

// Loader runs at most one chunk load at a time for its owning track,
// reporting completion on Results(), mirroring veld's worker-pool retry
// shape but collapsed to a single in-flight goroutine per spec §5 ("one
// loader goroutine per active chunk per track").
type Loader struct {
	log     logger.Logger
	results chan Result

	cancel context.CancelFunc
}

// New constructs a Loader.
func New(log logger.Logger) *Loader {
	if log == nil {
		log = logger.NoOp()
	}
	return &Loader{log: log, results: make(chan Result, 1)}
}

// Results returns the channel the driver should drain for load outcomes.
func (l *Loader) Results() <-chan Result { return l.results }

// IsLoading reports whether a load is currently in flight.
func (l *Loader) IsLoading() bool { return l.cancel != nil }

// StartLoad begins loading chunk in a background goroutine, retrying
// transient failures with exponential backoff up to maxRetries times.
// Only one load may be in flight; callers must not call StartLoad again
// until a Result has been observed.
func (l *Loader) StartLoad(ctx context.Context, chunk Chunk) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	go func() {
		defer func() { l.cancel = nil }()

		var lastErr error
		for attempt := 0; attempt <= maxRetries; attempt++ {
			if chunk.IsLoadCanceled() {
				l.results <- Result{Chunk: chunk, Canceled: true}
				return
			}

			err := chunk.Load(ctx)
			if err == nil {
				l.results <- Result{Chunk: chunk}
				return
			}
			if chunk.IsLoadCanceled() {
				l.results <- Result{Chunk: chunk, Canceled: true}
				return
			}

			lastErr = err
			l.log.Warnf("loader: attempt %d/%d failed: %v", attempt+1, maxRetries+1, err)

			if attempt == maxRetries {
				break
			}
			backoff := baseBackoff << uint(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				l.results <- Result{Chunk: chunk, Canceled: true}
				return
			}
		}

		l.results <- Result{Chunk: chunk, Err: &dasherr.ChunkLoadError{URL: chunk.URI(), Err: lastErr}}
	}()
}

// Cancel cancels the in-flight load, if any.
func (l *Loader) Cancel() {
	if l.cancel != nil {
		l.cancel()
	}
}
