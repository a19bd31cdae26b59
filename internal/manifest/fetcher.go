package manifest

import (
	"context"
	"sync"
	"time"

	"github.com/ericcug/dashcore/internal/dasherr"
	"github.com/ericcug/dashcore/internal/logger"
)

// MPDClient fetches and parses a manifest from a URL, resolving redirects
// to report the final base URL — grounded on the teacher's dash.Client
// (FetchAndParseMPD + manual CheckRedirect capture in client.go).
type MPDClient interface {
	FetchAndParseMPD(ctx context.Context, url string) (m *Manifest, resolvedBaseURL string, err error)
}

// FetchResult is posted on the Fetcher's result channel after every
// refresh attempt, mirroring the teacher's resultLoop/downloadLoop
// completion-channel pattern: the driver goroutine is the only reader.
type FetchResult struct {
	Manifest *Manifest
	BaseURL  string
	Err      error
	Kind     dasherr.ManifestFetchKind
}

// Fetcher owns one in-flight manifest request at a time, per spec §4.1. It
// does not schedule refreshes itself: the driver polls ShouldRefresh and
// calls RequestRefresh.
type Fetcher struct {
	client MPDClient
	url    string
	log    logger.Logger

	mu              sync.Mutex
	snapshot        *Manifest
	baseURL         string
	loadStartUs     int64
	inFlight        bool
	refCount        int
	minRefreshDelay time.Duration

	results chan FetchResult
}

// NewFetcher constructs a Fetcher for url using client.
func NewFetcher(client MPDClient, url string, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.NoOp()
	}
	return &Fetcher{
		client:  client,
		url:     url,
		log:     log,
		results: make(chan FetchResult, 4),
	}
}

// Results returns the channel the driver should drain for refresh outcomes.
func (f *Fetcher) Results() <-chan FetchResult { return f.results }

// Enable/Disable reference-count users of the fetcher, mirroring spec
// §4.1's enable()/disable() pair; Enabled reports whether the count is
// positive. RequestRefresh and ShouldRefresh do not consult the count.
func (f *Fetcher) Enable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refCount++
}

func (f *Fetcher) Disable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refCount > 0 {
		f.refCount--
	}
}

func (f *Fetcher) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refCount > 0
}

// HasManifest reports whether a snapshot has ever been published.
func (f *Fetcher) HasManifest() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot != nil
}

// Current returns the latest published snapshot and its resolved base URL.
func (f *Fetcher) Current() (*Manifest, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot, f.baseURL
}

// LoadStartTimestamp returns the wall-clock time (microseconds since
// epoch) the most recent in-flight or completed fetch was started.
func (f *Fetcher) LoadStartTimestamp() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadStartUs
}

// ShouldRefresh reports whether the driver should call RequestRefresh,
// per spec §4.1: nowUs >= load_start + max(min_update_period, 5s), for
// dynamic manifests only.
func (f *Fetcher) ShouldRefresh(nowUs int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshot == nil || !f.snapshot.Dynamic {
		return false
	}
	minDelay := f.snapshot.MinUpdatePeriodMs * 1000
	if minDelay < 5_000_000 {
		minDelay = 5_000_000
	}
	return nowUs >= f.loadStartUs+minDelay
}

// RequestRefresh starts a fetch unless one is already in flight, in which
// case it is a no-op per spec §4.1. The result is posted asynchronously on
// Results().
func (f *Fetcher) RequestRefresh(ctx context.Context, nowUs int64) {
	f.mu.Lock()
	if f.inFlight {
		f.mu.Unlock()
		return
	}
	f.inFlight = true
	f.loadStartUs = nowUs
	f.mu.Unlock()

	go func() {
		m, base, err := f.client.FetchAndParseMPD(ctx, f.url)

		f.mu.Lock()
		f.inFlight = false
		f.mu.Unlock()

		if err != nil {
			kind := classifyFetchErr(err)
			f.results <- FetchResult{Err: err, Kind: kind}
			return
		}
		f.mu.Lock()
		f.snapshot = m
		f.baseURL = base
		f.mu.Unlock()
		f.results <- FetchResult{Manifest: m, BaseURL: base}
	}()
}

func classifyFetchErr(err error) dasherr.ManifestFetchKind {
	if _, ok := err.(interface{ Timeout() bool }); ok {
		return dasherr.ManifestFetchNetwork
	}
	return dasherr.ManifestFetchUnknown
}
