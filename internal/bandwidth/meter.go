// Package bandwidth implements the EWMA bandwidth meter: an
// exponentially-weighted moving average over reported (bytes, elapsed)
// transfer samples, producing a conservative bits-per-second estimate.
package bandwidth

import (
	"math"
	"sync"
	"time"
)

// Default smoothing constants: two EWMAs at different half-lives, the
// estimate is the minimum of the two (a cheap way to react fast to drops
// while damping spikes), a shape common to ABR bandwidth meters.
const (
	slowHalfLife = 8 * time.Second
	fastHalfLife = 2 * time.Second

	// minWeight avoids wildly confident estimates from a single tiny sample.
	minWeight = float64(1)
)

// Meter accumulates transfer samples from any number of data-source
// goroutines concurrently and exposes an estimated bitrate. Thread-safe by
// a single mutex, mirroring the teacher's SegmentCache sync.RWMutex usage
// for a small, frequently-read piece of shared state.
type Meter struct {
	mu sync.Mutex

	slow ewma
	fast ewma

	totalBytes   int64
	totalElapsed time.Duration

	onEstimate func(bitsPerSecond int64)
}

type ewma struct {
	halfLife time.Duration
	value    float64
	weight   float64
}

func (e *ewma) sample(bitsPerSecond float64, elapsed time.Duration) {
	decay := halfLifeDecay(e.halfLife, elapsed)
	w := elapsed.Seconds()
	e.value = e.value*decay + bitsPerSecond*(1-decay)
	e.weight = e.weight*decay + w*(1-decay)
}

func halfLifeDecay(halfLife time.Duration, elapsed time.Duration) float64 {
	if halfLife <= 0 {
		return 0
	}
	// decay = 0.5 ^ (elapsed / halfLife)
	ratio := elapsed.Seconds() / halfLife.Seconds()
	return math.Pow(0.5, ratio)
}

// New constructs an empty Meter. onEstimate, if non-nil, is invoked (under
// no lock) once per call to AddSample with the freshly computed estimate.
func New(onEstimate func(bitsPerSecond int64)) *Meter {
	return &Meter{
		slow:       ewma{halfLife: slowHalfLife},
		fast:       ewma{halfLife: fastHalfLife},
		onEstimate: onEstimate,
	}
}

// AddSample records one transfer of byteCount bytes taking elapsed time.
// Samples with non-positive elapsed are ignored (cannot derive a rate).
func (m *Meter) AddSample(byteCount int64, elapsed time.Duration) {
	if elapsed <= 0 || byteCount <= 0 {
		return
	}
	bitsPerSecond := float64(byteCount) * 8 / elapsed.Seconds()

	m.mu.Lock()
	m.slow.sample(bitsPerSecond, elapsed)
	m.fast.sample(bitsPerSecond, elapsed)
	m.totalBytes += byteCount
	m.totalElapsed += elapsed
	estimate := m.estimateLocked()
	m.mu.Unlock()

	if m.onEstimate != nil {
		m.onEstimate(estimate)
	}
}

// Estimate returns the current conservative bitrate estimate in bits per
// second, or 0 if no samples have been recorded yet.
func (m *Meter) Estimate() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimateLocked()
}

func (m *Meter) estimateLocked() int64 {
	if m.slow.weight < minWeight || m.fast.weight < minWeight {
		if m.totalElapsed <= 0 {
			return 0
		}
		return int64(float64(m.totalBytes) * 8 / m.totalElapsed.Seconds())
	}
	slow := m.slow.value
	fast := m.fast.value
	if fast < slow {
		return int64(fast)
	}
	return int64(slow)
}

// TotalBytes returns the cumulative byte count observed across all samples.
func (m *Meter) TotalBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalBytes
}
