// Package evaluator implements the format evaluator (spec §4.7): given the
// current queue state, playback position, and candidate representations,
// it picks which representation the chunk source should fetch next.
package evaluator

import (
	"time"

	"github.com/ericcug/dashcore/internal/bandwidth"
	"github.com/ericcug/dashcore/internal/manifest"
)

// Input bundles the evaluator's per-invocation parameters.
type Input struct {
	PlaybackPositionUs int64
	Candidates         []manifest.Format // decreasing bandwidth
	Rate               manifest.PlaybackRate
}

// Evaluation is the evaluator's output: a selected format plus a (possibly
// smaller) queue size, since switching representations may require
// trimming already-buffered samples from the old one.
type Evaluation struct {
	Format    manifest.Format
	QueueSize int
}

// Evaluator is the closed choice of ABR policy (Fixed or Adaptive), per
// spec §9's "Dynamic dispatch" note.
type Evaluator interface {
	Evaluate(in Input) Evaluation
}

// Fixed always selects the first candidate (highest-priority
// representation as ordered by the caller), ignoring bandwidth entirely.
type Fixed struct {
	prev *Evaluation
}

// NewFixed constructs a Fixed evaluator.
func NewFixed() *Fixed { return &Fixed{} }

func (f *Fixed) Evaluate(in Input) Evaluation {
	if len(in.Candidates) == 0 {
		return Evaluation{}
	}
	size := currentQueueSize(f.prev, in.Candidates[0])
	eval := Evaluation{Format: in.Candidates[0], QueueSize: size}
	f.prev = &eval
	return eval
}

func currentQueueSize(prev *Evaluation, selected manifest.Format) int {
	if prev != nil && prev.Format.ID == selected.ID {
		return prev.QueueSize
	}
	return 0
}

// Adaptive policy constants: α bounds how much of the estimated bandwidth
// may be claimed by the selected representation's bitrate; minHoldTime
// damps oscillation between representations.
const (
	defaultAlpha       = 0.75
	defaultMinHoldTime = 8 * time.Second
)

// Adaptive consults a bandwidth.Meter for a conservative estimate and
// picks the highest-bitrate candidate within alpha * estimate, subject to
// a minimum hold time before switching down again.
type Adaptive struct {
	meter    *bandwidth.Meter
	alpha    float64
	minHold  time.Duration

	lastSwitch  time.Time
	lastFormat  manifest.Format
	hasSelected bool
}

// NewAdaptive constructs an Adaptive evaluator reading estimates from
// meter.
func NewAdaptive(meter *bandwidth.Meter) *Adaptive {
	return &Adaptive{meter: meter, alpha: defaultAlpha, minHold: defaultMinHoldTime}
}

func (a *Adaptive) Evaluate(in Input) Evaluation {
	if len(in.Candidates) == 0 {
		return Evaluation{}
	}

	estimate := a.meter.Estimate()
	budget := float64(estimate) * a.alpha

	selected := in.Candidates[len(in.Candidates)-1] // lowest bitrate as fallback
	for _, c := range in.Candidates {
		if float64(c.Bitrate) <= budget {
			selected = c
			break
		}
	}

	now := time.Now()
	if a.hasSelected && selected.Bitrate < a.lastFormat.Bitrate {
		if now.Sub(a.lastSwitch) < a.minHold {
			selected = a.lastFormat
		}
	}

	queueSize := 0
	if a.hasSelected && selected.ID != a.lastFormat.ID {
		// Switch: Input carries no queue length, so QueueSize is reported
		// as 0 whether the switch is up or down; no queue tail is kept
		// or pruned on the strength of this Evaluation.
		if selected.Bitrate < a.lastFormat.Bitrate {
			queueSize = 0
		}
	}

	if !a.hasSelected || selected.ID != a.lastFormat.ID {
		a.lastSwitch = now
	}
	a.lastFormat = selected
	a.hasSelected = true

	return Evaluation{Format: selected, QueueSize: queueSize}
}
