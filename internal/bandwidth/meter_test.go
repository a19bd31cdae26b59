package bandwidth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMeter_EstimateZeroWithNoSamples(t *testing.T) {
	m := New(nil)
	assert.Equal(t, int64(0), m.Estimate())
	assert.Equal(t, int64(0), m.TotalBytes())
}

func TestMeter_IgnoresNonPositiveSamples(t *testing.T) {
	m := New(nil)
	m.AddSample(0, time.Second)
	m.AddSample(1024, 0)
	m.AddSample(-10, time.Second)
	assert.Equal(t, int64(0), m.TotalBytes())
}

func TestMeter_EstimateTracksSteadyRate(t *testing.T) {
	m := New(nil)
	// 1 Mbps for a while, across many small samples so both EWMAs warm up.
	for i := 0; i < 50; i++ {
		m.AddSample(125000, time.Second) // 125000 bytes/s == 1,000,000 bits/s
	}
	est := m.Estimate()
	assert.InDelta(t, 1_000_000, float64(est), 50_000)
}

func TestMeter_EstimateReactsToDrop(t *testing.T) {
	m := New(nil)
	for i := 0; i < 50; i++ {
		m.AddSample(1_250_000, time.Second) // 10 Mbps
	}
	before := m.Estimate()

	for i := 0; i < 10; i++ {
		m.AddSample(12_500, time.Second) // 100 kbps
	}
	after := m.Estimate()

	assert.Less(t, after, before)
}

func TestMeter_OnEstimateCallback(t *testing.T) {
	var got int64 = -1
	m := New(func(bitsPerSecond int64) { got = bitsPerSecond })
	m.AddSample(1000, time.Second)
	assert.GreaterOrEqual(t, got, int64(0))
}

func TestMeter_TotalBytesAccumulates(t *testing.T) {
	m := New(nil)
	m.AddSample(100, time.Second)
	m.AddSample(200, time.Second)
	assert.Equal(t, int64(300), m.TotalBytes())
}
