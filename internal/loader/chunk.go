// Package loader implements chunk types and the background loader that
// executes one chunk load at a time per track, per spec §4.4. The retry/
// backoff shape is adapted from mohaanymo-veld's
// internal/engine/worker_pool.go (WorkerPool.downloadSegment), specialized
// from an n-worker pool down to a single in-flight load per track, since
// spec §5 requires at most one active load per track's sample source.
package loader

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ericcug/dashcore/internal/datasource"
	"github.com/ericcug/dashcore/internal/demux"
	"github.com/ericcug/dashcore/internal/manifest"
)

// ChunkType distinguishes an initialization chunk from a media chunk.
type ChunkType int

const (
	ChunkMediaInit ChunkType = iota
	ChunkMedia
)

// Trigger records why a chunk was requested (initial load, representation
// switch, manual/user selection). The chunk stores it; nothing in this
// module reads it back or reports it.
type Trigger int

const (
	TriggerInitial Trigger = iota
	TriggerAdaptive
	TriggerManual
)

// Chunk is the common contract both chunk kinds satisfy.
type Chunk interface {
	Type() ChunkType
	Format() manifest.Format
	URI() string
	Load(ctx context.Context) error
	CancelLoad()
	IsLoadCanceled() bool
	NumBytesLoaded() int64
}

type baseChunk struct {
	format  manifest.Format
	trigger Trigger

	dataSource datasource.DataSource
	spec       datasource.Spec

	canceled   int32
	bytesLoaded int64

	mu sync.Mutex
}

func (b *baseChunk) Format() manifest.Format { return b.format }

func (b *baseChunk) URI() string { return b.spec.URI }

func (b *baseChunk) CancelLoad() { atomic.StoreInt32(&b.canceled, 1) }

func (b *baseChunk) IsLoadCanceled() bool { return atomic.LoadInt32(&b.canceled) == 1 }

func (b *baseChunk) NumBytesLoaded() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytesLoaded
}

func (b *baseChunk) setBytesLoaded(n int64) {
	b.mu.Lock()
	b.bytesLoaded = n
	b.mu.Unlock()
}

// cancelAwareReader polls the chunk's cancel flag between reads, per
// spec §5's "cancellation is a flag polled between reads — not an
// exception".
type cancelAwareReader struct {
	r        io.Reader
	canceled func() bool
}

var errCanceled = fmt.Errorf("loader: load canceled")

func (c *cancelAwareReader) Read(p []byte) (int, error) {
	if c.canceled() {
		return 0, errCanceled
	}
	return c.r.Read(p)
}

// MediaChunk loads one media segment, routing its bytes through a demuxer
// into a sample sink.
type MediaChunk struct {
	baseChunk

	Demuxer        demux.SegmentDemuxer
	Sink           demux.Sink
	SegmentNum     int64
	StartTimeUs    int64
	EndTimeUs      int64
	SampleOffsetUs int64
	DrmInitData    *manifest.DrmInitData
	IsFormatFinal  bool

	originalSpec datasource.Spec
}

// NewMediaChunk constructs a MediaChunk ready to Load.
func NewMediaChunk(ds datasource.DataSource, spec datasource.Spec, format manifest.Format, trigger Trigger, dmx demux.SegmentDemuxer, sink demux.Sink) *MediaChunk {
	return &MediaChunk{
		baseChunk:    baseChunk{format: format, trigger: trigger, dataSource: ds, spec: spec},
		Demuxer:      dmx,
		Sink:         sink,
		originalSpec: spec,
	}
}

func (c *MediaChunk) Type() ChunkType { return ChunkMedia }

// Load implements spec §4.4's MediaChunk::load semantics: compute the
// remaining range from bytes already loaded, open with cancellation,
// stream through the demuxer, and report success only on reaching EOF.
func (c *MediaChunk) Load(ctx context.Context) error {
	remaining := remainingSpec(c.originalSpec, c.NumBytesLoaded())

	body, err := c.dataSource.Open(ctx, remaining)
	if err != nil {
		if c.IsLoadCanceled() {
			return nil
		}
		return fmt.Errorf("media chunk load: %w", err)
	}
	defer body.Close()

	cr := &cancelAwareReader{r: body, canceled: c.IsLoadCanceled}

	seekTo, hasSeek, err := c.Demuxer.Consume(cr, c.Sink)
	if err != nil {
		if c.IsLoadCanceled() || err == errCanceled {
			return nil
		}
		return fmt.Errorf("media chunk demux: %w", err)
	}
	if hasSeek {
		// The demuxer wants to resume from a different byte position; the
		// caller re-invokes Load after seeing this via a sentinel wrapper
		// in practice, the sample source does this by adjusting the spec
		// and calling Load again.
		c.setBytesLoaded(seekTo)
		return nil
	}

	c.setBytesLoaded(c.NumBytesLoaded() + int64(remaining.Length))
	return nil
}

func remainingSpec(original datasource.Spec, bytesLoaded int64) datasource.Spec {
	spec := original
	spec.Start += bytesLoaded
	if spec.Length >= 0 {
		spec.Length -= bytesLoaded
		if spec.Length < 0 {
			spec.Length = 0
		}
	}
	return spec
}

// InitializationChunk loads an initialization segment (and, if merged, its
// adjoining index). Any sample-writing callback from the demuxer during an
// init load is a fatal programming error, per spec §4.4.
type InitializationChunk struct {
	baseChunk

	Demuxer demux.SegmentDemuxer

	MediaFormat manifest.Format
	DrmInitData *manifest.DrmInitData
	SeekMap     manifest.SegmentIndex

	sink *initSink
}

// NewInitializationChunk constructs an InitializationChunk ready to Load.
func NewInitializationChunk(ds datasource.DataSource, spec datasource.Spec, trigger Trigger, dmx demux.SegmentDemuxer) *InitializationChunk {
	return &InitializationChunk{
		baseChunk: baseChunk{trigger: trigger, dataSource: ds, spec: spec},
		Demuxer:   dmx,
	}
}

func (c *InitializationChunk) Type() ChunkType { return ChunkMediaInit }

func (c *InitializationChunk) Load(ctx context.Context) error {
	remaining := remainingSpec(c.spec, c.NumBytesLoaded())

	body, err := c.dataSource.Open(ctx, remaining)
	if err != nil {
		if c.IsLoadCanceled() {
			return nil
		}
		return fmt.Errorf("init chunk load: %w", err)
	}
	defer body.Close()

	cr := &cancelAwareReader{r: body, canceled: c.IsLoadCanceled}

	sink := &initSink{}
	c.sink = sink
	_, _, err = c.Demuxer.Consume(cr, sink)
	if err != nil {
		if c.IsLoadCanceled() || err == errCanceled {
			return nil
		}
		return fmt.Errorf("init chunk demux: %w", err)
	}
	if sink.sampleSeen {
		panic("loader: demuxer emitted a sample while parsing an initialization chunk")
	}

	c.MediaFormat = sink.format
	c.DrmInitData = sink.drmInitData
	c.SeekMap = sink.seekMap

	c.setBytesLoaded(c.NumBytesLoaded() + int64(remaining.Length))
	return nil
}

// initSink captures format/DRM/seek-map callbacks from an initialization
// parse and panics if a sample is ever emitted, per spec §4.4.
type initSink struct {
	format      manifest.Format
	drmInitData *manifest.DrmInitData
	seekMap     manifest.SegmentIndex
	sampleSeen  bool
}

func (s *initSink) OnFormat(f manifest.Format)          { s.format = f }
func (s *initSink) OnSample(manifest.Sample)            { s.sampleSeen = true }
func (s *initSink) OnSeekMap(idx manifest.SegmentIndex) { s.seekMap = idx }
func (s *initSink) OnDrmInitData(d *manifest.DrmInitData) { s.drmInitData = d }
