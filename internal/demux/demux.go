// Package demux defines the SegmentDemuxer contract: the spec names the
// container demuxers (fMP4, WebM, RawCC) as an external, opaque
// collaborator ("consumes byte ranges and emits typed samples plus a
// segment index sidecar"). This package owns only the interface and the
// sink callbacks a demuxer drives; concrete demuxers live in subpackages
// (fmp4, rawcc).
package demux

import (
	"io"

	"github.com/ericcug/dashcore/internal/manifest"
)

// Sink receives the output of a demuxer as it consumes bytes: newly
// announced format, decoded samples, and (for an initialization chunk) a
// discovered segment index or DRM init data.
type Sink interface {
	OnFormat(f manifest.Format)
	OnSample(s manifest.Sample)
	OnSeekMap(idx manifest.SegmentIndex)
	OnDrmInitData(d *manifest.DrmInitData)
}

// SegmentDemuxer parses one chunk's byte stream, routing parsed samples
// into sink. Consume may return a non-negative seekTo requesting the
// loader resume reading from a different byte position (used when a
// demuxer needs to skip a box it cannot yet interpret); returning
// hasSeek == false means "continue reading sequentially".
type SegmentDemuxer interface {
	Consume(r io.Reader, sink Sink) (seekTo int64, hasSeek bool, err error)

	// Reset clears any parser state so the same demuxer instance can be
	// reused for a fresh chunk (representation switch, seek).
	Reset()
}

// FactoryParams carries the per-representation timing context a demuxer
// needs beyond track type and MIME type. fMP4 ignores it; the RawCC
// demuxer uses it to translate entry PTS onto the master timeline and, for
// an unindexed single-segment representation, to discard entries outside
// the period's media-time window (spec §4.2).
type FactoryParams struct {
	SampleOffsetUs int64

	// TruncStartUs/TruncEndUs bound the media-time PTS range a RawCC
	// demuxer should accept; only meaningful when HasTrunc is set.
	TruncStartUs int64
	TruncEndUs   int64
	HasTrunc     bool
}

// Factory builds a SegmentDemuxer appropriate for a track type and MIME
// type, so chunksource/samplesource can stay agnostic of concrete demuxer
// implementations (spec §4.2's "attaching an appropriate demuxer factory
// per media type").
type Factory func(trackType manifest.TrackType, mimeType string, params FactoryParams) SegmentDemuxer
