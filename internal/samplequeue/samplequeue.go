// Package samplequeue implements the rolling sample queue: a thread-safe,
// variable-size FIFO of sample metadata backed by a monolithic byte buffer,
// per spec §3/§4.5. Single producer (the loader's demuxer callback), single
// consumer (the driver/pull API).
package samplequeue

import (
	"sync"

	"github.com/ericcug/dashcore/internal/manifest"
)

// ringIncrement is the fixed growth step for the metadata ring when it
// fills: the entries are copied, in order, into a slice with that much
// more capacity.
const ringIncrement = 256

// entry is one committed sample's metadata plus its byte-buffer extent.
type entry struct {
	timeUs     int64
	durationUs int64
	flags      manifest.SampleFlag
	offset     int
	size       int

	keyID      []byte
	iv         []byte
	subsamples []manifest.Subsample
}

// Queue is the rolling sample queue.
type Queue struct {
	mu sync.Mutex

	buf []byte

	entries    []entry
	readIndex  int64 // monotonic across lifetime
	writeIndex int64 // monotonic across lifetime

	// ring read/write cursors into entries, valid while writeIndex-readIndex
	// <= len(entries).
	head int // logical position of entries[0] == readIndex's slot offset
}

// New returns an empty Queue with an initial metadata ring capacity.
func New() *Queue {
	return &Queue{entries: make([]entry, 0, ringIncrement)}
}

// CommitSample appends one sample's metadata and bytes, per spec §4.5.
// bytes is copied into the queue's internal buffer; callers must not
// assume ownership of the slice afterward is shared (it is not retained).
func (q *Queue) CommitSample(timeUs, durationUs int64, flags manifest.SampleFlag, data []byte, keyID, iv []byte, subsamples []manifest.Subsample) {
	q.mu.Lock()
	defer q.mu.Unlock()

	offset := len(q.buf)
	q.buf = append(q.buf, data...)

	e := entry{
		timeUs:     timeUs,
		durationUs: durationUs,
		flags:      flags,
		offset:     offset,
		size:       len(data),
	}
	if flags.Has(manifest.SampleEncrypted) {
		e.keyID = append([]byte(nil), keyID...)
		e.iv = append([]byte(nil), iv...)
		e.subsamples = append([]manifest.Subsample(nil), subsamples...)
	}

	if len(q.entries) == cap(q.entries) {
		grown := make([]entry, len(q.entries), len(q.entries)+ringIncrement)
		copy(grown, q.entries)
		q.entries = grown
	}
	q.entries = append(q.entries, e)
	q.writeIndex++
}

// PeekedSample is the data handed back by PeekSample: metadata plus the
// sample's bytes (a view into the queue's buffer — callers must not retain
// it past the next mutating call).
type PeekedSample struct {
	TimeUs     int64
	DurationUs int64
	Flags      manifest.SampleFlag
	Bytes      []byte
	KeyID      []byte
	IV         []byte
	Subsamples []manifest.Subsample
}

// PeekSample returns the current (read-cursor) sample's metadata and bytes
// and true, or a zero PeekedSample and false if the queue is empty.
func (q *Queue) PeekSample() (PeekedSample, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.readIndex >= q.writeIndex {
		return PeekedSample{}, false
	}
	idx := q.localIndexLocked(q.readIndex)
	e := q.entries[idx]
	return PeekedSample{
		TimeUs:     e.timeUs,
		DurationUs: e.durationUs,
		Flags:      e.flags,
		Bytes:      q.buf[e.offset : e.offset+e.size],
		KeyID:      e.keyID,
		IV:         e.iv,
		Subsamples: e.subsamples,
	}, true
}

func (q *Queue) localIndexLocked(globalIdx int64) int {
	return int(globalIdx - (q.writeIndex - int64(len(q.entries))))
}

// MoveToNextSample advances the read cursor past the currently-peeked
// sample and returns the earliest byte offset still needed by the queue
// (so the caller may reclaim bytes before it, if it chooses to).
func (q *Queue) MoveToNextSample() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.readIndex >= q.writeIndex {
		return len(q.buf)
	}
	q.readIndex++
	q.compactLocked()
	if q.readIndex < q.writeIndex {
		return q.entries[q.localIndexLocked(q.readIndex)].offset
	}
	return len(q.buf)
}

// compactLocked drops consumed entries/bytes from the front once the read
// cursor has moved past them, bounding memory growth. Must be called with
// mu held.
func (q *Queue) compactLocked() {
	consumed := int(q.readIndex - (q.writeIndex - int64(len(q.entries))))
	if consumed <= 0 {
		return
	}
	dropBytes := 0
	if consumed <= len(q.entries) {
		dropBytes = q.entries[consumed-1].offset + q.entries[consumed-1].size
	}
	q.entries = append(q.entries[:0], q.entries[consumed:]...)
	if dropBytes > 0 {
		q.buf = append(q.buf[:0], q.buf[dropBytes:]...)
		for i := range q.entries {
			q.entries[i].offset -= dropBytes
		}
	}
}

// SkipToKeyframeBefore moves the read cursor to the greatest committed
// sample at or before timeUs whose flags include SYNC. Returns false
// without modifying state if no such sample exists.
func (q *Queue) SkipToKeyframeBefore(timeUs int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	base := q.writeIndex - int64(len(q.entries))
	target := -1
	for i := len(q.entries) - 1; i >= 0; i-- {
		e := q.entries[i]
		if e.timeUs <= timeUs && e.flags.Has(manifest.SampleSync) {
			target = i
			break
		}
	}
	if target < 0 {
		return false
	}
	q.readIndex = base + int64(target)
	return true
}

// DiscardUpstreamSamples drops every committed sample from fromWriteIndex
// (inclusive, a global write-index value) onward, used when a
// representation switch must prune an already-buffered tail. Returns the
// new write-index watermark.
func (q *Queue) DiscardUpstreamSamples(fromWriteIndex int64) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	base := q.writeIndex - int64(len(q.entries))
	if fromWriteIndex < base {
		fromWriteIndex = base
	}
	keep := int(fromWriteIndex - base)
	if keep < 0 {
		keep = 0
	}
	if keep > len(q.entries) {
		keep = len(q.entries)
	}
	if keep < len(q.entries) {
		cutOffset := len(q.buf)
		if keep < len(q.entries) {
			cutOffset = q.entries[keep].offset
		}
		q.buf = q.buf[:cutOffset]
		q.entries = q.entries[:keep]
	}
	q.writeIndex = base + int64(keep)
	if q.readIndex > q.writeIndex {
		q.readIndex = q.writeIndex
	}
	return q.writeIndex
}

// GetReadIndex returns the monotonic read cursor.
func (q *Queue) GetReadIndex() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readIndex
}

// GetWriteIndex returns the monotonic write cursor.
func (q *Queue) GetWriteIndex() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.writeIndex
}

// IsEmpty reports whether every committed sample has been consumed.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readIndex >= q.writeIndex
}

// BufferedBytes returns the number of bytes not yet consumed.
func (q *Queue) BufferedBytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.readIndex >= q.writeIndex {
		return 0
	}
	idx := q.localIndexLocked(q.readIndex)
	return len(q.buf) - q.entries[idx].offset
}
