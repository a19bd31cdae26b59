package dashcore

import (
	"github.com/ericcug/dashcore/internal/manifest"
	"github.com/ericcug/dashcore/internal/samplequeue"
	"github.com/ericcug/dashcore/internal/scheduler"
)

// FrameType identifies which elementary stream a copied frame belongs to.
type FrameType int

const (
	FrameVideo FrameType = iota
	FrameAudio
	FrameCC
)

func (t FrameType) String() string {
	switch t {
	case FrameVideo:
		return "VIDEO"
	case FrameAudio:
		return "AUDIO"
	case FrameCC:
		return "CC"
	default:
		return "UNKNOWN"
	}
}

// FrameFlag is a bitmask of flags describing a copied frame fragment, per
// spec §6.
type FrameFlag uint8

const (
	FirstFragment FrameFlag = 1 << iota
	LastFragment
	HasPTS
)

// FrameInfo is the out-param shape of copy_frame.
type FrameInfo struct {
	Type     FrameType
	Flags    FrameFlag
	PTS      int64 // 90 kHz ticks
	Duration int64 // 90 kHz ticks
	Width    int
	Height   int

	// Populated only on the FIRST_FRAGMENT of an encrypted sample.
	KeyID          []byte
	IV             []byte
	SubsampleCount int
	ClearBytes     []int
	EncBytes       []int
}

// CopyStatus is the closed set of outcomes CopyFrame can report, replacing
// the C ABI's bytes_copied/0/-1 overload with a named result.
type CopyStatus int

const (
	// StatusFrame reports that bytes were copied into buf; check Info for
	// fragment boundaries.
	StatusFrame CopyStatus = iota
	// StatusEOS reports that playback has ended; no more frames follow.
	StatusEOS
	// StatusWouldBlock reports that no frame is ready yet; the caller
	// should retry after its pull-poll fallback sleep.
	StatusWouldBlock
)

// pendingFrame tracks a sample pulled from the driver but not yet fully
// copied out across one or more CopyFrame calls.
type pendingFrame struct {
	track  scheduler.Track
	sample *samplequeue.PeekedSample
	offset int
}

func us90kHz(us int64) int64 { return us * 90 / 1000 }

func trackToFrameType(t scheduler.Track) FrameType {
	switch t {
	case scheduler.TrackAudio:
		return FrameAudio
	case scheduler.TrackText:
		return FrameCC
	default:
		return FrameVideo
	}
}

// CopyFrame implements spec §6's copy_frame: pull the next sample from the
// driver (transparently consuming any interleaved format announcements),
// and copy as much of it as fits in buf, fragmenting across repeated calls
// when the sample outgrows the caller's buffer.
func (p *Player) CopyFrame(buf []byte) (int, FrameInfo, CopyStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending == nil {
		for {
			pulled := p.driver.Pull()
			if pulled.Format != nil {
				p.recordFormat(pulled.Track, *pulled.Format)
				continue
			}
			if pulled.EOS {
				return 0, FrameInfo{}, StatusEOS
			}
			if pulled.WouldBlock {
				return -1, FrameInfo{}, StatusWouldBlock
			}
			p.pending = &pendingFrame{track: pulled.Track, sample: pulled.Sample}
			break
		}
	}

	pf := p.pending
	sample := pf.sample
	remaining := len(sample.Bytes) - pf.offset
	n := len(buf)
	if n > remaining {
		n = remaining
	}
	copy(buf[:n], sample.Bytes[pf.offset:pf.offset+n])

	info := FrameInfo{
		Type:     trackToFrameType(pf.track),
		PTS:      us90kHz(sample.TimeUs),
		Duration: us90kHz(sample.DurationUs),
	}
	if pf.offset == 0 {
		info.Flags |= FirstFragment
		info.Flags |= HasPTS
		if f := p.formatFor(pf.track); f != nil {
			info.Width = f.Width
			info.Height = f.Height
		}
		if sample.Flags.Has(manifest.SampleEncrypted) {
			info.KeyID = sample.KeyID
			info.IV = sample.IV
			info.SubsampleCount = len(sample.Subsamples)
			info.ClearBytes = make([]int, len(sample.Subsamples))
			info.EncBytes = make([]int, len(sample.Subsamples))
			for i, s := range sample.Subsamples {
				info.ClearBytes[i] = s.ClearBytes
				info.EncBytes[i] = s.EncryptedBytes
			}
		}
	}

	pf.offset += n
	if pf.offset >= len(sample.Bytes) {
		info.Flags |= LastFragment
		p.pending = nil
	}

	return n, info, StatusFrame
}
