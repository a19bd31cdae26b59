// Package dashcore exposes the DASH playback core as an opaque Go handle,
// per spec §6: a *Player replaces the C ABI's void* handle, with the same
// operation set as Go methods instead of free functions taking a handle
// parameter.
package dashcore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ericcug/dashcore/internal/config"
	"github.com/ericcug/dashcore/internal/dasherr"
	"github.com/ericcug/dashcore/internal/drm"
	"github.com/ericcug/dashcore/internal/logger"
	"github.com/ericcug/dashcore/internal/manifest"
	"github.com/ericcug/dashcore/internal/scheduler"
)

// optionsFilePath is the fixed location Create reads command-line-style
// options from, per spec §6.
const optionsFilePath = "/tmp/dash_args"

// Player is the opaque pull-API handle returned by Create.
type Player struct {
	log logger.Logger
	cfg *config.Config

	driver *scheduler.Driver

	httpClient *http.Client
	bearer     string
	licenseURL string

	mu       sync.Mutex
	pending  *pendingFrame
	formats  [3]*manifest.Format // indexed by scheduler.Track
	loaded   bool
}

// Create constructs a Player wired to cb, reading create-time options from
// /tmp/dash_args per spec §6.
func Create(cb Callbacks) *Player {
	cfg, err := config.Load(optionsFilePath)
	if err != nil {
		cfg = &config.Config{LogLevel: 1, AllTracksMetered: true}
	}

	log := logger.NewLevel(cfg.LogLevel)

	p := &Player{
		log:        log,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	p.driver = scheduler.New(scheduler.Config{
		Log: log,
		Host: scheduler.HostCallbacks{
			GetMediaTimeMs: cb.GetMediaTimeMs,
			DecoderFlush:   cb.DecoderFlush,
		},
		CDM: drm.CDMCallbacks{
			OpenSession:  cb.OpenCDMSession,
			FetchLicense: cb.FetchLicense,
			CloseSession: cb.CloseCDMSession,
		},
		AllTracksMetered: cfg.AllTracksMetered,
	})
	return p
}

// SetCallbacks replaces the host callback set. Per spec §6's set_callbacks;
// there is no separate set_context since Go closures already carry
// whatever state the host needs.
func (p *Player) SetCallbacks(cb Callbacks) {
	p.driver = scheduler.New(scheduler.Config{
		Log: p.log,
		Host: scheduler.HostCallbacks{
			GetMediaTimeMs: cb.GetMediaTimeMs,
			DecoderFlush:   cb.DecoderFlush,
		},
		CDM: drm.CDMCallbacks{
			OpenSession:  cb.OpenCDMSession,
			FetchLicense: cb.FetchLicense,
			CloseSession: cb.CloseCDMSession,
		},
		AllTracksMetered: p.cfg.AllTracksMetered,
	})
}

// Load fetches manifestURL and starts playback preparation at
// initialTimeSec, per spec §6's load.
func (p *Player) Load(ctx context.Context, manifestURL string, initialTimeSec float64) error {
	if err := p.driver.Load(ctx, manifestURL, initialTimeSec); err != nil {
		return err
	}
	if p.bearer != "" {
		p.driver.SetBearerToken(p.bearer)
	}
	p.mu.Lock()
	p.loaded = true
	p.pending = nil
	p.mu.Unlock()
	return nil
}

// Unload tears down the current playback session without destroying the
// Player; it may be Load-ed again afterward.
func (p *Player) Unload() {
	p.driver.Unload()
	p.mu.Lock()
	p.loaded = false
	p.pending = nil
	p.mu.Unlock()
}

// Destroy releases the Player. A loaded session is unloaded first.
func (p *Player) Destroy() {
	p.mu.Lock()
	loaded := p.loaded
	p.mu.Unlock()
	if loaded {
		p.Unload()
	}
}

// GetVideoCodecSettings reports the video track's current codec, per spec
// §6's get_video_codec_settings.
func (p *Player) GetVideoCodecSettings() (VideoCodecSettings, error) {
	f := p.driver.VideoFormat()
	return VideoCodecSettings{
		Codec:  classifyVideoCodec(f.Codecs),
		Width:  f.Width,
		Height: f.Height,
	}, nil
}

// GetAudioCodecSettings reports the audio track's current codec, per spec
// §6's get_audio_codec_settings.
func (p *Player) GetAudioCodecSettings() (AudioCodecSettings, error) {
	f := p.driver.AudioFormat()
	codec := classifyAudioCodec(f.Codecs)
	return AudioCodecSettings{
		Codec:         codec,
		NumChannels:   f.Channels,
		ChannelLayout: channelLayoutFor(f.Channels),
		SampleFormat:  "S16",
		SampleRate:    f.SampleRate,
		Bitrate:       f.Bitrate,
		BitsPerSample: 16,
		BlockAlign:    f.Channels * 2,
	}, nil
}

// GetCCCodecSettings reports the text track's current codec, per spec §6's
// get_cc_codec_settings.
func (p *Player) GetCCCodecSettings() (CCCodecSettings, error) {
	f := p.driver.TextFormat()
	return CCCodecSettings{Codec: classifyCCCodec(f.MimeType)}, nil
}

// GetFirstTime returns the media-time offset, in ms, the consumer should
// subtract from every copy_frame PTS to perceive time 0.
func (p *Player) GetFirstTime() int64 { return p.driver.GetFirstTime() }

// GetDuration returns the presentation duration in ms, or a negative value
// for an unbounded (live) presentation.
func (p *Player) GetDuration() int64 { return p.driver.GetDuration() }

// IsEOS reports whether every non-text track has reached end of stream.
func (p *Player) IsEOS() bool { return p.driver.IsEOS() }

// Seek requests playback move to targetMediaTimeMs.
func (p *Player) Seek(targetMediaTimeMs int64) error {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
	return p.driver.Seek(targetMediaTimeMs)
}

// SetPlaybackRate changes the playback speed/direction.
func (p *Player) SetPlaybackRate(rate manifest.PlaybackRate) {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
	p.driver.SetPlaybackRate(rate)
}

// SetAttribute implements spec §6's set_attribute: the "auth" and
// "license_url" names are recognized; anything else is ignored with a
// warning.
func (p *Player) SetAttribute(name, value string) {
	switch name {
	case "auth":
		p.bearer = value
		p.driver.SetBearerToken(value)
	case "license_url":
		p.licenseURL = value
	default:
		p.log.Warnf("dashcore: unknown attribute %q ignored", name)
	}
}

// ReportPlaybackState logs a host-reported playback state transition.
func (p *Player) ReportPlaybackState(state PlaybackState) {
	p.log.Infof("dashcore: playback state -> %s", state)
}

// ReportPlaybackError forwards a host-observed playback error to the
// driver's error-handling policy.
func (p *Player) ReportPlaybackError(err error, fatal bool) {
	p.driver.ReportPlaybackError(err, fatal)
}

// MakeLicenseRequest posts keyMessage to the configured license_url and
// returns the license response body, per spec §6's make_license_request.
func (p *Player) MakeLicenseRequest(ctx context.Context, keyMessage []byte) ([]byte, error) {
	if p.licenseURL == "" {
		return nil, &dasherr.InvalidArgumentError{Reason: "no license_url attribute set"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.licenseURL, bytes.NewReader(keyMessage))
	if err != nil {
		return nil, fmt.Errorf("dashcore: build license request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if p.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+p.bearer)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dashcore: license request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dashcore: license server returned status %d", resp.StatusCode)
	}
	license, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dashcore: read license response: %w", err)
	}
	return license, nil
}

// recordFormat latches the most recently announced format for a track, so
// CopyFrame can report width/height without re-reading the demuxer output.
func (p *Player) recordFormat(t scheduler.Track, f manifest.Format) {
	p.formats[t] = &f
}

func (p *Player) formatFor(t scheduler.Track) *manifest.Format {
	return p.formats[t]
}
