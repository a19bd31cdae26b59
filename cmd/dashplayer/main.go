// Command dashplayer is a CLI harness that drives the dashcore pull API
// against a real MPD, standing in for a real renderer with a stub decoder
// clock and printing one line per frame pulled.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ericcug/dashcore/internal/manifest"
	"github.com/ericcug/dashcore/pkg/dashcore"
)

func main() {
	manifestURL := flag.String("m", "", "MPD manifest URL (required)")
	startSec := flag.Float64("t", 0, "initial playback position, in seconds")
	durationSec := flag.Float64("d", 30, "how long to pull frames before exiting")
	rateFlag := flag.String("rate", "1", "playback rate, e.g. 1, 2, -4")
	flag.Parse()

	if *manifestURL == "" {
		fmt.Fprintln(os.Stderr, "dashplayer: -m <manifest-url> is required")
		os.Exit(1)
	}

	var clockUs int64
	player := dashcore.Create(dashcore.Callbacks{
		GetMediaTimeMs: func() int64 { return atomic.LoadInt64(&clockUs) / 1000 },
		DecoderFlush:   func() {},
	})
	defer player.Destroy()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	if err := player.Load(ctx, *manifestURL, *startSec); err != nil {
		fmt.Fprintf(os.Stderr, "dashplayer: load failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("dashplayer: loaded %s, first_time=%dms duration=%dms\n",
		*manifestURL, player.GetFirstTime(), player.GetDuration())

	atomic.StoreInt64(&clockUs, int64(*startSec*1e6))

	if rate := rateFromString(*rateFlag); rate != 1 {
		player.SetPlaybackRate(rate)
	}

	deadline := time.Now().Add(time.Duration(*durationSec * float64(time.Second)))
	buf := make([]byte, 256*1024)
	var frames, bytesPulled int64

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			fmt.Println("dashplayer: interrupted")
			printSummary(frames, bytesPulled)
			return
		default:
		}

		n, info, status := player.CopyFrame(buf)
		switch status {
		case dashcore.StatusEOS:
			fmt.Println("dashplayer: end of stream")
			printSummary(frames, bytesPulled)
			return
		case dashcore.StatusWouldBlock:
			time.Sleep(50 * time.Millisecond)
			continue
		case dashcore.StatusFrame:
			frames++
			bytesPulled += int64(n)
			if info.Flags&dashcore.FirstFragment != 0 {
				fmt.Printf("frame type=%v pts=%d dur=%d bytes=%d\n", info.Type, info.PTS, info.Duration, n)
			}
			atomic.AddInt64(&clockUs, info.Duration*1000/90)
		}
	}

	printSummary(frames, bytesPulled)
}

func printSummary(frames, bytesPulled int64) {
	fmt.Printf("dashplayer: pulled %d frames, %d bytes\n", frames, bytesPulled)
}

// rateFromString parses a trick-play rate argument (e.g. "2", "-4") as a
// number. Any numeric value is accepted, whether or not it is in the trick
// rate table; normal speed is returned only when the argument is not a number.
func rateFromString(s string) manifest.PlaybackRate {
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
		return 1
	}
	return manifest.PlaybackRate(f)
}
