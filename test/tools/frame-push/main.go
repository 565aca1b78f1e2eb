// frame-push streams a synthetic test pattern into a remote64 server over
// SRT so the queue can be exercised without capture hardware.
//
// Usage:
//
//	go run ./test/tools/frame-push -key console1
//	go run ./test/tools/frame-push -addr 10.0.0.5:6000 -key demo -fps 30
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/zsiec/remote64/internal/transport"
	"github.com/zsiec/remote64/internal/wire"
	srt "github.com/zsiec/srtgo"
)

const (
	sampleRate = 48000
	channels   = 2
	toneHz     = 440.0
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6000", "SRT server address")
	key := flag.String("key", "console", "stream key (sent as live/<key>)")
	fps := flag.Int("fps", 60, "frames per second")
	width := flag.Int("width", wire.DefaultResolution.Width, "framebuffer width")
	height := flag.Int("height", wire.DefaultResolution.Height, "framebuffer height")
	count := flag.Int("count", 0, "stop after this many frames (0 = forever)")
	flag.Parse()

	if *fps <= 0 || *width <= 0 || *height <= 0 {
		fmt.Fprintln(os.Stderr, "fps, width and height must be positive")
		os.Exit(1)
	}

	res := wire.Resolution{Width: *width, Height: *height}
	streamID := "live/" + *key
	gen := newPattern(res, *fps)

	for {
		cfg := srt.DefaultConfig()
		cfg.StreamID = streamID
		conn, err := srt.Dial(*addr, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[%s] SRT connect failed: %v, retrying...\n", streamID, err)
			time.Sleep(time.Second)
			continue
		}

		fmt.Printf("[%s] Connected, streaming %dx%d at %d fps\n", streamID, res.Width, res.Height, *fps)
		done, writeErr := pushLoop(conn, gen, *fps, *count, streamID)
		conn.Close()
		if done {
			return
		}
		if writeErr != nil {
			fmt.Fprintf(os.Stderr, "[%s] Connection lost: %v, reconnecting...\n", streamID, writeErr)
			time.Sleep(time.Second)
		}
	}
}

// pushLoop writes framed messages until the connection fails or count
// frames have been sent in total. It reports whether the run is complete.
func pushLoop(conn *srt.Conn, gen *pattern, fps, count int, streamID string) (bool, error) {
	interval := time.Second / time.Duration(fps)
	start := time.Now()
	lastLog := start
	var sent int
	var buf []byte

	for {
		if count > 0 && gen.seq >= count {
			fmt.Printf("[%s] Sent %d frames, done\n", streamID, gen.seq)
			return true, nil
		}

		buf = transport.AppendFrame(buf[:0], wire.EncodeFrame(gen.next()))
		if _, err := conn.Write(buf); err != nil {
			return false, err
		}
		sent++

		// Pace against the connection start so a slow write does not
		// permanently shift the schedule.
		due := start.Add(time.Duration(sent) * interval)
		if d := time.Until(due); d > 0 {
			time.Sleep(d)
		}

		if time.Since(lastLog) >= 10*time.Second {
			rate := float64(sent) / time.Since(start).Seconds()
			fmt.Printf("[%s] frames=%d rate=%.1f fps (target=%d)\n", streamID, gen.seq, rate, fps)
			lastLog = time.Now()
		}
	}
}

// pattern produces moving color bars and a continuous stereo sine tone.
type pattern struct {
	res   wire.Resolution
	fps   int
	seq   int
	phase float64
}

func newPattern(res wire.Resolution, fps int) *pattern {
	return &pattern{res: res, fps: fps}
}

var bars = [8][3]byte{
	{235, 235, 235}, {235, 235, 16}, {16, 235, 235}, {16, 235, 16},
	{235, 16, 235}, {235, 16, 16}, {16, 16, 235}, {16, 16, 16},
}

func (p *pattern) next() wire.Frame {
	w, h := p.res.Width, p.res.Height
	video := make([]byte, p.res.VideoLen())
	barWidth := max(w/len(bars), 1)
	for y := range h {
		row := video[y*w*3 : (y+1)*w*3]
		for x := range w {
			bar := ((x + p.seq*2) / barWidth) % len(bars)
			copy(row[x*3:x*3+3], bars[bar][:])
		}
	}

	samples := sampleRate / p.fps
	audio := make([]float32, samples*channels)
	step := 2 * math.Pi * toneHz / sampleRate
	for i := range samples {
		v := float32(0.25 * math.Sin(p.phase))
		audio[i*channels] = v
		audio[i*channels+1] = v
		p.phase += step
	}
	p.phase = math.Mod(p.phase, 2*math.Pi)

	p.seq++
	return wire.Frame{Video: video, Audio: audio}
}
