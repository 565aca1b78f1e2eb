package srt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/zsiec/remote64/internal/ingest"
	"github.com/zsiec/remote64/internal/transport"
	"github.com/zsiec/remote64/internal/wire"
)

func TestExtractStreamKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		streamID string
		want     string
	}{
		{name: "simple key", streamID: "console", want: "console"},
		{name: "leading slash", streamID: "/console", want: "console"},
		{name: "live prefix", streamID: "live/console", want: "console"},
		{name: "slash and live prefix", streamID: "/live/console", want: "console"},
		{name: "empty returns default", streamID: "", want: "default"},
		{name: "just slash returns default", streamID: "/", want: "default"},
		{name: "nested path preserved", streamID: "lab/console", want: "lab/console"},
		{name: "live in name preserved", streamID: "liveshow", want: "liveshow"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := extractStreamKey(tc.streamID)
			if got != tc.want {
				t.Errorf("extractStreamKey(%q) = %q, want %q", tc.streamID, got, tc.want)
			}
		})
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	frames []wire.Frame
}

func (p *recordingPublisher) PublishFrame(f wire.Frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, f)
	return true
}

// chunkReader returns at most n bytes per Read, like SRT packet delivery.
type chunkReader struct {
	r io.Reader
	n int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	return c.r.Read(p[:min(len(p), c.n)])
}

func TestReceivePublishesFrames(t *testing.T) {
	t.Parallel()

	var stream []byte
	for i := range 3 {
		f := wire.Frame{Audio: []float32{float32(i), 0.5}}
		stream = transport.AppendFrame(stream, wire.EncodeFrame(f))
	}

	src, _ := ingest.NewRegistry().Register("console")
	pub := &recordingPublisher{}
	r := &chunkReader{r: bytes.NewReader(stream), n: 5}
	if err := receive(context.Background(), r, src, pub, nopLogger()); err != nil {
		t.Fatal(err)
	}

	if len(pub.frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(pub.frames))
	}
	for i, f := range pub.frames {
		if f.Audio[0] != float32(i) {
			t.Errorf("frame %d: audio %v", i, f.Audio)
		}
	}
	st := src.Stats()
	if st.Frames != 3 || st.BytesReceived != int64(len(stream)) {
		t.Fatalf("stats = %+v", st)
	}
}

func TestReceiveFramingError(t *testing.T) {
	t.Parallel()

	src, _ := ingest.NewRegistry().Register("console")
	bad := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	err := receive(context.Background(), bytes.NewReader(bad), src, &recordingPublisher{}, nopLogger())
	if !errors.Is(err, transport.ErrMessageTooLarge) {
		t.Fatalf("got %v, want ErrMessageTooLarge", err)
	}
}

func TestCallerValidatesRequest(t *testing.T) {
	t.Parallel()

	c := NewCaller(ingest.NewRegistry(), &recordingPublisher{}, nil)
	if err := c.Pull(context.Background(), PullRequest{StreamKey: "k"}); err == nil {
		t.Fatal("Pull without address should fail")
	}
	if err := c.Pull(context.Background(), PullRequest{Address: "127.0.0.1:1"}); err == nil {
		t.Fatal("Pull without stream key should fail")
	}
	if err := c.Stop("k"); err == nil {
		t.Fatal("Stop of unknown pull should fail")
	}
	if n := len(c.ActivePulls()); n != 0 {
		t.Fatalf("active pulls = %d, want 0", n)
	}
}

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
