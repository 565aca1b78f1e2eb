package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/zsiec/remote64/internal/ingest"
	"github.com/zsiec/remote64/internal/transport"
	"github.com/zsiec/remote64/internal/wire"
)

// srtReadBufferSize is the read buffer for SRT socket reads.
// 1316 bytes is the standard SRT live payload size.
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// FramePublisher accepts decoded capture frames. *ingest.Publisher
// satisfies it.
type FramePublisher interface {
	PublishFrame(f wire.Frame) bool
}

// receive reads length-prefixed frames from r until EOF, a framing error or
// ctx ends, publishing each one.
func receive(ctx context.Context, r io.Reader, src *ingest.Source, pub FramePublisher, log *slog.Logger) error {
	ra := transport.NewReassembler(transport.MaxMessageSize)
	emit := func(msg []byte) {
		f := wire.DecodeFrame(msg)
		src.RecordFrame()
		if !pub.PublishFrame(f) {
			log.Debug("frame dropped by publisher", "key", src.Key)
		}
	}

	buf := make([]byte, srtReadBufferSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := r.Read(buf)
		if n > 0 {
			src.RecordRead(n)
			if ferr := ra.Feed(buf[:n], emit); ferr != nil {
				return fmt.Errorf("frame stream: %w", ferr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
