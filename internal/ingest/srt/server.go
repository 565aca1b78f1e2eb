package srt

import (
	"context"
	"fmt"
	"log/slog"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/remote64/internal/ingest"
)

// Server accepts incoming SRT publish connections from capture processes.
type Server struct {
	log      *slog.Logger
	addr     string
	registry *ingest.Registry
	pub      FramePublisher
}

// NewServer creates an SRT server that listens on addr and publishes the
// frames it receives. If log is nil, slog.Default() is used.
func NewServer(addr string, registry *ingest.Registry, pub FramePublisher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		registry: registry,
		pub:      pub,
	}
}

// Start begins accepting SRT publish connections. It blocks until the
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		if _, busy := s.registry.Get(extractStreamKey(req.StreamID)); busy {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		key := extractStreamKey(conn.StreamID())
		s.log.Info("publish", "key", key, "remote", conn.RemoteAddr())

		go s.handleConnection(ctx, conn, key)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn *srtgo.Conn, key string) {
	defer conn.Close()

	src, ok := s.registry.Register(key)
	if !ok {
		s.log.Warn("capture source already connected, rejecting", "key", key)
		return
	}
	src.SetRemoteAddr(conn.RemoteAddr().String())

	if err := receive(ctx, conn, src, s.pub, s.log); err != nil {
		s.log.Warn("capture stream ended with error", "key", key, "error", err)
	}

	stats := src.Stats()
	s.registry.Unregister(key)
	s.log.Info("connection closed", "key", key,
		"bytes", stats.BytesReceived, "frames", stats.Frames,
		"uptime_ms", stats.UptimeMs)
}
