package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/remote64/internal/intercom"
	"github.com/zsiec/remote64/internal/transport"
	"github.com/zsiec/remote64/internal/wire"
)

// ErrServerClosed is returned by Socket.Run when the server ends the session.
var ErrServerClosed = errors.New("client: server closed connection")

const (
	// DefaultQueueInterval is how often the socket asks for its queue
	// position.
	DefaultQueueInterval = 5 * time.Second

	closeTimeout = 2 * time.Second
)

// Socket owns the connection to the server. It relays SocketPacket messages
// from the bus to the server and publishes received frames as BulkFrames.
type Socket struct {
	log      *slog.Logger
	addr     string
	bus      *intercom.Endpoint[intercom.Message]
	interval time.Duration

	position atomic.Int64
	dropped  atomic.Int64
	info     atomic.Pointer[wire.ServerInfo]
}

// NewSocket creates a socket for the server at addr. If log is nil,
// slog.Default() is used.
func NewSocket(addr string, bus *intercom.Endpoint[intercom.Message], log *slog.Logger) *Socket {
	if log == nil {
		log = slog.Default()
	}
	s := &Socket{
		log:      log.With("component", "client-socket", "server", addr),
		addr:     addr,
		bus:      bus,
		interval: DefaultQueueInterval,
	}
	s.position.Store(-1)
	return s
}

// SetQueueInterval changes how often the queue position is polled. It must
// be called before Run.
func (s *Socket) SetQueueInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// Dropped reports frames received from the server that could not be handed
// to the bus.
func (s *Socket) Dropped() int64 { return s.dropped.Load() }

// Position is the last queue position reported by the server, or -1.
func (s *Socket) Position() int { return int(s.position.Load()) }

// ServerInfo is the info the server advertised, or nil before it answered.
func (s *Socket) ServerInfo() *wire.ServerInfo { return s.info.Load() }

// Run dials the server and serves the connection until ctx ends, Kill
// arrives on the bus, or the server goes away.
func (s *Socket) Run(ctx context.Context) error {
	conn, err := transport.Dial(ctx, s.addr, s.log)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.addr, err)
	}
	s.log.Info("connected")
	return s.serve(ctx, conn)
}

func (s *Socket) serve(ctx context.Context, conn *transport.Conn) error {
	defer conn.Close()

	s.send(conn, wire.InfoRequest{})
	s.send(conn, wire.QueueRequest{})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.close(conn)
			return nil
		case msg, ok := <-conn.Messages():
			if !ok {
				if err := conn.Err(); err != nil {
					return fmt.Errorf("%w: %w", ErrServerClosed, err)
				}
				return ErrServerClosed
			}
			if done := s.handle(conn, msg); done {
				return ErrServerClosed
			}
		case msg, ok := <-s.bus.Recv():
			if !ok {
				s.close(conn)
				return nil
			}
			switch msg := msg.(type) {
			case intercom.SocketPacket:
				s.send(conn, msg.Packet)
			case intercom.Kill:
				s.close(conn)
				return nil
			}
		case <-ticker.C:
			s.send(conn, wire.QueueRequest{})
		}
	}
}

// handle processes one server message. It reports whether the server ended
// the session.
func (s *Socket) handle(conn *transport.Conn, data []byte) bool {
	p, err := wire.Decode(data)
	if err != nil {
		s.log.Warn("malformed packet from server", "error", err)
		return false
	}
	switch p := p.(type) {
	case wire.Ping:
		s.send(conn, wire.Pong{})
	case wire.InfoResponse:
		info := p.Info
		s.info.Store(&info)
		s.log.Info("server info", "version", info.Version, "features", info.Features)
	case wire.QueueResponse:
		if prev := s.position.Swap(int64(p.Position)); prev != int64(p.Position) {
			s.log.Info("queue position", "position", p.Position)
		}
	case wire.FrameResponse:
		s.log.Debug("frames received", "count", len(p.Frames))
		if err := s.bus.TrySend(intercom.BulkFrames{Frames: p.Frames}); err != nil {
			s.dropped.Add(int64(len(p.Frames)))
			s.log.Warn("bulk frames dropped", "count", len(p.Frames), "error", err)
		}
	case wire.RequestDenied:
		s.log.Debug("frame request denied, still queued")
	case wire.Close:
		s.log.Info("server closed session")
		return true
	default:
		s.log.Debug("ignoring packet", "packet", wire.Name(p))
	}
	return false
}

func (s *Socket) send(conn *transport.Conn, p wire.Packet) {
	if err := conn.Send(wire.Encode(p)); err != nil {
		s.log.Warn("send failed", "packet", wire.Name(p), "error", err)
	}
}

// close tells the server we are leaving and flushes the goodbye.
func (s *Socket) close(conn *transport.Conn) {
	s.send(conn, wire.Close{})
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := conn.Shutdown(ctx); err != nil {
		s.log.Debug("shutdown incomplete", "error", err)
	}
}
