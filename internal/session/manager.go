package session

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

// Defaults applied by NewManager to zero Config fields.
const (
	DefaultPingInterval = 3 * time.Second
	DefaultPongTimeout  = 22 * time.Second
	DefaultRingSize     = 30
)

const (
	eventQueueSize  = 1024
	maxTick         = 500 * time.Millisecond
	shutdownTimeout = 2 * time.Second
)

// Config controls a Manager.
type Config struct {
	// Features are advertised in InfoResponse.
	Features []wire.Feature

	// PingInterval is how long a session may go without a Ping.
	PingInterval time.Duration

	// PongTimeout is how long a session may go without answering before it
	// is dropped.
	PongTimeout time.Duration

	// RingSize bounds the number of buffered frames.
	RingSize int
}

// Conn is a client connection as seen by the manager. *transport.Conn
// satisfies it.
type Conn interface {
	Peer
	Messages() <-chan []byte
	Err() error
}

type event struct {
	s      *session
	msg    []byte
	closed bool
	err    error
}

// Manager owns the client queue and the frame ring. All state is mutated by
// the goroutine running Run; other goroutines observe it through Snapshot.
type Manager struct {
	log  *slog.Logger
	cfg  Config
	info wire.ServerInfo
	bus  *intercom.Endpoint[intercom.Message]
	now  func() time.Time
	tick time.Duration

	events chan event
	done   chan struct{}

	queue    []*session
	ring     *frameRing
	counters Counters

	snap atomic.Pointer[Snapshot]
}

// NewManager creates a manager that exchanges events over bus. If log is
// nil, slog.Default() is used.
func NewManager(cfg Config, bus *intercom.Endpoint[intercom.Message], log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = DefaultPongTimeout
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = DefaultRingSize
	}
	m := &Manager{
		log:    log.With("component", "session-manager"),
		cfg:    cfg,
		info:   wire.NewServerInfo(cfg.Features),
		bus:    bus,
		now:    time.Now,
		tick:   min(cfg.PingInterval/2, maxTick),
		events: make(chan event, eventQueueSize),
		done:   make(chan struct{}),
		ring:   newFrameRing(cfg.RingSize),
	}
	if m.tick <= 0 {
		m.tick = maxTick
	}
	m.publish()
	return m
}

// Run admits connections from accepted and serves them until ctx ends, the
// bus delivers Kill, or the bus closes. Every remaining client is sent
// Close before Run returns.
func (m *Manager) Run(ctx context.Context, accepted <-chan *transport.Conn) error {
	defer close(m.done)
	defer m.shutdown()

	m.log.Info("session manager started",
		"features", m.info.Features,
		"pingInterval", m.cfg.PingInterval,
		"pongTimeout", m.cfg.PongTimeout,
		"ringSize", m.cfg.RingSize)

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	busRx := m.bus.Recv()
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-accepted:
			if !ok {
				accepted = nil
				continue
			}
			s := m.join(c)
			go m.forward(ctx, s, c)
		case ev := <-m.events:
			m.handleEvent(ev)
		case msg, ok := <-busRx:
			if !ok {
				m.log.Info("bus closed, stopping")
				return nil
			}
			if m.handleBus(msg) {
				m.log.Info("kill received, stopping")
				return nil
			}
		case <-ticker.C:
			m.checkLiveness(m.now())
		}
		m.settle()
	}
}

// forward funnels one connection's inbound messages into the manager loop,
// followed by a closed event once the connection ends.
func (m *Manager) forward(ctx context.Context, s *session, c Conn) {
	for msg := range c.Messages() {
		select {
		case m.events <- event{s: s, msg: msg}:
		case <-m.done:
			return
		case <-ctx.Done():
			return
		}
	}
	select {
	case m.events <- event{s: s, closed: true, err: c.Err()}:
	case <-m.done:
	case <-ctx.Done():
	}
}

// join appends a new session at the tail of the queue.
func (m *Manager) join(p Peer) *session {
	s := newSession(p, m.now())
	m.queue = append(m.queue, s)
	m.counters.Joined++
	m.log.Info("client connected", "session", s.id, "remote", s.addr, "position", len(m.queue)-1)
	m.emit(intercom.SessionJoined{ID: s.id, Addr: s.addr})
	m.settle()
	return s
}

func (m *Manager) handleEvent(ev event) {
	if ev.s.state == StateDisconnected {
		return
	}
	if ev.closed {
		reason := "connection closed"
		if ev.err != nil {
			reason = ev.err.Error()
		}
		ev.s.scheduleRemoval(reason)
		return
	}
	m.handleMessage(ev.s, ev.msg)
}

// handleMessage decodes and answers one client message.
func (m *Manager) handleMessage(s *session, data []byte) {
	p, err := wire.Decode(data)
	if err != nil {
		m.counters.Malformed++
		m.log.Warn("malformed packet", "session", s.id, "remote", s.addr, "error", err)
		return
	}

	switch p := p.(type) {
	case wire.InfoRequest:
		m.send(s, wire.InfoResponse{Info: m.info})
	case wire.QueueRequest:
		m.send(s, wire.QueueResponse{Position: uint32(m.position(s))})
	case wire.Ping:
		m.log.Debug("ping", "session", s.id)
		m.send(s, wire.Pong{})
	case wire.Pong:
		s.lastPong = m.now()
	case wire.FrameRequest:
		if s.state != StateServiced {
			m.counters.Denied++
			m.send(s, wire.RequestDenied{})
			return
		}
		frames := m.ring.pop(int(min(uint64(p.Count), uint64(m.ring.len()))))
		m.counters.FramesServed += uint64(len(frames))
		m.log.Debug("serving frames", "session", s.id, "requested", p.Count, "sent", len(frames))
		m.send(s, wire.FrameResponse{Frames: frames})
	case wire.Close:
		m.log.Info("client sent close", "session", s.id)
		s.scheduleRemoval("client closed")
	default:
		m.log.Debug("ignoring packet", "session", s.id, "packet", wire.Name(p))
	}
}

// position is the session's current zero-based index in the queue.
func (m *Manager) position(s *session) int {
	for i, q := range m.queue {
		if q == s {
			return i
		}
	}
	return -1
}

// handleBus applies one bus message and reports whether the loop should stop.
func (m *Manager) handleBus(msg intercom.Message) bool {
	switch msg := msg.(type) {
	case intercom.LatestFrame:
		m.pushFrame(msg.Frame)
	case intercom.BulkFrames:
		for _, f := range msg.Frames {
			m.pushFrame(f)
		}
	case intercom.Kill:
		return true
	}
	return false
}

func (m *Manager) pushFrame(f wire.Frame) {
	m.ring.push(f)
	m.counters.FramesIn++
}

// checkLiveness drops sessions that stopped answering and pings the rest.
func (m *Manager) checkLiveness(now time.Time) {
	for _, s := range m.queue {
		if s.leaving() {
			continue
		}
		if now.Sub(s.lastPong) > m.cfg.PongTimeout {
			m.log.Warn("client unresponsive, dropping", "session", s.id, "remote", s.addr,
				"lastPong", s.lastPong)
			s.scheduleRemoval("pong timeout")
			continue
		}
		if now.Sub(s.lastPing) > m.cfg.PingInterval {
			m.send(s, wire.Ping{})
			s.lastPing = now
		}
	}
}

// settle removes scheduled sessions, promotes the head and republishes the
// snapshot.
func (m *Manager) settle() {
	m.reap()
	m.promote()
	m.publish()
}

func (m *Manager) reap() {
	kept := m.queue[:0]
	var gone []*session
	for _, s := range m.queue {
		if s.leaving() {
			gone = append(gone, s)
			continue
		}
		kept = append(kept, s)
	}
	clear(m.queue[len(kept):])
	m.queue = kept

	for _, s := range gone {
		m.drop(s, s.leaveReason)
		if err := s.peer.Close(); err != nil {
			m.log.Debug("close failed", "session", s.id, "error", err)
		}
	}
}

// drop records a session's departure and announces it.
func (m *Manager) drop(s *session, reason string) {
	if s.state == StateServiced {
		m.emit(intercom.StopRecording{})
	}
	s.state = StateDisconnected
	m.counters.Left++
	m.log.Info("client removed", "session", s.id, "remote", s.addr, "reason", reason)
	m.emit(intercom.SessionLeft{ID: s.id, Reason: reason})
}

func (m *Manager) promote() {
	if len(m.queue) == 0 {
		return
	}
	head := m.queue[0]
	if head.state != StateWaiting {
		return
	}
	head.state = StateServiced
	m.log.Info("client is being serviced", "session", head.id, "remote", head.addr)
	m.emit(intercom.StartRecording{})
	m.emit(intercom.SessionServiced{ID: head.id})
}

func (m *Manager) send(s *session, p wire.Packet) {
	err := s.peer.Send(wire.Encode(p))
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrQueueFull):
		m.log.Warn("outbound queue full, packet dropped", "session", s.id, "packet", wire.Name(p))
	default:
		m.log.Debug("send failed", "session", s.id, "packet", wire.Name(p), "error", err)
	}
}

// emit never blocks the loop: a saturated bus drops the event.
func (m *Manager) emit(msg intercom.Message) {
	if err := m.bus.TrySend(msg); err != nil {
		m.counters.BusDropped++
		m.log.Warn("bus event dropped", "event", fmt.Sprintf("%T", msg), "error", err)
	}
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown tells every remaining client the server is going away.
func (m *Manager) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, s := range m.queue {
		m.send(s, wire.Close{})
		m.drop(s, "server shutdown")
		if sd, ok := s.peer.(shutdowner); ok {
			_ = sd.Shutdown(ctx)
		} else {
			_ = s.peer.Close()
		}
	}
	clear(m.queue)
	m.queue = m.queue[:0]
	m.publish()
	m.log.Info("session manager stopped")
}
