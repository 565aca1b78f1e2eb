// Package session runs the server side of remote64: it admits client
// connections into a FIFO queue, services the head of the queue with frames
// from a bounded ring, and drops clients that stop answering pings.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Peer is the outbound half of a client connection. *transport.Conn
// satisfies it.
type Peer interface {
	Send(msg []byte) error
	Close() error
	RemoteAddr() string
}

// State is the lifecycle stage of a session.
type State int

const (
	// StateWaiting means the session is queued but not receiving frames.
	StateWaiting State = iota
	// StateServiced means the session is the queue head receiving frames.
	StateServiced
	// StateDisconnected means the session has been scheduled for removal.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateServiced:
		return "serviced"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// session is one client in the queue. It is owned by the manager goroutine.
type session struct {
	id          string
	peer        Peer
	addr        string
	connectedAt time.Time
	lastPing    time.Time
	lastPong    time.Time
	state       State
	leaveReason string
}

func newSession(p Peer, now time.Time) *session {
	return &session{
		id:          uuid.NewString(),
		peer:        p,
		addr:        p.RemoteAddr(),
		connectedAt: now,
		lastPing:    now,
		lastPong:    now,
		state:       StateWaiting,
	}
}

// scheduleRemoval marks the session for removal at the end of the current
// pass. The first reason wins.
func (s *session) scheduleRemoval(reason string) {
	if s.leaveReason == "" {
		s.leaveReason = reason
	}
}

func (s *session) leaving() bool { return s.leaveReason != "" }
