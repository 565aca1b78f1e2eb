// Package intercom is the in-process broadcast bus connecting the server and
// client subsystems. Every message sent by one endpoint is delivered to every
// other endpoint; senders never see their own messages.
package intercom

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Sentinel errors.
var (
	ErrNetworkStarted = errors.New("intercom: network already started")
	ErrNetworkClosed  = errors.New("intercom: network closed")
	ErrEndpointClosed = errors.New("intercom: endpoint closed")
	ErrBusy           = errors.New("intercom: network inbox full")
)

const (
	// DefaultInboxSize is the per-endpoint receive buffer.
	DefaultInboxSize = 256

	defaultBusSize = 1024
)

// Options configures a Network.
type Options struct {
	// InboxSize bounds each endpoint's receive channel. A full inbox drops
	// new messages for that endpoint only.
	InboxSize int

	// Log is scoped with component=intercom. Nil means slog.Default().
	Log *slog.Logger
}

// Stats is a snapshot of bus counters.
type Stats struct {
	Endpoints int   `json:"endpoints"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

type envelope[T any] struct {
	from   *Endpoint[T]
	msg    T
	detach bool
}

// Network fans messages out between its endpoints. All sends funnel through
// one shared inbox, so messages from a single sender arrive everywhere in
// the order they were sent.
type Network[T any] struct {
	log       *slog.Logger
	inboxSize int

	bus  chan envelope[T]
	done chan struct{}

	mu        sync.Mutex
	endpoints []*Endpoint[T]
	nextID    int

	started   atomic.Bool
	delivered atomic.Int64
	dropped   atomic.Int64
}

// New creates an idle network. Endpoints may be created before or after
// Start.
func New[T any](opts Options) *Network[T] {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = DefaultInboxSize
	}
	return &Network[T]{
		log:       opts.Log.With("component", "intercom"),
		inboxSize: opts.InboxSize,
		bus:       make(chan envelope[T], defaultBusSize),
		done:      make(chan struct{}),
	}
}

// Endpoint attaches a new endpoint to the network.
func (n *Network[T]) Endpoint() *Endpoint[T] {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	ep := &Endpoint[T]{
		id:  n.nextID,
		net: n,
		rx:  make(chan T, n.inboxSize),
	}
	select {
	case <-n.done:
		// Network already gone: hand back a dead endpoint.
		ep.closed.Store(true)
		close(ep.rx)
		return ep
	default:
	}
	n.endpoints = append(n.endpoints, ep)
	return ep
}

// Start runs the dispatch loop until every endpoint has closed or ctx ends.
// On return all remaining receive channels are closed. Start may only be
// called once.
func (n *Network[T]) Start(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return ErrNetworkStarted
	}
	defer n.shutdown()

	if n.Stats().Endpoints == 0 {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-n.bus:
			if n.dispatch(env) == 0 {
				n.log.Debug("all endpoints detached, stopping")
				return nil
			}
		}
	}
}

// Stats returns the current bus counters.
func (n *Network[T]) Stats() Stats {
	n.mu.Lock()
	count := len(n.endpoints)
	n.mu.Unlock()
	return Stats{
		Endpoints: count,
		Delivered: n.delivered.Load(),
		Dropped:   n.dropped.Load(),
	}
}

// dispatch handles one envelope and returns the number of endpoints left.
func (n *Network[T]) dispatch(env envelope[T]) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	if env.detach {
		for i, ep := range n.endpoints {
			if ep == env.from {
				n.endpoints = append(n.endpoints[:i], n.endpoints[i+1:]...)
				close(ep.rx)
				break
			}
		}
		return len(n.endpoints)
	}

	for _, ep := range n.endpoints {
		if ep == env.from {
			continue
		}
		select {
		case ep.rx <- env.msg:
			n.delivered.Add(1)
		default:
			n.dropped.Add(1)
			ep.dropped.Add(1)
			n.log.Debug("endpoint inbox full, message dropped", "endpoint", ep.id)
		}
	}
	return len(n.endpoints)
}

func (n *Network[T]) shutdown() {
	n.mu.Lock()
	defer n.mu.Unlock()

	close(n.done)
	for _, ep := range n.endpoints {
		close(ep.rx)
	}
	n.endpoints = nil
}

// Endpoint is one participant on a Network: it can send to every other
// endpoint and receive what they send.
type Endpoint[T any] struct {
	id      int
	net     *Network[T]
	rx      chan T
	closed  atomic.Bool
	dropped atomic.Int64
}

// ID identifies the endpoint in logs.
func (e *Endpoint[T]) ID() int { return e.id }

// Recv returns the endpoint's receive channel. It is closed once the
// endpoint is detached or the network stops.
func (e *Endpoint[T]) Recv() <-chan T { return e.rx }

// Dropped reports how many messages addressed to this endpoint were lost
// because its inbox was full.
func (e *Endpoint[T]) Dropped() int64 { return e.dropped.Load() }

// Send broadcasts msg to every other endpoint. It blocks only while the
// shared inbox is full.
func (e *Endpoint[T]) Send(msg T) error {
	if e.closed.Load() {
		return ErrEndpointClosed
	}
	return e.enqueue(envelope[T]{from: e, msg: msg})
}

// TrySend is Send without blocking: it returns ErrBusy when the shared
// inbox is full.
func (e *Endpoint[T]) TrySend(msg T) error {
	if e.closed.Load() {
		return ErrEndpointClosed
	}
	select {
	case <-e.net.done:
		return ErrNetworkClosed
	default:
	}
	select {
	case e.net.bus <- envelope[T]{from: e, msg: msg}:
		return nil
	default:
		return ErrBusy
	}
}

// Close detaches the endpoint. Messages it sent before Close are still
// delivered; its receive channel is closed once the detach is processed.
func (e *Endpoint[T]) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	_ = e.enqueue(envelope[T]{from: e, detach: true})
}

func (e *Endpoint[T]) enqueue(env envelope[T]) error {
	select {
	case <-e.net.done:
		return ErrNetworkClosed
	default:
	}
	select {
	case e.net.bus <- env:
		return nil
	case <-e.net.done:
		return ErrNetworkClosed
	}
}
