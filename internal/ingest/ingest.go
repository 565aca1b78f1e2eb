// Package ingest hands captured frames to the session manager and tracks
// the capture sources feeding them.
package ingest

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/remote64/internal/intercom"
	"github.com/zsiec/remote64/internal/wire"
)

// SourceStats captures connection-level metrics for a capture source,
// exposed via the API for monitoring source health.
type SourceStats struct {
	Key           string `json:"key"`
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	Frames        int64  `json:"frames"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Source is one active capture connection.
type Source struct {
	Key       string
	StartedAt time.Time

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	frames        atomic.Int64
	remoteAddr    atomic.Value
}

// RecordRead increments the byte and read counters, called by the receiver
// after each successful socket read.
func (s *Source) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// RecordFrame counts one decoded frame.
func (s *Source) RecordFrame() { s.frames.Add(1) }

// SetRemoteAddr stores the remote address of the source for diagnostics.
func (s *Source) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Stats returns a snapshot of source metrics.
func (s *Source) Stats() SourceStats {
	addr, _ := s.remoteAddr.Load().(string)
	return SourceStats{
		Key:           s.Key,
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		Frames:        s.frames.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// Registry tracks active capture sources by key.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Source
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]*Source)}
}

// Register adds a source. It returns false if key is already in use.
func (r *Registry) Register(key string) (*Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sources[key]; ok {
		return nil, false
	}
	s := &Source{Key: key, StartedAt: time.Now()}
	r.sources[key] = s
	return s, true
}

// Unregister removes a source by key.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	delete(r.sources, key)
	r.mu.Unlock()
}

// Get returns the Source for the given key, or false if not found.
func (r *Registry) Get(key string) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[key]
	return s, ok
}

// List returns stats for every active source, ordered by key.
func (r *Registry) List() []SourceStats {
	r.mu.RLock()
	out := make([]SourceStats, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s.Stats())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Publisher delivers captured frames to the session manager over the bus.
// Publishing never blocks; frames are dropped when the bus is saturated.
type Publisher struct {
	log *slog.Logger
	bus *intercom.Endpoint[intercom.Message]

	published atomic.Int64
	dropped   atomic.Int64
}

// PublisherStats reports publish counters.
type PublisherStats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
}

// NewPublisher creates a Publisher sending on bus. If log is nil,
// slog.Default() is used.
func NewPublisher(bus *intercom.Endpoint[intercom.Message], log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		log: log.With("component", "frame-publisher"),
		bus: bus,
	}
}

// PublishFrame offers the latest captured frame. It reports whether the
// frame was accepted.
func (p *Publisher) PublishFrame(f wire.Frame) bool {
	return p.publish(intercom.LatestFrame{Frame: f}, 1)
}

// PublishFrames offers several frames at once, oldest first.
func (p *Publisher) PublishFrames(frames []wire.Frame) bool {
	if len(frames) == 0 {
		return true
	}
	return p.publish(intercom.BulkFrames{Frames: frames}, len(frames))
}

func (p *Publisher) publish(msg intercom.Message, n int) bool {
	if err := p.bus.TrySend(msg); err != nil {
		p.dropped.Add(int64(n))
		p.log.Debug("frame dropped", "frames", n, "error", err)
		return false
	}
	p.published.Add(int64(n))
	return true
}

// Run discards inbound bus traffic so the publisher's inbox never fills.
// It returns when ctx ends, Kill arrives or the bus closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-p.bus.Recv():
			if !ok {
				return nil
			}
			if _, kill := msg.(intercom.Kill); kill {
				return nil
			}
		}
	}
}

// Stats returns publish counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
	}
}
