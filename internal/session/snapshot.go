package session

import "time"

// Counters are cumulative manager statistics.
type Counters struct {
	Joined        uint64 `json:"joined"`
	Left          uint64 `json:"left"`
	FramesIn      uint64 `json:"framesIn"`
	FramesServed  uint64 `json:"framesServed"`
	FramesEvicted uint64 `json:"framesEvicted"`
	Denied        uint64 `json:"denied"`
	Malformed     uint64 `json:"malformed"`
	BusDropped    uint64 `json:"busDropped"`
}

// Entry describes one queued session.
type Entry struct {
	ID          string    `json:"id"`
	Addr        string    `json:"addr"`
	Position    int       `json:"position"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastPong    time.Time `json:"lastPong"`
}

// Snapshot is a point-in-time copy of the queue state.
type Snapshot struct {
	Sessions  []Entry   `json:"sessions"`
	Serviced  string    `json:"serviced,omitempty"`
	RingLen   int       `json:"ringLen"`
	RingSize  int       `json:"ringSize"`
	Counters  Counters  `json:"counters"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot returns the most recently published queue state. It is safe to
// call from any goroutine.
func (m *Manager) Snapshot() Snapshot {
	return *m.snap.Load()
}

func (m *Manager) publish() {
	snap := &Snapshot{
		Sessions:  make([]Entry, 0, len(m.queue)),
		RingLen:   m.ring.len(),
		RingSize:  m.cfg.RingSize,
		Counters:  m.counters,
		UpdatedAt: m.now(),
	}
	snap.Counters.FramesEvicted = m.ring.evicted
	for i, s := range m.queue {
		snap.Sessions = append(snap.Sessions, Entry{
			ID:          s.id,
			Addr:        s.addr,
			Position:    i,
			State:       s.state.String(),
			ConnectedAt: s.connectedAt,
			LastPong:    s.lastPong,
		})
		if s.state == StateServiced {
			snap.Serviced = s.id
		}
	}
	m.snap.Store(snap)
}
