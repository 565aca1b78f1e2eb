package client

import (
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/remote64/internal/wire"
)

// Queues hold decoded media waiting for presentation. Both channels are
// bounded; pushes never block and drop on overflow.
type Queues struct {
	Video chan []byte
	Audio chan []float32

	res  wire.Resolution
	log  *slog.Logger
	recv atomic.Int64
	drop atomic.Int64
	bad  atomic.Int64
}

// QueueStats reports queue counters.
type QueueStats struct {
	VideoQueued   int   `json:"videoQueued"`
	AudioQueued   int   `json:"audioQueued"`
	Received      int64 `json:"received"`
	Dropped       int64 `json:"dropped"`
	WrongSizeDrop int64 `json:"wrongSizeDrop"`
}

// NewQueues allocates queues holding up to depth frames. If log is nil,
// slog.Default() is used.
func NewQueues(depth int, res wire.Resolution, log *slog.Logger) *Queues {
	if log == nil {
		log = slog.Default()
	}
	return &Queues{
		Video: make(chan []byte, depth),
		Audio: make(chan []float32, depth),
		res:   res,
		log:   log.With("component", "client-queues"),
	}
}

// Backlog is the number of video frames waiting to be shown.
func (q *Queues) Backlog() int { return len(q.Video) }

// Push enqueues one frame. Video of the wrong size is discarded but its
// audio is kept.
func (q *Queues) Push(f wire.Frame) {
	q.recv.Add(1)
	if len(f.Video) > 0 {
		if len(f.Video) != q.res.VideoLen() {
			q.bad.Add(1)
			q.log.Warn("video buffer has wrong size, dropping",
				"got", len(f.Video), "want", q.res.VideoLen())
		} else {
			select {
			case q.Video <- f.Video:
			default:
				q.drop.Add(1)
			}
		}
	}
	if len(f.Audio) > 0 {
		select {
		case q.Audio <- f.Audio:
		default:
			q.drop.Add(1)
		}
	}
}

// Stats returns a snapshot of the queue counters.
func (q *Queues) Stats() QueueStats {
	return QueueStats{
		VideoQueued:   len(q.Video),
		AudioQueued:   len(q.Audio),
		Received:      q.recv.Load(),
		Dropped:       q.drop.Load(),
		WrongSizeDrop: q.bad.Load(),
	}
}
