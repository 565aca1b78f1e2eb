package client

import (
	"context"
	"log/slog"
	"time"
)

const healthLogInterval = 10 * time.Second

// Presenter is a headless display: it takes one video frame per tick and
// periodically logs buffer health. Audio is drained as it arrives.
type Presenter struct {
	log    *slog.Logger
	queues *Queues
	rate   time.Duration

	shown  int64
	missed int64
}

// NewPresenter creates a presenter drawing at fps frames per second. If log
// is nil, slog.Default() is used.
func NewPresenter(q *Queues, fps int, log *slog.Logger) *Presenter {
	if log == nil {
		log = slog.Default()
	}
	if fps <= 0 {
		fps = 15
	}
	return &Presenter{
		log:    log.With("component", "presenter"),
		queues: q,
		rate:   time.Second / time.Duration(fps),
	}
}

// Run presents frames until ctx ends.
func (p *Presenter) Run(ctx context.Context) error {
	frames := time.NewTicker(p.rate)
	defer frames.Stop()
	health := time.NewTicker(healthLogInterval)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.queues.Audio:
		case <-frames.C:
			p.present()
		case <-health.C:
			st := p.queues.Stats()
			p.log.Info("buffer health",
				"backlog", st.VideoQueued,
				"shown", p.shown,
				"missed", p.missed,
				"dropped", st.Dropped,
				"wrongSize", st.WrongSizeDrop)
		}
	}
}

// present shows the next frame, or repeats the last one when the queue is
// empty. It reports whether a new frame was shown.
func (p *Presenter) present() bool {
	select {
	case <-p.queues.Video:
		p.shown++
		return true
	default:
		p.missed++
		return false
	}
}
