package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/zsiec/remote64/internal/intercom"
	"github.com/zsiec/remote64/internal/wire"
)

// DefaultPollInterval matches the 15 Hz presentation rate.
const DefaultPollInterval = time.Second / 15

// Backlogger reports how many frames are buffered locally.
type Backlogger interface {
	Backlog() int
}

// Controller keeps the local buffer topped up by asking the server for
// frames whenever the backlog runs low.
type Controller struct {
	log    *slog.Logger
	policy Policy
	buf    Backlogger
	bus    *intercom.Endpoint[intercom.Message]
	poll   time.Duration

	lastRequest time.Time
}

// NewController creates a controller. If log is nil, slog.Default() is used.
func NewController(p Policy, buf Backlogger, bus *intercom.Endpoint[intercom.Message], log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		log:    log.With("component", "buffer-controller"),
		policy: p,
		buf:    buf,
		bus:    bus,
		poll:   DefaultPollInterval,
	}
}

// Run polls the backlog until ctx ends or Kill arrives on the bus.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	c.lastRequest = time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-c.bus.Recv():
			if !ok {
				return nil
			}
			if _, kill := msg.(intercom.Kill); kill {
				return nil
			}
		case now := <-ticker.C:
			c.step(now)
		}
	}
}

// step issues at most one frame request. It reports whether one was sent.
func (c *Controller) step(now time.Time) bool {
	if now.Sub(c.lastRequest) <= c.policy.MinInterval {
		return false
	}
	backlog := c.buf.Backlog()
	n, ok := c.policy.Request(backlog)
	if !ok {
		return false
	}
	c.log.Debug("framebuffer health", "backlog", backlog, "requested", n)
	if backlog == 0 {
		c.log.Warn("framebuffer is starving")
	}
	if err := c.bus.TrySend(intercom.SocketPacket{Packet: wire.FrameRequest{Count: n}}); err != nil {
		c.log.Warn("frame request dropped", "error", err)
		return false
	}
	c.lastRequest = now
	return true
}
