package client

import (
	"context"
	"log/slog"

	"github.com/zsiec/remote64/internal/intercom"
)

// Consumer moves frames received from the server into Queues.
type Consumer struct {
	log    *slog.Logger
	bus    *intercom.Endpoint[intercom.Message]
	queues *Queues
}

// NewConsumer creates a consumer. If log is nil, slog.Default() is used.
func NewConsumer(bus *intercom.Endpoint[intercom.Message], q *Queues, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		log:    log.With("component", "frame-consumer"),
		bus:    bus,
		queues: q,
	}
}

// Run drains BulkFrames until ctx ends or Kill arrives.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-c.bus.Recv():
			if !ok {
				return nil
			}
			switch msg := msg.(type) {
			case intercom.BulkFrames:
				c.log.Debug("bulk received", "frames", len(msg.Frames))
				for _, f := range msg.Frames {
					c.queues.Push(f)
				}
			case intercom.Kill:
				return nil
			}
		}
	}
}
