package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/zsiec/remote64/internal/intercom"
)

const storeTimeout = 2 * time.Second

// Tracker applies session events from the bus to a Store. Store errors are
// logged and otherwise ignored.
type Tracker struct {
	log   *slog.Logger
	store Store
	bus   *intercom.Endpoint[intercom.Message]
}

// NewTracker creates a Tracker. If log is nil, slog.Default() is used.
func NewTracker(store Store, bus *intercom.Endpoint[intercom.Message], log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		log:   log.With("component", "presence"),
		store: store,
		bus:   bus,
	}
}

// Run clears the store, then mirrors events until ctx ends or Kill arrives.
// The store is cleared again on exit.
func (t *Tracker) Run(ctx context.Context) error {
	t.apply("reset", func(ctx context.Context) error { return t.store.Reset(ctx) })
	defer t.apply("reset", func(ctx context.Context) error { return t.store.Reset(ctx) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-t.bus.Recv():
			if !ok {
				return nil
			}
			switch msg := msg.(type) {
			case intercom.SessionJoined:
				t.apply("join", func(ctx context.Context) error { return t.store.Join(ctx, msg.ID, msg.Addr) })
			case intercom.SessionServiced:
				t.apply("serviced", func(ctx context.Context) error { return t.store.SetServiced(ctx, msg.ID) })
			case intercom.SessionLeft:
				t.apply("leave", func(ctx context.Context) error { return t.store.Leave(ctx, msg.ID) })
			case intercom.Kill:
				return nil
			}
		}
	}
}

func (t *Tracker) apply(op string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		t.log.Warn("presence update failed", "op", op, "error", err)
	}
}
