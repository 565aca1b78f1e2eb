// Package recording turns the session manager's StartRecording and
// StopRecording events into calls on an external recorder.
package recording

import (
	"context"
	"log/slog"
	"time"

	"github.com/zsiec/remote64/internal/intercom"
)

// Controller starts and stops the external recorder.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// LogController is a Controller that only logs.
type LogController struct {
	Log *slog.Logger
}

func (c LogController) logger() *slog.Logger {
	if c.Log == nil {
		return slog.Default()
	}
	return c.Log
}

// Start logs the start request.
func (c LogController) Start(context.Context) error {
	c.logger().Info("recording started")
	return nil
}

// Stop logs the stop request.
func (c LogController) Stop(context.Context) error {
	c.logger().Info("recording stopped")
	return nil
}

const callTimeout = 5 * time.Second

// Runner applies recording events from the bus to a Controller. Duplicate
// starts and stops are collapsed.
type Runner struct {
	log  *slog.Logger
	ctrl Controller
	bus  *intercom.Endpoint[intercom.Message]

	recording bool
}

// NewRunner creates a Runner. If log is nil, slog.Default() is used.
func NewRunner(ctrl Controller, bus *intercom.Endpoint[intercom.Message], log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		log:  log.With("component", "recording"),
		ctrl: ctrl,
		bus:  bus,
	}
}

// Run consumes bus events until ctx ends or Kill arrives. An active
// recording is stopped on the way out.
func (r *Runner) Run(ctx context.Context) error {
	defer r.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-r.bus.Recv():
			if !ok {
				return nil
			}
			switch msg.(type) {
			case intercom.StartRecording:
				r.start()
			case intercom.StopRecording:
				r.stop()
			case intercom.Kill:
				return nil
			}
		}
	}
}

func (r *Runner) start() {
	if r.recording {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := r.ctrl.Start(ctx); err != nil {
		r.log.Warn("start recording failed", "error", err)
		return
	}
	r.recording = true
}

func (r *Runner) stop() {
	if !r.recording {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := r.ctrl.Stop(ctx); err != nil {
		r.log.Warn("stop recording failed", "error", err)
	}
	r.recording = false
}
