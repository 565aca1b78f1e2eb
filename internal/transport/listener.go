package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Listener accepts TCP connections on a background goroutine and hands
// them out, wrapped, on Accepted.
type Listener struct {
	log      *slog.Logger
	ln       net.Listener
	accepted chan *Conn
	done     chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Listen starts accepting on addr. The listener closes when ctx ends or
// Close is called. If log is nil, slog.Default() is used.
func Listen(ctx context.Context, addr string, log *slog.Logger) (*Listener, error) {
	if log == nil {
		log = slog.Default()
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		log:      log.With("component", "listener"),
		ln:       ln,
		accepted: make(chan *Conn, 16),
		done:     make(chan struct{}),
	}
	context.AfterFunc(ctx, func() { l.Close() })

	l.log.Info("listening", "addr", ln.Addr().String())
	go l.acceptLoop(log)
	return l, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accepted delivers newly accepted connections. It is closed after the
// listener shuts down.
func (l *Listener) Accepted() <-chan *Conn { return l.accepted }

// Close stops accepting. Connections already handed out stay open.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.closeErr = l.ln.Close()
	})
	return l.closeErr
}

func (l *Listener) acceptLoop(connLog *slog.Logger) {
	defer close(l.accepted)
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-l.done:
				return
			default:
			}
			l.log.Warn("accept error", "error", err)
			time.Sleep(retryBackoff)
			continue
		}

		c := NewConn(nc, connLog)
		select {
		case l.accepted <- c:
		case <-l.done:
			c.Close()
			return
		}
	}
}
