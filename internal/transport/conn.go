package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Sentinel errors returned by Send.
var (
	ErrClosed    = errors.New("transport: connection closed")
	ErrQueueFull = errors.New("transport: outbound queue full")
)

const (
	// readChunkSize bounds a single socket read.
	readChunkSize = 64 << 10

	// writeChunkSize bounds a single socket write.
	writeChunkSize = 1 << 20

	// writeTimeout is applied to each socket write; a timed-out write is
	// retried from where it stopped after retryBackoff.
	writeTimeout = 5 * time.Second

	// retryBackoff is the fixed pause after a transient socket error.
	retryBackoff = 10 * time.Millisecond

	outboundQueueSize = 256
	inboundQueueSize  = 256
)

// Stats captures per-connection byte and message counters.
type Stats struct {
	BytesIn     int64 `json:"bytesIn"`
	BytesOut    int64 `json:"bytesOut"`
	MessagesIn  int64 `json:"messagesIn"`
	MessagesOut int64 `json:"messagesOut"`
}

// Conn exchanges length-prefixed messages over a net.Conn. A reader and a
// writer goroutine own the socket; callers only touch the channels.
//
// Send never blocks. Messages() is closed once the connection is gone,
// whether the peer closed it, a fatal socket error occurred, or Close was
// called. There is no automatic reconnect.
type Conn struct {
	log  *slog.Logger
	nc   net.Conn
	addr string

	out  chan []byte
	in   chan []byte
	done chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error

	bytesIn     atomic.Int64
	bytesOut    atomic.Int64
	messagesIn  atomic.Int64
	messagesOut atomic.Int64
}

// NewConn wraps nc and starts its reader and writer goroutines. If log is
// nil, slog.Default() is used.
func NewConn(nc net.Conn, log *slog.Logger) *Conn {
	if log == nil {
		log = slog.Default()
	}
	addr := "unknown"
	if ra := nc.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	c := &Conn{
		log:  log.With("component", "transport", "remote", addr),
		nc:   nc,
		addr: addr,
		out:  make(chan []byte, outboundQueueSize),
		in:   make(chan []byte, inboundQueueSize),
		done: make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

// Dial connects to addr over TCP.
func Dial(ctx context.Context, addr string, log *slog.Logger) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(nc, log), nil
}

// RemoteAddr returns the peer address as a string.
func (c *Conn) RemoteAddr() string { return c.addr }

// Messages returns the channel of complete inbound messages, in the order
// the peer sent them.
func (c *Conn) Messages() <-chan []byte { return c.in }

// Done is closed when the connection has shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended: io.EOF when the peer closed it,
// the socket or framing error otherwise, and nil while open or after a
// local Close.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Send queues msg for delivery without blocking. msg must not be modified
// afterwards.
func (c *Conn) Send(msg []byte) error {
	if msg == nil {
		msg = []byte{}
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown flushes messages queued before the call, then closes the
// connection. If ctx ends first the connection is closed immediately.
func (c *Conn) Shutdown(ctx context.Context) error {
	select {
	case c.out <- nil:
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}
}

// Close shuts the connection down. Pending outbound messages are discarded.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.nc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.log.Debug("socket close failed", "error", err)
		}
	})
	return nil
}

// Stats returns a snapshot of the connection counters.
func (c *Conn) Stats() Stats {
	return Stats{
		BytesIn:     c.bytesIn.Load(),
		BytesOut:    c.bytesOut.Load(),
		MessagesIn:  c.messagesIn.Load(),
		MessagesOut: c.messagesOut.Load(),
	}
}

func (c *Conn) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		select {
		case <-c.done:
		default:
			c.err = err
		}
	}
	c.errMu.Unlock()
	c.Close()
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// backoff sleeps for retryBackoff, returning false if the connection closed
// in the meantime.
func (c *Conn) backoff() bool {
	t := time.NewTimer(retryBackoff)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.done:
		return false
	}
}

func (c *Conn) readLoop() {
	defer close(c.in)

	ra := NewReassembler(MaxMessageSize)
	deliver := func(msg []byte) {
		c.messagesIn.Add(1)
		select {
		case c.in <- msg:
		case <-c.done:
		}
	}

	buf := make([]byte, readChunkSize)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			c.bytesIn.Add(int64(n))
			if ferr := ra.Feed(buf[:n], deliver); ferr != nil {
				c.log.Warn("framing error, dropping connection", "error", ferr)
				c.fail(ferr)
				return
			}
		}
		if err == nil {
			continue
		}
		if c.closed() {
			return
		}
		if isTimeout(err) {
			if !c.backoff() {
				return
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			c.log.Debug("peer closed connection")
		} else {
			c.log.Debug("read error", "error", err)
		}
		c.fail(err)
		return
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			if msg == nil {
				c.Close()
				return
			}
			if err := c.writeMessage(msg); err != nil {
				if !c.closed() {
					c.log.Debug("write error", "error", err)
				}
				c.fail(err)
				return
			}
			c.messagesOut.Add(1)
		}
	}
}

func (c *Conn) writeMessage(msg []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(msg)))
	if err := c.writeAll(hdr[:]); err != nil {
		return err
	}
	return c.writeAll(msg)
}

// writeAll writes buf in bounded chunks, resuming after partial or timed-out
// writes until everything is on the wire.
func (c *Conn) writeAll(buf []byte) error {
	for len(buf) > 0 {
		chunk := buf[:min(len(buf), writeChunkSize)]
		if err := c.nc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil && c.closed() {
			return ErrClosed
		}
		n, err := c.nc.Write(chunk)
		c.bytesOut.Add(int64(n))
		buf = buf[n:]
		if err == nil {
			continue
		}
		if isTimeout(err) && !c.closed() {
			if !c.backoff() {
				return ErrClosed
			}
			continue
		}
		return err
	}
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
