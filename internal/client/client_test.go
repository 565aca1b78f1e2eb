package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/zsiec/remote64/internal/intercom"
	"github.com/zsiec/remote64/internal/transport"
	"github.com/zsiec/remote64/internal/wire"
)

func TestPolicyRequest(t *testing.T) {
	t.Parallel()
	tests := []struct {
		backlog int
		want    uint32
		ok      bool
	}{
		{0, 35, true},
		{10, 25, true},
		{15, 20, true},
		{30, 20, true},
		{34, 20, true},
		{35, 0, false},
		{40, 0, false},
	}
	for _, tt := range tests {
		got, ok := DefaultPolicy.Request(tt.backlog)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Request(%d) = (%d, %v), want (%d, %v)", tt.backlog, got, ok, tt.want, tt.ok)
		}
	}
}

type fixedBacklog int

func (b *fixedBacklog) Backlog() int { return int(*b) }

func newBus(t *testing.T) (*intercom.Bus, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return intercom.NewBus(intercom.Options{}), ctx
}

func nextMessage(t *testing.T, ep *intercom.Endpoint[intercom.Message]) intercom.Message {
	t.Helper()
	select {
	case msg := <-ep.Recv():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus message")
	}
	return nil
}

func TestControllerStep(t *testing.T) {
	t.Parallel()
	bus, ctx := newBus(t)
	ep, obs := bus.Endpoint(), bus.Endpoint()
	go bus.Start(ctx)

	backlog := fixedBacklog(0)
	c := NewController(DefaultPolicy, &backlog, ep, nil)
	t0 := time.Unix(100, 0)
	c.lastRequest = t0

	if c.step(t0.Add(time.Second)) {
		t.Fatal("request issued before min interval elapsed")
	}
	if !c.step(t0.Add(time.Second + time.Millisecond)) {
		t.Fatal("starving buffer did not request")
	}
	msg, ok := nextMessage(t, obs).(intercom.SocketPacket)
	if !ok {
		t.Fatalf("got %T, want SocketPacket", msg)
	}
	if req, ok := msg.Packet.(wire.FrameRequest); !ok || req.Count != 35 {
		t.Fatalf("got %+v, want FrameRequest(35)", msg.Packet)
	}

	backlog = 40
	if c.step(t0.Add(5 * time.Second)) {
		t.Fatal("full buffer should not request")
	}
}

func TestControllerStepDropsOnFullBus(t *testing.T) {
	t.Parallel()
	// Unstarted bus: the shared inbox fills and stays full.
	bus := intercom.NewBus(intercom.Options{})
	ep, filler := bus.Endpoint(), bus.Endpoint()
	for filler.TrySend(intercom.Kill{}) == nil {
	}

	backlog := fixedBacklog(0)
	c := NewController(DefaultPolicy, &backlog, ep, nil)
	t0 := time.Unix(100, 0)
	c.lastRequest = t0

	done := make(chan bool, 1)
	go func() { done <- c.step(t0.Add(2 * time.Second)) }()
	select {
	case sent := <-done:
		if sent {
			t.Fatal("step reported a request that was dropped")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("step blocked on a full bus")
	}
	if !c.lastRequest.Equal(t0) {
		t.Fatalf("lastRequest = %v, want unchanged %v", c.lastRequest, t0)
	}
}

func TestQueuesPush(t *testing.T) {
	t.Parallel()
	res := wire.Resolution{Width: 2, Height: 2}
	q := NewQueues(2, res, nil)

	q.Push(wire.Frame{Video: make([]byte, 12), Audio: []float32{1}})
	q.Push(wire.Frame{Video: make([]byte, 5), Audio: []float32{2}})
	if got := q.Backlog(); got != 1 {
		t.Fatalf("backlog = %d, want 1", got)
	}
	if got := len(q.Audio); got != 2 {
		t.Fatalf("audio queued = %d, want 2", got)
	}

	q.Push(wire.Frame{Video: make([]byte, 12)})
	q.Push(wire.Frame{Video: make([]byte, 12)})
	st := q.Stats()
	if st.VideoQueued != 2 || st.Dropped != 1 || st.WrongSizeDrop != 1 || st.Received != 4 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestConsumerQueuesBulkFrames(t *testing.T) {
	t.Parallel()
	bus, ctx := newBus(t)
	ep, src := bus.Endpoint(), bus.Endpoint()
	go bus.Start(ctx)

	q := NewQueues(8, wire.Resolution{Width: 1, Height: 1}, nil)
	c := NewConsumer(ep, q, nil)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	frames := []wire.Frame{{Video: []byte{1, 2, 3}}, {Video: []byte{4, 5, 6}}}
	if err := src.Send(intercom.BulkFrames{Frames: frames}); err != nil {
		t.Fatal(err)
	}
	if err := src.Send(intercom.Kill{}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop on Kill")
	}
	if got := q.Backlog(); got != 2 {
		t.Fatalf("backlog = %d, want 2", got)
	}
	if v := <-q.Video; v[0] != 1 {
		t.Fatalf("first frame = %v, want oldest first", v)
	}
}

func TestPresenterPresent(t *testing.T) {
	t.Parallel()
	q := NewQueues(4, wire.Resolution{Width: 1, Height: 1}, nil)
	p := NewPresenter(q, 0, nil)
	if p.rate != time.Second/15 {
		t.Fatalf("rate = %v, want 15 fps", p.rate)
	}

	q.Push(wire.Frame{Video: []byte{0, 0, 0}})
	if !p.present() {
		t.Fatal("queued frame not presented")
	}
	if p.present() {
		t.Fatal("empty queue presented a frame")
	}
	if p.shown != 1 || p.missed != 1 {
		t.Fatalf("shown=%d missed=%d, want 1/1", p.shown, p.missed)
	}
}

func TestPresenterDrainsAudioAsItArrives(t *testing.T) {
	t.Parallel()
	q := NewQueues(8, wire.Resolution{Width: 1, Height: 1}, nil)
	// Frames without video queue audio only.
	for range 4 {
		q.Push(wire.Frame{Audio: []float32{0.5, 0.5}})
	}
	if got := len(q.Audio); got != 4 {
		t.Fatalf("audio queued = %d, want 4", got)
	}

	// At 1 fps the video tick cannot fire before the audio is gone.
	p := NewPresenter(q, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	deadline := time.Now().Add(500 * time.Millisecond)
	for len(q.Audio) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("audio queued = %d, want 0", len(q.Audio))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type socketHarness struct {
	sock   *Socket
	server *transport.Conn
	src    *intercom.Endpoint[intercom.Message]
	done   chan error
}

func newSocketHarness(t *testing.T) *socketHarness {
	t.Helper()
	bus, ctx := newBus(t)
	ep, src := bus.Endpoint(), bus.Endpoint()
	go bus.Start(ctx)

	a, b := net.Pipe()
	server := transport.NewConn(b, nil)
	t.Cleanup(func() { server.Close() })

	h := &socketHarness{
		sock:   NewSocket("pipe", ep, nil),
		server: server,
		src:    src,
		done:   make(chan error, 1),
	}
	go func() { h.done <- h.sock.serve(ctx, transport.NewConn(a, nil)) }()
	return h
}

func (h *socketHarness) expect(t *testing.T, want wire.Packet) {
	t.Helper()
	select {
	case msg, ok := <-h.server.Messages():
		if !ok {
			t.Fatal("client connection closed")
		}
		p, err := wire.Decode(msg)
		if err != nil {
			t.Fatal(err)
		}
		if p.ID() != want.ID() {
			t.Fatalf("got %s, want %s", wire.Name(p), wire.Name(want))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", wire.Name(want))
	}
}

func (h *socketHarness) reply(t *testing.T, p wire.Packet) {
	t.Helper()
	if err := h.server.Send(wire.Encode(p)); err != nil {
		t.Fatal(err)
	}
}

func TestSocketSession(t *testing.T) {
	t.Parallel()
	h := newSocketHarness(t)

	h.expect(t, wire.InfoRequest{})
	h.expect(t, wire.QueueRequest{})

	h.reply(t, wire.Ping{})
	h.expect(t, wire.Pong{})

	h.reply(t, wire.QueueResponse{Position: 3})
	h.reply(t, wire.InfoResponse{Info: wire.NewServerInfo([]wire.Feature{wire.FeatureLivePlayback})})
	h.reply(t, wire.FrameResponse{Frames: []wire.Frame{{Audio: []float32{0.25}}}})

	msg, ok := nextMessage(t, h.src).(intercom.BulkFrames)
	if !ok || len(msg.Frames) != 1 || msg.Frames[0].Audio[0] != 0.25 {
		t.Fatalf("got %+v, want one bulk frame", msg)
	}
	if got := h.sock.Position(); got != 3 {
		t.Fatalf("position = %d, want 3", got)
	}
	if info := h.sock.ServerInfo(); info == nil || !info.Has(wire.FeatureLivePlayback) {
		t.Fatalf("server info = %+v", info)
	}

	if err := h.src.Send(intercom.SocketPacket{Packet: wire.FrameRequest{Count: 20}}); err != nil {
		t.Fatal(err)
	}
	h.expect(t, wire.FrameRequest{})

	if err := h.src.Send(intercom.Kill{}); err != nil {
		t.Fatal(err)
	}
	h.expect(t, wire.Close{})
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("serve = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("socket did not stop on Kill")
	}
}

func TestSocketServerClose(t *testing.T) {
	t.Parallel()
	h := newSocketHarness(t)
	h.expect(t, wire.InfoRequest{})

	h.reply(t, wire.Close{})
	select {
	case err := <-h.done:
		if !errors.Is(err, ErrServerClosed) {
			t.Fatalf("serve = %v, want ErrServerClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("socket did not stop on server Close")
	}
}

func TestSocketConnectionDropped(t *testing.T) {
	t.Parallel()
	h := newSocketHarness(t)
	h.expect(t, wire.InfoRequest{})

	h.server.Close()
	select {
	case err := <-h.done:
		if !errors.Is(err, ErrServerClosed) {
			t.Fatalf("serve = %v, want ErrServerClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("socket did not notice dropped connection")
	}
}

func TestSocketDropsFramesOnFullBus(t *testing.T) {
	t.Parallel()
	bus := intercom.NewBus(intercom.Options{})
	ep, filler := bus.Endpoint(), bus.Endpoint()
	for filler.TrySend(intercom.Kill{}) == nil {
	}
	s := NewSocket("unused", ep, nil)

	resp := wire.Encode(wire.FrameResponse{Frames: make([]wire.Frame, 2)})
	done := make(chan bool, 1)
	// FrameResponse never writes to the connection, so none is needed.
	go func() { done <- s.handle(nil, resp) }()
	select {
	case ended := <-done:
		if ended {
			t.Fatal("FrameResponse ended the session")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handle blocked on a full bus")
	}
	if got := s.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
}
