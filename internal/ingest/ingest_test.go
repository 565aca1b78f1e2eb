package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/zsiec/remote64/internal/intercom"
	"github.com/zsiec/remote64/internal/wire"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	src, ok := r.Register("console")
	if !ok {
		t.Fatal("Register returned false for new key")
	}
	if src.Key != "console" {
		t.Fatalf("got key %q, want %q", src.Key, "console")
	}

	got, ok := r.Get("console")
	if !ok {
		t.Fatal("Get returned false for registered source")
	}
	if got != src {
		t.Fatal("Get returned different source pointer")
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("console")
	if s, ok := r.Register("console"); ok || s != nil {
		t.Fatal("duplicate Register should fail")
	}
}

func TestRegistryUnregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("a")
	r.Unregister("a")
	if _, ok := r.Get("a"); ok {
		t.Fatal("source still found after Unregister")
	}
	r.Unregister("missing")
}

func TestRegistryListSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, k := range []string{"b", "c", "a"} {
		r.Register(k)
	}
	list := r.List()
	if len(list) != 3 || list[0].Key != "a" || list[2].Key != "c" {
		t.Fatalf("List = %+v", list)
	}
}

func TestSourceStats(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	s, _ := r.Register("a")
	s.SetRemoteAddr("10.0.0.1:9000")
	s.RecordRead(100)
	s.RecordRead(50)
	s.RecordFrame()

	st := s.Stats()
	if st.BytesReceived != 150 {
		t.Errorf("BytesReceived: got %d, want 150", st.BytesReceived)
	}
	if st.ReadCount != 2 {
		t.Errorf("ReadCount: got %d, want 2", st.ReadCount)
	}
	if st.Frames != 1 {
		t.Errorf("Frames: got %d, want 1", st.Frames)
	}
	if st.RemoteAddr != "10.0.0.1:9000" {
		t.Errorf("RemoteAddr: got %q", st.RemoteAddr)
	}
}

func TestPublisherDeliversFrames(t *testing.T) {
	t.Parallel()
	bus := intercom.NewBus(intercom.Options{})
	ep, mgr := bus.Endpoint(), bus.Endpoint()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Start(ctx)

	p := NewPublisher(ep, nil)
	if !p.PublishFrame(wire.Frame{Audio: []float32{1}}) {
		t.Fatal("PublishFrame rejected")
	}
	if !p.PublishFrames([]wire.Frame{{}, {}}) {
		t.Fatal("PublishFrames rejected")
	}

	select {
	case msg := <-mgr.Recv():
		if _, ok := msg.(intercom.LatestFrame); !ok {
			t.Fatalf("got %T, want LatestFrame", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}
	select {
	case msg := <-mgr.Recv():
		if bf, ok := msg.(intercom.BulkFrames); !ok || len(bf.Frames) != 2 {
			t.Fatalf("got %#v, want BulkFrames of 2", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no bulk frames delivered")
	}
	if st := p.Stats(); st.Published != 3 || st.Dropped != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestPublisherDropsWhenClosed(t *testing.T) {
	t.Parallel()
	bus := intercom.NewBus(intercom.Options{})
	ep := bus.Endpoint()
	ep.Close()

	p := NewPublisher(ep, nil)
	if p.PublishFrame(wire.Frame{}) {
		t.Fatal("publish on closed endpoint succeeded")
	}
	if st := p.Stats(); st.Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", st.Dropped)
	}
}

func TestPublisherRunStopsOnKill(t *testing.T) {
	t.Parallel()
	bus := intercom.NewBus(intercom.Options{})
	ep, ctl := bus.Endpoint(), bus.Endpoint()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Start(ctx)

	p := NewPublisher(ep, nil)
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	if err := ctl.Send(intercom.SessionJoined{ID: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := ctl.Send(intercom.Kill{}); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: got %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Kill")
	}
}
