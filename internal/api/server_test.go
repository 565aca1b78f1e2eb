package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/remote64/internal/ingest"
	"github.com/zsiec/remote64/internal/intercom"
	"github.com/zsiec/remote64/internal/session"
)

func testSnapshot() session.Snapshot {
	return session.Snapshot{
		Sessions: []session.Entry{
			{ID: "s1", Addr: "10.0.0.1:5000", Position: 0, State: "serviced"},
			{ID: "s2", Addr: "10.0.0.2:5000", Position: 1, State: "waiting"},
		},
		Serviced: "s1",
		RingLen:  7,
		RingSize: 30,
		Counters: session.Counters{Joined: 2, FramesIn: 100},
	}
}

func newTestServer(cfg Config) http.Handler {
	if cfg.Queue == nil {
		cfg.Queue = testSnapshot
	}
	return New(cfg, nil).Handler()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func TestHandleQueue(t *testing.T) {
	t.Parallel()
	rec := get(t, newTestServer(Config{}), "/api/queue")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var snap session.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Sessions) != 2 || snap.Serviced != "s1" || snap.RingLen != 7 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	rec := get(t, newTestServer(Config{}), "/api/health")
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["sessions"] != float64(2) {
		t.Fatalf("body = %v", body)
	}
}

func TestHandleIngestAndStats(t *testing.T) {
	t.Parallel()
	h := newTestServer(Config{
		Ingest: func() []ingest.SourceStats {
			return []ingest.SourceStats{{Key: "console", Frames: 9}}
		},
		BusStats:  func() intercom.Stats { return intercom.Stats{Endpoints: 4, Dropped: 1} },
		Publisher: func() ingest.PublisherStats { return ingest.PublisherStats{Published: 9} },
	})

	var sources []ingest.SourceStats
	if err := json.NewDecoder(get(t, h, "/api/ingest").Body).Decode(&sources); err != nil {
		t.Fatal(err)
	}
	if len(sources) != 1 || sources[0].Frames != 9 {
		t.Fatalf("sources = %+v", sources)
	}

	var st Stats
	if err := json.NewDecoder(get(t, h, "/api/stats").Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Bus.Endpoints != 4 || st.Publisher.Published != 9 || st.Queue.FramesIn != 100 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestHandleIngestUnconfigured(t *testing.T) {
	t.Parallel()
	rec := get(t, newTestServer(Config{}), "/api/ingest")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("body = %q, want []", rec.Body.String())
	}
}

func TestSRTPullEndpoints(t *testing.T) {
	t.Parallel()
	var pulled []string
	h := newTestServer(Config{
		SRTPull: func(address, streamKey, streamID string) error {
			if streamKey == "busy" {
				return errors.New("pull already active")
			}
			pulled = append(pulled, address+"/"+streamKey)
			return nil
		},
		SRTStop: func(streamKey string) error {
			if streamKey != "console" {
				return errors.New("no active pull")
			}
			return nil
		},
	})

	post := func(body string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/srt-pull", strings.NewReader(body)))
		return rec.Code
	}
	if code := post(`{"address":"capture:9000","streamKey":"console"}`); code != http.StatusCreated {
		t.Fatalf("create: status %d", code)
	}
	if code := post(`{"address":"capture:9000"}`); code != http.StatusBadRequest {
		t.Fatalf("missing key: status %d", code)
	}
	if code := post(`{"address":"x","streamKey":"busy"}`); code != http.StatusConflict {
		t.Fatalf("busy: status %d", code)
	}
	if code := post(`not json`); code != http.StatusBadRequest {
		t.Fatalf("bad json: status %d", code)
	}
	if len(pulled) != 1 || pulled[0] != "capture:9000/console" {
		t.Fatalf("pulled = %v", pulled)
	}

	del := func(q string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/srt-pull"+q, nil))
		return rec.Code
	}
	if code := del("?streamKey=console"); code != http.StatusOK {
		t.Fatalf("stop: status %d", code)
	}
	if code := del("?streamKey=other"); code != http.StatusNotFound {
		t.Fatalf("stop unknown: status %d", code)
	}
	if code := del(""); code != http.StatusBadRequest {
		t.Fatalf("stop without key: status %d", code)
	}
}

func TestSRTPullNotConfigured(t *testing.T) {
	t.Parallel()
	h := newTestServer(Config{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/srt-pull", strings.NewReader(`{}`)))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotImplemented)
	}
}

func TestQueueWebsocketPushes(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(newTestServer(Config{PushInterval: 20 * time.Millisecond}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/queue/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for i := range 2 {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var snap session.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if snap.Serviced != "s1" {
			t.Fatalf("push %d: serviced = %q", i, snap.Serviced)
		}
	}
}
