package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scraplab/autopricer/internal/models"
)

func TestStream_DispatchDecodesBatchAndSingle(t *testing.T) {
	var got []string
	s := NewStream(StreamConfig{URL: "ws://unused"}, func(ev *models.ListingEvent) {
		got = append(got, ev.Event)
	})

	s.dispatch([]byte(`[{"event":"listing-update"},{"event":"listing-delete"}]`))
	s.dispatch([]byte(`{"event":"listing-update"}`))
	s.dispatch([]byte(`not json`))

	want := []string{models.EventListingUpdate, models.EventListingDelete, models.EventListingUpdate}
	if len(got) != len(want) {
		t.Fatalf("dispatched %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStream_ReconnectDoesNotLeakGoroutines(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var dials atomic.Int64

	// Every connection is accepted and dropped immediately, forcing the
	// consumer through rapid reconnect cycles.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		dials.Add(1)
		conn.Close()
	}))
	defer srv.Close()

	s := NewStream(StreamConfig{
		URL:                "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelayBase: time.Millisecond,
		ReconnectDelayMax:  time.Millisecond,
	}, func(*models.ListingEvent) {})

	before := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for dials.Load() < 30 {
		select {
		case <-deadline:
			t.Fatalf("only %d reconnects before deadline", dials.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	// Give per-connection goroutines a moment to unwind.
	var after int
	for i := 0; i < 50; i++ {
		time.Sleep(10 * time.Millisecond)
		after = runtime.NumGoroutine()
		if after <= before+3 {
			break
		}
	}
	if after > before+3 {
		t.Errorf("goroutines grew from %d to %d across %d reconnects", before, after, dials.Load())
	}
}
