package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scraplab/autopricer/internal/logger"
	"github.com/scraplab/autopricer/internal/models"
)

// Pipeline binds the filter, the batcher, and the store into the event
// handler the stream feeds.
type Pipeline struct {
	filter  *Filter
	batcher *Batcher
	sink    ListingSink
}

// NewPipeline assembles the ingestion pipeline.
func NewPipeline(filter *Filter, batcher *Batcher, sink ListingSink) *Pipeline {
	return &Pipeline{filter: filter, batcher: batcher, sink: sink}
}

// Handle processes one inbound event. Updates are filtered and debounced;
// deletes apply immediately.
func (p *Pipeline) Handle(ev *models.ListingEvent) {
	switch ev.Event {
	case models.EventListingUpdate:
		listing, reason := p.filter.AdmitUpdate(ev)
		if listing == nil {
			logger.Debug("Discarded listing update for %q: %s", ev.Payload.Item.Name, reason)
			return
		}
		p.batcher.Add(listing)
	case models.EventListingDelete:
		sku, err := p.sink.RemoveListing(ev.Payload.SteamID, ev.Payload.Item.Name, models.Intent(ev.Payload.Intent))
		if err != nil {
			logger.Warn("Failed to remove listing for %q: %v", ev.Payload.Item.Name, err)
			return
		}
		if sku != "" {
			if err := p.sink.UpdateListingStats(sku); err != nil {
				logger.Warn("Failed to update stats for %s: %v", sku, err)
			}
		}
	}
}

// StreamConfig configures the reconnecting websocket consumer.
type StreamConfig struct {
	URL                string
	ReconnectDelayBase time.Duration
	ReconnectDelayMax  time.Duration
	EventLogPath       string
}

// Stream is a reconnecting websocket consumer for the classifieds feed.
// Connection events are appended to a durable log; feed errors never crash
// the process.
type Stream struct {
	cfg     StreamConfig
	handler func(*models.ListingEvent)
}

// NewStream creates a stream delivering every event to handler.
func NewStream(cfg StreamConfig, handler func(*models.ListingEvent)) *Stream {
	if cfg.ReconnectDelayBase <= 0 {
		cfg.ReconnectDelayBase = time.Second
	}
	if cfg.ReconnectDelayMax < cfg.ReconnectDelayBase {
		cfg.ReconnectDelayMax = time.Minute
	}
	return &Stream{cfg: cfg, handler: handler}
}

// Run connects and consumes until ctx is cancelled, reconnecting with
// exponential backoff on any error.
func (s *Stream) Run(ctx context.Context) {
	delay := s.cfg.ReconnectDelayBase
	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > time.Minute {
			// A connection that held for a while resets the backoff.
			delay = s.cfg.ReconnectDelayBase
		}
		if err != nil {
			s.logEvent(fmt.Sprintf("socket error: %v", err))
			logger.Warn("Listing stream disconnected: %v (reconnecting in %v)", err, delay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.cfg.ReconnectDelayMax {
			delay = s.cfg.ReconnectDelayMax
		}
	}
}

func (s *Stream) consume(ctx context.Context) error {
	header := http.Header{}
	header.Set("batch-test", "true")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	s.logEvent("connected to listing stream")
	logger.Info("Connected to listing stream at %s", s.cfg.URL)

	// Unblock ReadMessage on shutdown. The closer exits with the
	// connection so reconnect cycles do not pile up goroutines.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.logEvent(fmt.Sprintf("socket closed: %v", err))
			return fmt.Errorf("read: %w", err)
		}
		s.dispatch(message)
	}
}

// dispatch decodes one frame, which carries either a single event or an
// array of events.
func (s *Stream) dispatch(message []byte) {
	var batch []models.ListingEvent
	if err := json.Unmarshal(message, &batch); err == nil {
		for i := range batch {
			s.handler(&batch[i])
		}
		return
	}
	var single models.ListingEvent
	if err := json.Unmarshal(message, &single); err != nil {
		logger.Warn("Failed to decode stream frame: %v", err)
		return
	}
	s.handler(&single)
}

func (s *Stream) logEvent(msg string) {
	if s.cfg.EventLogPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.EventLogPath), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(s.cfg.EventLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "[%s] %s\n", time.Now().UTC().Format(time.RFC3339), msg)
}
