package dispatch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scraplab/autopricer/internal/logger"
	"github.com/scraplab/autopricer/internal/models"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// priceMessage is the wire envelope broadcast for each finalized price.
type priceMessage struct {
	Type string            `json:"type"`
	Data models.PricedItem `json:"data"`
}

// Hub fans finalized prices out to all connected websocket clients.
type Hub struct {
	mu       sync.Mutex
	conns    map[*websocket.Conn]bool
	upgrader websocket.Upgrader
	addr     string
	server   *http.Server
}

func NewHub(addr string) *Hub {
	return &Hub{
		conns: make(map[*websocket.Conn]bool),
		addr:  addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Publish broadcasts the item to every connected client. Connections that
// fail the write are dropped.
func (h *Hub) Publish(item models.PricedItem) {
	msg := priceMessage{Type: "price", Data: item}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug("Dropping subscriber %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

// Clients reports the current subscriber count.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Websocket upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = true
	n := len(h.conns)
	h.mu.Unlock()
	logger.Info("Subscriber connected from %s (%d total)", conn.RemoteAddr(), n)

	go h.reader(conn)
}

// reader drains inbound frames so pings are answered and keeps the
// connection entry alive until the peer goes away.
func (h *Hub) reader(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Run serves the websocket endpoint until the context is canceled, then
// closes every subscriber connection.
func (h *Hub) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleWS)

	h.server = &http.Server{Addr: h.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		h.server.Shutdown(shutCtx)

		h.mu.Lock()
		for conn := range h.conns {
			conn.Close()
		}
		h.conns = make(map[*websocket.Conn]bool)
		h.mu.Unlock()
	}()

	go h.pinger(ctx)

	logger.Info("Price feed listening on %s", h.addr)
	if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (h *Hub) pinger(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			for conn := range h.conns {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					delete(h.conns, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}
