// Package statefeed exposes session snapshots over HTTP and websocket.
package statefeed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/silencevoice/silencevoice/internal/logging"
)

const writeTimeout = 2 * time.Second

// Hub holds the latest snapshot and fans it out to websocket subscribers.
// Slow subscribers only ever see the newest snapshot.
type Hub struct {
	mu     sync.Mutex
	latest []byte
	subs   map[chan []byte]struct{}
	logger *slog.Logger

	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewHub builds an empty hub. Browser requests are accepted only from
// allowedOrigins or from a page served by the feed's own host; requests
// without an Origin header (local tools) are always accepted. "*" in
// allowedOrigins accepts every origin.
func NewHub(logger *slog.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		latest: []byte("null"),
		subs:   make(map[chan []byte]struct{}),
		logger: logging.OrDiscard(logger),
	}
	for _, origin := range allowedOrigins {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			h.allowedOrigins = append(h.allowedOrigins, origin)
		}
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.originAllowed}
	return h
}

func (h *Hub) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// requireOrigin refuses cross-origin browser requests with 403.
func (h *Hub) requireOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.originAllowed(r) {
			h.logger.Warn("state feed origin refused", "origin", r.Header.Get("Origin"), "path", r.URL.Path)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Publish replaces the latest snapshot and notifies subscribers.
func (h *Hub) Publish(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encode state snapshot failed", "error", err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = data
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- data
		}
	}
}

// Latest returns the most recent encoded snapshot.
func (h *Hub) Latest() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Subscribers reports the number of live websocket clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe() (chan []byte, []byte) {
	ch := make(chan []byte, 1)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[ch] = struct{}{}
	return ch, h.latest
}

func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, ch)
}

// Handler serves GET /state and GET /state/ws.
func (h *Hub) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(h.requireOrigin)
	r.Get("/state", h.serveSnapshot)
	r.Get("/state/ws", h.serveWebsocket)
	return r
}

func (h *Hub) serveSnapshot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(h.Latest())
}

func (h *Hub) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("state websocket upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	ch, first := h.subscribe()
	defer h.unsubscribe(ch)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.write(conn, first); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case data := <-ch:
			if err := h.write(conn, data); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			h.logger.Debug("state websocket write failed", "error", err.Error())
		}
		return err
	}
	return nil
}
