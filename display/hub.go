package display

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/d1nch8g/livecaption/engine"
	"github.com/d1nch8g/livecaption/metrics"
	"github.com/d1nch8g/livecaption/stt"
)

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// Source is what the hub serves besides live results.
type Source interface {
	CommittedLines() []engine.Line
	Stats() engine.Stats
}

type client struct {
	send chan []byte
}

// Hub fans results out to websocket clients. Publish never blocks: a
// client whose buffer is full misses the message.
type Hub struct {
	source   Source
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	dropped atomic.Uint64

	server *http.Server
}

func NewHub(source Source, log zerolog.Logger) *Hub {
	h := &Hub{
		source: source,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// overlays are served from file:// or other local origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	h.server = &http.Server{
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return h
}

// Publish is an engine sink.
func (h *Hub) Publish(res stt.Result) {
	msg, err := json.Marshal(res)
	if err != nil {
		h.log.Warn().Err(err).Msg("marshal result")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			n := h.dropped.Add(1)
			h.log.Debug().Uint64("dropped", n).Msg("slow caption client")
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped counts messages skipped for slow clients.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.recoverer)

	// The websocket route stays outside the access log wrapper so the
	// connection can be hijacked.
	r.Get("/captions", h.serveCaptions)

	r.Group(func(r chi.Router) {
		r.Use(accessLog(h.log))
		r.Use(metrics.InstrumentHandler)
		r.Get("/transcript", h.serveTranscript)
		r.Get("/stats", h.serveStats)
		r.Handle("/metrics", promhttp.Handler())
	})
	return r
}

func (h *Hub) serveCaptions(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade")
		return
	}

	c := &client{send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("caption client connected")

	go h.writePump(ws, c)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("caption client disconnected")
}

func (h *Hub) writePump(ws *websocket.Conn, c *client) {
	defer ws.Close()
	for msg := range c.send {
		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (h *Hub) serveTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"lines": h.source.CommittedLines()})
}

func (h *Hub) serveStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Stats())
}

// Start serves the feed on addr until Shutdown. After Shutdown it returns
// nil without serving.
func (h *Hub) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return h.Serve(ln)
}

// Serve serves the feed on ln until Shutdown.
func (h *Hub) Serve(ln net.Listener) error {
	h.log.Info().Str("addr", ln.Addr().String()).Msg("caption feed starting")
	err := h.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server and disconnects every client. It may run before
// or concurrently with Start.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Info().Msg("caption feed shutting down")
	err := h.server.Shutdown(ctx)

	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func accessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		h := hlog.NewHandler(log)
		access := hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(r).Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration_ms", dur).
				Msg("request")
		})
		return h(access(next))
	}
}

func (h *Hub) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				h.log.Error().Interface("panic", rv).Str("path", r.URL.Path).Msg("recovered from panic")
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
