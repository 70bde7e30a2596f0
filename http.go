package mouse_telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	maxMessageBytes = 1 << 20
	maxSignalBytes  = 64 << 10
)

// Handler returns the inbound HTTP API
func (p *Plugin) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", p.handleHealthz)

	r.Group(func(r chi.Router) {
		if p.config.HTTP.RateLimit > 0 {
			r.Use(httprate.LimitByIP(p.config.HTTP.RateLimit, time.Minute))
		}
		r.Post("/messages", p.handleMessage)
	})

	r.Get("/pages/ws", p.handlePageStream)

	registry := prometheus.NewRegistry()
	registry.MustRegister(p.metrics)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return r
}

func (p *Plugin) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func (p *Plugin) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, &SubmitResult{Success: false, Error: "invalid JSON format"})
		return
	}

	resp, err := p.HandleMessage(r.Context(), &msg)
	if err != nil {
		var unknown *UnknownMessageError
		if errors.As(err, &unknown) {
			writeJSON(w, http.StatusNotFound, &SubmitResult{Success: false, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, &SubmitResult{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (p *Plugin) upgrader() *websocket.Upgrader {
	allowed := p.config.HTTP.AllowedOrigins
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
}

// handlePageStream runs one sampler for the lifetime of a websocket.
// Each text frame is a PageSignal; closing the socket unloads the page.
func (p *Plugin) handlePageStream(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	info := PageInfo{
		Domain:         query.Get("domain"),
		ViewportWidth:  atoiOrZero(query.Get("width")),
		ViewportHeight: atoiOrZero(query.Get("height")),
	}

	conn, err := p.upgrader().Upgrade(w, r, nil)
	if err != nil {
		p.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxSignalBytes)

	pageID, err := p.pages.Open(p.ctx, info)
	if err != nil {
		p.logger.Warn("Failed to open page", zap.Error(err))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "sampler unavailable"))
		return
	}

	logger := p.logger.With(zap.String("page_id", pageID))
	defer func() {
		if err := p.pages.Close(p.ctx, pageID); err != nil && !errors.Is(err, ErrPageNotFound) {
			logger.Debug("Failed to unload page", zap.Error(err))
		}
	}()

	hello, _ := json.Marshal(map[string]string{"pageId": pageID})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Page stream closed", zap.Error(err))
			}
			return
		}

		var signal PageSignal
		if err := json.Unmarshal(data, &signal); err != nil {
			logger.Debug("Ignoring malformed page signal", zap.Error(err))
			continue
		}

		if err := p.pages.Signal(p.ctx, pageID, signal); err != nil {
			if !errors.Is(err, ErrPageNotFound) {
				logger.Warn("Failed to deliver page signal", zap.Error(err))
			}
			return
		}
		if signal.Type == SignalBeforeUnload {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
