package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/erain9/marketreplica/pkg/core"
	"github.com/erain9/marketreplica/pkg/countdown"
	"github.com/erain9/marketreplica/pkg/gateway"
	"github.com/erain9/marketreplica/pkg/replica"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// EnterOrderRequest is the body of POST /orders
type EnterOrderRequest struct {
	Price     int64  `json:"price"`
	Volume    int64  `json:"volume"`
	IsBid     bool   `json:"is_bid"`
	AssetName string `json:"asset_name"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithGateway enables the order routes
func WithGateway(g *gateway.Gateway) HandlerOption {
	return func(h *Handler) {
		h.gateway = g
	}
}

// WithCountdown reports the round's remaining time in GET /state
func WithCountdown(t *countdown.Timer) HandlerOption {
	return func(h *Handler) {
		h.timer = t
	}
}

// WithFeed serves the notification feed on GET /feed
func WithFeed(f *Feed) HandlerOption {
	return func(h *Handler) {
		h.feed = f
	}
}

// WithCORS lets browsers on the given origins call the API
func WithCORS(origins []string) HandlerOption {
	return func(h *Handler) {
		h.corsOrigins = origins
	}
}

// WithHandlerLogger sets the logger
func WithHandlerLogger(logger zerolog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// Handler is the replica's HTTP API
type Handler struct {
	replica *replica.Replicator
	gateway *gateway.Gateway
	timer   *countdown.Timer
	feed    *Feed
	logger  zerolog.Logger
	serving atomic.Bool

	corsOrigins []string
	handler     http.Handler
}

// NewHandler builds the HTTP API over r
func NewHandler(r *replica.Replicator, opts ...HandlerOption) *Handler {
	h := &Handler{
		replica: r,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With().Str("component", "admin_http").Logger()

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(h.requestLogging)

	router.Get("/state", h.handleState)
	router.Get("/stats", h.handleStats)
	router.Get("/healthz", h.handleHealth)
	router.Post("/orders", h.handleEnter)
	router.Post("/orders/{id}/cancel", h.handleCancel)
	router.Post("/orders/{id}/accept", h.handleAccept)
	if h.feed != nil {
		router.Method(http.MethodGet, "/feed", h.feed)
	}

	h.handler = router
	if len(h.corsOrigins) > 0 {
		h.handler = cors.New(cors.Options{
			AllowedOrigins: h.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		}).Handler(router)
	}
	return h
}

// SetServing flips the GET /healthz result
func (h *Handler) SetServing(serving bool) {
	h.serving.Store(serving)
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// requestLogging attaches a request logger to the context and logs the
// outcome of every request
func (h *Handler) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqLogger := h.logger.With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Logger()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(reqLogger.WithContext(r.Context())))
		reqLogger.Debug().
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	})
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	snap := h.replica.Snapshot()
	if h.timer != nil {
		remaining := h.timer.Remaining()
		snap.TimeRemaining = &remaining
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.replica.Stats().Summary())
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !h.serving.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "serving"})
}

func (h *Handler) handleEnter(w http.ResponseWriter, r *http.Request) {
	if !h.requireGateway(w) {
		return
	}

	var req EnterOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.gateway.Enter(r.Context(), req.Price, req.Volume, req.IsBid, req.AssetName); err != nil {
		h.sendFailed(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !h.requireGateway(w) {
		return
	}
	order, ok := h.restingOrder(w, r)
	if !ok {
		return
	}
	if err := h.gateway.Cancel(r.Context(), order); err != nil {
		h.sendFailed(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	if !h.requireGateway(w) {
		return
	}
	order, ok := h.restingOrder(w, r)
	if !ok {
		return
	}
	if err := h.gateway.AcceptImmediate(r.Context(), order); err != nil {
		h.sendFailed(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) requireGateway(w http.ResponseWriter) bool {
	if h.gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "order entry disabled")
		return false
	}
	return true
}

// restingOrder resolves the {id} path segment against the books
func (h *Handler) restingOrder(w http.ResponseWriter, r *http.Request) (core.Order, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return core.Order{}, false
	}
	order, ok := h.replica.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "order not found")
		return core.Order{}, false
	}
	return order, true
}

func (h *Handler) sendFailed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, gateway.ErrRateLimited) {
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Msg("Request send failed")
	writeError(w, http.StatusBadGateway, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
