package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/club-ranklist/internal/domain"
	"github.com/club-ranklist/internal/metrics"
	"github.com/club-ranklist/internal/service"
	"github.com/club-ranklist/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the ranklist API
type Handler struct {
	rankLists  *service.RankListService
	ingest     *service.IngestService
	hub        *websocket.Hub
	metrics    *metrics.Metrics
	userHeader string
	checks     map[string]Pinger
	logger     *slog.Logger
}

// NewHandler creates a new HTTP handler. userHeader names the header carrying the
// authenticated user id.
func NewHandler(
	rankLists *service.RankListService,
	ingest *service.IngestService,
	hub *websocket.Hub,
	m *metrics.Metrics,
	userHeader string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		rankLists:  rankLists,
		ingest:     ingest,
		hub:        hub,
		metrics:    m,
		userHeader: userHeader,
		checks:     make(map[string]Pinger),
		logger:     logger,
	}
}

// AddReadinessCheck registers a dependency for /ready
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.checks[name] = p
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.metrics.Middleware)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", h.IngestRecords)

		r.Route("/ranklists", func(r chi.Router) {
			r.Get("/", h.ListRankLists)

			r.Route("/{rankListID}", func(r chi.Router) {
				r.Get("/", h.GetRankList)
				r.Get("/users/{userID}/history", h.GetUserHistory)
				r.Post("/join", h.JoinRankList)
				r.Post("/leave", h.LeaveRankList)
				r.Post("/recompute", h.RecomputeRankList)
			})
		})

		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-User-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps a service error to a status. Unknown errors are logged and
// reported generically.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrRankListNotFound):
		h.writeError(w, http.StatusNotFound, domain.ErrRankListNotFound)
	case errors.Is(err, domain.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, domain.ErrUserNotFound)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// actionStatus picks the status for a membership action result
func actionStatus(result domain.ActionResult) int {
	switch {
	case result.Success:
		return http.StatusOK
	case errors.Is(result.Err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsNotFoundError(result.Err):
		return http.StatusNotFound
	case domain.IsMembershipConflict(result.Err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// callerID returns the authenticated user id, or 0 when the header is missing or malformed
func (h *Handler) callerID(r *http.Request) int64 {
	id, err := strconv.ParseInt(r.Header.Get(h.userHeader), 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck pings every registered dependency
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	ready := true
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			status[name] = "unavailable"
			ready = false
			continue
		}
		status[name] = "ok"
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    status,
			Error:   "not ready",
		})
		return
	}
	status["status"] = "ready"
	h.writeSuccess(w, status)
}

// ListRankLists returns all ranklists
func (h *Handler) ListRankLists(w http.ResponseWriter, r *http.Request) {
	rankLists, err := h.rankLists.ListRankLists(r.Context())
	if err != nil {
		h.writeServiceError(w, "list ranklists", err)
		return
	}
	h.writeSuccess(w, rankLists)
}

// GetRankList returns the ranked grid of a ranklist
func (h *Handler) GetRankList(w http.ResponseWriter, r *http.Request) {
	rankListID, ok := pathID(r, "rankListID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	data, err := h.rankLists.GetRankingData(r.Context(), rankListID)
	if err != nil {
		h.writeServiceError(w, "get ranking", err)
		return
	}
	h.writeSuccess(w, data)
}

// GetUserHistory returns a user's per-event points in a ranklist
func (h *Handler) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	rankListID, ok := pathID(r, "rankListID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	userID, ok := pathID(r, "userID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	history, err := h.rankLists.GetUserEventHistory(r.Context(), userID, rankListID)
	if err != nil {
		h.writeServiceError(w, "get history", err)
		return
	}
	h.writeSuccess(w, history)
}

// JoinRankList adds the caller to a ranklist
func (h *Handler) JoinRankList(w http.ResponseWriter, r *http.Request) {
	h.membership(w, r, h.rankLists.JoinRankList)
}

// LeaveRankList removes the caller from a ranklist
func (h *Handler) LeaveRankList(w http.ResponseWriter, r *http.Request) {
	h.membership(w, r, h.rankLists.LeaveRankList)
}

func (h *Handler) membership(w http.ResponseWriter, r *http.Request, action func(context.Context, int64, int64) domain.ActionResult) {
	rankListID, ok := pathID(r, "rankListID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result := action(r.Context(), h.callerID(r), rankListID)
	h.writeJSON(w, actionStatus(result), APIResponse{
		Success: result.Success,
		Error:   result.Error,
	})
}

// RecomputeRankList rewrites the stored member scores of one ranklist
func (h *Handler) RecomputeRankList(w http.ResponseWriter, r *http.Request) {
	rankListID, ok := pathID(r, "rankListID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	summary, err := h.rankLists.RecomputeRankList(r.Context(), rankListID)
	if err != nil {
		h.writeServiceError(w, "recompute", err)
		return
	}
	h.writeSuccess(w, summary)
}

// IngestRecords stores a batch of solve stat and attendance records
func (h *Handler) IngestRecords(w http.ResponseWriter, r *http.Request) {
	var batch domain.IngestBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if len(batch.Records) == 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	summary, err := h.ingest.IngestBatch(r.Context(), batch)
	if err != nil {
		h.writeServiceError(w, "ingest", err)
		return
	}
	h.writeSuccess(w, summary)
}
