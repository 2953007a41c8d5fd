package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/legends-of-valor/internal/activity"
	"github.com/legends-of-valor/internal/auction"
	"github.com/legends-of-valor/internal/catalog"
	"github.com/legends-of-valor/internal/combat"
	"github.com/legends-of-valor/internal/domain"
	"github.com/legends-of-valor/internal/ledger"
	"github.com/legends-of-valor/internal/metrics"
	"github.com/legends-of-valor/internal/websocket"
	"golang.org/x/time/rate"
)

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the game API
type Handler struct {
	combat   *combat.Engine
	auctions *auction.Engine
	ledger   *ledger.Service
	catalog  *catalog.Catalog
	feed     *activity.Recorder
	hub      *websocket.Hub
	metrics  *metrics.Metrics
	limiter  *BidderRateLimiter
	checks   map[string]Pinger
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	combatEngine *combat.Engine,
	auctionEngine *auction.Engine,
	ledgerSvc *ledger.Service,
	cat *catalog.Catalog,
	feed *activity.Recorder,
	hub *websocket.Hub,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		combat:   combatEngine,
		auctions: auctionEngine,
		ledger:   ledgerSvc,
		catalog:  cat,
		feed:     feed,
		hub:      hub,
		limiter:  NewBidderRateLimiter(rate.Inf, 1),
		checks:   make(map[string]Pinger),
		logger:   logger,
	}
}

// SetMetrics enables request metrics and the /metrics endpoint
func (h *Handler) SetMetrics(m *metrics.Metrics) { h.metrics = m }

// SetBidLimiter replaces the per-bidder bid limiter
func (h *Handler) SetBidLimiter(l *BidderRateLimiter) { h.limiter = l }

// AddReadinessCheck registers a dependency checked by /ready
func (h *Handler) AddReadinessCheck(name string, p Pinger) { h.checks[name] = p }

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
	}
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Route("/challenges", func(r chi.Router) {
			r.Post("/", h.CreateChallenge)
			r.Route("/{challengeID}", func(r chi.Router) {
				r.Get("/", h.GetChallenge)
				r.Post("/accept", h.AcceptChallenge)
				r.Post("/decline", h.DeclineChallenge)
				r.Post("/cancel", h.CancelChallenge)
				r.Get("/combat", h.GetCombat)
				r.Post("/actions", h.SubmitAction)
			})
		})

		r.Route("/auctions", func(r chi.Router) {
			r.Post("/", h.QueueAuction)
			r.Get("/", h.ListQueuedAuctions)
			r.Get("/active", h.GetActiveAuction)
			r.Route("/{auctionID}", func(r chi.Router) {
				r.Get("/", h.GetAuction)
				r.Post("/activate", h.ActivateAuction)
				r.Post("/bids", h.PlaceBid)
				r.Post("/settle", h.SettleAuction)
			})
		})

		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Get("/", h.GetAccount)
			r.Post("/gold", h.AdjustGold)
			r.Get("/challenges", h.ListChallenges)
			r.Get("/skills", h.ListSkills)
			r.Post("/skills/{playerSkillID}/equip", h.EquipSkill)
		})

		r.Get("/skills", h.ListCatalogSkills)
		r.Get("/activity", h.GetActivity)
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

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
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

func (h *Handler) writeCreated(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusCreated, APIResponse{
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

// writeDomainError maps an engine error onto a status code. Anything not
// recognised is logged and reported as an internal error.
func (h *Handler) writeDomainError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrNotParticipant):
		h.writeError(w, http.StatusForbidden, err)
	case errors.Is(err, domain.ErrInsufficientFunds):
		h.writeError(w, http.StatusPaymentRequired, err)
	case domain.IsConflictError(err):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidAction):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// decode reads a JSON body, rejecting unknown fields
func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.ErrInvalidRequest
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"total_connections": h.hub.TotalConnections(),
	}
	if topic := r.URL.Query().Get("topic"); topic != "" {
		data["subscribers"] = h.hub.SubscriberCount(topic)
	}
	h.writeSuccess(w, data)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck pings every registered dependency
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ready"}
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
		status["status"] = "not_ready"
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{Success: false, Data: status, Error: "not ready"})
		return
	}
	h.writeSuccess(w, status)
}

// GetActivity returns the newest events of one feed topic
func (h *Handler) GetActivity(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if !websocket.ValidTopic(topic) {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	events, err := h.feed.Feed(r.Context(), topic, queryInt(r, "limit", 0))
	if err != nil {
		h.writeDomainError(w, "activity feed", err)
		return
	}
	h.writeSuccess(w, events)
}
