// Package trackingapi serves the order tracking REST surface.
package trackingapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/freshbasket/livetrack/internal/models"
	"github.com/freshbasket/livetrack/internal/services/tracking"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
)

const (
	AgentHeader = "X-Agent-ID"
	AdminHeader = "X-Admin-Token"
)

type Service interface {
	RecordAgentLocation(ctx context.Context, agentID string, upd models.AgentCoordinateUpdate) error
	GetTrackingSnapshot(ctx context.Context, orderID string) (*models.TrackingSnapshot, error)
	ListAgentOrders(ctx context.Context, agentID string) ([]*models.Order, error)
	GetAgentOrder(ctx context.Context, agentID, orderID string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, agentID, orderID, status string) (*models.Order, error)
	CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error)
	AssignAgent(ctx context.Context, orderID, agentID, agentName string) (*models.Order, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Options struct {
	// Location publishes allowed per agent per minute. Zero disables the limit.
	LocationRatePerMinute int64
	// AdminToken guards /admin routes when set.
	AdminToken string
}

type TrackingAPI struct {
	svc  Service
	rl   RateLimiter
	opts Options
}

func New(svc Service, rl RateLimiter, opts Options) *TrackingAPI {
	return &TrackingAPI{svc: svc, rl: rl, opts: opts}
}

// Routes mounts the API on r.
func (a *TrackingAPI) Routes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/orders/agent/location", a.publishLocation)
	r.Get("/orders/{orderId}/track", a.getTrackingSnapshot)

	r.Route("/agent/orders", func(r chi.Router) {
		r.Get("/", a.listAgentOrders)
		r.Get("/{orderId}", a.getAgentOrder)
		r.Patch("/{orderId}/status", a.updateOrderStatus)
	})

	r.Route("/admin/orders", func(r chi.Router) {
		r.Use(a.requireAdmin)
		r.Post("/", a.createOrder)
		r.Put("/{orderId}/agent", a.assignAgent)
	})
}

func (a *TrackingAPI) Handler() http.Handler {
	r := chi.NewRouter()
	a.Routes(r)
	return r
}

func (a *TrackingAPI) publishLocation(w http.ResponseWriter, r *http.Request) {
	agentID, ok := requireAgent(w, r)
	if !ok {
		return
	}

	var upd models.AgentCoordinateUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if a.rl != nil && a.opts.LocationRatePerMinute > 0 {
		allowed, _, err := a.rl.Allow(r.Context(), fmt.Sprintf("ratelimit:agent:%s:location", agentID), a.opts.LocationRatePerMinute, time.Minute)
		if err != nil {
			slog.Warn("location rate limit check failed", "agent_id", agentID, "error", err.Error())
		} else if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(60))
			writeError(w, http.StatusTooManyRequests, "too many location updates")
			return
		}
	}

	if err := a.svc.RecordAgentLocation(r.Context(), agentID, upd); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (a *TrackingAPI) getTrackingSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := a.svc.GetTrackingSnapshot(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type ordersResponse struct {
	Orders []*models.Order `json:"orders"`
}

func (a *TrackingAPI) listAgentOrders(w http.ResponseWriter, r *http.Request) {
	agentID, ok := requireAgent(w, r)
	if !ok {
		return
	}
	orders, err := a.svc.ListAgentOrders(r.Context(), agentID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	writeJSON(w, http.StatusOK, ordersResponse{Orders: orders})
}

func (a *TrackingAPI) getAgentOrder(w http.ResponseWriter, r *http.Request) {
	agentID, ok := requireAgent(w, r)
	if !ok {
		return
	}
	o, err := a.svc.GetAgentOrder(r.Context(), agentID, chi.URLParam(r, "orderId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (a *TrackingAPI) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	agentID, ok := requireAgent(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	o, err := a.svc.UpdateOrderStatus(r.Context(), agentID, chi.URLParam(r, "orderId"), req.Status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type createOrderRequest struct {
	ID               string        `json:"id"`
	CustomerID       string        `json:"customerId"`
	StoreLocation    *models.Place `json:"storeLocation"`
	DeliveryLocation *models.Place `json:"deliveryLocation"`
}

func (a *TrackingAPI) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	o, err := a.svc.CreateOrder(r.Context(), models.OrderCreateInput{
		ID:               req.ID,
		CustomerID:       req.CustomerID,
		StoreLocation:    req.StoreLocation,
		DeliveryLocation: req.DeliveryLocation,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

type assignRequest struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
}

func (a *TrackingAPI) assignAgent(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	o, err := a.svc.AssignAgent(r.Context(), chi.URLParam(r, "orderId"), req.AgentID, req.AgentName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *TrackingAPI) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.opts.AdminToken != "" && r.Header.Get(AdminHeader) != a.opts.AdminToken {
			writeError(w, http.StatusUnauthorized, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireAgent(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(AgentHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, AgentHeader+" header is required")
		return "", false
	}
	return id, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tracking.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, models.ErrOrderNotFound.Error())
	case errors.Is(err, models.ErrNotAssigned):
		writeError(w, http.StatusForbidden, models.ErrNotAssigned.Error())
	case errors.Is(err, models.ErrOrderNotTrackable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled):
		// client went away
		w.WriteHeader(499)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
