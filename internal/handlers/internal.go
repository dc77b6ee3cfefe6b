package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumastore/api/internal/platform/httpx"
	"github.com/lumastore/api/internal/services"
)

const (
	maxInternalBodySize     = 8 * 1024
	defaultStaleOrderTTL    = 24 * time.Hour
	defaultExpireSweepLimit = 100
)

// InternalHandlers exposes endpoints for trusted schedulers. OIDC validation
// is enforced by the middleware installed on the /internal group.
type InternalHandlers struct {
	orders     services.OrderService
	clock      func() time.Time
	ttl        time.Duration
	sweepLimit int
}

// InternalOption customises the internal handlers.
type InternalOption func(*InternalHandlers)

// WithInternalClock overrides the time source, primarily for tests.
func WithInternalClock(clock func() time.Time) InternalOption {
	return func(h *InternalHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithStaleOrderTTL sets how old a pending_payment order must be before the
// sweep cancels it.
func WithStaleOrderTTL(ttl time.Duration) InternalOption {
	return func(h *InternalHandlers) {
		if ttl > 0 {
			h.ttl = ttl
		}
	}
}

// WithExpireSweepLimit caps how many orders a single sweep may cancel when the
// request does not specify its own limit.
func WithExpireSweepLimit(limit int) InternalOption {
	return func(h *InternalHandlers) {
		if limit > 0 {
			h.sweepLimit = limit
		}
	}
}

// NewInternalHandlers constructs the internal housekeeping handlers.
func NewInternalHandlers(orders services.OrderService, opts ...InternalOption) *InternalHandlers {
	h := &InternalHandlers{
		orders:     orders,
		clock:      time.Now,
		ttl:        defaultStaleOrderTTL,
		sweepLimit: defaultExpireSweepLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/housekeeping/expire-orders", h.expireOrders)
}

type expireOrdersRequest struct {
	// OlderThanSeconds overrides the configured TTL for this sweep.
	OlderThanSeconds int64 `json:"older_than_seconds"`
	Limit            int   `json:"limit"`
}

type expireOrdersResponse struct {
	Cancelled []string `json:"cancelled"`
	Skipped   []string `json:"skipped"`
	Cutoff    string   `json:"cutoff"`
}

// expireOrders cancels pending_payment orders older than the cutoff. The
// sweep runs through the regular transition engine, so racing admin actions
// simply win and the losing orders land in the skipped list.
func (h *InternalHandlers) expireOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req expireOrdersRequest
	body, err := readLimitedBody(r, maxInternalBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	ttl := h.ttl
	if req.OlderThanSeconds > 0 {
		ttl = time.Duration(req.OlderThanSeconds) * time.Second
	}
	limit := req.Limit
	if limit <= 0 {
		limit = h.sweepLimit
	}

	cutoff := h.clock().UTC().Add(-ttl)

	result, err := h.orders.ExpireStalePending(ctx, services.ExpireStaleOrdersCommand{
		OlderThan: cutoff,
		Limit:     limit,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	response := expireOrdersResponse{
		Cancelled: result.Cancelled,
		Skipped:   result.Skipped,
		Cutoff:    cutoff.Format(time.RFC3339),
	}
	if response.Cancelled == nil {
		response.Cancelled = []string{}
	}
	if response.Skipped == nil {
		response.Skipped = []string{}
	}
	writeJSONResponse(w, http.StatusOK, response)
}
