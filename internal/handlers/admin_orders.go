package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/platform/auth"
	"github.com/lumastore/api/internal/platform/httpx"
	"github.com/lumastore/api/internal/services"
)

const maxTransitionBodySize = 16 * 1024

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusDraft:          {},
	domain.OrderStatusPendingPayment: {},
	domain.OrderStatusVerifying:      {},
	domain.OrderStatusPaid:           {},
	domain.OrderStatusDelivered:      {},
	domain.OrderStatusCancelled:      {},
}

// AdminOrderHandlers exposes the administrator order endpoints: cross-user
// listing, status transitions, admin notes, and the audit trail.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
	audit  services.AuditLogService
}

// NewAdminOrderHandlers constructs admin order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService, audit services.AuditLogService) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:  authn,
		orders: orders,
		audit:  audit,
	}
}

// Routes registers the admin order endpoints under /orders. Meant to be
// composed into the /admin group.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/orders", func(rt chi.Router) {
		if h.authn != nil {
			rt.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
		}
		rt.Get("/", h.listOrders)
		rt.Get("/{orderID}", h.getOrder)
		rt.Post("/{orderID}/transition", h.transitionOrder)
		rt.Patch("/{orderID}/notes", h.updateAdminNotes)
		rt.Get("/{orderID}/audit", h.listAudit)
	})
}

type transitionOrderRequest struct {
	TargetStatus   string         `json:"target_status"`
	ExpectedStatus string         `json:"expected_status"`
	Reason         string         `json:"reason"`
	Metadata       map[string]any `json:"metadata"`
}

type orderAuditListResponse struct {
	Items         []orderAuditEntryPayload `json:"items"`
	NextPageToken string                   `json:"next_page_token,omitempty"`
}

type orderAuditEntryPayload struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	ActorID    string `json:"actor_id"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status"`
	Reason     string `json:"reason,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	query := r.URL.Query()
	statusFilters := parseFilterValues(query["status"])

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("placed_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "placed_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("placed_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "placed_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pageSize, err := parsePageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		UserID:    strings.TrimSpace(query.Get("user_id")),
		Status:    statusFilters,
		DateRange: dateRange,
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := adminOrderResponse{Order: buildOrderPayload(order), AdminNotes: strings.TrimSpace(order.AdminNotes)}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *AdminOrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxTransitionBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req transitionOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	target, ok := parseOrderStatus(req.TargetStatus)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "target_status must be a valid order status", http.StatusBadRequest))
		return
	}

	var expected domain.OrderStatus
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		parsed, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid order status", http.StatusBadRequest))
			return
		}
		expected = parsed
	}

	cmd := services.OrderStatusTransitionCommand{
		OrderID:        orderID,
		TargetStatus:   target,
		Actor:          adminActor(identity),
		Reason:         strings.TrimSpace(req.Reason),
		ExpectedStatus: expected,
		Metadata:       cloneMap(req.Metadata),
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := adminOrderResponse{Order: buildOrderPayload(order), AdminNotes: strings.TrimSpace(order.AdminNotes)}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *AdminOrderHandlers) updateAdminNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderNotesBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req orderNotesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}
	if req.Notes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "notes is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateAdminNotes(ctx, services.UpdateOrderNotesCommand{
		OrderID: orderID,
		Actor:   adminActor(identity),
		Notes:   *req.Notes,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := adminOrderResponse{Order: buildOrderPayload(order), AdminNotes: strings.TrimSpace(order.AdminNotes)}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *AdminOrderHandlers) listAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_service_unavailable", "audit service unavailable", http.StatusServiceUnavailable))
		return
	}

	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.audit.ListByOrder(ctx, orderID, domain.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		if errors.Is(err, services.ErrAuditInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("audit_error", "failed to load audit trail", http.StatusInternalServerError))
		return
	}

	response := orderAuditListResponse{
		Items:         make([]orderAuditEntryPayload, 0, len(page.Items)),
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
	for _, entry := range page.Items {
		response.Items = append(response.Items, orderAuditEntryPayload{
			ID:         strings.TrimSpace(entry.ID),
			OrderID:    strings.TrimSpace(entry.OrderID),
			ActorID:    strings.TrimSpace(entry.ActorID),
			FromStatus: strings.TrimSpace(string(entry.FromStatus)),
			ToStatus:   strings.TrimSpace(string(entry.ToStatus)),
			Reason:     strings.TrimSpace(entry.Reason),
			OccurredAt: formatTime(entry.OccurredAt),
		})
	}

	writeJSONResponse(w, http.StatusOK, response)
}

type adminOrderResponse struct {
	Order      orderPayload `json:"order"`
	AdminNotes string       `json:"admin_notes,omitempty"`
}

func (h *AdminOrderHandlers) requireAdmin(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	if !identity.HasRole(auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "administrator role required", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}

func adminActor(identity *auth.Identity) services.Actor {
	return services.Actor{
		ID:    strings.TrimSpace(identity.UID),
		Admin: identity.HasRole(auth.RoleAdmin),
	}
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := validOrderStatuses[status]; !ok {
		return "", false
	}
	return status, true
}
