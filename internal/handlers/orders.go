package handlers

import (
	"context"
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

const (
	defaultOrderPageSize  = 20
	maxOrderPageSize      = 100
	maxOrderNotesBodySize = 16 * 1024
)

// OrderHandlers exposes customer-scoped order endpoints: listing, detail,
// verification re-checks, and customer notes.
type OrderHandlers struct {
	authn        *auth.Authenticator
	orders       services.OrderService
	verification services.VerificationService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, verification services.VerificationService) *OrderHandlers {
	return &OrderHandlers{
		authn:        authn,
		orders:       orders,
		verification: verification,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/verify", h.verifyOrder)
	r.Patch("/{orderID}/notes", h.updateNotes)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
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
		UserID:    strings.TrimSpace(identity.UID),
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

	response := orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	_, order, ok := h.resolveOwnedOrder(w, r)
	if !ok {
		return
	}

	payload := orderResponse{Order: buildOrderPayload(order)}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) verifyOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.verification == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	_, order, ok := h.resolveOwnedOrder(w, r)
	if !ok {
		return
	}

	result, err := h.verification.Verify(ctx, order.OrderNumber)
	if err != nil && !errors.Is(err, services.ErrPaymentFailed) {
		writeVerificationError(ctx, w, err)
		return
	}

	payload := verifyOrderResponse{
		Order:         buildOrderPayload(result.Order),
		GatewayStatus: strings.TrimSpace(result.GatewayStatus),
		Transitioned:  result.Transitioned,
		Unlocked:      result.Unlocked,
		PaymentFailed: errors.Is(err, services.ErrPaymentFailed),
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) updateNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, order, ok := h.resolveOwnedOrder(w, r)
	if !ok {
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

	updated, err := h.orders.UpdateCustomerNotes(ctx, services.UpdateOrderNotesCommand{
		OrderID: order.ID,
		Actor:   services.Actor{ID: strings.TrimSpace(identity.UID)},
		Notes:   *req.Notes,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := orderResponse{Order: buildOrderPayload(updated)}
	writeJSONResponse(w, http.StatusOK, payload)
}

// resolveOwnedOrder loads the order from the path parameter and enforces
// ownership. Foreign orders surface as not-found so order IDs leak nothing.
func (h *OrderHandlers) resolveOwnedOrder(w http.ResponseWriter, r *http.Request) (*auth.Identity, services.Order, bool) {
	ctx := r.Context()

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, services.Order{}, false
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return nil, services.Order{}, false
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return nil, services.Order{}, false
	}

	if !strings.EqualFold(strings.TrimSpace(order.UserID), strings.TrimSpace(identity.UID)) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return nil, services.Order{}, false
	}

	return identity, order, true
}

type orderNotesRequest struct {
	Notes *string `json:"notes"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
	PaymentStatus string `json:"payment_status"`
	Currency      string `json:"currency"`
	Total         int64  `json:"total"`
	PlacedAt      string `json:"placed_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type verifyOrderResponse struct {
	Order         orderPayload `json:"order"`
	GatewayStatus string       `json:"gateway_status,omitempty"`
	Transitioned  bool         `json:"transitioned"`
	Unlocked      bool         `json:"unlocked"`
	PaymentFailed bool         `json:"payment_failed,omitempty"`
}

type orderPayload struct {
	ID            string             `json:"id"`
	OrderNumber   string             `json:"order_number"`
	UserID        string             `json:"user_id"`
	Status        string             `json:"status"`
	PaymentMethod string             `json:"payment_method"`
	PaymentStatus string             `json:"payment_status"`
	Totals        orderTotalsPayload `json:"totals"`
	Items         []orderItemPayload `json:"items"`
	BillingInfo   billingInfoPayload `json:"billing_info"`
	CustomerNotes string             `json:"customer_notes,omitempty"`
	Metadata      map[string]any     `json:"metadata,omitempty"`
	PlacedAt      string             `json:"placed_at"`
	RoutedAt      string             `json:"routed_at,omitempty"`
	PaidAt        string             `json:"paid_at,omitempty"`
	DeliveredAt   string             `json:"delivered_at,omitempty"`
	CancelledAt   string             `json:"cancelled_at,omitempty"`
	CancelReason  *string            `json:"cancel_reason,omitempty"`
	CreatedAt     string             `json:"created_at"`
	UpdatedAt     string             `json:"updated_at,omitempty"`
}

type orderTotalsPayload struct {
	Currency string `json:"currency"`
	Subtotal int64  `json:"subtotal"`
	Discount int64  `json:"discount"`
	Total    int64  `json:"total"`
}

type orderItemPayload struct {
	ID             string                 `json:"id"`
	ProductID      string                 `json:"product_id"`
	ProductName    string                 `json:"product_name,omitempty"`
	Quantity       int                    `json:"quantity"`
	UnitPrice      int64                  `json:"unit_price"`
	Currency       string                 `json:"currency"`
	DigitalContent *digitalContentPayload `json:"digital_content,omitempty"`
}

type digitalContentPayload struct {
	UnlockedAt string `json:"unlocked_at"`
}

type billingInfoPayload struct {
	Version      int    `json:"version"`
	FullName     string `json:"full_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone,omitempty"`
	AddressLine1 string `json:"address_line1,omitempty"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	Country      string `json:"country,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            strings.TrimSpace(order.ID),
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		Status:        strings.TrimSpace(string(order.Status)),
		PaymentMethod: strings.TrimSpace(string(order.PaymentMethod)),
		PaymentStatus: strings.TrimSpace(string(order.PaymentStatus)),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Totals.Currency)),
		Total:         order.Totals.Total,
		PlacedAt:      formatTime(order.PlacedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            strings.TrimSpace(order.ID),
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		UserID:        strings.TrimSpace(order.UserID),
		Status:        strings.TrimSpace(string(order.Status)),
		PaymentMethod: strings.TrimSpace(string(order.PaymentMethod)),
		PaymentStatus: strings.TrimSpace(string(order.PaymentStatus)),
		Totals: orderTotalsPayload{
			Currency: strings.ToUpper(strings.TrimSpace(order.Totals.Currency)),
			Subtotal: order.Totals.Subtotal,
			Discount: order.Totals.DiscountTotal,
			Total:    order.Totals.Total,
		},
		Items:         make([]orderItemPayload, 0, len(order.Items)),
		BillingInfo:   buildBillingInfoPayload(order.BillingInfo),
		CustomerNotes: strings.TrimSpace(order.CustomerNotes),
		Metadata:      cloneMap(order.Metadata),
		PlacedAt:      formatTime(order.PlacedAt),
		RoutedAt:      formatTime(pointerTime(order.RoutedAt)),
		PaidAt:        formatTime(pointerTime(order.PaidAt)),
		DeliveredAt:   formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:   formatTime(pointerTime(order.CancelledAt)),
		CancelReason:  cloneStringPointer(order.CancelReason),
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
	}

	for _, item := range order.Items {
		entry := orderItemPayload{
			ID:          strings.TrimSpace(item.ID),
			ProductID:   strings.TrimSpace(item.ProductID),
			ProductName: strings.TrimSpace(item.ProductName),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Currency:    strings.ToUpper(strings.TrimSpace(item.Currency)),
		}
		if item.DigitalContent != nil && !item.DigitalContent.UnlockedAt.IsZero() {
			entry.DigitalContent = &digitalContentPayload{
				UnlockedAt: formatTime(item.DigitalContent.UnlockedAt),
			}
		}
		payload.Items = append(payload.Items, entry)
	}

	return payload
}

func buildBillingInfoPayload(info services.BillingInfo) billingInfoPayload {
	return billingInfoPayload{
		Version:      info.Version,
		FullName:     strings.TrimSpace(info.FullName),
		Email:        strings.TrimSpace(strings.ToLower(info.Email)),
		Phone:        strings.TrimSpace(info.Phone),
		AddressLine1: strings.TrimSpace(info.AddressLine1),
		AddressLine2: strings.TrimSpace(info.AddressLine2),
		City:         strings.TrimSpace(info.City),
		PostalCode:   strings.TrimSpace(info.PostalCode),
		Country:      strings.ToUpper(strings.TrimSpace(info.Country)),
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", "one or more products are unavailable", http.StatusConflict))
	case errors.Is(err, services.ErrOrderForbiddenTransition):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden_transition", "caller may not perform this transition", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderIllegalTransition):
		httpx.WriteError(ctx, w, httpx.NewError("illegal_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrVerificationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway unavailable; retry later", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("verification_error", "failed to verify payment", http.StatusInternalServerError))
	}
}
