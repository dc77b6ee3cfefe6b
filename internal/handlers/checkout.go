package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/platform/auth"
	"github.com/lumastore/api/internal/platform/httpx"
	"github.com/lumastore/api/internal/platform/textutil"
	"github.com/lumastore/api/internal/services"
)

const maxCheckoutRequestBody = 16 * 1024

// CheckoutHandlers exposes the checkout and payment re-routing endpoints.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
}

// Routes registers checkout endpoints under the provided router. Meant to be
// composed into the /orders group alongside OrderHandlers.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/checkout", h.checkoutOrder)
	group.Post("/{orderID}/route", h.routeOrder)
}

type checkoutRequest struct {
	PaymentMethod string             `json:"payment_method"`
	BillingInfo   billingInfoRequest `json:"billing_info"`
	CustomerNotes string             `json:"customer_notes"`
	Discount      int64              `json:"discount"`
	SuccessURL    string             `json:"success_url"`
	CancelURL     string             `json:"cancel_url"`
	Provider      string             `json:"provider"`
	Locale        string             `json:"locale"`
	Metadata      map[string]string  `json:"metadata"`
}

type billingInfoRequest struct {
	FullName     string `json:"full_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2"`
	City         string `json:"city"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
}

type routeOrderRequest struct {
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
	Provider   string `json:"provider"`
	Locale     string `json:"locale"`
}

type checkoutResponse struct {
	Order   orderPayload         `json:"order"`
	Payment paymentRoutedPayload `json:"payment"`
}

type paymentRoutedPayload struct {
	Method      string `json:"method"`
	DeepLink    string `json:"deep_link,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Reused      bool   `json:"reused"`
}

func (h *CheckoutHandlers) checkoutOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod)))
	if method != domain.PaymentMethodBankTransfer && method != domain.PaymentMethodGateway {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment_method must be bank_transfer or gateway", http.StatusBadRequest))
		return
	}

	metadata := textutil.NormalizeStringMap(req.Metadata)

	cmd := services.CheckoutCommand{
		UserID:        identity.UID,
		PaymentMethod: method,
		BillingInfo: services.BillingInfo{
			FullName:     strings.TrimSpace(req.BillingInfo.FullName),
			Email:        strings.TrimSpace(req.BillingInfo.Email),
			Phone:        strings.TrimSpace(req.BillingInfo.Phone),
			AddressLine1: strings.TrimSpace(req.BillingInfo.AddressLine1),
			AddressLine2: strings.TrimSpace(req.BillingInfo.AddressLine2),
			City:         strings.TrimSpace(req.BillingInfo.City),
			PostalCode:   strings.TrimSpace(req.BillingInfo.PostalCode),
			Country:      strings.TrimSpace(req.BillingInfo.Country),
		},
		CustomerNotes: strings.TrimSpace(req.CustomerNotes),
		SuccessURL:    strings.TrimSpace(req.SuccessURL),
		CancelURL:     strings.TrimSpace(req.CancelURL),
		Provider:      strings.TrimSpace(req.Provider),
		Locale:        strings.TrimSpace(req.Locale),
		Discount:      req.Discount,
		Metadata:      metadata,
	}

	result, err := h.checkout.Checkout(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildCheckoutResponse(result))
}

// routeOrder re-runs payment routing for an existing order. Idempotent: the
// original deep link or session comes back unless the prior session failed.
func (h *CheckoutHandlers) routeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req routeOrderRequest
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
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

	result, err := h.checkout.Route(ctx, identity.UID, orderID, services.RouteOptions{
		SuccessURL: strings.TrimSpace(req.SuccessURL),
		CancelURL:  strings.TrimSpace(req.CancelURL),
		Provider:   strings.TrimSpace(req.Provider),
		Locale:     strings.TrimSpace(req.Locale),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCheckoutResponse(result))
}

func buildCheckoutResponse(result services.PaymentRouteResult) checkoutResponse {
	return checkoutResponse{
		Order: buildOrderPayload(result.Order),
		Payment: paymentRoutedPayload{
			Method:      strings.TrimSpace(string(result.Method)),
			DeepLink:    strings.TrimSpace(result.DeepLink),
			RedirectURL: strings.TrimSpace(result.RedirectURL),
			SessionID:   strings.TrimSpace(result.SessionID),
			Reused:      result.Reused,
		},
	}
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput), errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusConflict))
	case errors.Is(err, services.ErrProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", "one or more products are unavailable", http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway unavailable; retry later", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment could not be completed", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
