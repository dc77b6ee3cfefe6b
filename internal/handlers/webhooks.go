package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lumastore/api/internal/platform/httpx"
	"github.com/lumastore/api/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// WebhookHandlers receives gateway payment callbacks. Signature verification
// is enforced by the HMAC middleware installed on the /webhooks group.
type WebhookHandlers struct {
	verification services.VerificationService
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(verification services.VerificationService) *WebhookHandlers {
	return &WebhookHandlers{verification: verification}
}

// Routes registers the webhook endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment", h.paymentCallback)
}

type paymentWebhookRequest struct {
	Type        string `json:"type"`
	OrderNumber string `json:"order_number"`
	SessionID   string `json:"session_id"`
}

type paymentWebhookResponse struct {
	Received      bool   `json:"received"`
	OrderNumber   string `json:"order_number"`
	GatewayStatus string `json:"gateway_status,omitempty"`
	Transitioned  bool   `json:"transitioned"`
}

// paymentCallback re-verifies the referenced order against the gateway. The
// webhook body is a hint, never trusted state: the reconciliation queries the
// gateway itself, so replays and out-of-order deliveries are harmless.
func (h *WebhookHandlers) paymentCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verification == nil {
		httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "verification service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req paymentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	orderNumber := strings.TrimSpace(req.OrderNumber)
	if orderNumber == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_number is required", http.StatusBadRequest))
		return
	}

	result, err := h.verification.Verify(ctx, orderNumber)
	switch {
	case err == nil, errors.Is(err, services.ErrPaymentFailed):
		// A failed payment is a processed webhook, not a delivery error.
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	case errors.Is(err, services.ErrVerificationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	case errors.Is(err, services.ErrGatewayUnavailable):
		// 503 so the gateway redelivers once its own API is reachable again.
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "verification temporarily unavailable", http.StatusServiceUnavailable))
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("verification_error", "failed to process payment callback", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentWebhookResponse{
		Received:      true,
		OrderNumber:   orderNumber,
		GatewayStatus: strings.TrimSpace(result.GatewayStatus),
		Transitioned:  result.Transitioned,
	})
}
