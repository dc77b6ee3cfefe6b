package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/services"
)

func newWebhookRouter(verification services.VerificationService) *chi.Mux {
	handler := NewWebhookHandlers(verification)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)
	return router
}

func TestWebhookPaymentCallbackVerifies(t *testing.T) {
	var verifiedNumber string
	verification := &stubVerificationService{
		verifyFn: func(ctx context.Context, orderNumber string) (services.VerificationResult, error) {
			verifiedNumber = orderNumber
			return services.VerificationResult{
				Order:         services.Order{ID: "ord_1", OrderNumber: orderNumber, Status: domain.OrderStatusPaid},
				GatewayStatus: "succeeded",
				Transitioned:  true,
				Unlocked:      true,
			}, nil
		},
	}
	router := newWebhookRouter(verification)

	body := `{"type":"payment.succeeded","order_number":"LS-2025-000042","session_id":"pay_1"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if verifiedNumber != "LS-2025-000042" {
		t.Fatalf("expected verification for order number, got %q", verifiedNumber)
	}

	var resp paymentWebhookResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Received || !resp.Transitioned || resp.GatewayStatus != "succeeded" {
		t.Fatalf("unexpected webhook response %#v", resp)
	}
}

func TestWebhookPaymentCallbackAcceptsFailedPayment(t *testing.T) {
	verification := &stubVerificationService{
		verifyFn: func(ctx context.Context, orderNumber string) (services.VerificationResult, error) {
			return services.VerificationResult{GatewayStatus: "failed"}, services.ErrPaymentFailed
		},
	}
	router := newWebhookRouter(verification)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{"order_number":"LS-2025-000042"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("failed payment is still a processed webhook, got %d", rr.Code)
	}

	var resp paymentWebhookResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Received || resp.Transitioned {
		t.Fatalf("unexpected webhook response %#v", resp)
	}
}

func TestWebhookPaymentCallbackRequiresOrderNumber(t *testing.T) {
	router := newWebhookRouter(&stubVerificationService{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{"type":"payment.succeeded"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookPaymentCallbackUnknownOrder(t *testing.T) {
	verification := &stubVerificationService{
		verifyFn: func(ctx context.Context, orderNumber string) (services.VerificationResult, error) {
			return services.VerificationResult{}, services.ErrOrderNotFound
		},
	}
	router := newWebhookRouter(verification)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{"order_number":"LS-2025-999999"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestWebhookPaymentCallbackGatewayUnavailable(t *testing.T) {
	verification := &stubVerificationService{
		verifyFn: func(ctx context.Context, orderNumber string) (services.VerificationResult, error) {
			return services.VerificationResult{}, services.ErrGatewayUnavailable
		},
	}
	router := newWebhookRouter(verification)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(`{"order_number":"LS-2025-000042"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 so the gateway redelivers, got %d", rr.Code)
	}
}
