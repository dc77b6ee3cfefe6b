package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/platform/auth"
	"github.com/lumastore/api/internal/services"
)

type stubAuditService struct {
	recordFn func(context.Context, services.OrderAuditEntry) error
	listFn   func(context.Context, string, services.Pagination) (domain.CursorPage[services.OrderAuditEntry], error)
}

func (s *stubAuditService) RecordTransition(ctx context.Context, entry services.OrderAuditEntry) error {
	if s.recordFn != nil {
		return s.recordFn(ctx, entry)
	}
	return nil
}

func (s *stubAuditService) ListByOrder(ctx context.Context, orderID string, pager services.Pagination) (domain.CursorPage[services.OrderAuditEntry], error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID, pager)
	}
	return domain.CursorPage[services.OrderAuditEntry]{}, nil
}

func adminIdentity() *auth.Identity {
	return &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}
}

func newAdminOrderRouter(orders services.OrderService, audit services.AuditLogService) *chi.Mux {
	handler := NewAdminOrderHandlers(nil, orders, audit)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	return router
}

func TestAdminOrderHandlersListAcrossUsers(t *testing.T) {
	var captured services.OrderListFilter
	service := &stubOrderService{
		listFn: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{Items: []services.Order{
				{ID: "ord_1", OrderNumber: "LS-2025-000001", UserID: "user-1", Status: domain.OrderStatusPaid},
				{ID: "ord_2", OrderNumber: "LS-2025-000002", UserID: "user-2", Status: domain.OrderStatusVerifying},
			}}, nil
		},
	}
	router := newAdminOrderRouter(service, &stubAuditService{})

	req := httptest.NewRequest(http.MethodGet, "/admin/orders?user_id=user-2&status=verifying", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), adminIdentity()))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.UserID != "user-2" {
		t.Fatalf("expected user filter forwarded, got %q", captured.UserID)
	}
	if len(captured.Status) != 1 || captured.Status[0] != "verifying" {
		t.Fatalf("unexpected status filter %#v", captured.Status)
	}
}

func TestAdminOrderHandlersRejectNonAdmin(t *testing.T) {
	router := newAdminOrderRouter(&stubOrderService{}, &stubAuditService{})

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersTransition(t *testing.T) {
	var captured services.OrderStatusTransitionCommand
	service := &stubOrderService{
		transitionFn: func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			captured = cmd
			return services.Order{ID: cmd.OrderID, Status: cmd.TargetStatus, UserID: "user-1"}, nil
		},
	}
	router := newAdminOrderRouter(service, &stubAuditService{})

	body := `{"target_status":"delivered","expected_status":"paid","reason":"manual fulfilment","metadata":{"ticket":"SUP-42"}}`
	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1/transition", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), adminIdentity()))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.TargetStatus != domain.OrderStatusDelivered {
		t.Fatalf("unexpected command %#v", captured)
	}
	if captured.ExpectedStatus != domain.OrderStatusPaid {
		t.Fatalf("expected CAS status paid, got %s", captured.ExpectedStatus)
	}
	if !captured.Actor.Admin || captured.Actor.ID != "admin-1" {
		t.Fatalf("expected admin actor, got %#v", captured.Actor)
	}
	if captured.Reason != "manual fulfilment" || captured.Metadata["ticket"] != "SUP-42" {
		t.Fatalf("expected reason and metadata forwarded, got %#v", captured)
	}
}

func TestAdminOrderHandlersTransitionInvalidStatus(t *testing.T) {
	router := newAdminOrderRouter(&stubOrderService{}, &stubAuditService{})

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1/transition", strings.NewReader(`{"target_status":"shipped"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), adminIdentity()))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersTransitionIllegal(t *testing.T) {
	service := &stubOrderService{
		transitionFn: func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderIllegalTransition
		},
	}
	router := newAdminOrderRouter(service, &stubAuditService{})

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1/transition", strings.NewReader(`{"target_status":"paid"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), adminIdentity()))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminOrderHandlersUpdateAdminNotes(t *testing.T) {
	var captured services.UpdateOrderNotesCommand
	service := &stubOrderService{
		adminNotesFn: func(ctx context.Context, cmd services.UpdateOrderNotesCommand) (services.Order, error) {
			captured = cmd
			return services.Order{ID: cmd.OrderID, AdminNotes: cmd.Notes}, nil
		},
	}
	router := newAdminOrderRouter(service, &stubAuditService{})

	req := httptest.NewRequest(http.MethodPatch, "/admin/orders/ord_1/notes", strings.NewReader(`{"notes":"refund approved"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), adminIdentity()))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Notes != "refund approved" || !captured.Actor.Admin {
		t.Fatalf("unexpected command %#v", captured)
	}

	var resp adminOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.AdminNotes != "refund approved" {
		t.Fatalf("expected admin notes surfaced, got %q", resp.AdminNotes)
	}
}

func TestAdminOrderHandlersListAudit(t *testing.T) {
	occurredAt := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	audit := &stubAuditService{
		listFn: func(ctx context.Context, orderID string, pager services.Pagination) (domain.CursorPage[services.OrderAuditEntry], error) {
			if orderID != "ord_1" {
				t.Fatalf("unexpected order id %s", orderID)
			}
			return domain.CursorPage[services.OrderAuditEntry]{
				Items: []services.OrderAuditEntry{
					{
						ID:         "aud_1",
						OrderID:    orderID,
						ActorID:    "system",
						FromStatus: domain.OrderStatusPendingPayment,
						ToStatus:   domain.OrderStatusVerifying,
						Reason:     "gateway callback",
						OccurredAt: occurredAt,
					},
				},
			}, nil
		},
	}
	router := newAdminOrderRouter(&stubOrderService{}, audit)

	req := httptest.NewRequest(http.MethodGet, "/admin/orders/ord_1/audit", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), adminIdentity()))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp orderAuditListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(resp.Items))
	}
	entry := resp.Items[0]
	if entry.FromStatus != string(domain.OrderStatusPendingPayment) || entry.ToStatus != string(domain.OrderStatusVerifying) {
		t.Fatalf("unexpected audit entry %#v", entry)
	}
	if entry.OccurredAt == "" {
		t.Fatalf("expected occurred_at populated")
	}
}
