package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumastore/api/internal/platform/auth"
	"github.com/lumastore/api/internal/services"
)

type stubCartService struct {
	getFn    func(context.Context, string) (services.Cart, error)
	addFn    func(context.Context, string, services.CartItemInput) (services.Cart, error)
	updateFn func(context.Context, string, services.CartItemInput) (services.Cart, error)
	removeFn func(context.Context, string, string) (services.Cart, error)
	clearFn  func(context.Context, string) error
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return services.Cart{}, errors.New("not implemented")
}

func (s *stubCartService) AddItem(ctx context.Context, userID string, input services.CartItemInput) (services.Cart, error) {
	if s.addFn != nil {
		return s.addFn(ctx, userID, input)
	}
	return services.Cart{}, errors.New("not implemented")
}

func (s *stubCartService) UpdateItem(ctx context.Context, userID string, input services.CartItemInput) (services.Cart, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, userID, input)
	}
	return services.Cart{}, errors.New("not implemented")
}

func (s *stubCartService) RemoveItem(ctx context.Context, userID string, productID string) (services.Cart, error) {
	if s.removeFn != nil {
		return s.removeFn(ctx, userID, productID)
	}
	return services.Cart{}, errors.New("not implemented")
}

func (s *stubCartService) ClearCart(ctx context.Context, userID string) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, userID)
	}
	return errors.New("not implemented")
}

func newCartRouter(service services.CartService) *chi.Mux {
	handler := NewCartHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)
	return router
}

func TestCartHandlersGetCart(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	service := &stubCartService{
		getFn: func(ctx context.Context, userID string) (services.Cart, error) {
			if userID != "user-1" {
				t.Fatalf("unexpected user %s", userID)
			}
			return services.Cart{
				ID: userID, UserID: userID, Currency: "usd", UpdatedAt: now,
				Items: []services.CartItem{
					{ProductID: "prod-1", ProductName: "Preset Pack", Quantity: 2, UnitPrice: 1200},
				},
			}, nil
		},
	}
	router := newCartRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cart.Currency != "USD" {
		t.Fatalf("expected currency uppercased, got %s", resp.Cart.Currency)
	}
	if len(resp.Cart.Items) != 1 || resp.Cart.Items[0].LineTotal != 2400 {
		t.Fatalf("expected line total computed, got %#v", resp.Cart.Items)
	}
	if resp.Cart.Subtotal != 2400 {
		t.Fatalf("expected subtotal 2400, got %d", resp.Cart.Subtotal)
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	var captured services.CartItemInput
	service := &stubCartService{
		addFn: func(ctx context.Context, userID string, input services.CartItemInput) (services.Cart, error) {
			captured = input
			return services.Cart{ID: userID, UserID: userID, Currency: "USD",
				Items: []services.CartItem{{ProductID: input.ProductID, Quantity: input.Quantity, UnitPrice: 1200}}}, nil
		},
	}
	router := newCartRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"product_id":"prod-1","quantity":2}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.ProductID != "prod-1" || captured.Quantity != 2 {
		t.Fatalf("unexpected input %#v", captured)
	}
}

func TestCartHandlersAddItemRequiresQuantity(t *testing.T) {
	router := newCartRouter(&stubCartService{})

	req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"product_id":"prod-1"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersUpdateItemUsesPathProduct(t *testing.T) {
	var captured services.CartItemInput
	service := &stubCartService{
		updateFn: func(ctx context.Context, userID string, input services.CartItemInput) (services.Cart, error) {
			captured = input
			return services.Cart{ID: userID, UserID: userID, Currency: "USD"}, nil
		},
	}
	router := newCartRouter(service)

	req := httptest.NewRequest(http.MethodPatch, "/cart/items/prod-9", strings.NewReader(`{"quantity":0}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.ProductID != "prod-9" || captured.Quantity != 0 {
		t.Fatalf("expected path product with zero quantity, got %#v", captured)
	}
}

func TestCartHandlersConflict(t *testing.T) {
	service := &stubCartService{
		updateFn: func(ctx context.Context, userID string, input services.CartItemInput) (services.Cart, error) {
			return services.Cart{}, services.ErrCartConflict
		},
	}
	router := newCartRouter(service)

	req := httptest.NewRequest(http.MethodPatch, "/cart/items/prod-1", strings.NewReader(`{"quantity":3}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestCartHandlersRemoveItem(t *testing.T) {
	service := &stubCartService{
		removeFn: func(ctx context.Context, userID string, productID string) (services.Cart, error) {
			if productID != "prod-1" {
				t.Fatalf("unexpected product %s", productID)
			}
			return services.Cart{ID: userID, UserID: userID, Currency: "USD"}, nil
		},
	}
	router := newCartRouter(service)

	req := httptest.NewRequest(http.MethodDelete, "/cart/items/prod-1", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestCartHandlersClearCart(t *testing.T) {
	cleared := false
	service := &stubCartService{
		clearFn: func(ctx context.Context, userID string) error {
			cleared = true
			return nil
		},
	}
	router := newCartRouter(service)

	req := httptest.NewRequest(http.MethodDelete, "/cart", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !cleared {
		t.Fatalf("expected clear to be invoked")
	}
}

func TestCartHandlersUnauthenticated(t *testing.T) {
	router := newCartRouter(&stubCartService{})

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersServiceUnavailable(t *testing.T) {
	router := newCartRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
