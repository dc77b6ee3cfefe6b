package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/services"
)

type stubCatalogService struct {
	getFn       func(context.Context, string) (services.Product, error)
	listFn      func(context.Context, services.ProductListFilter) (domain.CursorPage[services.Product], error)
	upsertFn    func(context.Context, services.Actor, services.Product) (services.Product, error)
	setActiveFn func(context.Context, services.Actor, string, bool) (services.Product, error)
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[services.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Product]{}, nil
}

func (s *stubCatalogService) UpsertProduct(ctx context.Context, actor services.Actor, product services.Product) (services.Product, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, actor, product)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) SetProductActive(ctx context.Context, actor services.Actor, productID string, active bool) (services.Product, error) {
	if s.setActiveFn != nil {
		return s.setActiveFn(ctx, actor, productID, active)
	}
	return services.Product{}, errors.New("not implemented")
}

func newPublicRouter(service services.CatalogService) *chi.Mux {
	handler := NewPublicHandlers(WithPublicCatalogService(service))
	router := chi.NewRouter()
	router.Route("/public", handler.Routes)
	return router
}

func TestPublicHandlersListProducts(t *testing.T) {
	now := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	compareAt := int64(1500)
	var captured services.ProductListFilter
	service := &stubCatalogService{
		listFn: func(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[services.Product], error) {
			captured = filter
			return domain.CursorPage[services.Product]{
				Items: []services.Product{
					{
						ID:             "prd_1",
						Name:           "Preset Pack",
						Price:          1200,
						CompareAtPrice: &compareAt,
						Currency:       "usd",
						Active:         true,
						UpdatedAt:      now,
					},
				},
				NextPageToken: "tok-next",
			}, nil
		},
	}
	router := newPublicRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/public/products?page_size=12&page_token=tok", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !captured.OnlyActive {
		t.Fatalf("public listing must request active products only")
	}
	if captured.Pagination.PageSize != 12 || captured.Pagination.PageToken != "tok" {
		t.Fatalf("unexpected pagination %#v", captured.Pagination)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != productCacheControl {
		t.Fatalf("expected cache header, got %q", cc)
	}

	var resp productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 product, got %d", len(resp.Items))
	}
	product := resp.Items[0]
	if product.Currency != "USD" {
		t.Fatalf("expected currency uppercased, got %s", product.Currency)
	}
	if product.CompareAtPrice == nil || *product.CompareAtPrice != compareAt {
		t.Fatalf("expected compare-at price, got %#v", product.CompareAtPrice)
	}
	if resp.NextPageToken != "tok-next" {
		t.Fatalf("expected next page token, got %s", resp.NextPageToken)
	}
}

func TestPublicHandlersGetProduct(t *testing.T) {
	service := &stubCatalogService{
		getFn: func(ctx context.Context, productID string) (services.Product, error) {
			return services.Product{ID: productID, Name: "Preset Pack", Price: 1200, Currency: "USD", Active: true}, nil
		},
	}
	router := newPublicRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/public/products/prd_1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp productResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Product.ID != "prd_1" {
		t.Fatalf("unexpected product %#v", resp.Product)
	}
}

func TestPublicHandlersGetProductHidesInactive(t *testing.T) {
	service := &stubCatalogService{
		getFn: func(ctx context.Context, productID string) (services.Product, error) {
			return services.Product{ID: productID, Name: "Retired Pack", Active: false}, nil
		},
	}
	router := newPublicRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/public/products/prd_retired", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestPublicHandlersGetProductNotFound(t *testing.T) {
	service := &stubCatalogService{
		getFn: func(ctx context.Context, productID string) (services.Product, error) {
			return services.Product{}, services.ErrCatalogProductNotFound
		},
	}
	router := newPublicRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/public/products/prd_missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestPublicHandlersCatalogUnavailable(t *testing.T) {
	handler := NewPublicHandlers()
	router := chi.NewRouter()
	router.Route("/public", handler.Routes)

	req := httptest.NewRequest(http.MethodGet, "/public/products", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
