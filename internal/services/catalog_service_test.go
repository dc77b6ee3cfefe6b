package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/repositories"
)

type stubProductRepo struct {
	findFn      func(context.Context, string) (domain.Product, error)
	listFn      func(context.Context, repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
	upsertFn    func(context.Context, domain.Product) (domain.Product, error)
	setActiveFn func(context.Context, string, bool, time.Time) error
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, notFoundRepoError{msg: "product not found"}
}

func (s *stubProductRepo) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

func (s *stubProductRepo) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, product)
	}
	return product, nil
}

func (s *stubProductRepo) SetActive(ctx context.Context, productID string, active bool, updatedAt time.Time) error {
	if s.setActiveFn != nil {
		return s.setActiveFn(ctx, productID, active, updatedAt)
	}
	return nil
}

func newTestCatalogService(t *testing.T, deps CatalogServiceDeps) CatalogService {
	t.Helper()
	if deps.Products == nil {
		deps.Products = &stubProductRepo{}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC) }
	}
	svc, err := NewCatalogService(deps)
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}
	return svc
}

func TestCatalogUpsertNewProduct(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	var saved domain.Product
	repo := &stubProductRepo{
		upsertFn: func(_ context.Context, product domain.Product) (domain.Product, error) {
			saved = product
			return product, nil
		},
	}
	svc := newTestCatalogService(t, CatalogServiceDeps{
		Products:    repo,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "NEWPROD" },
	})

	product, err := svc.UpsertProduct(ctx, Actor{ID: "admin-1", Admin: true}, Product{
		Name:        "  Preset Pack  ",
		Price:       1200,
		Currency:    "usd",
		ContentPath: "content/products/prd_1/pack.zip",
	})
	if err != nil {
		t.Fatalf("upsert product: %v", err)
	}
	if product.ID != "prd_NEWPROD" {
		t.Fatalf("unexpected product id %s", product.ID)
	}
	if product.Name != "Preset Pack" || product.Currency != "USD" {
		t.Fatalf("expected normalised fields got %#v", product)
	}
	if !saved.CreatedAt.Equal(now) || !saved.UpdatedAt.Equal(now) {
		t.Fatalf("expected timestamps %s got %#v", now, saved)
	}
}

func TestCatalogUpsertPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	createdAt := time.Date(2024, 11, 5, 8, 0, 0, 0, time.UTC)
	repo := &stubProductRepo{
		findFn: func(_ context.Context, id string) (domain.Product, error) {
			return domain.Product{ID: id, Name: "Old", CreatedAt: createdAt}, nil
		},
	}
	svc := newTestCatalogService(t, CatalogServiceDeps{Products: repo})

	product, err := svc.UpsertProduct(ctx, Actor{ID: "admin-1", Admin: true}, Product{
		ID:          "prd_existing",
		Name:        "Renamed Pack",
		Price:       900,
		Currency:    "USD",
		ContentPath: "content/products/prd_existing/pack.zip",
	})
	if err != nil {
		t.Fatalf("upsert product: %v", err)
	}
	if !product.CreatedAt.Equal(createdAt) {
		t.Fatalf("expected createdAt preserved got %s", product.CreatedAt)
	}
}

func TestCatalogUpsertRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	svc := newTestCatalogService(t, CatalogServiceDeps{})

	_, err := svc.UpsertProduct(ctx, Actor{ID: "user-1"}, Product{
		Name: "Pack", Price: 100, Currency: "USD", ContentPath: "content/products/x/y.zip",
	})
	if !errors.Is(err, ErrCatalogForbidden) {
		t.Fatalf("expected ErrCatalogForbidden got %v", err)
	}
}

func TestCatalogUpsertValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestCatalogService(t, CatalogServiceDeps{})
	admin := Actor{ID: "admin-1", Admin: true}

	cases := []struct {
		name    string
		product Product
	}{
		{name: "missing name", product: Product{Price: 100, Currency: "USD", ContentPath: "content/a/b.zip"}},
		{name: "negative price", product: Product{Name: "Pack", Price: -1, Currency: "USD", ContentPath: "content/a/b.zip"}},
		{name: "missing currency", product: Product{Name: "Pack", Price: 100, ContentPath: "content/a/b.zip"}},
		{name: "missing content path", product: Product{Name: "Pack", Price: 100, Currency: "USD"}},
		{name: "traversal content path", product: Product{Name: "Pack", Price: 100, Currency: "USD", ContentPath: "content/../secrets.txt"}},
		{name: "absolute content path", product: Product{Name: "Pack", Price: 100, Currency: "USD", ContentPath: "/content/a/b.zip"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.UpsertProduct(ctx, admin, tc.product); !errors.Is(err, ErrCatalogInvalidInput) {
				t.Fatalf("expected ErrCatalogInvalidInput got %v", err)
			}
		})
	}
}

func TestCatalogSetProductActive(t *testing.T) {
	ctx := context.Background()
	var setID string
	var setActive bool
	repo := &stubProductRepo{
		setActiveFn: func(_ context.Context, id string, active bool, _ time.Time) error {
			setID = id
			setActive = active
			return nil
		},
		findFn: func(_ context.Context, id string) (domain.Product, error) {
			return domain.Product{ID: id, Name: "Pack", Active: false}, nil
		},
	}
	svc := newTestCatalogService(t, CatalogServiceDeps{Products: repo})

	product, err := svc.SetProductActive(ctx, Actor{ID: "admin-1", Admin: true}, "prd_1", false)
	if err != nil {
		t.Fatalf("set product active: %v", err)
	}
	if setID != "prd_1" || setActive {
		t.Fatalf("expected deactivation of prd_1 got id=%s active=%v", setID, setActive)
	}
	if product.Active {
		t.Fatalf("expected returned product inactive")
	}
}

func TestCatalogGetProductNotFound(t *testing.T) {
	ctx := context.Background()
	svc := newTestCatalogService(t, CatalogServiceDeps{})

	if _, err := svc.GetProduct(ctx, "prd_missing"); !errors.Is(err, ErrCatalogProductNotFound) {
		t.Fatalf("expected ErrCatalogProductNotFound got %v", err)
	}
}
