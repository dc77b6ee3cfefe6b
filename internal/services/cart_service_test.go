package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/lumastore/api/internal/domain"
)

func newTestCartService(t *testing.T, deps CartServiceDeps) CartService {
	t.Helper()
	if deps.Repository == nil {
		deps.Repository = &stubCartRepo{}
	}
	if deps.Catalog == nil {
		deps.Catalog = &stubCatalog{}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC) }
	}
	svc, err := NewCartService(deps)
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	return svc
}

func TestCartServiceGetCartReturnsEmptyForNewUser(t *testing.T) {
	ctx := context.Background()
	svc := newTestCartService(t, CartServiceDeps{DefaultCurrency: "usd"})

	cart, err := svc.GetCart(ctx, "user-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if cart.UserID != "user-1" || cart.ID != "user-1" {
		t.Fatalf("expected cart keyed by user, got %#v", cart)
	}
	if cart.Currency != "USD" {
		t.Fatalf("expected default currency USD got %s", cart.Currency)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected empty cart got %d items", len(cart.Items))
	}
}

func TestCartServiceAddItemSnapshotsPrice(t *testing.T) {
	ctx := context.Background()
	var saved domain.Cart
	repo := &stubCartRepo{
		upsertFn: func(_ context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
			if expected != nil {
				t.Fatalf("fresh cart must carry no update precondition")
			}
			saved = cart
			return cart, nil
		},
	}
	catalog := &stubCatalog{
		getFn: func(_ context.Context, id string) (domain.Product, error) {
			return domain.Product{ID: id, Name: "Preset Pack", Price: 1200, Currency: "USD", Active: true}, nil
		},
	}

	svc := newTestCartService(t, CartServiceDeps{Repository: repo, Catalog: catalog})

	cart, err := svc.AddItem(ctx, "user-1", CartItemInput{ProductID: "prod-1", Quantity: 2})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected 1 line got %d", len(cart.Items))
	}
	line := cart.Items[0]
	if line.UnitPrice != 1200 || line.ProductName != "Preset Pack" || line.Quantity != 2 {
		t.Fatalf("unexpected line %#v", line)
	}
	if saved.Currency != "USD" {
		t.Fatalf("expected cart currency adopted from product, got %s", saved.Currency)
	}
}

func TestCartServiceAddExistingLineIncrementsQuantity(t *testing.T) {
	ctx := context.Background()
	existingAt := time.Date(2025, 3, 30, 9, 0, 0, 0, time.UTC)
	repo := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID: userID, UserID: userID, Currency: "USD", UpdatedAt: existingAt,
				Items: []domain.CartItem{{ProductID: "prod-1", ProductName: "Preset Pack", Quantity: 1, UnitPrice: 1200}},
			}, nil
		},
		upsertFn: func(_ context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
			if expected == nil || !expected.Equal(existingAt) {
				t.Fatalf("expected optimistic lock on %s got %v", existingAt, expected)
			}
			return cart, nil
		},
	}

	svc := newTestCartService(t, CartServiceDeps{Repository: repo})

	cart, err := svc.AddItem(ctx, "user-1", CartItemInput{ProductID: "prod-1", Quantity: 3})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 4 {
		t.Fatalf("expected merged quantity 4 got %#v", cart.Items)
	}
}

func TestCartServiceAddItemRejectsInactiveProduct(t *testing.T) {
	ctx := context.Background()
	catalog := &stubCatalog{
		getFn: func(_ context.Context, id string) (domain.Product, error) {
			return domain.Product{ID: id, Active: false}, nil
		},
	}
	svc := newTestCartService(t, CartServiceDeps{Catalog: catalog})

	if _, err := svc.AddItem(ctx, "user-1", CartItemInput{ProductID: "prod-1", Quantity: 1}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput got %v", err)
	}
}

func TestCartServiceAddItemRejectsCurrencyMismatch(t *testing.T) {
	ctx := context.Background()
	repo := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{ID: userID, UserID: userID, Currency: "USD",
				Items: []domain.CartItem{{ProductID: "prod-1", Quantity: 1, UnitPrice: 500}}}, nil
		},
	}
	catalog := &stubCatalog{
		getFn: func(_ context.Context, id string) (domain.Product, error) {
			return domain.Product{ID: id, Name: "Yen Pack", Price: 800, Currency: "JPY", Active: true}, nil
		},
	}
	svc := newTestCartService(t, CartServiceDeps{Repository: repo, Catalog: catalog})

	if _, err := svc.AddItem(ctx, "user-1", CartItemInput{ProductID: "prod-2", Quantity: 1}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected currency mismatch rejection got %v", err)
	}
}

func TestCartServiceUpdateItemZeroRemovesLine(t *testing.T) {
	ctx := context.Background()
	repo := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID: userID, UserID: userID, Currency: "USD", UpdatedAt: time.Date(2025, 3, 30, 9, 0, 0, 0, time.UTC),
				Items: []domain.CartItem{
					{ProductID: "prod-1", Quantity: 2, UnitPrice: 1200},
					{ProductID: "prod-2", Quantity: 1, UnitPrice: 700},
				},
			}, nil
		},
	}
	svc := newTestCartService(t, CartServiceDeps{Repository: repo})

	cart, err := svc.UpdateItem(ctx, "user-1", CartItemInput{ProductID: "prod-1", Quantity: 0})
	if err != nil {
		t.Fatalf("update item: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ProductID != "prod-2" {
		t.Fatalf("expected prod-1 removed got %#v", cart.Items)
	}
}

func TestCartServiceUpdateMissingLine(t *testing.T) {
	ctx := context.Background()
	svc := newTestCartService(t, CartServiceDeps{})

	if _, err := svc.UpdateItem(ctx, "user-1", CartItemInput{ProductID: "prod-9", Quantity: 1}); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound got %v", err)
	}
}

func TestCartServiceConcurrentModification(t *testing.T) {
	ctx := context.Background()
	repo := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID: userID, UserID: userID, Currency: "USD", UpdatedAt: time.Date(2025, 3, 30, 9, 0, 0, 0, time.UTC),
				Items: []domain.CartItem{{ProductID: "prod-1", Quantity: 1, UnitPrice: 1200}},
			}, nil
		},
		upsertFn: func(context.Context, domain.Cart, *time.Time) (domain.Cart, error) {
			return domain.Cart{}, conflictRepoError{msg: "cart changed"}
		},
	}
	svc := newTestCartService(t, CartServiceDeps{Repository: repo})

	if _, err := svc.UpdateItem(ctx, "user-1", CartItemInput{ProductID: "prod-1", Quantity: 5}); !errors.Is(err, ErrCartConflict) {
		t.Fatalf("expected ErrCartConflict got %v", err)
	}
}

func TestCartServiceClearCartTolerantOfMissing(t *testing.T) {
	ctx := context.Background()
	repo := &stubCartRepo{
		deleteFn: func(context.Context, string) error {
			return notFoundRepoError{msg: "no cart"}
		},
	}
	svc := newTestCartService(t, CartServiceDeps{Repository: repo})

	if err := svc.ClearCart(ctx, "user-1"); err != nil {
		t.Fatalf("clear cart should ignore missing cart: %v", err)
	}
}
