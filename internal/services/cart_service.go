package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/repositories"
)

const maxCartLines = 50

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartUnavailable indicates the cart backend cannot fulfil the request.
	ErrCartUnavailable = errors.New("cart: unavailable")
	// ErrCartNotFound indicates the requested cart or cart line does not exist.
	ErrCartNotFound = errors.New("cart: not found")
	// ErrCartConflict indicates the cart was modified concurrently.
	ErrCartConflict = errors.New("cart: conflict")
)

// CartServiceDeps wires the repository and catalog dependencies for cart operations.
type CartServiceDeps struct {
	Repository      repositories.CartRepository
	Catalog         ProductCatalog
	Clock           func() time.Time
	DefaultCurrency string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	repo     repositories.CartRepository
	catalog  ProductCatalog
	now      func() time.Time
	currency string
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errors.New("cart service: repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = "USD"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		repo:     deps.Repository,
		catalog:  deps.Catalog,
		now:      func() time.Time { return clock().UTC() },
		currency: currency,
		logger:   logger,
	}, nil
}

// GetCart loads the user's cart, returning an empty cart when none exists.
func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.repo.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return s.newCart(uid), nil
		}
		return Cart{}, s.translateRepoError(err)
	}
	return s.normaliseCart(cart, uid), nil
}

// AddItem appends a catalog product to the cart, snapshotting the current
// price. Adding a product already in the cart increases its quantity.
func (s *cartService) AddItem(ctx context.Context, userID string, input CartItemInput) (Cart, error) {
	uid := strings.TrimSpace(userID)
	productID := strings.TrimSpace(input.ProductID)
	if uid == "" || productID == "" {
		return Cart{}, fmt.Errorf("%w: user id and product id are required", ErrCartInvalidInput)
	}
	if input.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return Cart{}, fmt.Errorf("%w: product %s: %v", ErrCartInvalidInput, productID, err)
	}
	if !product.Active {
		return Cart{}, fmt.Errorf("%w: product %s is not available", ErrCartInvalidInput, productID)
	}

	cart, expected, err := s.loadForUpdate(ctx, uid)
	if err != nil {
		return Cart{}, err
	}
	if cart.Currency != "" && product.Currency != "" && !strings.EqualFold(cart.Currency, product.Currency) {
		return Cart{}, fmt.Errorf("%w: product currency %s does not match cart currency %s", ErrCartInvalidInput, product.Currency, cart.Currency)
	}
	if cart.Currency == "" {
		cart.Currency = strings.ToUpper(strings.TrimSpace(product.Currency))
	}

	if idx := indexOfCartLine(cart.Items, productID); idx >= 0 {
		cart.Items[idx].Quantity += input.Quantity
	} else {
		if len(cart.Items) >= maxCartLines {
			return Cart{}, fmt.Errorf("%w: cart holds at most %d lines", ErrCartInvalidInput, maxCartLines)
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    input.Quantity,
			UnitPrice:   product.Price,
		})
	}

	return s.save(ctx, cart, expected)
}

// UpdateItem sets the quantity of an existing cart line. Quantity zero
// removes the line.
func (s *cartService) UpdateItem(ctx context.Context, userID string, input CartItemInput) (Cart, error) {
	uid := strings.TrimSpace(userID)
	productID := strings.TrimSpace(input.ProductID)
	if uid == "" || productID == "" {
		return Cart{}, fmt.Errorf("%w: user id and product id are required", ErrCartInvalidInput)
	}
	if input.Quantity < 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be non-negative", ErrCartInvalidInput)
	}

	cart, expected, err := s.loadForUpdate(ctx, uid)
	if err != nil {
		return Cart{}, err
	}

	idx := indexOfCartLine(cart.Items, productID)
	if idx < 0 {
		return Cart{}, fmt.Errorf("%w: product %s is not in the cart", ErrCartNotFound, productID)
	}
	if input.Quantity == 0 {
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	} else {
		cart.Items[idx].Quantity = input.Quantity
	}

	return s.save(ctx, cart, expected)
}

// RemoveItem drops the product's line from the cart.
func (s *cartService) RemoveItem(ctx context.Context, userID string, productID string) (Cart, error) {
	return s.UpdateItem(ctx, userID, CartItemInput{ProductID: productID, Quantity: 0})
}

// ClearCart deletes the user's cart entirely.
func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if err := s.repo.DeleteCart(ctx, uid); err != nil && !isRepoNotFound(err) {
		return s.translateRepoError(err)
	}
	return nil
}

// loadForUpdate fetches the cart and the optimistic-lock timestamp for the
// subsequent write. A missing cart yields a fresh one with no precondition.
func (s *cartService) loadForUpdate(ctx context.Context, userID string) (Cart, *time.Time, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return s.newCart(userID), nil, nil
		}
		return Cart{}, nil, s.translateRepoError(err)
	}
	cart = s.normaliseCart(cart, userID)
	if cart.UpdatedAt.IsZero() {
		return cart, nil, nil
	}
	expected := cart.UpdatedAt.UTC()
	return cart, &expected, nil
}

func (s *cartService) save(ctx context.Context, cart Cart, expected *time.Time) (Cart, error) {
	cart.UpdatedAt = s.now()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = cart.UpdatedAt
	}
	saved, err := s.repo.UpsertCart(ctx, cart, expected)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.normaliseCart(saved, cart.UserID), nil
}

func (s *cartService) newCart(userID string) Cart {
	now := s.now()
	return Cart{
		ID:        userID,
		UserID:    userID,
		Currency:  s.currency,
		Items:     []CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *cartService) normaliseCart(cart Cart, userID string) Cart {
	if strings.TrimSpace(cart.ID) == "" {
		cart.ID = userID
	}
	if strings.TrimSpace(cart.UserID) == "" {
		cart.UserID = userID
	}
	cart.Currency = strings.ToUpper(strings.TrimSpace(cart.Currency))
	if cart.Currency == "" {
		cart.Currency = s.currency
	}
	if cart.Items == nil {
		cart.Items = []CartItem{}
	}
	return cart
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCartNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCartConflict, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
}

func indexOfCartLine(items []CartItem, productID string) int {
	for i, item := range items {
		if strings.EqualFold(strings.TrimSpace(item.ProductID), productID) {
			return i
		}
	}
	return -1
}

var _ CartService = (*cartService)(nil)
