package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/lumastore/api/internal/domain"
	pfirestore "github.com/lumastore/api/internal/platform/firestore"
	"github.com/lumastore/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists per-user carts within Firestore. The document ID is
// the user ID, so every user has at most one cart.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{base: base}, nil
}

// UpsertCart persists the cart under the user's document ID. When
// expectedUpdate is provided the write carries a last-update-time
// precondition, so concurrent modifications surface as conflicts.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	cartID := strings.TrimSpace(cart.ID)
	if cartID == "" {
		cartID = strings.TrimSpace(cart.UserID)
	}
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	doc := encodeCartDocument(cart)

	if expectedUpdate == nil || expectedUpdate.IsZero() {
		result, err := r.base.Set(ctx, cartID, doc)
		if err != nil {
			return domain.Cart{}, err
		}
		return decodeCartDocument(cartID, doc, doc.CreatedAt, result.UpdateTime), nil
	}

	updates := []firestore.Update{
		{Path: "currency", Value: doc.Currency},
		{Path: "items", Value: doc.Items},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
	if len(doc.Metadata) == 0 {
		updates = append(updates, firestore.Update{Path: "metadata", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "metadata", Value: doc.Metadata})
	}

	result, err := r.base.Update(ctx, cartID, updates, firestore.LastUpdateTime(expectedUpdate.UTC()))
	if err != nil {
		return domain.Cart{}, err
	}
	return decodeCartDocument(cartID, doc, cart.CreatedAt, result.UpdateTime), nil
}

// GetCart loads the cart for the given user ID.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}

	cart := decodeCartDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime)
	return cart, nil
}

// DeleteCart removes the user's cart. Deleting a missing cart is not an error.
func (r *CartRepository) DeleteCart(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("cart repository: user id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	return nil
}

type cartDocument struct {
	Currency  string             `firestore:"currency"`
	Items     []cartItemDocument `firestore:"items"`
	Metadata  map[string]any     `firestore:"metadata,omitempty"`
	CreatedAt time.Time          `firestore:"createdAt"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   int64  `firestore:"unitPrice"`
}

func encodeCartDocument(cart domain.Cart) cartDocument {
	now := cart.UpdatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	items := make([]cartItemDocument, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemDocument{
			ProductID:   strings.TrimSpace(item.ProductID),
			ProductName: strings.TrimSpace(item.ProductName),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	return cartDocument{
		Currency:  strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Items:     items,
		Metadata:  cloneAnyMap(cart.Metadata),
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
}

func decodeCartDocument(id string, doc cartDocument, createdAt, updatedAt time.Time) domain.Cart {
	items := make([]domain.CartItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.CartItem{
			ProductID:   strings.TrimSpace(item.ProductID),
			ProductName: strings.TrimSpace(item.ProductName),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	return domain.Cart{
		ID:        strings.TrimSpace(id),
		UserID:    strings.TrimSpace(id),
		Currency:  strings.ToUpper(strings.TrimSpace(doc.Currency)),
		Items:     items,
		Metadata:  cloneAnyMap(doc.Metadata),
		CreatedAt: chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt: chooseTime(doc.UpdatedAt, updatedAt),
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
