package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/lumastore/api/internal/domain"
	pfirestore "github.com/lumastore/api/internal/platform/firestore"
	"github.com/lumastore/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository stores the digital product catalog.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{base: base}, nil
}

// FindByID fetches a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProductDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns catalog entries ordered by most recent update.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("product repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.OnlyActive {
			q = q.Where("active", "==", true)
		}
		q = q.OrderBy("updatedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.UpdatedAt
		if tokenTime.IsZero() {
			tokenTime = last.UpdateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Product, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeProductDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Product]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// Upsert writes the product document and returns the stored state.
func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}

	doc := encodeProductDocument(product)
	result, err := r.base.Set(ctx, productID, doc)
	if err != nil {
		return domain.Product{}, err
	}

	saved := decodeProductDocument(productID, doc, doc.CreatedAt, result.UpdateTime)
	return saved, nil
}

// SetActive toggles catalog visibility without touching the rest of the document.
func (r *ProductRepository) SetActive(ctx context.Context, productID string, active bool, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}

	updates := []firestore.Update{
		{Path: "active", Value: active},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}
	if _, err := r.base.Update(ctx, productID, updates); err != nil {
		return err
	}
	return nil
}

type productDocument struct {
	Name           string    `firestore:"name"`
	Description    string    `firestore:"description,omitempty"`
	Price          int64     `firestore:"price"`
	CompareAtPrice *int64    `firestore:"compareAtPrice,omitempty"`
	Currency       string    `firestore:"currency"`
	Active         bool      `firestore:"active"`
	ContentPath    string    `firestore:"contentPath,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func encodeProductDocument(product domain.Product) productDocument {
	return productDocument{
		Name:           strings.TrimSpace(product.Name),
		Description:    strings.TrimSpace(product.Description),
		Price:          product.Price,
		CompareAtPrice: product.CompareAtPrice,
		Currency:       strings.ToUpper(strings.TrimSpace(product.Currency)),
		Active:         product.Active,
		ContentPath:    strings.TrimSpace(product.ContentPath),
		CreatedAt:      product.CreatedAt.UTC(),
		UpdatedAt:      product.UpdatedAt.UTC(),
	}
}

func decodeProductDocument(id string, doc productDocument, createdAt, updatedAt time.Time) domain.Product {
	return domain.Product{
		ID:             strings.TrimSpace(id),
		Name:           strings.TrimSpace(doc.Name),
		Description:    strings.TrimSpace(doc.Description),
		Price:          doc.Price,
		CompareAtPrice: doc.CompareAtPrice,
		Currency:       strings.ToUpper(strings.TrimSpace(doc.Currency)),
		Active:         doc.Active,
		ContentPath:    strings.TrimSpace(doc.ContentPath),
		CreatedAt:      chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:      chooseTime(doc.UpdatedAt, updatedAt),
	}
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
