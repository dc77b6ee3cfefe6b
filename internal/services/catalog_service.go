package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/platform/storage"
	"github.com/lumastore/api/internal/repositories"
)

const productIDPrefix = "prd_"

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid data to a catalog mutation.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogForbidden indicates the caller lacks administrator identity.
	ErrCatalogForbidden = errors.New("catalog: forbidden")
	// ErrCatalogProductNotFound indicates the product could not be located.
	ErrCatalogProductNotFound = errors.New("catalog: product not found")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type catalogService struct {
	products repositories.ProductRepository
	clock    func() time.Time
	newID    func() string
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	return &catalogService{
		products: deps.Products,
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
	}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapCatalogError(err)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	filter.Pagination.PageToken = strings.TrimSpace(filter.Pagination.PageToken)
	page, err := s.products.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Product]{}, mapCatalogError(err)
	}
	return page, nil
}

func (s *catalogService) UpsertProduct(ctx context.Context, actor Actor, product Product) (Product, error) {
	if !actor.Admin {
		return Product{}, fmt.Errorf("%w: catalog mutations require administrator identity", ErrCatalogForbidden)
	}

	product.ID = strings.TrimSpace(product.ID)
	product.Name = strings.TrimSpace(product.Name)
	product.Description = strings.TrimSpace(product.Description)
	product.Currency = strings.ToUpper(strings.TrimSpace(product.Currency))
	product.ContentPath = strings.TrimSpace(product.ContentPath)

	if product.Name == "" {
		return Product{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if product.Price < 0 {
		return Product{}, fmt.Errorf("%w: price must be non-negative", ErrCatalogInvalidInput)
	}
	if product.Currency == "" {
		return Product{}, fmt.Errorf("%w: currency is required", ErrCatalogInvalidInput)
	}
	if product.ContentPath == "" {
		return Product{}, fmt.Errorf("%w: content path is required", ErrCatalogInvalidInput)
	}
	if err := storage.ValidateObjectPath(product.ContentPath); err != nil {
		return Product{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}

	now := s.clock()
	if product.ID == "" {
		product.ID = productIDPrefix + s.newID()
		product.CreatedAt = now
	} else {
		existing, err := s.products.FindByID(ctx, product.ID)
		switch {
		case err == nil:
			product.CreatedAt = existing.CreatedAt
		case isRepoNotFound(err):
			product.CreatedAt = now
		default:
			return Product{}, mapCatalogError(err)
		}
	}
	product.UpdatedAt = now

	saved, err := s.products.Upsert(ctx, product)
	if err != nil {
		return Product{}, mapCatalogError(err)
	}
	return saved, nil
}

func (s *catalogService) SetProductActive(ctx context.Context, actor Actor, productID string, active bool) (Product, error) {
	if !actor.Admin {
		return Product{}, fmt.Errorf("%w: catalog mutations require administrator identity", ErrCatalogForbidden)
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if err := s.products.SetActive(ctx, productID, active, s.clock()); err != nil {
		return Product{}, mapCatalogError(err)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapCatalogError(err)
	}
	return product, nil
}

func mapCatalogError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrCatalogProductNotFound, err)
	}
	return err
}

var _ CatalogService = (*catalogService)(nil)
