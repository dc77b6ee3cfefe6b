package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/lumastore/api/internal/platform/firestore"
	"github.com/lumastore/api/internal/repositories"
)

// Registry assembles the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	orders   *OrderRepository
	sessions *PaymentSessionRepository
	products *ProductRepository
	carts    *CartRepository
	reviews  *ReviewRepository
	audit    *OrderAuditRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

// NewRegistry constructs all Firestore repositories against the shared provider.
// The health repository is supplied by the caller because its probes span more
// than Firestore.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry: firestore provider is required")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	sessions, err := NewPaymentSessionRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	reviews, err := NewReviewRepository(provider)
	if err != nil {
		return nil, err
	}
	audit, err := NewOrderAuditRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider: provider,
		orders:   orders,
		sessions: sessions,
		products: products,
		carts:    carts,
		reviews:  reviews,
		audit:    audit,
		counters: counters,
		health:   health,
	}, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) PaymentSessions() repositories.PaymentSessionRepository { return r.sessions }

func (r *Registry) Products() repositories.ProductRepository { return r.products }

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

func (r *Registry) Reviews() repositories.ReviewRepository { return r.reviews }

func (r *Registry) OrderAudit() repositories.OrderAuditRepository { return r.audit }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn directly. Cross-document writes that need atomicity run
// their own Firestore transactions inside the individual repositories.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	return fn(ctx)
}

var _ repositories.Registry = (*Registry)(nil)
