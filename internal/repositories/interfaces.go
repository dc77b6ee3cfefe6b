package repositories

import (
	"context"
	"time"

	domain "github.com/lumastore/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	PaymentSessions() PaymentSessionRepository
	Products() ProductRepository
	Carts() CartRepository
	Reviews() ReviewRepository
	OrderAudit() OrderAuditRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order documents and provides query helpers for
// customers, administrators, and the verification handshake.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// Update persists the order. When expectedStatus is non-empty the write
	// only succeeds while the stored status still equals it; otherwise the
	// repository reports a conflict. This is the per-order compare-and-swap
	// every status transition relies on.
	Update(ctx context.Context, order domain.Order, expectedStatus domain.OrderStatus) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// PaymentSessionRepository stores gateway session correlations for orders.
type PaymentSessionRepository interface {
	Insert(ctx context.Context, session domain.PaymentSession) error
	Update(ctx context.Context, session domain.PaymentSession) error
	FindByID(ctx context.Context, sessionID string) (domain.PaymentSession, error)
	// FindCurrentByOrder returns the most recently created session for the order.
	FindCurrentByOrder(ctx context.Context, orderID string) (domain.PaymentSession, error)
}

// ProductRepository stores the digital product catalog.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	Upsert(ctx context.Context, product domain.Product) (domain.Product, error)
	SetActive(ctx context.Context, productID string, active bool, updatedAt time.Time) error
}

// CartRepository owns per-user cart persistence with optimistic locking.
type CartRepository interface {
	UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error)
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	DeleteCart(ctx context.Context, userID string) error
}

// ReviewRepository stores product reviews and their moderation meta.
type ReviewRepository interface {
	Insert(ctx context.Context, review domain.Review) (domain.Review, error)
	FindByID(ctx context.Context, reviewID string) (domain.Review, error)
	FindByUserProduct(ctx context.Context, userID string, productID string) (domain.Review, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error)
	ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error)
}

// OrderAuditRepository persists immutable order transition records.
type OrderAuditRepository interface {
	Append(ctx context.Context, entry domain.OrderAuditEntry) error
	ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.OrderAuditEntry], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID       string
	Status       []string
	PlacedBefore *time.Time
	DateRange    domain.RangeQuery[time.Time]
	Pagination   domain.Pagination
}

type ProductListFilter struct {
	OnlyActive bool
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
