package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage wraps a result slice with an opaque continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusDraft is the state between creation and payment routing.
	OrderStatusDraft OrderStatus = "draft"
	// OrderStatusPendingPayment marks an order awaiting customer payment.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusVerifying marks an order whose payment is being reconciled.
	OrderStatusVerifying OrderStatus = "verifying"
	// OrderStatusPaid marks a settled order whose content is unlocked.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusDelivered is the terminal success state.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is the terminal failure state.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are permitted.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentMethod selects one of the two disjoint payment paths.
type PaymentMethod string

const (
	// PaymentMethodBankTransfer is the manual-confirmation path.
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	// PaymentMethodGateway is the external gateway redirect/webhook path.
	PaymentMethodGateway PaymentMethod = "gateway"
)

// PaymentStatus tracks the payment provider's view of the order, decoupled
// from the business status so "paid but not yet delivered" stays representable.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// BillingInfo is the validated contact snapshot captured at order creation.
// The order keeps this copy even if the customer later edits their profile.
type BillingInfo struct {
	Version      int
	FullName     string
	Email        string
	Phone        string
	AddressLine1 string
	AddressLine2 string
	City         string
	PostalCode   string
	Country      string
	Metadata     map[string]any
}

// OrderTotals aggregates the monetary amounts of an order in minor units.
type OrderTotals struct {
	Currency      string
	Subtotal      int64
	DiscountTotal int64
	Total         int64
}

// DigitalContent is the deliverable attached to a line item once the order
// reaches paid. ObjectPath addresses the asset in the content bucket.
type DigitalContent struct {
	ObjectPath string
	UnlockedAt time.Time
}

// OrderLineItem is created atomically with its order and immutable
// thereafter; UnitPrice is the checkout-time snapshot.
type OrderLineItem struct {
	ID             string
	ProductID      string
	ProductName    string
	Quantity       int
	UnitPrice      int64
	Currency       string
	DigitalContent *DigitalContent
}

// Order is one checkout attempt and the single source of truth for its
// lifecycle status.
type Order struct {
	ID            string
	OrderNumber   string
	UserID        string
	Status        OrderStatus
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	Totals        OrderTotals
	Items         []OrderLineItem
	BillingInfo   BillingInfo
	CustomerNotes string
	AdminNotes    string
	PlacedAt      time.Time
	RoutedAt      *time.Time
	PaidAt        *time.Time
	DeliveredAt   *time.Time
	CancelledAt   *time.Time
	CancelReason  *string
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PaymentSessionStatus mirrors the gateway's reported state for a session.
type PaymentSessionStatus string

const (
	PaymentSessionStatusPending   PaymentSessionStatus = "pending"
	PaymentSessionStatusSucceeded PaymentSessionStatus = "succeeded"
	PaymentSessionStatusFailed    PaymentSessionStatus = "failed"
)

// PaymentSession correlates an order with one external gateway transaction.
// Created by the payment router, refreshed only by the verification
// handshake.
type PaymentSession struct {
	ID               string
	OrderID          string
	Provider         string
	GatewaySessionID string
	RedirectURL      string
	ObservedStatus   PaymentSessionStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Product is a digital catalog entry. ContentPath addresses the deliverable
// object copied onto line items when an order is paid.
type Product struct {
	ID             string
	Name           string
	Description    string
	Price          int64
	CompareAtPrice *int64
	Currency       string
	Active         bool
	ContentPath    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CartItem holds the price snapshot taken when the item was added.
type CartItem struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   int64
}

// Cart is the per-user pre-checkout container; its ID equals the user ID.
type Cart struct {
	ID        string
	UserID    string
	Currency  string
	Items     []CartItem
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReviewStatus enumerates moderation outcomes for a review.
type ReviewStatus string

const (
	ReviewStatusPublished ReviewStatus = "published"
	ReviewStatusRejected  ReviewStatus = "rejected"
)

// Review is a customer's product review, gated on purchase eligibility.
type Review struct {
	ID        string
	UserID    string
	ProductID string
	OrderID   string
	Rating    int
	Title     string
	Body      string
	Status    ReviewStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderAuditEntry records one administrator or system transition for the
// order audit trail.
type OrderAuditEntry struct {
	ID         string
	OrderID    string
	ActorID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	Reason     string
	OccurredAt time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
