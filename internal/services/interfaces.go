package services

import (
	"context"
	"time"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination        = domain.Pagination
	SortOrder         = domain.SortOrder
	Order             = domain.Order
	OrderLineItem     = domain.OrderLineItem
	OrderStatus       = domain.OrderStatus
	OrderTotals       = domain.OrderTotals
	BillingInfo       = domain.BillingInfo
	PaymentSession    = domain.PaymentSession
	Product           = domain.Product
	Cart              = domain.Cart
	CartItem          = domain.CartItem
	Review            = domain.Review
	OrderAuditEntry   = domain.OrderAuditEntry
	OrderListFilter   = repositories.OrderListFilter
	ProductListFilter = repositories.ProductListFilter
)

// Actor identifies the caller of a state-changing operation. Admin is the
// single administrator predicate consumed by the transition engine; System
// marks the verification handshake and housekeeping acting on behalf of the
// engine itself.
type Actor struct {
	ID     string
	Admin  bool
	System bool
}

// SystemActor is the identity used for gateway-driven and scheduled work.
var SystemActor = Actor{ID: "system", System: true}

// CreateOrderCommand carries the checkout payload for order creation.
type CreateOrderCommand struct {
	UserID        string
	Items         []OrderItemInput
	BillingInfo   BillingInfo
	PaymentMethod domain.PaymentMethod
	Currency      string
	Discount      int64
	CustomerNotes string
	Metadata      map[string]any
}

// OrderItemInput is one requested line item; UnitPrice is the checkout-time
// price snapshotted into the order.
type OrderItemInput struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   int64
}

// OrderStatusTransitionCommand requests one edge of the status graph.
type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	Actor        Actor
	Reason       string
	// ExpectedStatus, when set, must match the stored status for the
	// transition to be attempted (compare-and-swap from the caller's view).
	ExpectedStatus OrderStatus
	Metadata       map[string]any
}

// CancelOrderCommand cancels a non-terminal order with a mandatory reason.
type CancelOrderCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// UpdateOrderNotesCommand updates the customer- or admin-owned note field.
type UpdateOrderNotesCommand struct {
	OrderID string
	Actor   Actor
	Notes   string
}

// ExpireStaleOrdersCommand sweeps pending_payment orders older than the
// threshold.
type ExpireStaleOrdersCommand struct {
	OlderThan time.Time
	Limit     int
}

// ExpireStaleOrdersResult reports the outcome of one housekeeping sweep.
type ExpireStaleOrdersResult struct {
	Cancelled []string
	Skipped   []string
}

// OrderService owns order creation and the status transition engine.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	UpdateCustomerNotes(ctx context.Context, cmd UpdateOrderNotesCommand) (Order, error)
	UpdateAdminNotes(ctx context.Context, cmd UpdateOrderNotesCommand) (Order, error)
	ExpireStalePending(ctx context.Context, cmd ExpireStaleOrdersCommand) (ExpireStaleOrdersResult, error)
}

// CheckoutCommand creates an order from the user's cart and routes payment.
type CheckoutCommand struct {
	UserID        string
	PaymentMethod domain.PaymentMethod
	BillingInfo   BillingInfo
	CustomerNotes string
	SuccessURL    string
	CancelURL     string
	Provider      string
	Locale        string
	Discount      int64
	Metadata      map[string]string
}

// PaymentRouteResult reports the side effect of the chosen payment path.
type PaymentRouteResult struct {
	Order       Order
	Method      domain.PaymentMethod
	DeepLink    string
	RedirectURL string
	SessionID   string
	Reused      bool
}

// CheckoutService is the payment method router: it creates the order and
// performs the path-specific side effect exactly once per order.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (PaymentRouteResult, error)
	// Route re-runs payment routing for an existing order, idempotently.
	Route(ctx context.Context, userID string, orderID string, cmd RouteOptions) (PaymentRouteResult, error)
}

// RouteOptions carries the gateway return URLs for re-routing.
type RouteOptions struct {
	SuccessURL string
	CancelURL  string
	Provider   string
	Locale     string
}

// VerificationResult reports the reconciled state after a verify call.
type VerificationResult struct {
	Order         Order
	GatewayStatus string
	Transitioned  bool
	Unlocked      bool
}

// VerificationService reconciles an order with the gateway's authoritative
// payment state. Safe to call repeatedly and out of order.
type VerificationService interface {
	Verify(ctx context.Context, orderNumber string) (VerificationResult, error)
}

// EligibilityService answers whether a user has a completed purchase.
type EligibilityService interface {
	// IsEligible reports whether the user has at least one order in a
	// purchase-counting status; productID narrows the check to orders
	// containing that product, empty means any product.
	IsEligible(ctx context.Context, userID string, productID string) (bool, error)
}

// CreateReviewCommand submits a review, gated on purchase eligibility.
type CreateReviewCommand struct {
	UserID    string
	ProductID string
	Rating    int
	Title     string
	Body      string
}

// ReviewService owns review submission and listing.
type ReviewService interface {
	CreateReview(ctx context.Context, cmd CreateReviewCommand) (Review, error)
	ListByProduct(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[Review], error)
	ListByUser(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Review], error)
}

// CatalogService exposes the digital product catalog.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
	UpsertProduct(ctx context.Context, actor Actor, product Product) (Product, error)
	SetProductActive(ctx context.Context, actor Actor, productID string, active bool) (Product, error)
}

// CartItemInput mutates one cart line.
type CartItemInput struct {
	ProductID string
	Quantity  int
}

// CartService owns the per-user pre-checkout cart.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, userID string, input CartItemInput) (Cart, error)
	UpdateItem(ctx context.Context, userID string, input CartItemInput) (Cart, error)
	RemoveItem(ctx context.Context, userID string, productID string) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// LibraryItem is one unlocked deliverable with a short-lived download URL.
type LibraryItem struct {
	OrderID     string
	OrderNumber string
	ProductID   string
	ProductName string
	DownloadURL string
	ExpiresAt   time.Time
	UnlockedAt  time.Time
}

// ContentService mints signed download links for unlocked digital content.
type ContentService interface {
	Library(ctx context.Context, userID string) ([]LibraryItem, error)
}

// CounterService produces human-facing sequential identifiers.
type CounterService interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// AuditLogService records administrator and system transitions on orders.
type AuditLogService interface {
	RecordTransition(ctx context.Context, entry OrderAuditEntry) error
	ListByOrder(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[OrderAuditEntry], error)
}

// SystemHealthReport mirrors the domain report for the handlers layer.
type SystemHealthReport = domain.SystemHealthReport

// SystemService aggregates dependency health for the ops endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEvent describes a lifecycle notification published to Pub/Sub.
type OrderEvent struct {
	Type        string         `json:"type"`
	OrderID     string         `json:"orderId"`
	OrderNumber string         `json:"orderNumber"`
	UserID      string         `json:"userId"`
	FromStatus  OrderStatus    `json:"fromStatus,omitempty"`
	ToStatus    OrderStatus    `json:"toStatus,omitempty"`
	ActorID     string         `json:"actorId,omitempty"`
	OccurredAt  time.Time      `json:"occurredAt"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// OrderEventPublisher delivers order lifecycle events to downstream
// consumers. Publish failures must never fail the originating request.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}
