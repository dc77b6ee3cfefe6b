package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/repositories"
)

const (
	orderEventCreated         = "order.created"
	orderEventStatusChanged   = "order.status.changed"
	orderEventContentUnlocked = "order.content.unlocked"

	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"

	// cancelReasonPaymentTimeout marks housekeeping cancellations of stale
	// pending_payment orders.
	cancelReasonPaymentTimeout = "payment_timeout"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrProductUnavailable indicates a referenced product is missing or inactive.
	ErrProductUnavailable = errors.New("order: product unavailable")
	// ErrOrderIllegalTransition indicates the requested edge is not in the
	// status graph, or the state moved under a concurrent request.
	ErrOrderIllegalTransition = errors.New("order: illegal status transition")
	// ErrOrderForbiddenTransition indicates the caller is not authorized for
	// the requested transition.
	ErrOrderForbiddenTransition = errors.New("order: forbidden status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts outside
	// status transitions.
	ErrOrderConflict = errors.New("order: conflict")
)

// orderStateTransitions is the canonical status graph. Transitions are total
// over (current, requested): pairs absent here always fail closed.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusDraft:          {domain.OrderStatusPendingPayment, domain.OrderStatusCancelled},
	domain.OrderStatusPendingPayment: {domain.OrderStatusVerifying, domain.OrderStatusCancelled},
	domain.OrderStatusVerifying:      {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:           {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusDraft,
	domain.OrderStatusPendingPayment,
	domain.OrderStatusVerifying,
	domain.OrderStatusPaid,
}

// systemTransitions are the edges the engine applies on its own behalf: the
// verification handshake advancing payment state, the payment router placing
// the order, and housekeeping cancellations.
var systemTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusDraft:          {domain.OrderStatusPendingPayment, domain.OrderStatusCancelled},
	domain.OrderStatusPendingPayment: {domain.OrderStatusVerifying, domain.OrderStatusCancelled},
	domain.OrderStatusVerifying:      {domain.OrderStatusPaid},
}

// ProductCatalog is the read-only catalog collaborator consulted at order
// creation and content unlock.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Numbers     CounterService
	Catalog     ProductCatalog
	Audit       AuditLogService
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	numbers    CounterService
	catalog    ProductCatalog
	audit      AuditLogService
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Numbers == nil {
		return nil, errors.New("order service: counter service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		numbers:    deps.Numbers,
		catalog:    deps.Catalog,
		audit:      deps.Audit,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	switch cmd.PaymentMethod {
	case domain.PaymentMethodBankTransfer, domain.PaymentMethodGateway:
	default:
		return Order{}, fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	if err := domain.ValidateBillingInfo(cmd.BillingInfo); err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	items := make([]domain.OrderLineItem, 0, len(cmd.Items))
	for i, input := range cmd.Items {
		productID := strings.TrimSpace(input.ProductID)
		if productID == "" {
			return Order{}, fmt.Errorf("%w: item %d product id is required", ErrOrderInvalidInput, i)
		}
		if input.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: item %d quantity must be positive", ErrOrderInvalidInput, i)
		}
		if input.UnitPrice < 0 {
			return Order{}, fmt.Errorf("%w: item %d unit price must be non-negative", ErrOrderInvalidInput, i)
		}

		name := strings.TrimSpace(input.ProductName)
		if s.catalog != nil {
			product, err := s.catalog.GetProduct(ctx, productID)
			if err != nil {
				return Order{}, fmt.Errorf("%w: product %s: %v", ErrProductUnavailable, productID, err)
			}
			if !product.Active {
				return Order{}, fmt.Errorf("%w: product %s is inactive", ErrProductUnavailable, productID)
			}
			if name == "" {
				name = product.Name
			}
		}

		items = append(items, domain.OrderLineItem{
			ID:          orderItemIDPrefix + s.newID(),
			ProductID:   productID,
			ProductName: name,
			Quantity:    input.Quantity,
			UnitPrice:   input.UnitPrice,
			Currency:    strings.ToUpper(strings.TrimSpace(cmd.Currency)),
		})
	}

	totals, err := domain.ComputeOrderTotals(cmd.Currency, items, cmd.Discount)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	now := s.now()
	order := Order{
		ID:            s.nextOrderID(),
		UserID:        userID,
		Status:        domain.OrderStatusDraft,
		PaymentMethod: cmd.PaymentMethod,
		PaymentStatus: domain.PaymentStatusPending,
		Totals:        totals,
		Items:         items,
		BillingInfo:   cmd.BillingInfo,
		CustomerNotes: strings.TrimSpace(cmd.CustomerNotes),
		Metadata:      cloneMap(cmd.Metadata),
		PlacedAt:      now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	number, err := s.numbers.NextOrderNumber(ctx)
	if err != nil {
		return Order{}, err
	}
	order.OrderNumber = number

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		ToStatus:    order.Status,
		ActorID:     userID,
		OccurredAt:  now,
		Metadata:    maps.Clone(order.Metadata),
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	target := domain.OrderStatus(strings.TrimSpace(string(cmd.TargetStatus)))

	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if cmd.ExpectedStatus != "" && order.Status != cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderIllegalTransition, cmd.ExpectedStatus, order.Status)
	}

	now := s.now()
	prevStatus := order.Status
	reason := strings.TrimSpace(cmd.Reason)

	if err := s.applyStatusTransition(ctx, &order, target, cmd.Actor, reason, now); err != nil {
		return Order{}, err
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order, prevStatus); err != nil {
			return s.mapTransitionError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.recordAudit(ctx, order, prevStatus, cmd.Actor, reason, now)

	metadata := cloneMap(cmd.Metadata)
	if reason != "" {
		metadata = ensureMap(metadata)
		metadata["reason"] = reason
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventStatusChanged,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		FromStatus:  prevStatus,
		ToStatus:    order.Status,
		ActorID:     cmd.Actor.ID,
		OccurredAt:  now,
		Metadata:    metadata,
	})

	if order.Status == domain.OrderStatusPaid {
		s.publishEvent(ctx, OrderEvent{
			Type:        orderEventContentUnlocked,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			UserID:      order.UserID,
			ToStatus:    order.Status,
			ActorID:     cmd.Actor.ID,
			OccurredAt:  now,
		})
	}

	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !slices.Contains(cancellableStatuses, order.Status) {
		return Order{}, fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderIllegalTransition, order.Status)
	}

	return s.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:        orderID,
		TargetStatus:   domain.OrderStatusCancelled,
		Actor:          cmd.Actor,
		Reason:         cmd.Reason,
		ExpectedStatus: order.Status,
	})
}

func (s *orderService) UpdateCustomerNotes(ctx context.Context, cmd UpdateOrderNotesCommand) (Order, error) {
	order, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !cmd.Actor.Admin && cmd.Actor.ID != order.UserID {
		return Order{}, fmt.Errorf("%w: customer notes belong to the order owner", ErrOrderForbiddenTransition)
	}

	order.CustomerNotes = strings.TrimSpace(cmd.Notes)
	order.UpdatedAt = s.now()

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order, ""); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) UpdateAdminNotes(ctx context.Context, cmd UpdateOrderNotesCommand) (Order, error) {
	if !cmd.Actor.Admin {
		return Order{}, fmt.Errorf("%w: admin notes require administrator identity", ErrOrderForbiddenTransition)
	}
	order, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}

	order.AdminNotes = strings.TrimSpace(cmd.Notes)
	order.UpdatedAt = s.now()

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order, ""); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// ExpireStalePending cancels pending_payment orders placed before the
// threshold. Exposed as a plain call for an external scheduler; races with
// concurrent payment verification resolve via the per-order CAS, losers are
// reported as skipped.
func (s *orderService) ExpireStalePending(ctx context.Context, cmd ExpireStaleOrdersCommand) (ExpireStaleOrdersResult, error) {
	if cmd.OlderThan.IsZero() {
		return ExpireStaleOrdersResult{}, fmt.Errorf("%w: threshold is required", ErrOrderInvalidInput)
	}

	limit := cmd.Limit
	if limit <= 0 {
		limit = 100
	}

	threshold := cmd.OlderThan.UTC()
	page, err := s.orders.List(ctx, OrderListFilter{
		Status:       []string{string(domain.OrderStatusPendingPayment)},
		PlacedBefore: &threshold,
		Pagination:   Pagination{PageSize: limit},
	})
	if err != nil {
		return ExpireStaleOrdersResult{}, s.mapRepositoryError(err)
	}

	result := ExpireStaleOrdersResult{}
	for _, order := range page.Items {
		_, err := s.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID:        order.ID,
			TargetStatus:   domain.OrderStatusCancelled,
			Actor:          SystemActor,
			Reason:         cancelReasonPaymentTimeout,
			ExpectedStatus: domain.OrderStatusPendingPayment,
		})
		if err != nil {
			if errors.Is(err, ErrOrderIllegalTransition) {
				result.Skipped = append(result.Skipped, order.ID)
				continue
			}
			return result, err
		}
		result.Cancelled = append(result.Cancelled, order.ID)
	}
	return result, nil
}

// applyStatusTransition validates the edge and its authorization, mutates
// the order, and performs the transition's side effects. Self-loops are not
// in the status graph and fail like any other absent edge.
func (s *orderService) applyStatusTransition(ctx context.Context, order *Order, target domain.OrderStatus, actor Actor, reason string, now time.Time) error {
	current := order.Status

	if !canTransition(current, target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderIllegalTransition, current, target)
	}
	if err := authorizeTransition(actor, current, target); err != nil {
		return err
	}
	if target == domain.OrderStatusCancelled && reason == "" {
		return fmt.Errorf("%w: cancellation requires a reason", ErrOrderInvalidInput)
	}

	if target == domain.OrderStatusPaid {
		if err := s.unlockContent(ctx, order, now); err != nil {
			return err
		}
	}

	order.Status = target
	order.UpdatedAt = now
	s.updateTimestamps(order, target, reason, now)

	return nil
}

func (s *orderService) updateTimestamps(order *Order, status domain.OrderStatus, reason string, now time.Time) {
	switch status {
	case domain.OrderStatusPendingPayment:
		if order.RoutedAt == nil {
			order.RoutedAt = &now
		}
	case domain.OrderStatusPaid:
		order.PaidAt = &now
		order.PaymentStatus = domain.PaymentStatusPaid
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
		if reason != "" {
			order.CancelReason = optionalString(reason)
		}
	}
}

// unlockContent copies each product's deliverable onto the matching line
// items. Items already carrying content are left untouched so repeated paid
// transitions never re-issue content.
func (s *orderService) unlockContent(ctx context.Context, order *Order, now time.Time) error {
	if s.catalog == nil {
		return nil
	}
	for i := range order.Items {
		if order.Items[i].DigitalContent != nil {
			continue
		}
		product, err := s.catalog.GetProduct(ctx, order.Items[i].ProductID)
		if err != nil {
			return fmt.Errorf("order: unlock content for product %s: %w", order.Items[i].ProductID, err)
		}
		order.Items[i].DigitalContent = &domain.DigitalContent{
			ObjectPath: product.ContentPath,
			UnlockedAt: now,
		}
	}
	return nil
}

func (s *orderService) recordAudit(ctx context.Context, order Order, from domain.OrderStatus, actor Actor, reason string, now time.Time) {
	if s.audit == nil {
		return
	}
	entry := OrderAuditEntry{
		OrderID:    order.ID,
		ActorID:    actor.ID,
		FromStatus: from,
		ToStatus:   order.Status,
		Reason:     reason,
		OccurredAt: now,
	}
	if err := s.audit.RecordTransition(ctx, entry); err != nil {
		s.logger(ctx, "order.audit.record.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

// mapTransitionError maps write conflicts during a status transition to the
// illegal-transition error: the loser of a concurrent race observes that the
// state has moved.
func (s *orderService) mapTransitionError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return fmt.Errorf("%w: order status changed concurrently: %v", ErrOrderIllegalTransition, err)
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.ToStatus),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func canTransition(current, target domain.OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

// authorizeTransition enforces the caller rules of the status graph:
// administrators may request any legal edge, the system actor only the
// payment-driven and housekeeping edges, everyone else is rejected.
func authorizeTransition(actor Actor, current, target domain.OrderStatus) error {
	if actor.Admin {
		return nil
	}
	if actor.System {
		allowed, ok := systemTransitions[current]
		if ok && slices.Contains(allowed, target) {
			return nil
		}
		return fmt.Errorf("%w: system actor may not move %s to %s", ErrOrderForbiddenTransition, current, target)
	}
	return fmt.Errorf("%w: %s to %s requires administrator identity", ErrOrderForbiddenTransition, current, target)
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

func ensureMap(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return src
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}
