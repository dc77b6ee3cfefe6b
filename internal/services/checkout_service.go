package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/payments"
	"github.com/lumastore/api/internal/repositories"
)

const paymentSessionIDPrefix = "pay_"

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutCartEmpty indicates the cart has no items to check out.
	ErrCheckoutCartEmpty = errors.New("checkout: cart is empty")
	// ErrCheckoutPaymentFailed indicates the gateway session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrGatewayUnavailable mirrors the transient gateway error for callers
	// that should retry with backoff.
	ErrGatewayUnavailable = payments.ErrGatewayUnavailable
)

// checkoutGateway abstracts payments.Manager for easier testing.
type checkoutGateway interface {
	CreateSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.SessionRequest) (payments.Session, error)
}

// deepLinkBuilder renders the bank-transfer messaging link for an order.
type deepLinkBuilder interface {
	BuildOrderLink(order domain.Order) (string, error)
}

// CheckoutServiceDeps wires the dependencies required by the payment router.
type CheckoutServiceDeps struct {
	Orders      OrderService
	Carts       repositories.CartRepository
	Sessions    repositories.PaymentSessionRepository
	Gateway     checkoutGateway
	DeepLinks   deepLinkBuilder
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders    OrderService
	carts     repositories.CartRepository
	sessions  repositories.PaymentSessionRepository
	gateway   checkoutGateway
	deepLinks deepLinkBuilder
	now       func() time.Time
	newID     func() string
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("checkout service: payment session repository is required")
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

	return &checkoutService{
		orders:    deps.Orders,
		carts:     deps.Carts,
		sessions:  deps.Sessions,
		gateway:   deps.Gateway,
		deepLinks: deps.DeepLinks,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Checkout creates an order from the user's cart and routes it onto the
// chosen payment path.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (PaymentRouteResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return PaymentRouteResult{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return PaymentRouteResult{}, s.translateCartError(err)
	}
	if len(cart.Items) == 0 {
		return PaymentRouteResult{}, ErrCheckoutCartEmpty
	}

	items := make([]OrderItemInput, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, OrderItemInput{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	order, err := s.orders.CreateFromCart(ctx, CreateOrderCommand{
		UserID:        userID,
		Items:         items,
		BillingInfo:   cmd.BillingInfo,
		PaymentMethod: cmd.PaymentMethod,
		Currency:      cart.Currency,
		Discount:      cmd.Discount,
		CustomerNotes: cmd.CustomerNotes,
	})
	if err != nil {
		return PaymentRouteResult{}, translateOrderError(err)
	}

	result, err := s.route(ctx, order, RouteOptions{
		SuccessURL: cmd.SuccessURL,
		CancelURL:  cmd.CancelURL,
		Provider:   cmd.Provider,
		Locale:     cmd.Locale,
	})
	if err != nil {
		return PaymentRouteResult{}, err
	}

	if err := s.carts.DeleteCart(ctx, userID); err != nil {
		s.logger(ctx, "checkout.cart.clear.failed", map[string]any{
			"user":  userID,
			"order": order.ID,
			"error": err.Error(),
		})
	}

	return result, nil
}

// Route re-runs payment routing for an existing order. Idempotent: an order
// that already holds a live session or deep link gets the original back.
func (s *checkoutService) Route(ctx context.Context, userID string, orderID string, opts RouteOptions) (PaymentRouteResult, error) {
	order, err := s.orders.GetOrder(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return PaymentRouteResult{}, translateOrderError(err)
	}
	if uid := strings.TrimSpace(userID); uid != "" && order.UserID != uid {
		return PaymentRouteResult{}, fmt.Errorf("%w: order does not belong to caller", ErrCheckoutInvalidInput)
	}
	if order.Status != domain.OrderStatusDraft && order.Status != domain.OrderStatusPendingPayment {
		return PaymentRouteResult{}, fmt.Errorf("%w: order status %q cannot be routed", ErrCheckoutInvalidInput, order.Status)
	}
	return s.route(ctx, order, opts)
}

func (s *checkoutService) route(ctx context.Context, order Order, opts RouteOptions) (PaymentRouteResult, error) {
	reused := order.RoutedAt != nil

	if order.Status == domain.OrderStatusDraft {
		advanced, err := s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID:        order.ID,
			TargetStatus:   domain.OrderStatusPendingPayment,
			Actor:          SystemActor,
			ExpectedStatus: domain.OrderStatusDraft,
		})
		if err != nil {
			return PaymentRouteResult{}, translateOrderError(err)
		}
		order = advanced
	}

	switch order.PaymentMethod {
	case domain.PaymentMethodBankTransfer:
		return s.routeBankTransfer(ctx, order, reused)
	case domain.PaymentMethodGateway:
		return s.routeGateway(ctx, order, opts)
	default:
		return PaymentRouteResult{}, fmt.Errorf("%w: unknown payment method %q", ErrCheckoutInvalidInput, order.PaymentMethod)
	}
}

// routeBankTransfer renders the messaging deep link. The link is a pure
// function of the order, so repeated routing returns the same target without
// duplicating notifications.
func (s *checkoutService) routeBankTransfer(ctx context.Context, order Order, reused bool) (PaymentRouteResult, error) {
	if s.deepLinks == nil {
		return PaymentRouteResult{}, fmt.Errorf("%w: messaging channel not configured", ErrCheckoutUnavailable)
	}
	link, err := s.deepLinks.BuildOrderLink(order)
	if err != nil {
		return PaymentRouteResult{}, fmt.Errorf("checkout: build deep link: %w", err)
	}

	s.logger(ctx, "checkout.routed.bank_transfer", map[string]any{
		"order":  order.ID,
		"reused": reused,
	})

	return PaymentRouteResult{
		Order:    order,
		Method:   domain.PaymentMethodBankTransfer,
		DeepLink: link,
		Reused:   reused,
	}, nil
}

// routeGateway creates one gateway session per order. An existing session is
// reused unless the gateway reported it failed, in which case the customer
// may retry with a fresh session.
func (s *checkoutService) routeGateway(ctx context.Context, order Order, opts RouteOptions) (PaymentRouteResult, error) {
	if s.gateway == nil {
		return PaymentRouteResult{}, fmt.Errorf("%w: payment gateway not configured", ErrCheckoutUnavailable)
	}

	priorSession := ""
	existing, err := s.sessions.FindCurrentByOrder(ctx, order.ID)
	switch {
	case err == nil:
		if existing.ObservedStatus != domain.PaymentSessionStatusFailed {
			return PaymentRouteResult{
				Order:       order,
				Method:      domain.PaymentMethodGateway,
				RedirectURL: existing.RedirectURL,
				SessionID:   existing.ID,
				Reused:      true,
			}, nil
		}
		priorSession = existing.ID
	case isRepoNotFound(err):
		// first routing for this order
	default:
		return PaymentRouteResult{}, fmt.Errorf("checkout: load payment session: %w", err)
	}

	successURL := strings.TrimSpace(opts.SuccessURL)
	cancelURL := strings.TrimSpace(opts.CancelURL)
	if successURL == "" || cancelURL == "" {
		return PaymentRouteResult{}, fmt.Errorf("%w: success and cancel urls are required for gateway checkout", ErrCheckoutInvalidInput)
	}

	session, err := s.createGatewaySession(ctx, order, opts, successURL, cancelURL, priorSession)
	if err != nil {
		return PaymentRouteResult{}, err
	}

	record := domain.PaymentSession{
		ID:               paymentSessionIDPrefix + s.newID(),
		OrderID:          order.ID,
		Provider:         session.Provider,
		GatewaySessionID: session.ID,
		RedirectURL:      session.RedirectURL,
		ObservedStatus:   domain.PaymentSessionStatusPending,
		CreatedAt:        s.now(),
		UpdatedAt:        s.now(),
	}
	if err := s.sessions.Insert(ctx, record); err != nil {
		return PaymentRouteResult{}, fmt.Errorf("checkout: persist payment session: %w", err)
	}

	s.logger(ctx, "checkout.routed.gateway", map[string]any{
		"order":    order.ID,
		"session":  record.ID,
		"provider": record.Provider,
	})

	return PaymentRouteResult{
		Order:       order,
		Method:      domain.PaymentMethodGateway,
		RedirectURL: record.RedirectURL,
		SessionID:   record.ID,
	}, nil
}

func (s *checkoutService) createGatewaySession(ctx context.Context, order Order, opts RouteOptions, successURL, cancelURL, priorSession string) (payments.Session, error) {
	lineItems := make([]payments.SessionLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		lineItems = append(lineItems, payments.SessionLineItem{
			Name:     item.ProductName,
			SKU:      item.ProductID,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
			Currency: order.Totals.Currency,
		})
	}

	req := payments.SessionRequest{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Amount:         order.Totals.Total,
		Currency:       order.Totals.Currency,
		CustomerID:     order.UserID,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		Locale:         strings.TrimSpace(opts.Locale),
		IdempotencyKey: gatewayIdempotencyKey(order, priorSession),
		Items:          lineItems,
	}

	session, err := s.gateway.CreateSession(ctx, payments.PaymentContext{
		PreferredProvider: strings.TrimSpace(opts.Provider),
		Currency:          order.Totals.Currency,
	}, req)
	if err != nil {
		if errors.Is(err, payments.ErrGatewayUnavailable) {
			return payments.Session{}, fmt.Errorf("checkout: %w", err)
		}
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return payments.Session{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		s.logger(ctx, "checkout.gateway.session.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return payments.Session{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}
	return session, nil
}

func (s *checkoutService) translateCartError(err error) error {
	if err == nil {
		return nil
	}
	if isRepoNotFound(err) {
		return ErrCheckoutCartEmpty
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	return err
}

func translateOrderError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrOrderInvalidInput):
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	default:
		return err
	}
}

// gatewayIdempotencyKey derives a stable key per (order, retry lineage) so
// transport retries never mint duplicate sessions, while a retry after a
// failed session gets a fresh key.
func gatewayIdempotencyKey(order Order, priorSession string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", order.ID, order.OrderNumber, priorSession)))
	return hex.EncodeToString(sum[:])
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
