package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/payments"
)

type stubOrderService struct {
	createFn     func(context.Context, CreateOrderCommand) (Order, error)
	getFn        func(context.Context, string) (Order, error)
	byNumberFn   func(context.Context, string) (Order, error)
	transitionFn func(context.Context, OrderStatusTransitionCommand) (Order, error)
}

func (s *stubOrderService) CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	if s.byNumberFn != nil {
		return s.byNumberFn(ctx, orderNumber)
	}
	return Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(context.Context, OrderListFilter) (domain.CursorPage[Order], error) {
	return domain.CursorPage[Order]{}, errors.New("not implemented")
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Cancel(context.Context, CancelOrderCommand) (Order, error) {
	return Order{}, errors.New("not implemented")
}

func (s *stubOrderService) UpdateCustomerNotes(context.Context, UpdateOrderNotesCommand) (Order, error) {
	return Order{}, errors.New("not implemented")
}

func (s *stubOrderService) UpdateAdminNotes(context.Context, UpdateOrderNotesCommand) (Order, error) {
	return Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ExpireStalePending(context.Context, ExpireStaleOrdersCommand) (ExpireStaleOrdersResult, error) {
	return ExpireStaleOrdersResult{}, errors.New("not implemented")
}

type stubCartRepo struct {
	getFn    func(context.Context, string) (domain.Cart, error)
	deleteFn func(context.Context, string) error
	upsertFn func(context.Context, domain.Cart, *time.Time) (domain.Cart, error)
}

func (s *stubCartRepo) UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, cart, expectedUpdate)
	}
	return cart, nil
}

func (s *stubCartRepo) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return domain.Cart{}, notFoundRepoError{msg: "cart not found"}
}

func (s *stubCartRepo) DeleteCart(ctx context.Context, userID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, userID)
	}
	return nil
}

type stubSessionRepo struct {
	insertFn      func(context.Context, domain.PaymentSession) error
	updateFn      func(context.Context, domain.PaymentSession) error
	findFn        func(context.Context, string) (domain.PaymentSession, error)
	findCurrentFn func(context.Context, string) (domain.PaymentSession, error)
}

func (s *stubSessionRepo) Insert(ctx context.Context, session domain.PaymentSession) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, session)
	}
	return nil
}

func (s *stubSessionRepo) Update(ctx context.Context, session domain.PaymentSession) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, session)
	}
	return nil
}

func (s *stubSessionRepo) FindByID(ctx context.Context, sessionID string) (domain.PaymentSession, error) {
	if s.findFn != nil {
		return s.findFn(ctx, sessionID)
	}
	return domain.PaymentSession{}, notFoundRepoError{msg: "session not found"}
}

func (s *stubSessionRepo) FindCurrentByOrder(ctx context.Context, orderID string) (domain.PaymentSession, error) {
	if s.findCurrentFn != nil {
		return s.findCurrentFn(ctx, orderID)
	}
	return domain.PaymentSession{}, notFoundRepoError{msg: "session not found"}
}

type stubGateway struct {
	createFn func(context.Context, payments.PaymentContext, payments.SessionRequest) (payments.Session, error)
	lookupFn func(context.Context, payments.PaymentContext, payments.LookupRequest) (payments.PaymentDetails, error)
}

func (s *stubGateway) CreateSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.SessionRequest) (payments.Session, error) {
	if s.createFn != nil {
		return s.createFn(ctx, paymentCtx, req)
	}
	return payments.Session{}, errors.New("not implemented")
}

func (s *stubGateway) LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error) {
	if s.lookupFn != nil {
		return s.lookupFn(ctx, paymentCtx, req)
	}
	return payments.PaymentDetails{}, errors.New("not implemented")
}

type stubDeepLinks struct {
	buildFn func(domain.Order) (string, error)
}

func (s *stubDeepLinks) BuildOrderLink(order domain.Order) (string, error) {
	if s.buildFn != nil {
		return s.buildFn(order)
	}
	return "https://m.example.com/chat?text=" + order.OrderNumber, nil
}

func routableOrder(method domain.PaymentMethod) Order {
	return Order{
		ID:            "ord_1",
		OrderNumber:   "LS-2025-000001",
		UserID:        "user-1",
		Status:        domain.OrderStatusDraft,
		PaymentMethod: method,
		Totals:        domain.OrderTotals{Currency: "USD", Subtotal: 2000, Total: 2000},
		Items: []domain.OrderLineItem{
			{ID: "itm_1", ProductID: "prod-1", ProductName: "Preset Pack", Quantity: 2, UnitPrice: 1000},
		},
	}
}

func newTestCheckoutService(t *testing.T, deps CheckoutServiceDeps) CheckoutService {
	t.Helper()
	if deps.Carts == nil {
		deps.Carts = &stubCartRepo{}
	}
	if deps.Sessions == nil {
		deps.Sessions = &stubSessionRepo{}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC) }
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	return svc
}

func TestCheckoutBankTransferBuildsDeepLink(t *testing.T) {
	ctx := context.Background()
	cartDeleted := false
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd CreateOrderCommand) (Order, error) {
			if cmd.Currency != "USD" {
				t.Fatalf("expected cart currency USD got %s", cmd.Currency)
			}
			order := routableOrder(domain.PaymentMethodBankTransfer)
			return order, nil
		},
		transitionFn: func(_ context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
			if cmd.TargetStatus != domain.OrderStatusPendingPayment {
				t.Fatalf("expected routing to pending_payment got %s", cmd.TargetStatus)
			}
			if !cmd.Actor.System {
				t.Fatalf("expected system actor for routing")
			}
			order := routableOrder(domain.PaymentMethodBankTransfer)
			order.Status = domain.OrderStatusPendingPayment
			return order, nil
		},
	}
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID: userID, UserID: userID, Currency: "USD",
				Items: []domain.CartItem{{ProductID: "prod-1", ProductName: "Preset Pack", Quantity: 2, UnitPrice: 1000}},
			}, nil
		},
		deleteFn: func(context.Context, string) error {
			cartDeleted = true
			return nil
		},
	}

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders:    orders,
		Carts:     carts,
		DeepLinks: &stubDeepLinks{},
	})

	result, err := svc.Checkout(ctx, CheckoutCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodBankTransfer,
		BillingInfo:   BillingInfo{FullName: "Ada Lovelace", Email: "ada@example.com"},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Method != domain.PaymentMethodBankTransfer {
		t.Fatalf("expected bank_transfer got %s", result.Method)
	}
	if !strings.Contains(result.DeepLink, "LS-2025-000001") {
		t.Fatalf("expected deep link referencing order number got %s", result.DeepLink)
	}
	if result.RedirectURL != "" || result.SessionID != "" {
		t.Fatalf("bank transfer must not produce gateway artifacts: %#v", result)
	}
	if result.Order.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("expected order routed to pending_payment got %s", result.Order.Status)
	}
	if !cartDeleted {
		t.Fatalf("expected cart cleared after checkout")
	}
}

func TestCheckoutGatewayCreatesSession(t *testing.T) {
	ctx := context.Background()
	var persisted domain.PaymentSession
	var gatewayReq payments.SessionRequest

	orders := &stubOrderService{
		createFn: func(context.Context, CreateOrderCommand) (Order, error) {
			return routableOrder(domain.PaymentMethodGateway), nil
		},
		transitionFn: func(context.Context, OrderStatusTransitionCommand) (Order, error) {
			order := routableOrder(domain.PaymentMethodGateway)
			order.Status = domain.OrderStatusPendingPayment
			return order, nil
		},
	}
	carts := &stubCartRepo{
		getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID: userID, UserID: userID, Currency: "USD",
				Items: []domain.CartItem{{ProductID: "prod-1", ProductName: "Preset Pack", Quantity: 2, UnitPrice: 1000}},
			}, nil
		},
	}
	sessions := &stubSessionRepo{
		insertFn: func(_ context.Context, session domain.PaymentSession) error {
			persisted = session
			return nil
		},
	}
	gateway := &stubGateway{
		createFn: func(_ context.Context, _ payments.PaymentContext, req payments.SessionRequest) (payments.Session, error) {
			gatewayReq = req
			return payments.Session{ID: "cs_test_1", Provider: "stripe", RedirectURL: "https://pay.example.com/cs_test_1"}, nil
		},
	}

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders:      orders,
		Carts:       carts,
		Sessions:    sessions,
		Gateway:     gateway,
		IDGenerator: func() string { return "SESSTEST" },
	})

	result, err := svc.Checkout(ctx, CheckoutCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodGateway,
		BillingInfo:   BillingInfo{FullName: "Ada Lovelace", Email: "ada@example.com"},
		SuccessURL:    "https://shop.example.com/success",
		CancelURL:     "https://shop.example.com/cancel",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Method != domain.PaymentMethodGateway {
		t.Fatalf("expected gateway method got %s", result.Method)
	}
	if result.RedirectURL != "https://pay.example.com/cs_test_1" {
		t.Fatalf("unexpected redirect url %s", result.RedirectURL)
	}
	if result.SessionID != "pay_SESSTEST" {
		t.Fatalf("unexpected session id %s", result.SessionID)
	}
	if result.DeepLink != "" {
		t.Fatalf("gateway checkout must not produce a deep link")
	}
	if persisted.GatewaySessionID != "cs_test_1" || persisted.ObservedStatus != domain.PaymentSessionStatusPending {
		t.Fatalf("unexpected persisted session %#v", persisted)
	}
	if gatewayReq.Amount != 2000 || gatewayReq.Currency != "USD" {
		t.Fatalf("unexpected gateway request amount %d %s", gatewayReq.Amount, gatewayReq.Currency)
	}
	if gatewayReq.IdempotencyKey == "" {
		t.Fatalf("expected idempotency key")
	}
}

func TestCheckoutEmptyCart(t *testing.T) {
	ctx := context.Background()
	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders: &stubOrderService{},
		Carts: &stubCartRepo{getFn: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{ID: userID, UserID: userID, Currency: "USD"}, nil
		}},
	})

	if _, err := svc.Checkout(ctx, CheckoutCommand{
		UserID:        "user-1",
		PaymentMethod: domain.PaymentMethodGateway,
	}); !errors.Is(err, ErrCheckoutCartEmpty) {
		t.Fatalf("expected ErrCheckoutCartEmpty got %v", err)
	}
}

func TestRouteReusesLiveSession(t *testing.T) {
	ctx := context.Background()
	gatewayCalls := 0
	pending := routableOrder(domain.PaymentMethodGateway)
	pending.Status = domain.OrderStatusPendingPayment
	routedAt := time.Date(2025, 5, 10, 11, 0, 0, 0, time.UTC)
	pending.RoutedAt = &routedAt

	orders := &stubOrderService{
		getFn: func(_ context.Context, id string) (Order, error) {
			order := pending
			order.ID = id
			return order, nil
		},
	}
	sessions := &stubSessionRepo{
		findCurrentFn: func(context.Context, string) (domain.PaymentSession, error) {
			return domain.PaymentSession{
				ID: "pay_LIVE", OrderID: "ord_1", Provider: "stripe",
				GatewaySessionID: "cs_live", RedirectURL: "https://pay.example.com/cs_live",
				ObservedStatus: domain.PaymentSessionStatusPending,
			}, nil
		},
	}
	gateway := &stubGateway{
		createFn: func(context.Context, payments.PaymentContext, payments.SessionRequest) (payments.Session, error) {
			gatewayCalls++
			return payments.Session{}, errors.New("should not be called")
		},
	}

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders:   orders,
		Sessions: sessions,
		Gateway:  gateway,
	})

	result, err := svc.Route(ctx, "user-1", "ord_1", RouteOptions{})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !result.Reused {
		t.Fatalf("expected reused session")
	}
	if result.SessionID != "pay_LIVE" || result.RedirectURL != "https://pay.example.com/cs_live" {
		t.Fatalf("expected original session handed back, got %#v", result)
	}
	if gatewayCalls != 0 {
		t.Fatalf("expected no new gateway session, got %d calls", gatewayCalls)
	}
}

func TestRouteAfterFailedSessionMintsFreshKey(t *testing.T) {
	ctx := context.Background()
	pending := routableOrder(domain.PaymentMethodGateway)
	pending.Status = domain.OrderStatusPendingPayment

	orders := &stubOrderService{
		getFn: func(_ context.Context, id string) (Order, error) {
			order := pending
			order.ID = id
			return order, nil
		},
	}
	sessions := &stubSessionRepo{
		findCurrentFn: func(context.Context, string) (domain.PaymentSession, error) {
			return domain.PaymentSession{
				ID: "pay_FAILED", OrderID: "ord_1", ObservedStatus: domain.PaymentSessionStatusFailed,
			}, nil
		},
	}
	var requestKey string
	gateway := &stubGateway{
		createFn: func(_ context.Context, _ payments.PaymentContext, req payments.SessionRequest) (payments.Session, error) {
			requestKey = req.IdempotencyKey
			return payments.Session{ID: "cs_retry", Provider: "stripe", RedirectURL: "https://pay.example.com/cs_retry"}, nil
		},
	}

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders:      orders,
		Sessions:    sessions,
		Gateway:     gateway,
		IDGenerator: func() string { return "RETRY" },
	})

	result, err := svc.Route(ctx, "user-1", "ord_1", RouteOptions{
		SuccessURL: "https://shop.example.com/success",
		CancelURL:  "https://shop.example.com/cancel",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if result.Reused {
		t.Fatalf("retry after failed session must not be marked reused")
	}
	if result.SessionID != "pay_RETRY" {
		t.Fatalf("expected fresh session got %s", result.SessionID)
	}
	freshKey := gatewayIdempotencyKey(pending, "pay_FAILED")
	if requestKey != freshKey {
		t.Fatalf("expected retry key derived from failed session lineage")
	}
	firstKey := gatewayIdempotencyKey(pending, "")
	if requestKey == firstKey {
		t.Fatalf("retry key must differ from original key")
	}
}

func TestRouteRejectsForeignOrder(t *testing.T) {
	ctx := context.Background()
	orders := &stubOrderService{
		getFn: func(_ context.Context, id string) (Order, error) {
			order := routableOrder(domain.PaymentMethodGateway)
			order.ID = id
			order.UserID = "someone-else"
			return order, nil
		},
	}
	svc := newTestCheckoutService(t, CheckoutServiceDeps{Orders: orders})

	if _, err := svc.Route(ctx, "user-1", "ord_1", RouteOptions{}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input for foreign order got %v", err)
	}
}

func TestRouteRejectsNonRoutableStatus(t *testing.T) {
	ctx := context.Background()
	for _, status := range []domain.OrderStatus{domain.OrderStatusVerifying, domain.OrderStatusPaid, domain.OrderStatusDelivered, domain.OrderStatusCancelled} {
		status := status
		t.Run(string(status), func(t *testing.T) {
			orders := &stubOrderService{
				getFn: func(_ context.Context, id string) (Order, error) {
					order := routableOrder(domain.PaymentMethodGateway)
					order.ID = id
					order.Status = status
					return order, nil
				},
			}
			svc := newTestCheckoutService(t, CheckoutServiceDeps{Orders: orders})
			if _, err := svc.Route(ctx, "user-1", "ord_1", RouteOptions{}); !errors.Is(err, ErrCheckoutInvalidInput) {
				t.Fatalf("expected invalid input for %s got %v", status, err)
			}
		})
	}
}

func TestRouteGatewayUnavailablePropagates(t *testing.T) {
	ctx := context.Background()
	pending := routableOrder(domain.PaymentMethodGateway)
	pending.Status = domain.OrderStatusPendingPayment

	inserts := 0
	orders := &stubOrderService{
		getFn: func(_ context.Context, id string) (Order, error) {
			order := pending
			order.ID = id
			return order, nil
		},
	}
	sessions := &stubSessionRepo{
		insertFn: func(context.Context, domain.PaymentSession) error {
			inserts++
			return nil
		},
	}
	gateway := &stubGateway{
		createFn: func(context.Context, payments.PaymentContext, payments.SessionRequest) (payments.Session, error) {
			return payments.Session{}, payments.ErrGatewayUnavailable
		},
	}

	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders:   orders,
		Sessions: sessions,
		Gateway:  gateway,
	})

	_, err := svc.Route(ctx, "user-1", "ord_1", RouteOptions{
		SuccessURL: "https://shop.example.com/success",
		CancelURL:  "https://shop.example.com/cancel",
	})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable got %v", err)
	}
	if inserts != 0 {
		t.Fatalf("no session must be persisted when the gateway is down")
	}
}

func TestRouteGatewayRequiresReturnURLs(t *testing.T) {
	ctx := context.Background()
	pending := routableOrder(domain.PaymentMethodGateway)
	pending.Status = domain.OrderStatusPendingPayment
	orders := &stubOrderService{
		getFn: func(_ context.Context, id string) (Order, error) {
			order := pending
			order.ID = id
			return order, nil
		},
	}
	svc := newTestCheckoutService(t, CheckoutServiceDeps{
		Orders:  orders,
		Gateway: &stubGateway{},
	})

	if _, err := svc.Route(ctx, "user-1", "ord_1", RouteOptions{}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input for missing return urls got %v", err)
	}
}
