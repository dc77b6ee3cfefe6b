package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/payments"
	"github.com/lumastore/api/internal/repositories"
)

var (
	// ErrVerificationInvalidInput indicates the order cannot be verified as requested.
	ErrVerificationInvalidInput = errors.New("verification: invalid input")
	// ErrPaymentFailed indicates the gateway reported the payment as failed.
	// The order keeps its status; only the payment state is recorded.
	ErrPaymentFailed = errors.New("verification: payment failed")
)

// paymentLookup abstracts payments.Manager for easier testing.
type paymentLookup interface {
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// VerificationServiceDeps wires the dependencies of the payment reconciler.
type VerificationServiceDeps struct {
	Orders     OrderService
	OrderStore repositories.OrderRepository
	Sessions   repositories.PaymentSessionRepository
	Gateway    paymentLookup
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type verificationService struct {
	orders     OrderService
	orderStore repositories.OrderRepository
	sessions   repositories.PaymentSessionRepository
	gateway    paymentLookup
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewVerificationService constructs a VerificationService validating required dependencies.
func NewVerificationService(deps VerificationServiceDeps) (VerificationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("verification service: order service is required")
	}
	if deps.OrderStore == nil {
		return nil, errors.New("verification service: order repository is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("verification service: payment session repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("verification service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &verificationService{
		orders:     deps.Orders,
		orderStore: deps.OrderStore,
		sessions:   deps.Sessions,
		gateway:    deps.Gateway,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Verify reconciles the order with the gateway's view of the payment. The
// gateway answer is authoritative; local state only ever advances, so the
// call is safe to repeat and to race against webhooks or other callers.
func (s *verificationService) Verify(ctx context.Context, orderNumber string) (VerificationResult, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return VerificationResult{}, fmt.Errorf("%w: order number is required", ErrVerificationInvalidInput)
	}

	order, err := s.orders.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return VerificationResult{}, err
	}

	// Already settled: succeed without touching the gateway.
	if order.Status == domain.OrderStatusPaid || order.Status == domain.OrderStatusDelivered {
		return VerificationResult{Order: order, GatewayStatus: string(payments.StatusSucceeded)}, nil
	}
	if order.Status == domain.OrderStatusCancelled {
		return VerificationResult{}, fmt.Errorf("%w: order %s is cancelled", ErrVerificationInvalidInput, orderNumber)
	}
	if order.PaymentMethod != domain.PaymentMethodGateway {
		return VerificationResult{}, fmt.Errorf("%w: %s orders are confirmed manually", ErrVerificationInvalidInput, order.PaymentMethod)
	}

	session, err := s.sessions.FindCurrentByOrder(ctx, order.ID)
	if err != nil {
		if isRepoNotFound(err) {
			return VerificationResult{}, fmt.Errorf("%w: order %s has no payment session", ErrVerificationInvalidInput, orderNumber)
		}
		return VerificationResult{}, fmt.Errorf("verification: load payment session: %w", err)
	}

	details, err := s.gateway.LookupPayment(ctx, payments.PaymentContext{
		PreferredProvider: session.Provider,
		Currency:          order.Totals.Currency,
	}, payments.LookupRequest{SessionID: session.GatewaySessionID})
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return VerificationResult{}, fmt.Errorf("%w: %v", ErrVerificationInvalidInput, err)
		}
		// Includes ErrGatewayUnavailable: surface it untouched so callers
		// retry later; no local state changed.
		return VerificationResult{}, fmt.Errorf("verification: gateway lookup: %w", err)
	}

	switch details.Status {
	case payments.StatusSucceeded:
		return s.settleSucceeded(ctx, order, session, details)
	case payments.StatusFailed:
		return s.settleFailed(ctx, order, session)
	default:
		return s.settlePending(ctx, order)
	}
}

// settleSucceeded advances the order to paid through the verifying step.
// A concurrent verifier may win either edge; losers re-read and continue,
// so at most one call ever performs the paid transition and content unlock.
func (s *verificationService) settleSucceeded(ctx context.Context, order Order, session PaymentSession, details payments.PaymentDetails) (VerificationResult, error) {
	transitioned := false

	if order.Status == domain.OrderStatusPendingPayment {
		advanced, moved, err := s.advance(ctx, order, domain.OrderStatusVerifying, domain.OrderStatusPendingPayment)
		if err != nil {
			return VerificationResult{}, err
		}
		order = advanced
		transitioned = transitioned || moved
	}

	unlocked := false
	if order.Status == domain.OrderStatusVerifying {
		advanced, moved, err := s.advance(ctx, order, domain.OrderStatusPaid, domain.OrderStatusVerifying)
		if err != nil {
			return VerificationResult{}, err
		}
		order = advanced
		transitioned = transitioned || moved
		unlocked = moved
	}

	s.recordSessionStatus(ctx, session, domain.PaymentSessionStatusSucceeded)

	s.logger(ctx, "verification.settled", map[string]any{
		"order":        order.ID,
		"session":      session.ID,
		"transitioned": transitioned,
	})

	return VerificationResult{
		Order:         order,
		GatewayStatus: string(details.Status),
		Transitioned:  transitioned,
		Unlocked:      unlocked,
	}, nil
}

// settleFailed records the failure on the order's payment state and the
// session without moving the status machine, then reports the failure.
func (s *verificationService) settleFailed(ctx context.Context, order Order, session PaymentSession) (VerificationResult, error) {
	if order.PaymentStatus != domain.PaymentStatusFailed {
		order.PaymentStatus = domain.PaymentStatusFailed
		order.UpdatedAt = s.now()
		if err := s.orderStore.Update(ctx, order, order.Status); err != nil {
			var repoErr repositories.RepositoryError
			if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
				return VerificationResult{}, fmt.Errorf("verification: record payment failure: %w", err)
			}
			// Lost a race; the other writer owns the order now.
			refreshed, ferr := s.orders.GetOrder(ctx, order.ID)
			if ferr != nil {
				return VerificationResult{}, ferr
			}
			order = refreshed
		}
	}

	s.recordSessionStatus(ctx, session, domain.PaymentSessionStatusFailed)

	return VerificationResult{Order: order, GatewayStatus: string(payments.StatusFailed)},
		fmt.Errorf("%w: order %s", ErrPaymentFailed, order.OrderNumber)
}

// settlePending moves a pending_payment order into verifying and otherwise
// leaves everything alone until the gateway reaches a final state.
func (s *verificationService) settlePending(ctx context.Context, order Order) (VerificationResult, error) {
	transitioned := false
	if order.Status == domain.OrderStatusPendingPayment {
		advanced, moved, err := s.advance(ctx, order, domain.OrderStatusVerifying, domain.OrderStatusPendingPayment)
		if err != nil {
			return VerificationResult{}, err
		}
		order = advanced
		transitioned = moved
	}
	return VerificationResult{
		Order:         order,
		GatewayStatus: string(payments.StatusPending),
		Transitioned:  transitioned,
	}, nil
}

// advance applies one status edge as the system actor. When a concurrent
// caller wins the compare-and-swap, the order is re-read and returned
// unchanged so the caller can continue from the fresher state.
func (s *verificationService) advance(ctx context.Context, order Order, target, expected domain.OrderStatus) (Order, bool, error) {
	advanced, err := s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:        order.ID,
		TargetStatus:   target,
		Actor:          SystemActor,
		ExpectedStatus: expected,
	})
	if err == nil {
		return advanced, true, nil
	}
	if errors.Is(err, ErrOrderIllegalTransition) {
		refreshed, ferr := s.orders.GetOrder(ctx, order.ID)
		if ferr != nil {
			return Order{}, false, ferr
		}
		return refreshed, false, nil
	}
	return Order{}, false, err
}

func (s *verificationService) recordSessionStatus(ctx context.Context, session PaymentSession, status domain.PaymentSessionStatus) {
	if session.ObservedStatus == status {
		return
	}
	session.ObservedStatus = status
	session.UpdatedAt = s.now()
	if err := s.sessions.Update(ctx, session); err != nil {
		s.logger(ctx, "verification.session.update.failed", map[string]any{
			"session": session.ID,
			"error":   err.Error(),
		})
	}
}

var _ VerificationService = (*verificationService)(nil)
