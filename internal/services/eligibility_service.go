package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/repositories"
)

// purchaseCountingStatuses are the order states that count as a completed
// purchase. Cancelled orders never count, even when previously paid.
var purchaseCountingStatuses = []string{
	string(domain.OrderStatusPaid),
	string(domain.OrderStatusDelivered),
}

const eligibilityPageSize = 50

// ErrEligibilityInvalidInput indicates the eligibility query is malformed.
var ErrEligibilityInvalidInput = errors.New("eligibility: invalid input")

// EligibilityServiceDeps wires the order store backing eligibility checks.
type EligibilityServiceDeps struct {
	Orders repositories.OrderRepository
}

type eligibilityService struct {
	orders repositories.OrderRepository
}

// NewEligibilityService constructs an EligibilityService over the order store.
func NewEligibilityService(deps EligibilityServiceDeps) (EligibilityService, error) {
	if deps.Orders == nil {
		return nil, errors.New("eligibility service: order repository is required")
	}
	return &eligibilityService{orders: deps.Orders}, nil
}

// IsEligible recomputes eligibility from current order state on every call;
// nothing is cached, so a cancellation is reflected immediately.
func (s *eligibilityService) IsEligible(ctx context.Context, userID string, productID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, fmt.Errorf("%w: user id is required", ErrEligibilityInvalidInput)
	}
	productID = strings.TrimSpace(productID)

	filter := repositories.OrderListFilter{
		UserID:     userID,
		Status:     purchaseCountingStatuses,
		Pagination: domain.Pagination{PageSize: eligibilityPageSize},
	}

	for {
		page, err := s.orders.List(ctx, filter)
		if err != nil {
			return false, fmt.Errorf("eligibility: list orders: %w", err)
		}
		for _, order := range page.Items {
			if productID == "" {
				return true, nil
			}
			for _, item := range order.Items {
				if item.ProductID == productID {
					return true, nil
				}
			}
		}
		if page.NextPageToken == "" {
			return false, nil
		}
		filter.Pagination.PageToken = page.NextPageToken
	}
}

var _ EligibilityService = (*eligibilityService)(nil)
