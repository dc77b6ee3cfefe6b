package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/repositories"
)

func TestEligibilityCountsPaidAndDelivered(t *testing.T) {
	ctx := context.Background()
	var requested repositories.OrderListFilter
	repo := &stubOrderRepo{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			requested = filter
			return domain.CursorPage[domain.Order]{Items: []domain.Order{
				{ID: "ord_1", Status: domain.OrderStatusPaid, Items: []domain.OrderLineItem{{ProductID: "prod-1"}}},
			}}, nil
		},
	}
	svc, err := NewEligibilityService(EligibilityServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("new eligibility service: %v", err)
	}

	eligible, err := svc.IsEligible(ctx, "user-1", "prod-1")
	if err != nil {
		t.Fatalf("is eligible: %v", err)
	}
	if !eligible {
		t.Fatalf("expected eligible for paid order")
	}
	if len(requested.Status) != 2 {
		t.Fatalf("expected paid and delivered filter got %#v", requested.Status)
	}
	for _, s := range requested.Status {
		if s != string(domain.OrderStatusPaid) && s != string(domain.OrderStatusDelivered) {
			t.Fatalf("unexpected counting status %s", s)
		}
	}
}

func TestEligibilityIgnoresOtherProducts(t *testing.T) {
	ctx := context.Background()
	repo := &stubOrderRepo{
		listFn: func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			return domain.CursorPage[domain.Order]{Items: []domain.Order{
				{ID: "ord_1", Status: domain.OrderStatusDelivered, Items: []domain.OrderLineItem{{ProductID: "prod-other"}}},
			}}, nil
		},
	}
	svc, err := NewEligibilityService(EligibilityServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("new eligibility service: %v", err)
	}

	eligible, err := svc.IsEligible(ctx, "user-1", "prod-1")
	if err != nil {
		t.Fatalf("is eligible: %v", err)
	}
	if eligible {
		t.Fatalf("expected not eligible when the product was never purchased")
	}
}

func TestEligibilityAnyProduct(t *testing.T) {
	ctx := context.Background()
	repo := &stubOrderRepo{
		listFn: func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			return domain.CursorPage[domain.Order]{Items: []domain.Order{
				{ID: "ord_1", Status: domain.OrderStatusDelivered},
			}}, nil
		},
	}
	svc, err := NewEligibilityService(EligibilityServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("new eligibility service: %v", err)
	}

	eligible, err := svc.IsEligible(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("is eligible: %v", err)
	}
	if !eligible {
		t.Fatalf("expected eligible with any completed purchase")
	}
}

func TestEligibilityFollowsPagination(t *testing.T) {
	ctx := context.Background()
	calls := 0
	repo := &stubOrderRepo{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			calls++
			if calls == 1 {
				if filter.Pagination.PageToken != "" {
					t.Fatalf("first page must have no token")
				}
				return domain.CursorPage[domain.Order]{
					Items:         []domain.Order{{ID: "ord_1", Status: domain.OrderStatusPaid, Items: []domain.OrderLineItem{{ProductID: "prod-x"}}}},
					NextPageToken: "page-2",
				}, nil
			}
			if filter.Pagination.PageToken != "page-2" {
				t.Fatalf("expected continuation token got %q", filter.Pagination.PageToken)
			}
			return domain.CursorPage[domain.Order]{Items: []domain.Order{
				{ID: "ord_2", Status: domain.OrderStatusPaid, Items: []domain.OrderLineItem{{ProductID: "prod-1"}}},
			}}, nil
		},
	}
	svc, err := NewEligibilityService(EligibilityServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("new eligibility service: %v", err)
	}

	eligible, err := svc.IsEligible(ctx, "user-1", "prod-1")
	if err != nil {
		t.Fatalf("is eligible: %v", err)
	}
	if !eligible || calls != 2 {
		t.Fatalf("expected match on second page, eligible=%v calls=%d", eligible, calls)
	}
}

func TestEligibilityRequiresUser(t *testing.T) {
	svc, err := NewEligibilityService(EligibilityServiceDeps{Orders: &stubOrderRepo{}})
	if err != nil {
		t.Fatalf("new eligibility service: %v", err)
	}
	if _, err := svc.IsEligible(context.Background(), "  ", "prod-1"); !errors.Is(err, ErrEligibilityInvalidInput) {
		t.Fatalf("expected ErrEligibilityInvalidInput got %v", err)
	}
}
