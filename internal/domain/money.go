package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTotalsMismatch indicates line items and totals disagree.
var ErrTotalsMismatch = errors.New("domain: order totals do not match line items")

// ComputeOrderTotals derives totals from the given line items and discount.
// Totals are always computed server-side; client-supplied totals are never
// trusted. The resulting total is clamped at zero.
func ComputeOrderTotals(currency string, items []OrderLineItem, discount int64) (OrderTotals, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		return OrderTotals{}, errors.New("domain: currency is required")
	}
	if discount < 0 {
		return OrderTotals{}, fmt.Errorf("domain: discount must be non-negative, got %d", discount)
	}

	var subtotal int64
	for i, item := range items {
		if item.Quantity <= 0 {
			return OrderTotals{}, fmt.Errorf("domain: item %d quantity must be positive", i)
		}
		if item.UnitPrice < 0 {
			return OrderTotals{}, fmt.Errorf("domain: item %d unit price must be non-negative", i)
		}
		subtotal += int64(item.Quantity) * item.UnitPrice
	}

	total := subtotal - discount
	if total < 0 {
		total = 0
	}

	return OrderTotals{
		Currency:      code,
		Subtotal:      subtotal,
		DiscountTotal: discount,
		Total:         total,
	}, nil
}

// ValidateOrderTotals checks the stored totals against the stored items.
func ValidateOrderTotals(order Order) error {
	computed, err := ComputeOrderTotals(order.Totals.Currency, order.Items, order.Totals.DiscountTotal)
	if err != nil {
		return err
	}
	if computed.Subtotal != order.Totals.Subtotal || computed.Total != order.Totals.Total {
		return fmt.Errorf("%w: stored subtotal=%d total=%d computed subtotal=%d total=%d",
			ErrTotalsMismatch, order.Totals.Subtotal, order.Totals.Total, computed.Subtotal, computed.Total)
	}
	return nil
}

// ValidateBillingInfo applies boundary validation to a billing snapshot.
// Malformed payloads are rejected here, before any write.
func ValidateBillingInfo(info BillingInfo) error {
	if strings.TrimSpace(info.FullName) == "" {
		return errors.New("domain: billing full name is required")
	}
	email := strings.TrimSpace(info.Email)
	if email == "" {
		return errors.New("domain: billing email is required")
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return fmt.Errorf("domain: billing email %q is malformed", email)
	}
	if info.Version < 0 {
		return fmt.Errorf("domain: billing info version %d is invalid", info.Version)
	}
	return nil
}
