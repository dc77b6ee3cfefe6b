package messaging

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	domain "github.com/lumastore/api/internal/domain"
)

// DeepLinkBuilder renders bank-transfer payment instructions into a
// URL-encoded deep link for an external messaging channel. The link is a
// pure notification side effect; nothing flows back into the engine.
type DeepLinkBuilder struct {
	channelURL string
	textParam  string
	recipient  string
}

// DeepLinkConfig configures the messaging channel target.
type DeepLinkConfig struct {
	// ChannelURL is the share endpoint of the messaging channel,
	// e.g. "https://wa.me/15550001111" or "https://t.me/share/url".
	ChannelURL string
	// TextParam is the query parameter carrying the message body.
	// Defaults to "text".
	TextParam string
	// Recipient optionally names the store account shown in the message.
	Recipient string
}

// NewDeepLinkBuilder constructs a builder for the configured channel.
func NewDeepLinkBuilder(cfg DeepLinkConfig) (*DeepLinkBuilder, error) {
	channel := strings.TrimSpace(cfg.ChannelURL)
	if channel == "" {
		return nil, errors.New("messaging: channel url is required")
	}
	if _, err := url.Parse(channel); err != nil {
		return nil, fmt.Errorf("messaging: invalid channel url: %w", err)
	}
	param := strings.TrimSpace(cfg.TextParam)
	if param == "" {
		param = "text"
	}
	return &DeepLinkBuilder{
		channelURL: channel,
		textParam:  param,
		recipient:  strings.TrimSpace(cfg.Recipient),
	}, nil
}

// BuildOrderLink renders the structured payment message for the order and
// returns the deep link opening it in the external channel.
func (b *DeepLinkBuilder) BuildOrderLink(order domain.Order) (string, error) {
	if b == nil {
		return "", errors.New("messaging: builder is nil")
	}
	if strings.TrimSpace(order.OrderNumber) == "" {
		return "", errors.New("messaging: order number is required")
	}

	target, err := url.Parse(b.channelURL)
	if err != nil {
		return "", fmt.Errorf("messaging: parse channel url: %w", err)
	}

	query := target.Query()
	query.Set(b.textParam, b.renderMessage(order))
	target.RawQuery = query.Encode()
	return target.String(), nil
}

func (b *DeepLinkBuilder) renderMessage(order domain.Order) string {
	var sb strings.Builder
	if b.recipient != "" {
		sb.WriteString(b.recipient)
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("Bank transfer for order %s\n", order.OrderNumber))
	if name := strings.TrimSpace(order.BillingInfo.FullName); name != "" {
		sb.WriteString(fmt.Sprintf("Customer: %s\n", name))
	}
	for _, item := range order.Items {
		sb.WriteString(fmt.Sprintf("- %s x%d @ %s\n", item.ProductName, item.Quantity, formatAmount(item.UnitPrice, order.Totals.Currency)))
	}
	if order.Totals.DiscountTotal > 0 {
		sb.WriteString(fmt.Sprintf("Discount: -%s\n", formatAmount(order.Totals.DiscountTotal, order.Totals.Currency)))
	}
	sb.WriteString(fmt.Sprintf("Total: %s", formatAmount(order.Totals.Total, order.Totals.Currency)))
	return sb.String()
}

func formatAmount(minor int64, currency string) string {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		return fmt.Sprintf("%d", minor)
	}
	if zeroDecimalCurrency(code) {
		return fmt.Sprintf("%d %s", minor, code)
	}
	return fmt.Sprintf("%d.%02d %s", minor/100, minor%100, code)
}

func zeroDecimalCurrency(code string) bool {
	switch code {
	case "JPY", "KRW", "VND":
		return true
	default:
		return false
	}
}
