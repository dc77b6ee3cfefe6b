package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/lumastore/api/internal/domain"
	pfirestore "github.com/lumastore/api/internal/platform/firestore"
	"github.com/lumastore/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order documents and serves the lifecycle queries.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{base: base, provider: provider}, nil
}

// Insert stores a new order document. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order state. When expectedStatus is non-empty
// the write runs inside a transaction that re-reads the stored status and
// fails with a conflict if another writer moved the order first.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedStatus domain.OrderStatus) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)

	if expectedStatus == "" {
		if _, err := docRef.Set(ctx, doc); err != nil {
			return pfirestore.WrapError("orders.update", err)
		}
		return nil
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			return pfirestore.WrapError("orders.update", err)
		}
		raw, err := snap.DataAt("status")
		if err != nil {
			return pfirestore.WrapError("orders.update", err)
		}
		current, _ := raw.(string)
		if current != string(expectedStatus) {
			return pfirestore.WrapError("orders.update", status.Errorf(codes.FailedPrecondition,
				"order %s status is %q, expected %q", orderID, current, expectedStatus))
		}
		if err := tx.Set(docRef, doc); err != nil {
			return pfirestore.WrapError("orders.update", err)
		}
		return nil
	})
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindByNumber locates an order by its human-facing order number.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", orderNumber).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_number",
			status.Errorf(codes.NotFound, "order %s not found", orderNumber))
	}
	doc := docs[0]
	return decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns orders matching the filter, most recently placed first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	userID := strings.TrimSpace(filter.UserID)
	statusFilters := normaliseStatuses(filter.Status)
	placedBefore := normalizeTimePointer(filter.PlacedBefore)
	placedFrom := normalizeTimePointer(filter.DateRange.From)
	placedTo := normalizeTimePointer(filter.DateRange.To)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("userId", "==", userID)
		}

		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statusFilters) > 10 {
				statusFilters = statusFilters[:10]
			}
			q = q.Where("status", "in", statusFilters)
		}

		if placedBefore != nil {
			q = q.Where("placedAt", "<", *placedBefore)
		}
		if placedFrom != nil {
			q = q.Where("placedAt", ">=", *placedFrom)
		}
		if placedTo != nil {
			q = q.Where("placedAt", "<=", *placedTo)
		}

		q = q.OrderBy("placedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.PlacedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type orderDocument struct {
	OrderNumber   string                  `firestore:"orderNumber"`
	UserID        string                  `firestore:"userId"`
	Status        string                  `firestore:"status"`
	PaymentMethod string                  `firestore:"paymentMethod"`
	PaymentStatus string                  `firestore:"paymentStatus"`
	Totals        orderTotalsDocument     `firestore:"totals"`
	Items         []orderLineItemDocument `firestore:"items"`
	Billing       billingInfoDocument     `firestore:"billing"`
	CustomerNotes string                  `firestore:"customerNotes,omitempty"`
	AdminNotes    string                  `firestore:"adminNotes,omitempty"`
	PlacedAt      time.Time               `firestore:"placedAt"`
	RoutedAt      *time.Time              `firestore:"routedAt,omitempty"`
	PaidAt        *time.Time              `firestore:"paidAt,omitempty"`
	DeliveredAt   *time.Time              `firestore:"deliveredAt,omitempty"`
	CancelledAt   *time.Time              `firestore:"cancelledAt,omitempty"`
	CancelReason  string                  `firestore:"cancelReason,omitempty"`
	Metadata      map[string]any          `firestore:"metadata,omitempty"`
	CreatedAt     time.Time               `firestore:"createdAt"`
	UpdatedAt     time.Time               `firestore:"updatedAt"`
}

type orderTotalsDocument struct {
	Currency      string `firestore:"currency"`
	Subtotal      int64  `firestore:"subtotal"`
	DiscountTotal int64  `firestore:"discountTotal"`
	Total         int64  `firestore:"total"`
}

type orderLineItemDocument struct {
	ID          string                  `firestore:"id"`
	ProductID   string                  `firestore:"productId"`
	ProductName string                  `firestore:"productName"`
	Quantity    int                     `firestore:"quantity"`
	UnitPrice   int64                   `firestore:"unitPrice"`
	Currency    string                  `firestore:"currency"`
	Content     *digitalContentDocument `firestore:"content,omitempty"`
}

type digitalContentDocument struct {
	ObjectPath string    `firestore:"objectPath"`
	UnlockedAt time.Time `firestore:"unlockedAt"`
}

type billingInfoDocument struct {
	Version      int            `firestore:"version"`
	FullName     string         `firestore:"fullName"`
	Email        string         `firestore:"email"`
	Phone        string         `firestore:"phone,omitempty"`
	AddressLine1 string         `firestore:"addressLine1,omitempty"`
	AddressLine2 string         `firestore:"addressLine2,omitempty"`
	City         string         `firestore:"city,omitempty"`
	PostalCode   string         `firestore:"postalCode,omitempty"`
	Country      string         `firestore:"country,omitempty"`
	Metadata     map[string]any `firestore:"metadata,omitempty"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	items := make([]orderLineItemDocument, 0, len(order.Items))
	for _, line := range order.Items {
		doc := orderLineItemDocument{
			ID:          strings.TrimSpace(line.ID),
			ProductID:   strings.TrimSpace(line.ProductID),
			ProductName: strings.TrimSpace(line.ProductName),
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Currency:    strings.ToUpper(strings.TrimSpace(line.Currency)),
		}
		if line.DigitalContent != nil && strings.TrimSpace(line.DigitalContent.ObjectPath) != "" {
			doc.Content = &digitalContentDocument{
				ObjectPath: strings.TrimSpace(line.DigitalContent.ObjectPath),
				UnlockedAt: line.DigitalContent.UnlockedAt.UTC(),
			}
		}
		items = append(items, doc)
	}

	cancelReason := ""
	if order.CancelReason != nil {
		cancelReason = strings.TrimSpace(*order.CancelReason)
	}

	return orderDocument{
		OrderNumber:   strings.TrimSpace(order.OrderNumber),
		UserID:        strings.TrimSpace(order.UserID),
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(order.PaymentStatus),
		Totals: orderTotalsDocument{
			Currency:      strings.ToUpper(strings.TrimSpace(order.Totals.Currency)),
			Subtotal:      order.Totals.Subtotal,
			DiscountTotal: order.Totals.DiscountTotal,
			Total:         order.Totals.Total,
		},
		Items:         items,
		Billing:       encodeBillingInfo(order.BillingInfo),
		CustomerNotes: strings.TrimSpace(order.CustomerNotes),
		AdminNotes:    strings.TrimSpace(order.AdminNotes),
		PlacedAt:      order.PlacedAt.UTC(),
		RoutedAt:      normalizeTimePointer(order.RoutedAt),
		PaidAt:        normalizeTimePointer(order.PaidAt),
		DeliveredAt:   normalizeTimePointer(order.DeliveredAt),
		CancelledAt:   normalizeTimePointer(order.CancelledAt),
		CancelReason:  cancelReason,
		Metadata:      cloneAnyMap(order.Metadata),
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}
}

func encodeBillingInfo(billing domain.BillingInfo) billingInfoDocument {
	return billingInfoDocument{
		Version:      billing.Version,
		FullName:     strings.TrimSpace(billing.FullName),
		Email:        strings.TrimSpace(billing.Email),
		Phone:        strings.TrimSpace(billing.Phone),
		AddressLine1: strings.TrimSpace(billing.AddressLine1),
		AddressLine2: strings.TrimSpace(billing.AddressLine2),
		City:         strings.TrimSpace(billing.City),
		PostalCode:   strings.TrimSpace(billing.PostalCode),
		Country:      strings.ToUpper(strings.TrimSpace(billing.Country)),
		Metadata:     cloneAnyMap(billing.Metadata),
	}
}

func decodeOrderDocument(id string, doc orderDocument, createdAt, updatedAt time.Time) domain.Order {
	items := make([]domain.OrderLineItem, 0, len(doc.Items))
	for _, line := range doc.Items {
		item := domain.OrderLineItem{
			ID:          strings.TrimSpace(line.ID),
			ProductID:   strings.TrimSpace(line.ProductID),
			ProductName: strings.TrimSpace(line.ProductName),
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Currency:    strings.ToUpper(strings.TrimSpace(line.Currency)),
		}
		if line.Content != nil && strings.TrimSpace(line.Content.ObjectPath) != "" {
			item.DigitalContent = &domain.DigitalContent{
				ObjectPath: strings.TrimSpace(line.Content.ObjectPath),
				UnlockedAt: line.Content.UnlockedAt.UTC(),
			}
		}
		items = append(items, item)
	}

	var cancelReason *string
	if trimmed := strings.TrimSpace(doc.CancelReason); trimmed != "" {
		cancelReason = &trimmed
	}

	return domain.Order{
		ID:            strings.TrimSpace(id),
		OrderNumber:   strings.TrimSpace(doc.OrderNumber),
		UserID:        strings.TrimSpace(doc.UserID),
		Status:        domain.OrderStatus(strings.TrimSpace(doc.Status)),
		PaymentMethod: domain.PaymentMethod(strings.TrimSpace(doc.PaymentMethod)),
		PaymentStatus: domain.PaymentStatus(strings.TrimSpace(doc.PaymentStatus)),
		Totals: domain.OrderTotals{
			Currency:      strings.ToUpper(strings.TrimSpace(doc.Totals.Currency)),
			Subtotal:      doc.Totals.Subtotal,
			DiscountTotal: doc.Totals.DiscountTotal,
			Total:         doc.Totals.Total,
		},
		Items:         items,
		BillingInfo:   decodeBillingInfo(doc.Billing),
		CustomerNotes: strings.TrimSpace(doc.CustomerNotes),
		AdminNotes:    strings.TrimSpace(doc.AdminNotes),
		PlacedAt:      chooseTime(doc.PlacedAt, createdAt),
		RoutedAt:      normalizeTimePointer(doc.RoutedAt),
		PaidAt:        normalizeTimePointer(doc.PaidAt),
		DeliveredAt:   normalizeTimePointer(doc.DeliveredAt),
		CancelledAt:   normalizeTimePointer(doc.CancelledAt),
		CancelReason:  cancelReason,
		Metadata:      cloneAnyMap(doc.Metadata),
		CreatedAt:     chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:     chooseTime(doc.UpdatedAt, updatedAt),
	}
}

func decodeBillingInfo(doc billingInfoDocument) domain.BillingInfo {
	return domain.BillingInfo{
		Version:      doc.Version,
		FullName:     strings.TrimSpace(doc.FullName),
		Email:        strings.TrimSpace(doc.Email),
		Phone:        strings.TrimSpace(doc.Phone),
		AddressLine1: strings.TrimSpace(doc.AddressLine1),
		AddressLine2: strings.TrimSpace(doc.AddressLine2),
		City:         strings.TrimSpace(doc.City),
		PostalCode:   strings.TrimSpace(doc.PostalCode),
		Country:      strings.ToUpper(strings.TrimSpace(doc.Country)),
		Metadata:     cloneAnyMap(doc.Metadata),
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
