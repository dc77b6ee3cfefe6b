package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/lumastore/api/internal/domain"
	pfirestore "github.com/lumastore/api/internal/platform/firestore"
	"github.com/lumastore/api/internal/repositories"
)

const orderAuditCollection = "orderAudit"

// OrderAuditRepository persists immutable order transition records.
type OrderAuditRepository struct {
	base *pfirestore.BaseRepository[orderAuditDocument]
}

// NewOrderAuditRepository constructs a Firestore-backed order audit repository.
func NewOrderAuditRepository(provider *pfirestore.Provider) (*OrderAuditRepository, error) {
	if provider == nil {
		return nil, errors.New("order audit repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderAuditDocument](provider, orderAuditCollection, nil, nil)
	return &OrderAuditRepository{base: base}, nil
}

// Append stores one transition record. Records are never updated or removed.
func (r *OrderAuditRepository) Append(ctx context.Context, entry domain.OrderAuditEntry) error {
	if r == nil || r.base == nil {
		return errors.New("order audit repository not initialised")
	}
	entryID := strings.TrimSpace(entry.ID)
	if entryID == "" {
		return errors.New("order audit repository: entry id is required")
	}
	if strings.TrimSpace(entry.OrderID) == "" {
		return errors.New("order audit repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, entryID)
	if err != nil {
		return err
	}
	doc := encodeOrderAuditDocument(entry)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("order_audit.append", err)
	}
	return nil
}

// ListByOrder returns the order's transition history, oldest first.
func (r *OrderAuditRepository) ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.OrderAuditEntry], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.OrderAuditEntry]{}, errors.New("order audit repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[domain.OrderAuditEntry]{}, errors.New("order audit repository: order id is required")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.OrderAuditEntry]{}, fmt.Errorf("order audit repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("orderId", "==", orderID)
		q = q.OrderBy("occurredAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.OrderAuditEntry]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.OccurredAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.OrderAuditEntry, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderAuditDocument(doc.ID, doc.Data, doc.CreateTime))
	}

	return domain.CursorPage[domain.OrderAuditEntry]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type orderAuditDocument struct {
	OrderID    string    `firestore:"orderId"`
	ActorID    string    `firestore:"actorId"`
	FromStatus string    `firestore:"fromStatus,omitempty"`
	ToStatus   string    `firestore:"toStatus"`
	Reason     string    `firestore:"reason,omitempty"`
	OccurredAt time.Time `firestore:"occurredAt"`
}

func encodeOrderAuditDocument(entry domain.OrderAuditEntry) orderAuditDocument {
	return orderAuditDocument{
		OrderID:    strings.TrimSpace(entry.OrderID),
		ActorID:    strings.TrimSpace(entry.ActorID),
		FromStatus: string(entry.FromStatus),
		ToStatus:   string(entry.ToStatus),
		Reason:     strings.TrimSpace(entry.Reason),
		OccurredAt: entry.OccurredAt.UTC(),
	}
}

func decodeOrderAuditDocument(id string, doc orderAuditDocument, createdAt time.Time) domain.OrderAuditEntry {
	return domain.OrderAuditEntry{
		ID:         strings.TrimSpace(id),
		OrderID:    strings.TrimSpace(doc.OrderID),
		ActorID:    strings.TrimSpace(doc.ActorID),
		FromStatus: domain.OrderStatus(strings.TrimSpace(doc.FromStatus)),
		ToStatus:   domain.OrderStatus(strings.TrimSpace(doc.ToStatus)),
		Reason:     strings.TrimSpace(doc.Reason),
		OccurredAt: chooseTime(doc.OccurredAt, createdAt),
	}
}

var _ repositories.OrderAuditRepository = (*OrderAuditRepository)(nil)
