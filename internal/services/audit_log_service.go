package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/repositories"
)

const auditEntryIDPrefix = "aud_"

// ErrAuditInvalidInput indicates the audit record is missing required fields.
var ErrAuditInvalidInput = errors.New("audit: invalid input")

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.OrderAuditRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type auditLogService struct {
	repo  repositories.OrderAuditRepository
	clock func() time.Time
	newID func() string
}

// NewAuditLogService creates an order audit writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
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

	return &auditLogService{
		repo:  deps.Repository,
		clock: func() time.Time { return clock().UTC() },
		newID: idGen,
	}, nil
}

// RecordTransition appends one immutable transition record to the order's
// audit trail.
func (s *auditLogService) RecordTransition(ctx context.Context, entry OrderAuditEntry) error {
	entry.OrderID = strings.TrimSpace(entry.OrderID)
	if entry.OrderID == "" {
		return fmt.Errorf("%w: order id is required", ErrAuditInvalidInput)
	}
	if entry.ToStatus == "" {
		return fmt.Errorf("%w: target status is required", ErrAuditInvalidInput)
	}

	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = auditEntryIDPrefix + s.newID()
	}
	if strings.TrimSpace(entry.ActorID) == "" {
		entry.ActorID = SystemActor.ID
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.clock()
	} else {
		entry.OccurredAt = entry.OccurredAt.UTC()
	}
	entry.Reason = strings.TrimSpace(entry.Reason)

	return s.repo.Append(ctx, entry)
}

// ListByOrder returns the order's transition history, oldest first.
func (s *auditLogService) ListByOrder(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[OrderAuditEntry], error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[OrderAuditEntry]{}, fmt.Errorf("%w: order id is required", ErrAuditInvalidInput)
	}
	return s.repo.ListByOrder(ctx, orderID, pager)
}

var _ AuditLogService = (*auditLogService)(nil)
