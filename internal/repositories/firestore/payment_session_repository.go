package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/lumastore/api/internal/domain"
	pfirestore "github.com/lumastore/api/internal/platform/firestore"
	"github.com/lumastore/api/internal/repositories"
)

const paymentSessionsCollection = "paymentSessions"

// PaymentSessionRepository stores gateway session correlations for orders.
type PaymentSessionRepository struct {
	base *pfirestore.BaseRepository[paymentSessionDocument]
}

// NewPaymentSessionRepository constructs a Firestore-backed payment session repository.
func NewPaymentSessionRepository(provider *pfirestore.Provider) (*PaymentSessionRepository, error) {
	if provider == nil {
		return nil, errors.New("payment session repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[paymentSessionDocument](provider, paymentSessionsCollection, nil, nil)
	return &PaymentSessionRepository{base: base}, nil
}

// Insert stores a new payment session. The ID must be unique.
func (r *PaymentSessionRepository) Insert(ctx context.Context, session domain.PaymentSession) error {
	if r == nil || r.base == nil {
		return errors.New("payment session repository not initialised")
	}
	sessionID := strings.TrimSpace(session.ID)
	if sessionID == "" {
		return errors.New("payment session repository: session id is required")
	}
	if strings.TrimSpace(session.OrderID) == "" {
		return errors.New("payment session repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, sessionID)
	if err != nil {
		return err
	}
	doc := encodePaymentSessionDocument(session)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("payment_sessions.insert", err)
	}
	return nil
}

// Update replaces the persisted session state with the provided snapshot.
func (r *PaymentSessionRepository) Update(ctx context.Context, session domain.PaymentSession) error {
	if r == nil || r.base == nil {
		return errors.New("payment session repository not initialised")
	}
	sessionID := strings.TrimSpace(session.ID)
	if sessionID == "" {
		return errors.New("payment session repository: session id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, sessionID)
	if err != nil {
		return err
	}
	doc := encodePaymentSessionDocument(session)
	if _, err := docRef.Set(ctx, doc); err != nil {
		return pfirestore.WrapError("payment_sessions.update", err)
	}
	return nil
}

// FindByID fetches a single payment session.
func (r *PaymentSessionRepository) FindByID(ctx context.Context, sessionID string) (domain.PaymentSession, error) {
	if r == nil || r.base == nil {
		return domain.PaymentSession{}, errors.New("payment session repository not initialised")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.PaymentSession{}, errors.New("payment session repository: session id is required")
	}
	doc, err := r.base.Get(ctx, sessionID)
	if err != nil {
		return domain.PaymentSession{}, err
	}
	return decodePaymentSessionDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindCurrentByOrder returns the most recently created session for the order.
func (r *PaymentSessionRepository) FindCurrentByOrder(ctx context.Context, orderID string) (domain.PaymentSession, error) {
	if r == nil || r.base == nil {
		return domain.PaymentSession{}, errors.New("payment session repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.PaymentSession{}, errors.New("payment session repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc).
			Limit(1)
	})
	if err != nil {
		return domain.PaymentSession{}, err
	}
	if len(docs) == 0 {
		return domain.PaymentSession{}, pfirestore.WrapError("payment_sessions.find_current",
			status.Errorf(codes.NotFound, "no payment session for order %s", orderID))
	}
	doc := docs[0]
	return decodePaymentSessionDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

type paymentSessionDocument struct {
	OrderID          string    `firestore:"orderId"`
	Provider         string    `firestore:"provider"`
	GatewaySessionID string    `firestore:"gatewaySessionId"`
	RedirectURL      string    `firestore:"redirectUrl"`
	ObservedStatus   string    `firestore:"observedStatus"`
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

func encodePaymentSessionDocument(session domain.PaymentSession) paymentSessionDocument {
	return paymentSessionDocument{
		OrderID:          strings.TrimSpace(session.OrderID),
		Provider:         strings.TrimSpace(session.Provider),
		GatewaySessionID: strings.TrimSpace(session.GatewaySessionID),
		RedirectURL:      strings.TrimSpace(session.RedirectURL),
		ObservedStatus:   string(session.ObservedStatus),
		CreatedAt:        session.CreatedAt.UTC(),
		UpdatedAt:        session.UpdatedAt.UTC(),
	}
}

func decodePaymentSessionDocument(id string, doc paymentSessionDocument, createdAt, updatedAt time.Time) domain.PaymentSession {
	return domain.PaymentSession{
		ID:               strings.TrimSpace(id),
		OrderID:          strings.TrimSpace(doc.OrderID),
		Provider:         strings.TrimSpace(doc.Provider),
		GatewaySessionID: strings.TrimSpace(doc.GatewaySessionID),
		RedirectURL:      strings.TrimSpace(doc.RedirectURL),
		ObservedStatus:   domain.PaymentSessionStatus(strings.TrimSpace(doc.ObservedStatus)),
		CreatedAt:        chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:        chooseTime(doc.UpdatedAt, updatedAt),
	}
}

var _ repositories.PaymentSessionRepository = (*PaymentSessionRepository)(nil)
