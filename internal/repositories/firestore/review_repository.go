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

const reviewsCollection = "reviews"

// ReviewRepository stores product reviews.
type ReviewRepository struct {
	base *pfirestore.BaseRepository[reviewDocument]
}

// NewReviewRepository constructs a Firestore-backed review repository.
func NewReviewRepository(provider *pfirestore.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[reviewDocument](provider, reviewsCollection, nil, nil)
	return &ReviewRepository{base: base}, nil
}

// Insert stores a new review and returns the persisted state.
func (r *ReviewRepository) Insert(ctx context.Context, review domain.Review) (domain.Review, error) {
	if r == nil || r.base == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	reviewID := strings.TrimSpace(review.ID)
	if reviewID == "" {
		return domain.Review{}, errors.New("review repository: review id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, reviewID)
	if err != nil {
		return domain.Review{}, err
	}
	doc := encodeReviewDocument(review)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return domain.Review{}, pfirestore.WrapError("reviews.insert", err)
	}
	return decodeReviewDocument(reviewID, doc, doc.CreatedAt, doc.UpdatedAt), nil
}

// FindByID fetches a single review.
func (r *ReviewRepository) FindByID(ctx context.Context, reviewID string) (domain.Review, error) {
	if r == nil || r.base == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	reviewID = strings.TrimSpace(reviewID)
	if reviewID == "" {
		return domain.Review{}, errors.New("review repository: review id is required")
	}
	doc, err := r.base.Get(ctx, reviewID)
	if err != nil {
		return domain.Review{}, err
	}
	return decodeReviewDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindByUserProduct returns the user's review of the product, if any.
func (r *ReviewRepository) FindByUserProduct(ctx context.Context, userID string, productID string) (domain.Review, error) {
	if r == nil || r.base == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	productID = strings.TrimSpace(productID)
	if userID == "" || productID == "" {
		return domain.Review{}, errors.New("review repository: user id and product id are required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).
			Where("productId", "==", productID).
			Limit(1)
	})
	if err != nil {
		return domain.Review{}, err
	}
	if len(docs) == 0 {
		return domain.Review{}, pfirestore.WrapError("reviews.find_by_user_product",
			status.Errorf(codes.NotFound, "no review by user %s for product %s", userID, productID))
	}
	doc := docs[0]
	return decodeReviewDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// ListByUser returns the user's reviews, most recent first.
func (r *ReviewRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Review]{}, errors.New("review repository: user id is required")
	}
	return r.list(ctx, "userId", userID, pager)
}

// ListByProduct returns the product's reviews, most recent first.
func (r *ReviewRepository) ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[domain.Review]{}, errors.New("review repository: product id is required")
	}
	return r.list(ctx, "productId", productID, pager)
}

func (r *ReviewRepository) list(ctx context.Context, field, value string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Review]{}, errors.New("review repository not initialised")
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
			return domain.CursorPage[domain.Review]{}, fmt.Errorf("review repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where(field, "==", value)
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Review]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Review, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeReviewDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Review]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type reviewDocument struct {
	UserID    string    `firestore:"userId"`
	ProductID string    `firestore:"productId"`
	OrderID   string    `firestore:"orderId,omitempty"`
	Rating    int       `firestore:"rating"`
	Title     string    `firestore:"title,omitempty"`
	Body      string    `firestore:"body"`
	Status    string    `firestore:"status"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func encodeReviewDocument(review domain.Review) reviewDocument {
	return reviewDocument{
		UserID:    strings.TrimSpace(review.UserID),
		ProductID: strings.TrimSpace(review.ProductID),
		OrderID:   strings.TrimSpace(review.OrderID),
		Rating:    review.Rating,
		Title:     strings.TrimSpace(review.Title),
		Body:      review.Body,
		Status:    string(review.Status),
		CreatedAt: review.CreatedAt.UTC(),
		UpdatedAt: review.UpdatedAt.UTC(),
	}
}

func decodeReviewDocument(id string, doc reviewDocument, createdAt, updatedAt time.Time) domain.Review {
	return domain.Review{
		ID:        strings.TrimSpace(id),
		UserID:    strings.TrimSpace(doc.UserID),
		ProductID: strings.TrimSpace(doc.ProductID),
		OrderID:   strings.TrimSpace(doc.OrderID),
		Rating:    doc.Rating,
		Title:     strings.TrimSpace(doc.Title),
		Body:      doc.Body,
		Status:    domain.ReviewStatus(strings.TrimSpace(doc.Status)),
		CreatedAt: chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt: chooseTime(doc.UpdatedAt, updatedAt),
	}
}

var _ repositories.ReviewRepository = (*ReviewRepository)(nil)
