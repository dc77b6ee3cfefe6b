package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/platform/auth"
	"github.com/lumastore/api/internal/platform/storage"
	"github.com/lumastore/api/internal/repositories"
)

const (
	defaultDownloadTTL  = 10 * time.Minute
	libraryListPageSize = 50
)

var (
	// ErrContentInvalidInput indicates the caller supplied invalid parameters.
	ErrContentInvalidInput = errors.New("content: invalid input")
	// ErrContentUnavailable indicates the signing backend is not configured.
	ErrContentUnavailable = errors.New("content: unavailable")
)

// ContentSigner mints signed URLs for stored objects.
type ContentSigner interface {
	SignedURL(ctx context.Context, bucket, object string, opts storage.SignedURLOptions) (storage.SignedURLResult, error)
}

// ContentServiceDeps groups constructor parameters for the content service.
type ContentServiceDeps struct {
	Orders      repositories.OrderRepository
	Signer      ContentSigner
	Bucket      string
	DownloadTTL time.Duration
	Clock       func() time.Time
}

type contentService struct {
	orders      repositories.OrderRepository
	signer      ContentSigner
	bucket      string
	downloadTTL time.Duration
	clock       func() time.Time
}

// NewContentService constructs the content service with the supplied dependencies.
func NewContentService(deps ContentServiceDeps) (ContentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("content service: order repository is required")
	}
	if deps.Signer == nil {
		return nil, errors.New("content service: signer is required")
	}
	if strings.TrimSpace(deps.Bucket) == "" {
		return nil, errors.New("content service: bucket is required")
	}

	ttl := deps.DownloadTTL
	if ttl <= 0 {
		ttl = defaultDownloadTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &contentService{
		orders:      deps.Orders,
		signer:      deps.Signer,
		bucket:      strings.TrimSpace(deps.Bucket),
		downloadTTL: ttl,
		clock:       func() time.Time { return clock().UTC() },
	}, nil
}

// Library lists the user's unlocked deliverables across paid and delivered
// orders, each with a short-lived signed download URL. Download URLs are
// minted fresh on every call and never persisted.
func (s *contentService) Library(ctx context.Context, userID string) ([]LibraryItem, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrContentInvalidInput)
	}

	filter := repositories.OrderListFilter{
		UserID:     uid,
		Status:     purchaseCountingStatuses,
		Pagination: domain.Pagination{PageSize: libraryListPageSize},
	}

	var items []LibraryItem
	for {
		page, err := s.orders.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("content: list orders: %w", err)
		}

		for _, order := range page.Items {
			for _, line := range order.Items {
				if line.DigitalContent == nil || strings.TrimSpace(line.DigitalContent.ObjectPath) == "" {
					continue
				}
				item, err := s.buildLibraryItem(ctx, uid, order, line)
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}
		}

		if page.NextPageToken == "" {
			return items, nil
		}
		filter.Pagination.PageToken = page.NextPageToken
	}
}

func (s *contentService) buildLibraryItem(ctx context.Context, userID string, order domain.Order, line domain.OrderLineItem) (LibraryItem, error) {
	object := strings.TrimSpace(line.DigitalContent.ObjectPath)
	disposition := fmt.Sprintf("attachment; filename=%q", path.Base(object))

	signed, err := s.signer.SignedURL(ctx, s.bucket, object, storage.SignedURLOptions{
		Download: &storage.DownloadOptions{
			ExpiresIn:   s.downloadTTL,
			Disposition: disposition,
			OwnerID:     userID,
			Identity:    &auth.Identity{UID: userID},
		},
	})
	if err != nil {
		return LibraryItem{}, fmt.Errorf("%w: sign download url: %v", ErrContentUnavailable, err)
	}

	return LibraryItem{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		ProductID:   line.ProductID,
		ProductName: line.ProductName,
		DownloadURL: signed.URL,
		ExpiresAt:   signed.ExpiresAt,
		UnlockedAt:  line.DigitalContent.UnlockedAt,
	}, nil
}

var _ ContentService = (*contentService)(nil)
