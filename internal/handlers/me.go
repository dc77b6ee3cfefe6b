package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/lumastore/api/internal/domain"
	"github.com/lumastore/api/internal/platform/auth"
	"github.com/lumastore/api/internal/platform/httpx"
	"github.com/lumastore/api/internal/services"
)

const (
	defaultReviewPageSize = 20
	maxReviewPageSize     = 100
)

// MeHandlers exposes the authenticated customer's library and review listings.
type MeHandlers struct {
	authn   *auth.Authenticator
	content services.ContentService
	reviews services.ReviewService
}

// NewMeHandlers constructs handlers enforcing Firebase authentication before serving user-scoped data.
func NewMeHandlers(authn *auth.Authenticator, content services.ContentService, reviews services.ReviewService) *MeHandlers {
	return &MeHandlers{
		authn:   authn,
		content: content,
		reviews: reviews,
	}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/library", h.getLibrary)
	r.Get("/reviews", h.listMyReviews)
}

type libraryResponse struct {
	Items []libraryItemPayload `json:"items"`
}

type libraryItemPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	DownloadURL string `json:"download_url"`
	ExpiresAt   string `json:"expires_at"`
	UnlockedAt  string `json:"unlocked_at"`
}

type reviewListResponse struct {
	Items         []reviewPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type reviewPayload struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
	OrderID   string `json:"order_id,omitempty"`
	Rating    int    `json:"rating"`
	Title     string `json:"title,omitempty"`
	Body      string `json:"body"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func (h *MeHandlers) getLibrary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.content == nil {
		httpx.WriteError(ctx, w, httpx.NewError("content_service_unavailable", "content service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	items, err := h.content.Library(ctx, identity.UID)
	if err != nil {
		writeContentError(ctx, w, err)
		return
	}

	payload := libraryResponse{Items: make([]libraryItemPayload, 0, len(items))}
	for _, item := range items {
		payload.Items = append(payload.Items, libraryItemPayload{
			OrderID:     strings.TrimSpace(item.OrderID),
			OrderNumber: strings.TrimSpace(item.OrderNumber),
			ProductID:   strings.TrimSpace(item.ProductID),
			ProductName: strings.TrimSpace(item.ProductName),
			DownloadURL: item.DownloadURL,
			ExpiresAt:   formatTime(item.ExpiresAt),
			UnlockedAt:  formatTime(item.UnlockedAt),
		})
	}

	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *MeHandlers) listMyReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultReviewPageSize, maxReviewPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.reviews.ListByUser(ctx, identity.UID, domain.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writeReviewError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildReviewListResponse(page))
}

func buildReviewListResponse(page domain.CursorPage[domain.Review]) reviewListResponse {
	response := reviewListResponse{
		Items:         make([]reviewPayload, 0, len(page.Items)),
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
	for _, review := range page.Items {
		response.Items = append(response.Items, buildReviewPayload(review))
	}
	return response
}

func buildReviewPayload(review domain.Review) reviewPayload {
	return reviewPayload{
		ID:        strings.TrimSpace(review.ID),
		UserID:    strings.TrimSpace(review.UserID),
		ProductID: strings.TrimSpace(review.ProductID),
		OrderID:   strings.TrimSpace(review.OrderID),
		Rating:    review.Rating,
		Title:     strings.TrimSpace(review.Title),
		Body:      review.Body,
		Status:    strings.TrimSpace(string(review.Status)),
		CreatedAt: formatTime(review.CreatedAt),
	}
}

func writeContentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrContentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrContentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("content_service_unavailable", "content service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("content_error", "failed to load library", http.StatusInternalServerError))
	}
}
