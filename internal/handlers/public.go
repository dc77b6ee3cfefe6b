package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lumastore/api/internal/platform/httpx"
	"github.com/lumastore/api/internal/services"
)

const (
	defaultProductPageSize = 24
	maxProductPageSize     = 100
	productCacheControl    = "public, max-age=300"
)

// PublicHandlers exposes unauthenticated catalog endpoints.
type PublicHandlers struct {
	catalog services.CatalogService
}

// PublicOption customises construction of PublicHandlers.
type PublicOption func(*PublicHandlers)

// WithPublicCatalogService injects the catalog service dependency.
func WithPublicCatalogService(svc services.CatalogService) PublicOption {
	return func(h *PublicHandlers) {
		h.catalog = svc
	}
}

// NewPublicHandlers constructs handlers for public catalog endpoints.
func NewPublicHandlers(opts ...PublicOption) *PublicHandlers {
	handler := &PublicHandlers{}
	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}
	return handler
}

// Routes registers the /public endpoints.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Get("/products/{productID}", h.getProduct)
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Price          int64  `json:"price"`
	CompareAtPrice *int64 `json:"compare_at_price,omitempty"`
	Currency       string `json:"currency"`
	Active         bool   `json:"active"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

func (h *PublicHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultProductPageSize, maxProductPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.ProductListFilter{
		OnlyActive: true,
	}
	filter.Pagination.PageSize = pageSize
	filter.Pagination.PageToken = strings.TrimSpace(query.Get("page_token"))

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	response := productListResponse{
		Items:         make([]productPayload, 0, len(page.Items)),
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
	for _, product := range page.Items {
		response.Items = append(response.Items, buildProductPayload(product))
	}

	w.Header().Set("Cache-Control", productCacheControl)
	writeJSONResponse(w, http.StatusOK, response)
}

func (h *PublicHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	// Inactive products stay invisible on the public surface.
	if !product.Active {
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
		return
	}

	w.Header().Set("Cache-Control", productCacheControl)
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func buildProductPayload(product services.Product) productPayload {
	payload := productPayload{
		ID:          strings.TrimSpace(product.ID),
		Name:        strings.TrimSpace(product.Name),
		Description: strings.TrimSpace(product.Description),
		Price:       product.Price,
		Currency:    strings.ToUpper(strings.TrimSpace(product.Currency)),
		Active:      product.Active,
		UpdatedAt:   formatTime(product.UpdatedAt),
	}
	if product.CompareAtPrice != nil {
		value := *product.CompareAtPrice
		payload.CompareAtPrice = &value
	}
	return payload
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "administrator role required", http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}
