package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lumastore/api/internal/platform/auth"
	"github.com/lumastore/api/internal/platform/httpx"
	"github.com/lumastore/api/internal/services"
)

const maxCatalogRequestBody = 64 * 1024

// AdminCatalogHandlers exposes admin catalog management endpoints.
type AdminCatalogHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewAdminCatalogHandlers constructs admin catalog handlers.
func NewAdminCatalogHandlers(authn *auth.Authenticator, catalog services.CatalogService) *AdminCatalogHandlers {
	return &AdminCatalogHandlers{authn: authn, catalog: catalog}
}

// Routes registers admin catalog endpoints. Meant to be composed into the
// /admin group.
func (h *AdminCatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/catalog", func(rt chi.Router) {
		if h.authn != nil {
			rt.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
		}
		rt.Get("/products", h.listProducts)
		rt.Post("/products", h.createProduct)
		rt.Put("/products/{productID}", h.updateProduct)
		rt.Post("/products/{productID}/activate", h.activateProduct)
		rt.Post("/products/{productID}/deactivate", h.deactivateProduct)
	})
}

type adminProductRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	Price          int64  `json:"price"`
	CompareAtPrice *int64 `json:"compare_at_price"`
	Currency       string `json:"currency"`
	Active         *bool  `json:"active"`
	ContentPath    string `json:"content_path"`
}

type adminProductResponse struct {
	Product adminProductPayload `json:"product"`
}

type adminProductPayload struct {
	productPayload
	ContentPath string `json:"content_path,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func (h *AdminCatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultProductPageSize, maxProductPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.ProductListFilter{}
	filter.Pagination.PageSize = pageSize
	filter.Pagination.PageToken = strings.TrimSpace(query.Get("page_token"))

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]adminProductPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildAdminProductPayload(product))
	}

	writeJSONResponse(w, http.StatusOK, struct {
		Items         []adminProductPayload `json:"items"`
		NextPageToken string                `json:"next_page_token,omitempty"`
	}{Items: items, NextPageToken: strings.TrimSpace(page.NextPageToken)})
}

func (h *AdminCatalogHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	h.saveProduct(w, r, "")
}

func (h *AdminCatalogHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	h.saveProduct(w, r, strings.TrimSpace(chi.URLParam(r, "productID")))
}

func (h *AdminCatalogHandlers) saveProduct(w http.ResponseWriter, r *http.Request, productID string) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxCatalogRequestBody)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req adminProductRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	product := services.Product{
		ID:          productID,
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Price:       req.Price,
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		ContentPath: strings.TrimSpace(req.ContentPath),
	}
	if req.CompareAtPrice != nil {
		value := *req.CompareAtPrice
		product.CompareAtPrice = &value
	}
	if req.Active != nil {
		product.Active = *req.Active
	}

	saved, err := h.catalog.UpsertProduct(ctx, adminActor(identity), product)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, adminProductResponse{Product: buildAdminProductPayload(saved)})
}

func (h *AdminCatalogHandlers) activateProduct(w http.ResponseWriter, r *http.Request) {
	h.setProductActive(w, r, true)
}

func (h *AdminCatalogHandlers) deactivateProduct(w http.ResponseWriter, r *http.Request) {
	h.setProductActive(w, r, false)
}

func (h *AdminCatalogHandlers) setProductActive(w http.ResponseWriter, r *http.Request, active bool) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.SetProductActive(ctx, adminActor(identity), productID, active)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, adminProductResponse{Product: buildAdminProductPayload(product)})
}

func buildAdminProductPayload(product services.Product) adminProductPayload {
	return adminProductPayload{
		productPayload: buildProductPayload(product),
		ContentPath:    strings.TrimSpace(product.ContentPath),
		CreatedAt:      formatTime(product.CreatedAt),
	}
}
