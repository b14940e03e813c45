package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
	"github.com/vladislavdragonenkov/shopcart/internal/service/catalog"
)

type categoryResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parentId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type catalogProductResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	BasePrice   string               `json:"basePrice"`
	Status      domain.ProductStatus `json:"status"`
	CategoryID  string               `json:"categoryId,omitempty"`
	CreatedAt   time.Time            `json:"createdAt"`
}

type catalogVariantResponse struct {
	ID               string `json:"id"`
	ProductID        string `json:"productId"`
	SKU              string `json:"sku"`
	StockQuantity    int    `json:"stockQuantity"`
	ReservedQuantity int    `json:"reservedQuantity"`
	Available        int    `json:"available"`
	PriceAdjustment  string `json:"priceAdjustment"`
}

type ruleResponse struct {
	ID            string                `json:"id"`
	Type          domain.RuleType       `json:"type"`
	Conditions    domain.RuleConditions `json:"conditions"`
	DiscountType  domain.DiscountType   `json:"discountType"`
	DiscountValue string                `json:"discountValue"`
	Priority      int                   `json:"priority"`
	IsActive      bool                  `json:"isActive"`
}

func (s *Server) mountCatalog(r chi.Router) {
	r.Route("/categories", func(r chi.Router) {
		r.Get("/", s.listCategories)
		r.Post("/", s.createCategory)
		r.Put("/{categoryID}", s.updateCategory)
		r.Delete("/{categoryID}", s.deleteCategory)
	})
	r.Get("/products", s.listProducts)
	r.Post("/products", s.createProduct)
	r.Put("/products/{productID}", s.updateProduct)
	r.Delete("/products/{productID}", s.deleteProduct)
	r.Route("/variants", func(r chi.Router) {
		r.Get("/", s.listVariants)
		r.Post("/", s.createVariant)
		r.Put("/{variantID}", s.updateVariant)
		r.Delete("/{variantID}", s.deleteVariant)
	})
	r.Route("/pricing-rules", func(r chi.Router) {
		r.Get("/", s.listRules)
		r.Post("/", s.createRule)
		r.Put("/{ruleID}", s.updateRule)
		r.Delete("/{ruleID}", s.deleteRule)
	})
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.catalog.ListCategories(r.Context())
	respondList(w, s, err, categories, toCategory)
}

func (s *Server) createCategory(w http.ResponseWriter, r *http.Request) {
	var req catalog.CategoryInput
	if !s.decode(w, r, &req) {
		return
	}
	category, err := s.catalog.CreateCategory(r.Context(), req)
	respond(w, s, http.StatusCreated, err, category, toCategory)
}

func (s *Server) updateCategory(w http.ResponseWriter, r *http.Request) {
	var req catalog.CategoryInput
	if !s.decode(w, r, &req) {
		return
	}
	category, err := s.catalog.UpdateCategory(r.Context(), chi.URLParam(r, "categoryID"), req)
	respond(w, s, http.StatusOK, err, category, toCategory)
}

func (s *Server) deleteCategory(w http.ResponseWriter, r *http.Request) {
	s.respondDeleted(w, s.catalog.DeleteCategory(r.Context(), chi.URLParam(r, "categoryID")))
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.catalog.ListProducts(r.Context())
	respondList(w, s, err, products, toCatalogProduct)
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var req catalog.ProductInput
	if !s.decode(w, r, &req) {
		return
	}
	product, err := s.catalog.CreateProduct(r.Context(), req)
	respond(w, s, http.StatusCreated, err, product, toCatalogProduct)
}

func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req catalog.ProductInput
	if !s.decode(w, r, &req) {
		return
	}
	product, err := s.catalog.UpdateProduct(r.Context(), chi.URLParam(r, "productID"), req)
	respond(w, s, http.StatusOK, err, product, toCatalogProduct)
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	s.respondDeleted(w, s.catalog.DeleteProduct(r.Context(), chi.URLParam(r, "productID")))
}

// listVariants фильтрует по query productId, если он задан.
func (s *Server) listVariants(w http.ResponseWriter, r *http.Request) {
	variants, err := s.catalog.ListVariants(r.Context(), r.URL.Query().Get("productId"))
	respondList(w, s, err, variants, toCatalogVariant)
}

func (s *Server) createVariant(w http.ResponseWriter, r *http.Request) {
	var req catalog.VariantInput
	if !s.decode(w, r, &req) {
		return
	}
	variant, err := s.catalog.CreateVariant(r.Context(), req)
	respond(w, s, http.StatusCreated, err, variant, toCatalogVariant)
}

func (s *Server) updateVariant(w http.ResponseWriter, r *http.Request) {
	var req catalog.VariantInput
	if !s.decode(w, r, &req) {
		return
	}
	variant, err := s.catalog.UpdateVariant(r.Context(), chi.URLParam(r, "variantID"), req)
	respond(w, s, http.StatusOK, err, variant, toCatalogVariant)
}

func (s *Server) deleteVariant(w http.ResponseWriter, r *http.Request) {
	s.respondDeleted(w, s.catalog.DeleteVariant(r.Context(), chi.URLParam(r, "variantID")))
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.catalog.ListRules(r.Context())
	respondList(w, s, err, rules, toRule)
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var req catalog.RuleInput
	if !s.decode(w, r, &req) {
		return
	}
	rule, err := s.catalog.CreateRule(r.Context(), req)
	respond(w, s, http.StatusCreated, err, rule, toRule)
}

func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	var req catalog.RuleInput
	if !s.decode(w, r, &req) {
		return
	}
	rule, err := s.catalog.UpdateRule(r.Context(), chi.URLParam(r, "ruleID"), req)
	respond(w, s, http.StatusOK, err, rule, toRule)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	s.respondDeleted(w, s.catalog.DeleteRule(r.Context(), chi.URLParam(r, "ruleID")))
}

func (s *Server) respondDeleted(w http.ResponseWriter, err error) {
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respond[T, R any](w http.ResponseWriter, s *Server, status int, err error, v T, convert func(T) R) {
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, status, convert(v))
}

func respondList[T, R any](w http.ResponseWriter, s *Server, err error, items []T, convert func(T) R) {
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	out := make([]R, 0, len(items))
	for _, item := range items {
		out = append(out, convert(item))
	}
	writeJSON(w, http.StatusOK, out)
}

func toCategory(c domain.Category) categoryResponse {
	return categoryResponse{ID: c.ID, Name: c.Name, ParentID: c.ParentID, CreatedAt: c.CreatedAt}
}

func toCatalogProduct(p domain.Product) catalogProductResponse {
	return catalogProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		BasePrice:   money(p.BasePrice),
		Status:      p.Status,
		CategoryID:  p.CategoryID,
		CreatedAt:   p.CreatedAt,
	}
}

func toCatalogVariant(v domain.Variant) catalogVariantResponse {
	return catalogVariantResponse{
		ID:               v.ID,
		ProductID:        v.ProductID,
		SKU:              v.SKU,
		StockQuantity:    v.StockQuantity,
		ReservedQuantity: v.ReservedQuantity,
		Available:        v.Available(),
		PriceAdjustment:  money(v.PriceAdjustment),
	}
}

func toRule(r domain.PricingRule) ruleResponse {
	return ruleResponse{
		ID:            r.ID,
		Type:          r.Type,
		Conditions:    r.Conditions,
		DiscountType:  r.DiscountType,
		DiscountValue: r.DiscountValue.String(),
		Priority:      r.Priority,
		IsActive:      r.IsActive,
	}
}
