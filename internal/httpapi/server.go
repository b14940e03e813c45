// Package httpapi реализует HTTP API корзины и расчёта цен.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
	"github.com/vladislavdragonenkov/shopcart/internal/metrics"
	"github.com/vladislavdragonenkov/shopcart/internal/pricing"
	"github.com/vladislavdragonenkov/shopcart/internal/service/catalog"
)

const defaultRequestTimeout = 15 * time.Second

// CartService: операции корзины, которые обслуживает API.
type CartService interface {
	AddItem(ctx context.Context, in domain.AddItemInput) (domain.CartItem, error)
	UpdateItem(ctx context.Context, itemID string, quantity int, requesterID string) (domain.CartItem, error)
	RemoveItem(ctx context.Context, itemID string, requesterID string) error
	GetCart(ctx context.Context, userID string) (domain.CartView, error)
	Checkout(ctx context.Context, userID string) (domain.CheckoutResult, error)
}

// CatalogService: управление каталогом и правилами цен.
type CatalogService interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateCategory(ctx context.Context, in catalog.CategoryInput) (domain.Category, error)
	UpdateCategory(ctx context.Context, id string, in catalog.CategoryInput) (domain.Category, error)
	DeleteCategory(ctx context.Context, id string) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, in catalog.ProductInput) (domain.Product, error)
	UpdateProduct(ctx context.Context, id string, in catalog.ProductInput) (domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	ListVariants(ctx context.Context, productID string) ([]domain.Variant, error)
	CreateVariant(ctx context.Context, in catalog.VariantInput) (domain.Variant, error)
	UpdateVariant(ctx context.Context, id string, in catalog.VariantInput) (domain.Variant, error)
	DeleteVariant(ctx context.Context, id string) error

	ListRules(ctx context.Context) ([]domain.PricingRule, error)
	CreateRule(ctx context.Context, in catalog.RuleInput) (domain.PricingRule, error)
	UpdateRule(ctx context.Context, id string, in catalog.RuleInput) (domain.PricingRule, error)
	DeleteRule(ctx context.Context, id string) error
}

// Option настраивает Server.
type Option func(*Server)

// WithLogger задаёт logger для access-log и ошибок.
func WithLogger(logger *log.Entry) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics задаёт HTTP-метрики.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithRequestTimeout ограничивает время обработки одного запроса.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.requestTimeout = timeout
		}
	}
}

// WithCatalog монтирует маршруты каталога: /categories, /products, /variants, /pricing-rules.
func WithCatalog(c CatalogService) Option {
	return func(s *Server) {
		s.catalog = c
	}
}

// WithHealth монтирует обработчик health-проверок на GET /health.
func WithHealth(h http.Handler) Option {
	return func(s *Server) {
		s.health = h
	}
}

// Server связывает HTTP-маршруты с сервисом корзины и расчётом цен.
type Server struct {
	carts          CartService
	quoter         pricing.Quoter
	catalog        CatalogService
	validate       *validator.Validate
	logger         *log.Entry
	metrics        *metrics.HTTPMetrics
	health         http.Handler
	requestTimeout time.Duration
}

// NewServer создаёт HTTP API.
func NewServer(carts CartService, quoter pricing.Quoter, opts ...Option) *Server {
	s := &Server{
		carts:          carts,
		quoter:         quoter,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		logger:         log.WithField("component", "http-api"),
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes возвращает chi-роутер со всеми маршрутами API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.accessLog, middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/cart", s.getCart)
		r.Post("/cart/items", s.addItem)
		r.Put("/cart/items/{itemID}", s.updateItem)
		r.Delete("/cart/items/{itemID}", s.removeItem)
		r.Post("/cart/checkout", s.checkout)
	})

	r.Get("/products/{productID}/variants/{variantID}/price", s.getPrice)
	if s.catalog != nil {
		s.mountCatalog(r)
	}
	if s.health != nil {
		r.Method(http.MethodGet, "/health", s.health)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorMessage(w, http.StatusNotFound, string(domain.KindNotFound), "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorMessage(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})
	return r
}
