// Package catalog управляет справочниками каталога (категории, товары, варианты)
// и правилами цен. Остатки и резервы вариантов меняет только сервис корзины;
// здесь задаётся физический остаток, который не может стать меньше резерва.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// CategoryInput: поля категории, задаваемые клиентом.
type CategoryInput struct {
	ID       string `json:"id,omitempty" validate:"omitempty,max=64"`
	Name     string `json:"name" validate:"required,max=200"`
	ParentID string `json:"parentId,omitempty" validate:"omitempty,max=64"`
}

// ProductInput: поля товара, задаваемые клиентом.
type ProductInput struct {
	ID          string               `json:"id,omitempty" validate:"omitempty,max=64"`
	Name        string               `json:"name" validate:"required,max=200"`
	Description string               `json:"description,omitempty" validate:"max=4000"`
	BasePrice   decimal.Decimal      `json:"basePrice"`
	Status      domain.ProductStatus `json:"status,omitempty" validate:"omitempty,oneof=ACTIVE INACTIVE"`
	CategoryID  string               `json:"categoryId,omitempty" validate:"omitempty,max=64"`
}

// VariantInput: поля варианта, задаваемые клиентом. Резерв не задаётся.
type VariantInput struct {
	ID              string          `json:"id,omitempty" validate:"omitempty,max=64"`
	ProductID       string          `json:"productId" validate:"required,max=64"`
	SKU             string          `json:"sku" validate:"required,max=64"`
	StockQuantity   int             `json:"stockQuantity" validate:"min=0"`
	PriceAdjustment decimal.Decimal `json:"priceAdjustment"`
}

// RuleInput: правило цены. IsActive по умолчанию true.
type RuleInput struct {
	ID            string                `json:"id,omitempty" validate:"omitempty,max=64"`
	Type          domain.RuleType       `json:"type" validate:"required,oneof=SEASONAL BULK USER_TIER PROMO_CODE"`
	Conditions    domain.RuleConditions `json:"conditions"`
	DiscountType  domain.DiscountType   `json:"discountType" validate:"required,oneof=PERCENTAGE FIXED_AMOUNT"`
	DiscountValue decimal.Decimal       `json:"discountValue"`
	Priority      int                   `json:"priority"`
	IsActive      *bool                 `json:"isActive,omitempty"`
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock задаёт источник времени для CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator задаёт генератор id для записей без явного id.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// Service проверяет ввод и передаёт изменения в domain.CatalogStore.
type Service struct {
	store    domain.CatalogStore
	validate *validator.Validate
	logger   *log.Entry
	now      func() time.Time
	newID    func() string
}

// NewService создаёт сервис каталога.
func NewService(store domain.CatalogStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   log.WithField("component", "catalog-service"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListCategories возвращает все категории.
func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.store.ListCategories(ctx)
}

// CreateCategory создаёт категорию.
func (s *Service) CreateCategory(ctx context.Context, in CategoryInput) (domain.Category, error) {
	if err := s.check(in, in.ID); err != nil {
		return domain.Category{}, err
	}
	return s.store.CreateCategory(ctx, domain.Category{
		ID:        s.idOrNew(in.ID),
		Name:      in.Name,
		ParentID:  in.ParentID,
		CreatedAt: s.now(),
	})
}

// UpdateCategory меняет категорию id. Родитель не может быть самой категорией или её потомком.
func (s *Service) UpdateCategory(ctx context.Context, id string, in CategoryInput) (domain.Category, error) {
	if err := s.check(in, id); err != nil {
		return domain.Category{}, err
	}
	if in.ParentID != "" {
		if err := s.checkNoCycle(ctx, id, in.ParentID); err != nil {
			return domain.Category{}, err
		}
	}
	return s.store.UpdateCategory(ctx, domain.Category{ID: id, Name: in.Name, ParentID: in.ParentID})
}

// DeleteCategory удаляет категорию.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	return s.store.DeleteCategory(ctx, id)
}

// ListProducts возвращает все товары.
func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.store.ListProducts(ctx)
}

// CreateProduct создаёт товар; статус по умолчанию ACTIVE.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (domain.Product, error) {
	product, err := s.productFrom(s.idOrNew(in.ID), in)
	if err != nil {
		return domain.Product{}, err
	}
	product.CreatedAt = s.now()
	return s.store.CreateProduct(ctx, product)
}

// UpdateProduct заменяет поля товара id.
func (s *Service) UpdateProduct(ctx context.Context, id string, in ProductInput) (domain.Product, error) {
	product, err := s.productFrom(id, in)
	if err != nil {
		return domain.Product{}, err
	}
	return s.store.UpdateProduct(ctx, product)
}

// DeleteProduct удаляет товар без вариантов.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	return s.store.DeleteProduct(ctx, id)
}

// ListVariants возвращает варианты товара productID или все при пустом productID.
func (s *Service) ListVariants(ctx context.Context, productID string) ([]domain.Variant, error) {
	return s.store.ListVariants(ctx, productID)
}

// CreateVariant создаёт вариант с нулевым резервом.
func (s *Service) CreateVariant(ctx context.Context, in VariantInput) (domain.Variant, error) {
	if err := s.check(in, in.ID); err != nil {
		return domain.Variant{}, err
	}
	return s.store.CreateVariant(ctx, variantFrom(s.idOrNew(in.ID), in))
}

// UpdateVariant меняет вариант id; остаток не может стать меньше резерва.
func (s *Service) UpdateVariant(ctx context.Context, id string, in VariantInput) (domain.Variant, error) {
	if err := s.check(in, id); err != nil {
		return domain.Variant{}, err
	}
	return s.store.UpdateVariant(ctx, variantFrom(id, in))
}

// DeleteVariant удаляет вариант без резервов и ссылок.
func (s *Service) DeleteVariant(ctx context.Context, id string) error {
	return s.store.DeleteVariant(ctx, id)
}

// ListRules возвращает все правила, включая неактивные.
func (s *Service) ListRules(ctx context.Context) ([]domain.PricingRule, error) {
	return s.store.ListRules(ctx)
}

// CreateRule создаёт правило цены.
func (s *Service) CreateRule(ctx context.Context, in RuleInput) (domain.PricingRule, error) {
	rule, err := s.ruleFrom(s.idOrNew(in.ID), in)
	if err != nil {
		return domain.PricingRule{}, err
	}
	return s.store.CreateRule(ctx, rule)
}

// UpdateRule заменяет правило id.
func (s *Service) UpdateRule(ctx context.Context, id string, in RuleInput) (domain.PricingRule, error) {
	rule, err := s.ruleFrom(id, in)
	if err != nil {
		return domain.PricingRule{}, err
	}
	return s.store.UpdateRule(ctx, rule)
}

// DeleteRule удаляет правило.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	return s.store.DeleteRule(ctx, id)
}

func (s *Service) check(in any, id string) error {
	if err := s.validate.Struct(in); err != nil {
		return domain.Validation(fmt.Errorf("%w: %s", domain.ErrCatalogInvalid, err.Error()), id)
	}
	return nil
}

func (s *Service) idOrNew(id string) string {
	if id != "" {
		return id
	}
	return s.newID()
}

func (s *Service) productFrom(id string, in ProductInput) (domain.Product, error) {
	if err := s.check(in, id); err != nil {
		return domain.Product{}, err
	}
	if in.BasePrice.IsNegative() {
		return domain.Product{}, invalid(id, "basePrice must not be negative")
	}
	status := in.Status
	if status == "" {
		status = domain.ProductStatusActive
	}
	return domain.Product{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		BasePrice:   in.BasePrice,
		Status:      status,
		CategoryID:  in.CategoryID,
	}, nil
}

func variantFrom(id string, in VariantInput) domain.Variant {
	return domain.Variant{
		ID:              id,
		ProductID:       in.ProductID,
		SKU:             in.SKU,
		StockQuantity:   in.StockQuantity,
		PriceAdjustment: in.PriceAdjustment,
	}
}

func (s *Service) ruleFrom(id string, in RuleInput) (domain.PricingRule, error) {
	if err := s.check(in, id); err != nil {
		return domain.PricingRule{}, err
	}
	if in.DiscountValue.IsNegative() {
		return domain.PricingRule{}, invalid(id, "discountValue must not be negative")
	}
	if in.DiscountType == domain.DiscountPercentage && in.DiscountValue.GreaterThan(hundred) {
		return domain.PricingRule{}, invalid(id, "percentage discount must not exceed 100")
	}
	if err := checkConditions(id, in.Type, in.Conditions); err != nil {
		return domain.PricingRule{}, err
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	return domain.PricingRule{
		ID:            id,
		Type:          in.Type,
		Conditions:    in.Conditions,
		DiscountType:  in.DiscountType,
		DiscountValue: in.DiscountValue,
		Priority:      in.Priority,
		IsActive:      active,
	}, nil
}

// checkConditions требует условие, без которого правило данного типа не применимо.
func checkConditions(id string, ruleType domain.RuleType, c domain.RuleConditions) error {
	switch ruleType {
	case domain.RuleTypeSeasonal:
		if c.StartDate != nil && c.EndDate != nil && c.EndDate.Before(*c.StartDate) {
			return invalid(id, "endDate must not be before startDate")
		}
	case domain.RuleTypeBulk:
		if c.MinQuantity <= 0 {
			return invalid(id, "bulk rule requires minQuantity")
		}
	case domain.RuleTypeUserTier:
		switch c.UserTier {
		case domain.UserTierRegular, domain.UserTierGold, domain.UserTierVIP:
		default:
			return invalid(id, "user tier rule requires userTier REGULAR, GOLD or VIP")
		}
	case domain.RuleTypePromoCode:
		if c.PromoCode == "" {
			return invalid(id, "promo code rule requires promoCode")
		}
	}
	return nil
}

func (s *Service) checkNoCycle(ctx context.Context, id, parentID string) error {
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return err
	}
	parents := make(map[string]string, len(categories))
	for _, c := range categories {
		parents[c.ID] = c.ParentID
	}
	seen := make(map[string]bool, len(parents))
	for cur := parentID; cur != "" && !seen[cur]; cur = parents[cur] {
		if cur == id {
			return invalid(id, "category cannot be its own ancestor")
		}
		seen[cur] = true
	}
	return nil
}

func invalid(id, reason string) error {
	return domain.Validation(fmt.Errorf("%w: %s", domain.ErrCatalogInvalid, reason), id)
}
