package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
	"github.com/vladislavdragonenkov/shopcart/internal/pricing"
	"github.com/vladislavdragonenkov/shopcart/internal/service/cart"
	"github.com/vladislavdragonenkov/shopcart/internal/storage/memory"
)

var testNow = time.Date(2026, time.November, 20, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(store *memory.Store) *Service {
	var seq atomic.Int64
	return NewService(store,
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string { return fmt.Sprintf("gen-%02d", seq.Add(1)) }),
	)
}

func TestCatalog_ProductAndVariantLifecycle(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store)
	ctx := context.Background()

	category, err := svc.CreateCategory(ctx, CategoryInput{Name: "Kitchen"})
	require.NoError(t, err)
	assert.Equal(t, "gen-01", category.ID)
	assert.Equal(t, testNow, category.CreatedAt)

	product, err := svc.CreateProduct(ctx, ProductInput{
		ID: "p-kettle", Name: "Kettle", Description: "1.7 l", BasePrice: dec("49.90"), CategoryID: category.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ProductStatusActive, product.Status)

	variant, err := svc.CreateVariant(ctx, VariantInput{
		ID: "v-steel", ProductID: product.ID, SKU: "KTL-STEEL", StockQuantity: 4, PriceAdjustment: dec("5"),
	})
	require.NoError(t, err)
	assert.Zero(t, variant.ReservedQuantity)

	quote, err := pricing.NewEngine(store, pricing.WithClock(func() time.Time { return testNow })).
		ComputePrice(ctx, domain.PriceRequest{ProductID: product.ID, VariantID: variant.ID, Quantity: 1})
	require.NoError(t, err)
	assert.True(t, quote.UnitPrice.Equal(dec("54.90")), quote.UnitPrice.String())

	updated, err := svc.UpdateProduct(ctx, product.ID, ProductInput{
		Name: "Kettle Pro", BasePrice: dec("59.90"), Status: domain.ProductStatusInactive,
	})
	require.NoError(t, err)
	assert.Equal(t, "Kettle Pro", updated.Name)
	assert.Empty(t, updated.CategoryID)
	assert.Equal(t, testNow, updated.CreatedAt)

	err = svc.DeleteProduct(ctx, product.ID)
	require.ErrorIs(t, err, domain.ErrInUse)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	require.NoError(t, svc.DeleteVariant(ctx, variant.ID))
	require.NoError(t, svc.DeleteProduct(ctx, product.ID))
	require.NoError(t, svc.DeleteCategory(ctx, category.ID))

	products, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestCatalog_StockCannotDropBelowReservation(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, ProductInput{ID: "p-1", Name: "Mug", BasePrice: dec("12")})
	require.NoError(t, err)
	_, err = svc.CreateVariant(ctx, VariantInput{ID: "v-1", ProductID: "p-1", SKU: "MUG", StockQuantity: 5})
	require.NoError(t, err)

	carts := cart.NewService(store, nil, cart.WithClock(func() time.Time { return testNow }))
	_, err = carts.AddItem(ctx, domain.AddItemInput{UserID: "u-1", VariantID: "v-1", Quantity: 3})
	require.NoError(t, err)

	_, err = svc.UpdateVariant(ctx, "v-1", VariantInput{ProductID: "p-1", SKU: "MUG", StockQuantity: 2})
	require.ErrorIs(t, err, domain.ErrStockBelowReserved)

	restocked, err := svc.UpdateVariant(ctx, "v-1", VariantInput{ProductID: "p-1", SKU: "MUG", StockQuantity: 8})
	require.NoError(t, err)
	assert.Equal(t, 3, restocked.ReservedQuantity)
	assert.Equal(t, 5, restocked.Available())

	err = svc.DeleteVariant(ctx, "v-1")
	require.ErrorIs(t, err, domain.ErrInUse)
}

func TestCatalog_ReferenceAndUniquenessErrors(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, ProductInput{ID: "p-1", Name: "Mug", BasePrice: dec("12"), CategoryID: "nope"})
	require.ErrorIs(t, err, domain.ErrCategoryNotFound)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = svc.CreateVariant(ctx, VariantInput{ID: "v-1", ProductID: "missing", SKU: "X"})
	require.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = svc.CreateProduct(ctx, ProductInput{ID: "p-1", Name: "Mug", BasePrice: dec("12")})
	require.NoError(t, err)
	_, err = svc.CreateProduct(ctx, ProductInput{ID: "p-1", Name: "Mug again", BasePrice: dec("12")})
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = svc.CreateVariant(ctx, VariantInput{ID: "v-1", ProductID: "p-1", SKU: "MUG"})
	require.NoError(t, err)
	_, err = svc.CreateVariant(ctx, VariantInput{ID: "v-2", ProductID: "p-1", SKU: "MUG"})
	require.ErrorIs(t, err, domain.ErrSKUTaken)

	_, err = svc.UpdateProduct(ctx, "p-404", ProductInput{Name: "Ghost", BasePrice: dec("1")})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	_, err = svc.CreateProduct(ctx, ProductInput{ID: "p-neg", Name: "Broken", BasePrice: dec("-1")})
	require.ErrorIs(t, err, domain.ErrCatalogInvalid)

	_, err = svc.CreateProduct(ctx, ProductInput{Name: ""})
	require.ErrorIs(t, err, domain.ErrCatalogInvalid)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestCatalog_CategoryTree(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.CreateCategory(ctx, CategoryInput{ID: "home", Name: "Home"})
	require.NoError(t, err)
	_, err = svc.CreateCategory(ctx, CategoryInput{ID: "kitchen", Name: "Kitchen", ParentID: "home"})
	require.NoError(t, err)
	_, err = svc.CreateCategory(ctx, CategoryInput{ID: "cups", Name: "Cups", ParentID: "kitchen"})
	require.NoError(t, err)

	_, err = svc.UpdateCategory(ctx, "home", CategoryInput{Name: "Home", ParentID: "cups"})
	require.ErrorIs(t, err, domain.ErrCatalogInvalid)

	_, err = svc.UpdateCategory(ctx, "home", CategoryInput{Name: "Home", ParentID: "home"})
	require.ErrorIs(t, err, domain.ErrCatalogInvalid)

	err = svc.DeleteCategory(ctx, "kitchen")
	require.ErrorIs(t, err, domain.ErrInUse)

	renamed, err := svc.UpdateCategory(ctx, "cups", CategoryInput{Name: "Mugs & cups"})
	require.NoError(t, err)
	assert.Empty(t, renamed.ParentID)
	require.NoError(t, svc.DeleteCategory(ctx, "kitchen"))

	categories, err := svc.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "cups", categories[0].ID)
	assert.Equal(t, "home", categories[1].ID)
}

func TestCatalog_RuleWritesAffectPricing(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store)
	ctx := context.Background()
	engine := pricing.NewEngine(store, pricing.WithClock(func() time.Time { return testNow }))

	_, err := svc.CreateProduct(ctx, ProductInput{ID: "p-1", Name: "Lamp", BasePrice: dec("100")})
	require.NoError(t, err)
	_, err = svc.CreateVariant(ctx, VariantInput{ID: "v-1", ProductID: "p-1", SKU: "LAMP", StockQuantity: 3})
	require.NoError(t, err)

	start := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	rule, err := svc.CreateRule(ctx, RuleInput{
		ID:            "r-fall",
		Type:          domain.RuleTypeSeasonal,
		Conditions:    domain.RuleConditions{StartDate: &start},
		DiscountType:  domain.DiscountPercentage,
		DiscountValue: dec("20"),
		Priority:      5,
	})
	require.NoError(t, err)
	assert.True(t, rule.IsActive)

	req := domain.PriceRequest{ProductID: "p-1", VariantID: "v-1", Quantity: 1}
	quote, err := engine.ComputePrice(ctx, req)
	require.NoError(t, err)
	assert.True(t, quote.UnitPrice.Equal(dec("80")), quote.UnitPrice.String())

	inactive := false
	_, err = svc.UpdateRule(ctx, "r-fall", RuleInput{
		Type: domain.RuleTypeSeasonal, DiscountType: domain.DiscountPercentage,
		DiscountValue: dec("20"), IsActive: &inactive,
	})
	require.NoError(t, err)

	quote, err = engine.ComputePrice(ctx, req)
	require.NoError(t, err)
	assert.True(t, quote.UnitPrice.Equal(dec("100")), quote.UnitPrice.String())

	rules, err := svc.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.False(t, rules[0].IsActive)

	require.NoError(t, svc.DeleteRule(ctx, "r-fall"))
	assert.Equal(t, domain.KindNotFound, domain.KindOf(svc.DeleteRule(ctx, "r-fall")))
}

func TestCatalog_RuleValidation(t *testing.T) {
	svc := newTestService(memory.NewStore())
	ctx := context.Background()

	cases := map[string]RuleInput{
		"unknown type":      {Type: "FLASH", DiscountType: domain.DiscountPercentage, DiscountValue: dec("5")},
		"negative value":    {Type: domain.RuleTypeSeasonal, DiscountType: domain.DiscountFixedAmount, DiscountValue: dec("-1")},
		"percentage > 100":  {Type: domain.RuleTypeSeasonal, DiscountType: domain.DiscountPercentage, DiscountValue: dec("120")},
		"bulk without min":  {Type: domain.RuleTypeBulk, DiscountType: domain.DiscountPercentage, DiscountValue: dec("5")},
		"tier without tier": {Type: domain.RuleTypeUserTier, DiscountType: domain.DiscountPercentage, DiscountValue: dec("5")},
		"promo without code": {
			Type: domain.RuleTypePromoCode, DiscountType: domain.DiscountFixedAmount, DiscountValue: dec("5"),
		},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateRule(ctx, in)
			require.ErrorIs(t, err, domain.ErrCatalogInvalid)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
}

const seedJSON = `{
  "categories": [
    {"id": "home", "name": "Home"},
    {"id": "kitchen", "name": "Kitchen", "parentId": "home"}
  ],
  "products": [
    {"id": "p-kettle", "name": "Kettle", "basePrice": "49.90", "categoryId": "kitchen"}
  ],
  "variants": [
    {"id": "v-kettle", "productId": "p-kettle", "sku": "KTL-1", "stockQuantity": 10}
  ],
  "pricingRules": [
    {"id": "r-winter", "type": "SEASONAL", "conditions": {"startDate": "2026-11-01", "endDate": "2027-02-28"},
     "discountType": "PERCENTAGE", "discountValue": 10, "priority": 5}
  ]
}`

func TestLoadSeed_IsIdempotent(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store)
	ctx := context.Background()

	result, err := svc.LoadSeed(ctx, strings.NewReader(seedJSON))
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Created: 5}, result)

	rules, err := store.ListActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.NotNil(t, rules[0].Conditions.EndDate)
	assert.Equal(t, time.Date(2027, 2, 28, 0, 0, 0, 0, time.UTC), *rules[0].Conditions.EndDate)

	again, err := svc.LoadSeed(ctx, strings.NewReader(seedJSON))
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Skipped: 5}, again)
}

func TestLoadSeed_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := newTestService(memory.NewStore()).LoadSeed(ctx, strings.NewReader(`{"products":[{"name":"No id","basePrice":"1"}]}`))
	require.ErrorContains(t, err, "seed product without id")

	_, err = newTestService(memory.NewStore()).LoadSeed(ctx, strings.NewReader(`{"warehouses":[]}`))
	require.ErrorContains(t, err, "decode seed")

	_, err = newTestService(memory.NewStore()).LoadSeed(ctx, strings.NewReader(
		`{"variants":[{"id":"v-1","productId":"p-missing","sku":"X"}]}`))
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = newTestService(memory.NewStore()).LoadSeedFile(ctx, "/nonexistent/seed.json")
	require.ErrorContains(t, err, "open seed file")
}
