package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

type stubSource struct {
	products map[string]domain.Product
	variants map[string]domain.Variant
	rules    []domain.PricingRule
	rulesErr error
}

func (s *stubSource) GetProduct(_ context.Context, id string) (domain.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, domain.NotFound(domain.ErrProductNotFound, id)
	}
	return p, nil
}

func (s *stubSource) GetVariant(_ context.Context, id string) (domain.Variant, error) {
	v, ok := s.variants[id]
	if !ok {
		return domain.Variant{}, domain.NotFound(domain.ErrVariantNotFound, id)
	}
	return v, nil
}

func (s *stubSource) ListActiveRules(context.Context) ([]domain.PricingRule, error) {
	return s.rules, s.rulesErr
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newSource(base, adjustment string, rules ...domain.PricingRule) *stubSource {
	return &stubSource{
		products: map[string]domain.Product{
			"p-1": {ID: "p-1", Name: "Sneakers", BasePrice: dec(base), Status: domain.ProductStatusActive},
		},
		variants: map[string]domain.Variant{
			"v-1": {ID: "v-1", ProductID: "p-1", SKU: "SNK-42", StockQuantity: 10, PriceAdjustment: dec(adjustment)},
		},
		rules: rules,
	}
}

var fixedNow = time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)

func newEngine(src Source) *Engine {
	return NewEngine(src, WithClock(func() time.Time { return fixedNow }))
}

func rule(id string, typ domain.RuleType, discountType domain.DiscountType, value string, priority int, cond domain.RuleConditions) domain.PricingRule {
	return domain.PricingRule{
		ID:            id,
		Type:          typ,
		Conditions:    cond,
		DiscountType:  discountType,
		DiscountValue: dec(value),
		Priority:      priority,
		IsActive:      true,
	}
}

func TestComputePrice_SeasonalPercentage(t *testing.T) {
	start := fixedNow.Add(-24 * time.Hour)
	end := fixedNow.Add(24 * time.Hour)
	src := newSource("100.00", "0",
		rule("r-season", domain.RuleTypeSeasonal, domain.DiscountPercentage, "10", 10,
			domain.RuleConditions{StartDate: &start, EndDate: &end}),
	)

	quote, err := newEngine(src).ComputePrice(context.Background(), domain.PriceRequest{
		ProductID: "p-1", VariantID: "v-1", Quantity: 3,
	})
	require.NoError(t, err)
	require.True(t, quote.UnitPrice.Equal(dec("90.00")), quote.UnitPrice.String())
	require.True(t, quote.Total.Equal(dec("270.00")), quote.Total.String())
	require.Len(t, quote.Discounts, 1)
	require.Equal(t, domain.RuleTypeSeasonal, quote.Discounts[0].Type)
	require.True(t, quote.Discounts[0].Amount.Equal(dec("10.00")))
	require.Equal(t, "Applied SEASONAL rule (id=r-season)", quote.Discounts[0].Description)
}

func TestComputePrice_BulkThenPromoInPriorityOrder(t *testing.T) {
	src := newSource("50.00", "0",
		rule("r-promo", domain.RuleTypePromoCode, domain.DiscountFixedAmount, "2.00", 10, domain.RuleConditions{PromoCode: "X"}),
		rule("r-bulk", domain.RuleTypeBulk, domain.DiscountFixedAmount, "5.00", 20, domain.RuleConditions{MinQuantity: 5}),
	)

	quote, err := newEngine(src).ComputePrice(context.Background(), domain.PriceRequest{
		ProductID: "p-1", VariantID: "v-1", Quantity: 5, PromoCode: "X",
	})
	require.NoError(t, err)
	require.True(t, quote.UnitPrice.Equal(dec("43.00")), quote.UnitPrice.String())
	require.True(t, quote.Total.Equal(dec("215.00")), quote.Total.String())
	require.Len(t, quote.Discounts, 2)
	require.Equal(t, domain.RuleTypeBulk, quote.Discounts[0].Type)
	require.Equal(t, domain.RuleTypePromoCode, quote.Discounts[1].Type)
}

func TestComputePrice_OnlyFirstEligibleBulkApplies(t *testing.T) {
	src := newSource("100.00", "0",
		rule("r-bulk-small", domain.RuleTypeBulk, domain.DiscountPercentage, "5", 5, domain.RuleConditions{MinQuantity: 2}),
		rule("r-bulk-big", domain.RuleTypeBulk, domain.DiscountPercentage, "20", 50, domain.RuleConditions{MinQuantity: 10}),
		rule("r-bulk-mid", domain.RuleTypeBulk, domain.DiscountPercentage, "10", 30, domain.RuleConditions{MinQuantity: 5}),
	)

	quote, err := newEngine(src).ComputePrice(context.Background(), domain.PriceRequest{
		ProductID: "p-1", VariantID: "v-1", Quantity: 6,
	})
	require.NoError(t, err)
	require.Len(t, quote.Discounts, 1)
	require.Equal(t, "r-bulk-mid", quote.Discounts[0].RuleID)
	require.True(t, quote.UnitPrice.Equal(dec("90.00")))
}

func TestComputePrice_CompoundsOnRunningPrice(t *testing.T) {
	src := newSource("200.00", "-20.00",
		rule("r-tier", domain.RuleTypeUserTier, domain.DiscountPercentage, "50", 10, domain.RuleConditions{UserTier: domain.UserTierGold}),
		rule("r-season", domain.RuleTypeSeasonal, domain.DiscountPercentage, "10", 20, domain.RuleConditions{}),
	)

	quote, err := newEngine(src).ComputePrice(context.Background(), domain.PriceRequest{
		ProductID: "p-1", VariantID: "v-1", Quantity: 1, UserTier: domain.UserTierGold,
	})
	require.NoError(t, err)
	// 180 -10% = 162, затем -50% = 81.
	require.True(t, quote.UnitPrice.Equal(dec("81.00")), quote.UnitPrice.String())
	require.True(t, quote.Discounts[0].Amount.Equal(dec("18.00")))
	require.True(t, quote.Discounts[1].Amount.Equal(dec("81.00")))
}

func TestComputePrice_ClampsAtZero(t *testing.T) {
	src := newSource("10.00", "0",
		rule("r-fixed", domain.RuleTypeSeasonal, domain.DiscountFixedAmount, "25.00", 10, domain.RuleConditions{}),
		rule("r-pct", domain.RuleTypeSeasonal, domain.DiscountPercentage, "10", 5, domain.RuleConditions{}),
	)

	quote, err := newEngine(src).ComputePrice(context.Background(), domain.PriceRequest{
		ProductID: "p-1", VariantID: "v-1", Quantity: 4,
	})
	require.NoError(t, err)
	require.True(t, quote.UnitPrice.IsZero())
	require.True(t, quote.Total.IsZero())
	require.True(t, quote.Discounts[0].Amount.Equal(dec("10.00")))
	require.True(t, quote.Discounts[1].Amount.IsZero())
}

func TestComputePrice_RulesNotEligible(t *testing.T) {
	past := fixedNow.Add(-48 * time.Hour)
	yesterday := fixedNow.Add(-24 * time.Hour)
	src := newSource("100.00", "5.50",
		rule("r-expired", domain.RuleTypeSeasonal, domain.DiscountPercentage, "10", 40, domain.RuleConditions{StartDate: &past, EndDate: &yesterday}),
		rule("r-bulk", domain.RuleTypeBulk, domain.DiscountFixedAmount, "1", 30, domain.RuleConditions{MinQuantity: 5}),
		rule("r-tier", domain.RuleTypeUserTier, domain.DiscountFixedAmount, "1", 20, domain.RuleConditions{UserTier: domain.UserTierVIP}),
		rule("r-promo-empty", domain.RuleTypePromoCode, domain.DiscountFixedAmount, "1", 10, domain.RuleConditions{}),
		rule("r-promo", domain.RuleTypePromoCode, domain.DiscountFixedAmount, "1", 10, domain.RuleConditions{PromoCode: "SAVE"}),
	)
	src.rules = append(src.rules, domain.PricingRule{
		ID: "r-inactive", Type: domain.RuleTypeSeasonal, DiscountType: domain.DiscountFixedAmount,
		DiscountValue: dec("50"), Priority: 99,
	})

	quote, err := newEngine(src).ComputePrice(context.Background(), domain.PriceRequest{
		ProductID: "p-1", VariantID: "v-1", Quantity: 2, UserTier: domain.UserTierRegular,
	})
	require.NoError(t, err)
	require.Empty(t, quote.Discounts)
	require.True(t, quote.UnitPrice.Equal(dec("105.50")))
	require.True(t, quote.Total.Equal(dec("211.00")))
}

func TestComputePrice_DeterministicWithPinnedClock(t *testing.T) {
	src := newSource("19.99", "0.01",
		rule("r-b", domain.RuleTypeSeasonal, domain.DiscountPercentage, "15", 10, domain.RuleConditions{}),
		rule("r-a", domain.RuleTypeSeasonal, domain.DiscountFixedAmount, "1.37", 10, domain.RuleConditions{}),
	)
	engine := newEngine(src)
	req := domain.PriceRequest{ProductID: "p-1", VariantID: "v-1", Quantity: 3}

	first, err := engine.ComputePrice(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		next, err := engine.ComputePrice(context.Background(), req)
		require.NoError(t, err)
		require.True(t, first.UnitPrice.Equal(next.UnitPrice))
		require.True(t, first.Total.Equal(next.Total))
		require.Equal(t, len(first.Discounts), len(next.Discounts))
	}
	// При равном приоритете первым идёт меньший id.
	require.Equal(t, "r-a", first.Discounts[0].RuleID)
	// (20.00 - 1.37) * 0.85 = 15.8355
	require.True(t, first.UnitPrice.Equal(dec("15.84")), first.UnitPrice.String())
	require.True(t, first.Total.Equal(dec("47.52")), first.Total.String())
}

func TestComputePrice_Errors(t *testing.T) {
	src := newSource("10.00", "0")
	src.products["p-2"] = domain.Product{ID: "p-2", BasePrice: dec("1")}
	engine := newEngine(src)
	ctx := context.Background()

	_, err := engine.ComputePrice(ctx, domain.PriceRequest{ProductID: "p-1", VariantID: "v-1", Quantity: 0})
	require.ErrorIs(t, err, domain.ErrQuantityInvalid)
	require.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = engine.ComputePrice(ctx, domain.PriceRequest{ProductID: "p-1", VariantID: "missing", Quantity: 1})
	require.ErrorIs(t, err, domain.ErrVariantNotFound)
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))

	_, err = engine.ComputePrice(ctx, domain.PriceRequest{ProductID: "p-2", VariantID: "v-1", Quantity: 1})
	require.ErrorIs(t, err, domain.ErrVariantMismatch)
	require.Equal(t, domain.KindValidation, domain.KindOf(err))

	src.rulesErr = errors.New("db down")
	_, err = engine.ComputePrice(ctx, domain.PriceRequest{VariantID: "v-1", Quantity: 1})
	require.Error(t, err)
	require.Equal(t, domain.KindInternal, domain.KindOf(err))
}

func TestComputePrice_DefaultsProductFromVariant(t *testing.T) {
	quote, err := newEngine(newSource("12.50", "0")).ComputePrice(context.Background(), domain.PriceRequest{
		VariantID: "v-1", Quantity: 2,
	})
	require.NoError(t, err)
	require.Equal(t, "p-1", quote.ProductID)
	require.True(t, quote.Total.Equal(dec("25.00")))
}
