// Package pricing рассчитывает цену варианта товара по базовой цене,
// корректировке варианта и упорядоченному набору правил скидок.
package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Source: данные каталога, нужные для расчёта. Реализуется Store и Tx.
type Source interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	GetVariant(ctx context.Context, id string) (domain.Variant, error)
	ListActiveRules(ctx context.Context) ([]domain.PricingRule, error)
}

// Option настраивает Engine.
type Option func(*Engine)

// WithClock задаёт источник текущего времени для SEASONAL-правил.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine вычисляет цену. Не имеет побочных эффектов.
type Engine struct {
	src Source
	now func() time.Time
}

// NewEngine создаёт движок поверх src.
func NewEngine(src Source, opts ...Option) *Engine {
	e := &Engine{
		src: src,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ComputePrice считает цену, читая данные из источника движка.
func (e *Engine) ComputePrice(ctx context.Context, req domain.PriceRequest) (domain.Quote, error) {
	return e.ComputePriceWith(ctx, e.src, req)
}

// ComputePriceWith считает цену, читая данные из src. Используется внутри транзакции,
// чтобы вариант и правила читались тем же снимком, что и резерв.
func (e *Engine) ComputePriceWith(ctx context.Context, src Source, req domain.PriceRequest) (domain.Quote, error) {
	if req.Quantity <= 0 {
		return domain.Quote{}, domain.Validation(domain.ErrQuantityInvalid, req.VariantID)
	}

	variant, err := src.GetVariant(ctx, req.VariantID)
	if err != nil {
		return domain.Quote{}, err
	}
	if req.ProductID == "" {
		req.ProductID = variant.ProductID
	}
	if variant.ProductID != req.ProductID {
		return domain.Quote{}, domain.Validation(
			fmt.Errorf("%w: variant %s, product %s", domain.ErrVariantMismatch, variant.ID, req.ProductID),
			variant.ID,
		)
	}

	product, err := src.GetProduct(ctx, variant.ProductID)
	if err != nil {
		return domain.Quote{}, err
	}

	rules, err := src.ListActiveRules(ctx)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("list pricing rules: %w", err)
	}
	ordered := make([]domain.PricingRule, len(rules))
	copy(ordered, rules)
	domain.SortRules(ordered)

	running := clampZero(product.BasePrice.Add(variant.PriceAdjustment))
	discounts := make([]domain.Discount, 0)
	now := e.now()
	bulkApplied := false

	for _, rule := range ordered {
		if !rule.IsActive {
			continue
		}
		if rule.Type == domain.RuleTypeBulk && bulkApplied {
			continue
		}
		if !eligible(rule, req, now) {
			continue
		}
		if rule.Type == domain.RuleTypeBulk {
			bulkApplied = true
		}

		discount := discountFor(rule, running)
		next := clampZero(running.Sub(discount))
		discounts = append(discounts, domain.Discount{
			Type:        rule.Type,
			RuleID:      rule.ID,
			Amount:      running.Sub(next).Round(2),
			Description: fmt.Sprintf("Applied %s rule (id=%s)", rule.Type, rule.ID),
		})
		running = next
	}

	unit := running.Round(2)
	return domain.Quote{
		ProductID: req.ProductID,
		VariantID: variant.ID,
		Quantity:  req.Quantity,
		UnitPrice: unit,
		Total:     unit.Mul(decimal.NewFromInt(int64(req.Quantity))).Round(2),
		Discounts: discounts,
	}, nil
}

func eligible(rule domain.PricingRule, req domain.PriceRequest, now time.Time) bool {
	cond := rule.Conditions
	switch rule.Type {
	case domain.RuleTypeSeasonal:
		if cond.StartDate != nil && now.Before(*cond.StartDate) {
			return false
		}
		if cond.EndDate != nil && now.After(*cond.EndDate) {
			return false
		}
		return true
	case domain.RuleTypeBulk:
		return req.Quantity >= cond.MinQuantity
	case domain.RuleTypeUserTier:
		return cond.UserTier != "" && req.UserTier == cond.UserTier
	case domain.RuleTypePromoCode:
		return cond.PromoCode != "" && req.PromoCode == cond.PromoCode
	default:
		return false
	}
}

func discountFor(rule domain.PricingRule, running decimal.Decimal) decimal.Decimal {
	switch rule.DiscountType {
	case domain.DiscountPercentage:
		return running.Mul(rule.DiscountValue).Div(hundred)
	case domain.DiscountFixedAmount:
		return rule.DiscountValue
	default:
		return decimal.Zero
	}
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
