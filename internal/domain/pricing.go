package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// RuleType определяет условие применимости правила.
type RuleType string

const (
	RuleTypeSeasonal  RuleType = "SEASONAL"
	RuleTypeBulk      RuleType = "BULK"
	RuleTypeUserTier  RuleType = "USER_TIER"
	RuleTypePromoCode RuleType = "PROMO_CODE"
)

// DiscountType определяет способ расчёта скидки.
type DiscountType string

const (
	DiscountPercentage  DiscountType = "PERCENTAGE"
	DiscountFixedAmount DiscountType = "FIXED_AMOUNT"
)

// UserTier — уровень лояльности покупателя.
type UserTier string

const (
	UserTierRegular UserTier = "REGULAR"
	UserTierGold    UserTier = "GOLD"
	UserTierVIP     UserTier = "VIP"
)

// RuleConditions — параметры применимости, набор полей зависит от RuleType.
type RuleConditions struct {
	// StartDate/EndDate ограничивают SEASONAL-правило; nil означает открытую границу.
	StartDate   *time.Time `json:"startDate,omitempty"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	MinQuantity int        `json:"minQuantity,omitempty"`
	UserTier    UserTier   `json:"userTier,omitempty"`
	PromoCode   string     `json:"promoCode,omitempty"`
}

// ruleDateLayout — дата без времени, трактуется как полночь UTC.
const ruleDateLayout = "2006-01-02"

// UnmarshalJSON принимает границы периода в RFC 3339 или как дату YYYY-MM-DD.
func (c *RuleConditions) UnmarshalJSON(data []byte) error {
	type plain RuleConditions
	var raw struct {
		plain
		StartDate *string `json:"startDate"`
		EndDate   *string `json:"endDate"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	start, err := parseRuleDate("startDate", raw.StartDate)
	if err != nil {
		return err
	}
	end, err := parseRuleDate("endDate", raw.EndDate)
	if err != nil {
		return err
	}

	*c = RuleConditions(raw.plain)
	c.StartDate, c.EndDate = start, end
	return nil
}

func parseRuleDate(field string, value *string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, *value); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(ruleDateLayout, *value, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%s %q: expected RFC 3339 timestamp or YYYY-MM-DD date", field, *value)
	}
	return &t, nil
}

// PricingRule описывает одно правило скидки.
type PricingRule struct {
	ID            string
	Type          RuleType
	Conditions    RuleConditions
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	Priority      int
	IsActive      bool
}

// SortRules упорядочивает правила по убыванию приоритета, при равенстве по возрастанию id.
func SortRules(rules []PricingRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// Discount — запись о применённом правиле.
type Discount struct {
	Type        RuleType        `json:"type"`
	RuleID      string          `json:"ruleId"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// PriceRequest — входные данные расчёта цены.
type PriceRequest struct {
	ProductID string
	VariantID string
	Quantity  int
	UserTier  UserTier
	PromoCode string
}

// Quote — результат расчёта цены.
type Quote struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Total     decimal.Decimal `json:"total"`
	Discounts []Discount      `json:"discounts"`
}
