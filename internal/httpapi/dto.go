package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
	"github.com/vladislavdragonenkov/shopcart/internal/service/cart"
)

type addItemRequest struct {
	VariantID string `json:"variantId" validate:"required"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
	PromoCode string `json:"promoCode" validate:"omitempty,max=64"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

type identity struct {
	UserID string          `validate:"required,max=128"`
	Tier   domain.UserTier `validate:"oneof=REGULAR GOLD VIP"`
}

type discountResponse struct {
	Type        domain.RuleType `json:"type"`
	RuleID      string          `json:"ruleId"`
	Amount      string          `json:"amount"`
	Description string          `json:"description"`
}

type itemResponse struct {
	ID                   string             `json:"id"`
	CartID               string             `json:"cartId"`
	VariantID            string             `json:"variantId"`
	Quantity             int                `json:"quantity"`
	PriceSnapshot        string             `json:"priceSnapshot"`
	LineTotal            string             `json:"lineTotal"`
	Discounts            []discountResponse `json:"discounts"`
	ReservationExpiresAt time.Time          `json:"reservationExpiresAt"`
	CreatedAt            time.Time          `json:"createdAt"`
}

type variantResponse struct {
	ID              string `json:"id"`
	ProductID       string `json:"productId"`
	SKU             string `json:"sku"`
	PriceAdjustment string `json:"priceAdjustment"`
}

type productResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BasePrice string `json:"basePrice"`
}

type cartLineResponse struct {
	itemResponse
	Variant variantResponse `json:"variant"`
	Product productResponse `json:"product"`
}

type cartResponse struct {
	ID     string             `json:"id,omitempty"`
	UserID string             `json:"userId"`
	Status domain.CartStatus  `json:"status,omitempty"`
	Items  []cartLineResponse `json:"items"`
	Total  string             `json:"total"`
}

type checkoutResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId"`
	Total   string `json:"total"`
}

type quoteResponse struct {
	ProductID string             `json:"productId"`
	VariantID string             `json:"variantId"`
	Quantity  int                `json:"quantity"`
	UnitPrice string             `json:"unitPrice"`
	Total     string             `json:"total"`
	Discounts []discountResponse `json:"discounts"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func toDiscounts(discounts []domain.Discount) []discountResponse {
	out := make([]discountResponse, 0, len(discounts))
	for _, d := range discounts {
		out = append(out, discountResponse{
			Type:        d.Type,
			RuleID:      d.RuleID,
			Amount:      money(d.Amount),
			Description: d.Description,
		})
	}
	return out
}

func toItem(item domain.CartItem) itemResponse {
	return itemResponse{
		ID:                   item.ID,
		CartID:               item.CartID,
		VariantID:            item.VariantID,
		Quantity:             item.Quantity,
		PriceSnapshot:        money(item.PriceSnapshot),
		LineTotal:            money(cart.LineTotal(item)),
		Discounts:            toDiscounts(item.Discounts),
		ReservationExpiresAt: item.ReservationExpiresAt,
		CreatedAt:            item.CreatedAt,
	}
}

func toCart(userID string, view domain.CartView) cartResponse {
	resp := cartResponse{
		ID:     view.Cart.ID,
		UserID: userID,
		Status: view.Cart.Status,
		Items:  make([]cartLineResponse, 0, len(view.Items)),
	}

	total := decimal.Zero
	for _, line := range view.Items {
		total = total.Add(cart.LineTotal(line.Item))
		resp.Items = append(resp.Items, cartLineResponse{
			itemResponse: toItem(line.Item),
			Variant: variantResponse{
				ID:              line.Variant.ID,
				ProductID:       line.Variant.ProductID,
				SKU:             line.Variant.SKU,
				PriceAdjustment: money(line.Variant.PriceAdjustment),
			},
			Product: productResponse{
				ID:        line.Product.ID,
				Name:      line.Product.Name,
				BasePrice: money(line.Product.BasePrice),
			},
		})
	}
	resp.Total = money(total)
	return resp
}

func toQuote(q domain.Quote) quoteResponse {
	return quoteResponse{
		ProductID: q.ProductID,
		VariantID: q.VariantID,
		Quantity:  q.Quantity,
		UnitPrice: money(q.UnitPrice),
		Total:     money(q.Total),
		Discounts: toDiscounts(q.Discounts),
	}
}
