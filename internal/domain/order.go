package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderItem — позиция оформленного заказа по цене снапшота корзины.
type OrderItem struct {
	ID        string
	OrderID   string
	VariantID string
	Quantity  int
	Price     decimal.Decimal
}

// Order создаётся при оформлении корзины и далее не меняется.
type Order struct {
	ID        string
	UserID    string
	CartID    string
	Total     decimal.Decimal
	Items     []OrderItem
	CreatedAt time.Time
}

// LineTotal возвращает стоимость позиции.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ComputeTotal суммирует позиции заказа.
func (o Order) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}
