package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartStatus описывает жизненный цикл корзины.
type CartStatus string

const (
	// CartStatusActive — корзина открыта для изменений.
	CartStatusActive CartStatus = "ACTIVE"
	// CartStatusCompleted — корзина оформлена в заказ, дальнейшие изменения запрещены.
	CartStatusCompleted CartStatus = "COMPLETED"
)

// DefaultReservationTTL — время жизни резерва позиции корзины.
const DefaultReservationTTL = 15 * time.Minute

// Cart — корзина пользователя. У пользователя не больше одной ACTIVE корзины.
type Cart struct {
	ID        string
	UserID    string
	Status    CartStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive сообщает, можно ли менять корзину.
func (c Cart) IsActive() bool {
	return c.Status == CartStatusActive
}

// CartItem — позиция корзины, удерживающая резерв стока.
type CartItem struct {
	ID        string
	CartID    string
	VariantID string
	Quantity  int
	// PriceSnapshot — цена за единицу на момент добавления; не пересчитывается.
	PriceSnapshot decimal.Decimal
	Discounts     []Discount
	// ReservationExpiresAt — момент, после которого резерв снимается фоновой очисткой.
	ReservationExpiresAt time.Time
	CreatedAt            time.Time
}

// Expired сообщает, истёк ли резерв к моменту now.
func (i CartItem) Expired(now time.Time) bool {
	return i.ReservationExpiresAt.Before(now)
}

// CartItemView — позиция корзины вместе с вариантом и товаром.
type CartItemView struct {
	Item    CartItem
	Variant Variant
	Product Product
}

// CartView — активная корзина пользователя с позициями.
type CartView struct {
	Cart  Cart
	Items []CartItemView
}

// AddItemInput — параметры добавления позиции.
type AddItemInput struct {
	UserID    string
	UserTier  UserTier
	VariantID string
	// ProductID опционален; по умолчанию берётся товар варианта.
	ProductID string
	PromoCode string
	Quantity  int
}

// Validate проверяет входные данные без обращения к хранилищу.
func (in AddItemInput) Validate() error {
	if in.UserID == "" {
		return Validation(ErrUserRequired, "")
	}
	if in.VariantID == "" {
		return NotFound(ErrVariantNotFound, "")
	}
	if in.Quantity <= 0 {
		return Validation(ErrQuantityInvalid, in.VariantID)
	}
	return nil
}

// CheckoutResult — итог оформления корзины.
type CheckoutResult struct {
	OrderID string          `json:"orderId"`
	Total   decimal.Decimal `json:"total"`
}
