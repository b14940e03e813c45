package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus описывает статус карточки товара.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "ACTIVE"
	ProductStatusInactive ProductStatus = "INACTIVE"
)

// Category — узел дерева категорий; пустой ParentID означает корень.
type Category struct {
	ID        string
	Name      string
	ParentID  string
	CreatedAt time.Time
}

// Product — товар каталога с базовой ценой.
type Product struct {
	ID          string
	Name        string
	Description string
	BasePrice   decimal.Decimal
	Status      ProductStatus
	CategoryID  string
	CreatedAt   time.Time
}

// Variant — вариант товара со своими счётчиками стока и резерва.
type Variant struct {
	ID        string
	ProductID string
	SKU       string
	// StockQuantity — физический остаток.
	StockQuantity int
	// ReservedQuantity — сумма количеств активных позиций корзин.
	ReservedQuantity int
	// PriceAdjustment прибавляется к базовой цене товара и может быть отрицательным.
	PriceAdjustment decimal.Decimal
}

// Available возвращает остаток, доступный для нового резерва.
func (v Variant) Available() int {
	return v.StockQuantity - v.ReservedQuantity
}

// ValidateCounters проверяет инвариант 0 <= reserved <= stock.
func (v Variant) ValidateCounters() error {
	if v.ReservedQuantity < 0 || v.StockQuantity < 0 || v.ReservedQuantity > v.StockQuantity {
		return Conflict(ErrReservationInconsistent, v.ID)
	}
	return nil
}
