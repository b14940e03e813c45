package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

// ViewActiveCart читает ACTIVE корзину пользователя с позициями без блокировок.
func (s *Store) ViewActiveCart(ctx context.Context, userID string) (domain.CartView, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cart, err := scanCart(s.db.QueryRowContext(ctx, `
		SELECT `+cartColumns+`
		FROM carts
		WHERE user_id = $1 AND status = 'ACTIVE'
	`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CartView{}, false, nil
	}
	if err != nil {
		return domain.CartView{}, false, fmt.Errorf("get active cart of %s: %w", userID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ci.id, ci.cart_id, ci.variant_id, ci.quantity, ci.price_snapshot,
		       ci.discounts, ci.reservation_expires_at, ci.created_at,
		       v.id, v.product_id, v.sku, v.stock_quantity, v.reserved_quantity, v.price_adjustment,
		       p.id, p.name, p.base_price, p.status, p.category_id, p.created_at
		FROM cart_items ci
		JOIN variants v ON v.id = ci.variant_id
		JOIN products p ON p.id = v.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.created_at, ci.id
	`, cart.ID)
	if err != nil {
		return domain.CartView{}, false, fmt.Errorf("list items of cart %s: %w", cart.ID, err)
	}
	defer rows.Close()

	view := domain.CartView{Cart: cart, Items: make([]domain.CartItemView, 0)}
	for rows.Next() {
		line, err := scanItemView(rows)
		if err != nil {
			return domain.CartView{}, false, fmt.Errorf("scan cart item view: %w", err)
		}
		view.Items = append(view.Items, line)
	}
	if err := rows.Err(); err != nil {
		return domain.CartView{}, false, fmt.Errorf("iterate cart item views: %w", err)
	}

	return view, true, nil
}

// scanItemView раскладывает строку join на позицию, вариант и товар.
func scanItemView(rows *sql.Rows) (domain.CartItemView, error) {
	var (
		line       domain.CartItemView
		discounts  []byte
		categoryID sql.NullString
	)
	if err := rows.Scan(
		&line.Item.ID,
		&line.Item.CartID,
		&line.Item.VariantID,
		&line.Item.Quantity,
		&line.Item.PriceSnapshot,
		&discounts,
		&line.Item.ReservationExpiresAt,
		&line.Item.CreatedAt,
		&line.Variant.ID,
		&line.Variant.ProductID,
		&line.Variant.SKU,
		&line.Variant.StockQuantity,
		&line.Variant.ReservedQuantity,
		&line.Variant.PriceAdjustment,
		&line.Product.ID,
		&line.Product.Name,
		&line.Product.BasePrice,
		&line.Product.Status,
		&categoryID,
		&line.Product.CreatedAt,
	); err != nil {
		return domain.CartItemView{}, err
	}

	if len(discounts) > 0 {
		if err := json.Unmarshal(discounts, &line.Item.Discounts); err != nil {
			return domain.CartItemView{}, fmt.Errorf("decode discounts of item %s: %w", line.Item.ID, err)
		}
	}
	line.Product.CategoryID = categoryID.String
	line.Item.ReservationExpiresAt = line.Item.ReservationExpiresAt.UTC()
	line.Item.CreatedAt = line.Item.CreatedAt.UTC()
	line.Product.CreatedAt = line.Product.CreatedAt.UTC()
	return line, nil
}
