package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

const (
	ensureCartAttempts = 3

	cartColumns = `id, user_id, status, created_at, updated_at`
	itemColumns = `id, cart_id, variant_id, quantity, price_snapshot, discounts, reservation_expires_at, created_at`
)

// pgTx реализует domain.Tx поверх *sql.Tx. Блокировки строк снимаются при commit/rollback.
type pgTx struct {
	q      queryer
	now    func() time.Time
	logger *log.Entry
}

func (t *pgTx) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return getProduct(ctx, t.q, id)
}

func (t *pgTx) GetVariant(ctx context.Context, id string) (domain.Variant, error) {
	return getVariant(ctx, t.q, id, false)
}

func (t *pgTx) ListActiveRules(ctx context.Context) ([]domain.PricingRule, error) {
	return listActiveRules(ctx, t.q, t.logger)
}

func (t *pgTx) LockVariant(ctx context.Context, id string) (domain.Variant, error) {
	return getVariant(ctx, t.q, id, true)
}

func (t *pgTx) SaveVariantCounters(ctx context.Context, v domain.Variant) error {
	if err := v.ValidateCounters(); err != nil {
		return err
	}

	res, err := t.q.ExecContext(ctx, `
		UPDATE variants
		SET stock_quantity = $2,
		    reserved_quantity = $3
		WHERE id = $1
	`, v.ID, v.StockQuantity, v.ReservedQuantity)
	if isCheckViolation(err) {
		return domain.Conflict(domain.ErrReservationInconsistent, v.ID)
	}
	if err != nil {
		return fmt.Errorf("save variant counters %s: %w", v.ID, err)
	}
	return expectAffected(res, domain.NotFound(domain.ErrVariantNotFound, v.ID))
}

func (t *pgTx) EnsureActiveCart(ctx context.Context, candidate domain.Cart) (domain.Cart, error) {
	if candidate.ID == "" {
		candidate.ID = uuid.NewString()
	}
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = t.now()
	}
	if candidate.UpdatedAt.IsZero() {
		candidate.UpdatedAt = candidate.CreatedAt
	}

	// Частичный уникальный индекс по user_id разрешает гонку двух первых добавлений.
	// Между INSERT и блокировкой конкурентный checkout может закрыть найденную корзину,
	// тогда вставка повторяется.
	for attempt := 1; ; attempt++ {
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO carts (id, user_id, status, created_at, updated_at)
			VALUES ($1, $2, 'ACTIVE', $3, $4)
			ON CONFLICT (user_id) WHERE status = 'ACTIVE' DO NOTHING
		`, candidate.ID, candidate.UserID, candidate.CreatedAt, candidate.UpdatedAt); err != nil {
			return domain.Cart{}, fmt.Errorf("insert active cart for %s: %w", candidate.UserID, err)
		}

		cart, found, err := t.LockActiveCart(ctx, candidate.UserID)
		if err != nil {
			return domain.Cart{}, err
		}
		if found {
			return cart, nil
		}
		if attempt >= ensureCartAttempts {
			return domain.Cart{}, fmt.Errorf("active cart for %s vanished after %d inserts", candidate.UserID, attempt)
		}
	}
}

func (t *pgTx) LockActiveCart(ctx context.Context, userID string) (domain.Cart, bool, error) {
	cart, err := scanCart(t.q.QueryRowContext(ctx, `
		SELECT `+cartColumns+`
		FROM carts
		WHERE user_id = $1 AND status = 'ACTIVE'
		FOR UPDATE
	`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Cart{}, false, nil
	}
	if err != nil {
		return domain.Cart{}, false, fmt.Errorf("lock active cart of %s: %w", userID, err)
	}
	return cart, true, nil
}

func (t *pgTx) LockCart(ctx context.Context, cartID string) (domain.Cart, error) {
	cart, err := scanCart(t.q.QueryRowContext(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE id = $1 FOR UPDATE`, cartID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Cart{}, domain.NotFound(domain.ErrCartNotFound, cartID)
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("lock cart %s: %w", cartID, err)
	}
	return cart, nil
}

func (t *pgTx) CompleteCart(ctx context.Context, cartID string, at time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE carts
		SET status = 'COMPLETED',
		    updated_at = $2
		WHERE id = $1
	`, cartID, at)
	if err != nil {
		return fmt.Errorf("complete cart %s: %w", cartID, err)
	}
	return expectAffected(res, domain.NotFound(domain.ErrCartNotFound, cartID))
}

func (t *pgTx) GetItem(ctx context.Context, itemID string) (domain.CartItem, error) {
	return t.item(ctx, itemID, false)
}

func (t *pgTx) LockItem(ctx context.Context, itemID string) (domain.CartItem, error) {
	return t.item(ctx, itemID, true)
}

func (t *pgTx) item(ctx context.Context, itemID string, forUpdate bool) (domain.CartItem, error) {
	query := `SELECT ` + itemColumns + ` FROM cart_items WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	item, err := scanItem(t.q.QueryRowContext(ctx, query, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CartItem{}, domain.NotFound(domain.ErrItemNotFound, itemID)
	}
	if err != nil {
		return domain.CartItem{}, fmt.Errorf("get cart item %s: %w", itemID, err)
	}
	return item, nil
}

func (t *pgTx) LockCartItems(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY created_at, id
		FOR UPDATE
	`, cartID)
	if err != nil {
		return nil, fmt.Errorf("lock items of cart %s: %w", cartID, err)
	}
	return collectItems(rows)
}

func (t *pgTx) ListExpiredVariants(ctx context.Context, now time.Time, afterID string, limit int) ([]string, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT DISTINCT ci.variant_id
		FROM cart_items ci
		JOIN carts c ON c.id = ci.cart_id
		WHERE c.status = 'ACTIVE'
		  AND ci.reservation_expires_at < $1
		  AND ci.variant_id > $2
		ORDER BY ci.variant_id
		LIMIT $3
	`, now, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired variants: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired variant: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired variants: %w", err)
	}
	return ids, nil
}

func (t *pgTx) LockExpiredItems(ctx context.Context, variantID string, now time.Time, limit int) ([]domain.CartItem, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT ci.id, ci.cart_id, ci.variant_id, ci.quantity, ci.price_snapshot,
		       ci.discounts, ci.reservation_expires_at, ci.created_at
		FROM cart_items ci
		JOIN carts c ON c.id = ci.cart_id
		WHERE c.status = 'ACTIVE'
		  AND ci.variant_id = $1
		  AND ci.reservation_expires_at < $2
		ORDER BY ci.id
		LIMIT $3
		FOR UPDATE OF ci SKIP LOCKED
	`, variantID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("lock expired items of %s: %w", variantID, err)
	}
	return collectItems(rows)
}

func (t *pgTx) InsertItem(ctx context.Context, item domain.CartItem) error {
	discounts, err := encodeDiscounts(item.Discounts)
	if err != nil {
		return err
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO cart_items (
			id, cart_id, variant_id, quantity, price_snapshot,
			discounts, reservation_expires_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7,$8)
	`,
		item.ID, item.CartID, item.VariantID, item.Quantity, item.PriceSnapshot,
		discounts, item.ReservationExpiresAt, item.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("cart item %s already exists", item.ID)
	}
	if err != nil {
		return fmt.Errorf("insert cart item %s: %w", item.ID, err)
	}
	return nil
}

func (t *pgTx) UpdateItemQuantity(ctx context.Context, itemID string, quantity int) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $2 WHERE id = $1`, itemID, quantity)
	if err != nil {
		return fmt.Errorf("update cart item %s: %w", itemID, err)
	}
	return expectAffected(res, domain.NotFound(domain.ErrItemNotFound, itemID))
}

func (t *pgTx) DeleteItems(ctx context.Context, itemIDs ...string) error {
	for _, id := range itemIDs {
		if _, err := t.q.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete cart item %s: %w", id, err)
		}
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, order domain.Order) error {
	if _, err := t.q.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, cart_id, total, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, order.ID, order.UserID, order.CartID, order.Total, order.CreatedAt); err != nil {
		return fmt.Errorf("insert order %s: %w", order.ID, err)
	}

	for _, item := range order.Items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, variant_id, quantity, price)
			VALUES ($1,$2,$3,$4,$5)
		`, item.ID, order.ID, item.VariantID, item.Quantity, item.Price); err != nil {
			return fmt.Errorf("insert order item for %s: %w", order.ID, err)
		}
	}
	return nil
}

func (t *pgTx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = t.now()
	}

	if _, err := t.q.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5::jsonb,'pending',0,$6,$6)
	`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, string(msg.Payload), msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("enqueue outbox message: %w", err)
	}
	return nil
}

func scanCart(row rowScanner) (domain.Cart, error) {
	var cart domain.Cart
	if err := row.Scan(&cart.ID, &cart.UserID, &cart.Status, &cart.CreatedAt, &cart.UpdatedAt); err != nil {
		return domain.Cart{}, err
	}
	cart.CreatedAt = cart.CreatedAt.UTC()
	cart.UpdatedAt = cart.UpdatedAt.UTC()
	return cart, nil
}

func scanItem(row rowScanner) (domain.CartItem, error) {
	var (
		item      domain.CartItem
		discounts []byte
	)
	if err := row.Scan(
		&item.ID,
		&item.CartID,
		&item.VariantID,
		&item.Quantity,
		&item.PriceSnapshot,
		&discounts,
		&item.ReservationExpiresAt,
		&item.CreatedAt,
	); err != nil {
		return domain.CartItem{}, err
	}
	if len(discounts) > 0 {
		if err := json.Unmarshal(discounts, &item.Discounts); err != nil {
			return domain.CartItem{}, fmt.Errorf("decode discounts of item %s: %w", item.ID, err)
		}
	}
	item.ReservationExpiresAt = item.ReservationExpiresAt.UTC()
	item.CreatedAt = item.CreatedAt.UTC()
	return item, nil
}

func collectItems(rows *sql.Rows) ([]domain.CartItem, error) {
	defer rows.Close()

	items := make([]domain.CartItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}
	return items, nil
}

func encodeDiscounts(discounts []domain.Discount) (string, error) {
	if discounts == nil {
		discounts = []domain.Discount{}
	}
	raw, err := json.Marshal(discounts)
	if err != nil {
		return "", fmt.Errorf("encode discounts: %w", err)
	}
	return string(raw), nil
}

func expectAffected(res sql.Result, missing error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return missing
	}
	return nil
}

var _ domain.Tx = (*pgTx)(nil)
