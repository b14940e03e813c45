package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

// memTx работает с приватной копией state под эксклюзивной блокировкой Store,
// поэтому Lock*-методы ничего не блокируют дополнительно. Новые заказы и сообщения
// outbox копятся в журнале и попадают в Store только при коммите.
type memTx struct {
	st  *state
	now func() time.Time

	committedOrders map[string]domain.Order
	orders          []domain.Order
	outbox          []outboxRecord
}

func (t *memTx) GetProduct(_ context.Context, id string) (domain.Product, error) {
	return getProduct(t.st, id)
}

func (t *memTx) GetVariant(_ context.Context, id string) (domain.Variant, error) {
	return getVariant(t.st, id)
}

func (t *memTx) ListActiveRules(_ context.Context) ([]domain.PricingRule, error) {
	return activeRules(t.st), nil
}

func (t *memTx) LockVariant(_ context.Context, id string) (domain.Variant, error) {
	return getVariant(t.st, id)
}

// SaveVariantCounters повторяет CHECK-ограничения таблицы variants.
func (t *memTx) SaveVariantCounters(_ context.Context, v domain.Variant) error {
	current, ok := t.st.variants[v.ID]
	if !ok {
		return domain.NotFound(domain.ErrVariantNotFound, v.ID)
	}
	if err := v.ValidateCounters(); err != nil {
		return err
	}
	current.StockQuantity = v.StockQuantity
	current.ReservedQuantity = v.ReservedQuantity
	t.st.variants[v.ID] = current
	return nil
}

func (t *memTx) EnsureActiveCart(_ context.Context, candidate domain.Cart) (domain.Cart, error) {
	if cart, ok := findActiveCart(t.st, candidate.UserID); ok {
		return cart, nil
	}
	if candidate.ID == "" {
		candidate.ID = uuid.NewString()
	}
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = t.now()
	}
	if candidate.UpdatedAt.IsZero() {
		candidate.UpdatedAt = candidate.CreatedAt
	}
	candidate.Status = domain.CartStatusActive
	t.st.carts[candidate.ID] = candidate
	return candidate, nil
}

func (t *memTx) LockActiveCart(_ context.Context, userID string) (domain.Cart, bool, error) {
	cart, ok := findActiveCart(t.st, userID)
	return cart, ok, nil
}

func (t *memTx) LockCart(_ context.Context, cartID string) (domain.Cart, error) {
	cart, ok := t.st.carts[cartID]
	if !ok {
		return domain.Cart{}, domain.NotFound(domain.ErrCartNotFound, cartID)
	}
	return cart, nil
}

func (t *memTx) CompleteCart(_ context.Context, cartID string, at time.Time) error {
	cart, ok := t.st.carts[cartID]
	if !ok {
		return domain.NotFound(domain.ErrCartNotFound, cartID)
	}
	cart.Status = domain.CartStatusCompleted
	cart.UpdatedAt = at
	t.st.carts[cartID] = cart
	return nil
}

func (t *memTx) GetItem(_ context.Context, itemID string) (domain.CartItem, error) {
	item, ok := t.st.items[itemID]
	if !ok {
		return domain.CartItem{}, domain.NotFound(domain.ErrItemNotFound, itemID)
	}
	return item, nil
}

func (t *memTx) LockItem(ctx context.Context, itemID string) (domain.CartItem, error) {
	return t.GetItem(ctx, itemID)
}

func (t *memTx) LockCartItems(_ context.Context, cartID string) ([]domain.CartItem, error) {
	return cartItems(t.st, cartID), nil
}

func (t *memTx) ListExpiredVariants(_ context.Context, now time.Time, afterID string, limit int) ([]string, error) {
	seen := make(map[string]struct{})
	for _, item := range t.st.items {
		if item.VariantID <= afterID || !t.expiredInActiveCart(item, now) {
			continue
		}
		seen[item.VariantID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (t *memTx) LockExpiredItems(_ context.Context, variantID string, now time.Time, limit int) ([]domain.CartItem, error) {
	expired := make([]domain.CartItem, 0)
	for _, item := range t.st.items {
		if item.VariantID != variantID || !t.expiredInActiveCart(item, now) {
			continue
		}
		expired = append(expired, item)
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (t *memTx) expiredInActiveCart(item domain.CartItem, now time.Time) bool {
	cart, ok := t.st.carts[item.CartID]
	return ok && cart.IsActive() && item.Expired(now)
}

func (t *memTx) InsertItem(_ context.Context, item domain.CartItem) error {
	if _, exists := t.st.items[item.ID]; exists {
		return fmt.Errorf("cart item %s already exists", item.ID)
	}
	if _, ok := t.st.carts[item.CartID]; !ok {
		return domain.NotFound(domain.ErrCartNotFound, item.CartID)
	}
	t.st.items[item.ID] = item
	return nil
}

func (t *memTx) UpdateItemQuantity(_ context.Context, itemID string, quantity int) error {
	item, ok := t.st.items[itemID]
	if !ok {
		return domain.NotFound(domain.ErrItemNotFound, itemID)
	}
	if quantity <= 0 {
		return domain.Validation(domain.ErrQuantityInvalid, itemID)
	}
	item.Quantity = quantity
	t.st.items[itemID] = item
	return nil
}

func (t *memTx) DeleteItems(_ context.Context, itemIDs ...string) error {
	for _, id := range itemIDs {
		if _, ok := t.st.items[id]; !ok {
			return domain.NotFound(domain.ErrItemNotFound, id)
		}
		delete(t.st.items, id)
	}
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, order domain.Order) error {
	if _, exists := t.committedOrders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	items := make([]domain.OrderItem, len(order.Items))
	copy(items, order.Items)
	order.Items = items
	t.orders = append(t.orders, order)
	return nil
}

func (t *memTx) EnqueueOutbox(_ context.Context, msg domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = t.now()
	}
	t.outbox = append(t.outbox, outboxRecord{
		msg:       msg,
		status:    domain.OutboxStatusPending,
		updatedAt: msg.CreatedAt,
	})
	return nil
}

var _ domain.Tx = (*memTx)(nil)
