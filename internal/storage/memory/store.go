// Package memory реализует хранилище в памяти для локальной разработки и тестов.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

// state: изменяемые таблицы хранилища. Транзакция работает с копией и подменяет
// state целиком при коммите. Заказы и outbox только дописываются, поэтому живут
// вне state и пополняются из журнала транзакции при коммите.
type state struct {
	categories map[string]domain.Category
	products   map[string]domain.Product
	variants   map[string]domain.Variant
	rules      map[string]domain.PricingRule
	carts      map[string]domain.Cart
	items      map[string]domain.CartItem
}

func newState() *state {
	return &state{
		categories: make(map[string]domain.Category),
		products:   make(map[string]domain.Product),
		variants:   make(map[string]domain.Variant),
		rules:      make(map[string]domain.PricingRule),
		carts:      make(map[string]domain.Cart),
		items:      make(map[string]domain.CartItem),
	}
}

// clone копирует карты. Вложенные срезы (скидки) после записи не меняются,
// поэтому их можно разделять между копиями.
func (s *state) clone() *state {
	return &state{
		categories: cloneMap(s.categories),
		products:   cloneMap(s.products),
		variants:   cloneMap(s.variants),
		rules:      cloneMap(s.rules),
		carts:      cloneMap(s.carts),
		items:      cloneMap(s.items),
	}
}

func cloneMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Store: in-memory хранилище каталога, корзин, заказов и outbox.
//
// WithinTx держит эксклюзивную блокировку всё время транзакции, поэтому транзакции
// строго сериализуемы. Ошибка fn отбрасывает копию state, и изменения не видны.
type Store struct {
	mu     sync.RWMutex
	st     *state
	orders map[string]domain.Order
	outbox map[string]outboxRecord
	now    func() time.Time
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		st:     newState(),
		orders: make(map[string]domain.Order),
		outbox: make(map[string]outboxRecord),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithinTx выполняет fn над копией state и применяет её, если fn не вернула ошибку.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.st.clone(), now: s.now, committedOrders: s.orders}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.st = tx.st
	for _, order := range tx.orders {
		s.orders[order.ID] = order
	}
	for _, record := range tx.outbox {
		s.outbox[record.msg.ID] = record
	}
	return nil
}

// GetProduct возвращает товар по id.
func (s *Store) GetProduct(_ context.Context, id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProduct(s.st, id)
}

// GetVariant возвращает вариант по id.
func (s *Store) GetVariant(_ context.Context, id string) (domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getVariant(s.st, id)
}

// ListActiveRules возвращает активные правила в порядке применения.
func (s *Store) ListActiveRules(_ context.Context) ([]domain.PricingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeRules(s.st), nil
}

// ViewActiveCart собирает ACTIVE корзину пользователя с позициями.
func (s *Store) ViewActiveCart(_ context.Context, userID string) (domain.CartView, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := findActiveCart(s.st, userID)
	if !ok {
		return domain.CartView{}, false, nil
	}

	view := domain.CartView{Cart: cart, Items: make([]domain.CartItemView, 0)}
	for _, item := range cartItems(s.st, cart.ID) {
		variant := s.st.variants[item.VariantID]
		view.Items = append(view.Items, domain.CartItemView{
			Item:    item,
			Variant: variant,
			Product: s.st.products[variant.ProductID],
		})
	}
	return view, true, nil
}

// PutProduct добавляет или заменяет товар каталога.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Status == "" {
		p.Status = domain.ProductStatusActive
	}
	s.st.products[p.ID] = p
}

// PutVariant добавляет или заменяет вариант товара.
func (s *Store) PutVariant(v domain.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.variants[v.ID] = v
}

// PutRule добавляет или заменяет правило цены.
func (s *Store) PutRule(r domain.PricingRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.rules[r.ID] = r
}

// Orders возвращает оформленные заказы пользователя, упорядоченные по времени создания.
func (s *Store) Orders(userID string) []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range s.orders {
		if order.UserID == userID {
			result = append(result, order)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Ping нужен для health-проверки; in-memory хранилище всегда доступно.
func (s *Store) Ping(context.Context) error {
	return nil
}

func getProduct(st *state, id string) (domain.Product, error) {
	p, ok := st.products[id]
	if !ok {
		return domain.Product{}, domain.NotFound(domain.ErrProductNotFound, id)
	}
	return p, nil
}

func getVariant(st *state, id string) (domain.Variant, error) {
	v, ok := st.variants[id]
	if !ok {
		return domain.Variant{}, domain.NotFound(domain.ErrVariantNotFound, id)
	}
	return v, nil
}

func activeRules(st *state) []domain.PricingRule {
	rules := make([]domain.PricingRule, 0, len(st.rules))
	for _, r := range st.rules {
		if r.IsActive {
			rules = append(rules, r)
		}
	}
	domain.SortRules(rules)
	return rules
}

func findActiveCart(st *state, userID string) (domain.Cart, bool) {
	for _, cart := range st.carts {
		if cart.UserID == userID && cart.IsActive() {
			return cart, true
		}
	}
	return domain.Cart{}, false
}

func cartItems(st *state, cartID string) []domain.CartItem {
	items := make([]domain.CartItem, 0)
	for _, item := range st.items {
		if item.CartID == cartID {
			items = append(items, item)
		}
	}
	sortItems(items)
	return items
}

func sortItems(items []domain.CartItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

var _ domain.Store = (*Store)(nil)
