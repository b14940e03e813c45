// Package cart управляет корзиной с резервированием стока и оформлением заказа.
//
// Все изменения счётчиков stock/reserved выполняются внутри domain.Store.WithinTx
// под блокировками строк. Порядок блокировок: корзина, позиции, варианты по возрастанию id.
package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
	"github.com/vladislavdragonenkov/shopcart/internal/metrics"
	"github.com/vladislavdragonenkov/shopcart/internal/pricing"
)

const (
	opAdd      = "add"
	opUpdate   = "update"
	opRemove   = "remove"
	opCheckout = "checkout"
)

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics задаёт метрики операций.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithReservationTTL задаёт время жизни резерва новой позиции.
func WithReservationTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock задаёт источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator задаёт генератор идентификаторов корзин, позиций и заказов.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// Service реализует операции корзины поверх транзакционного хранилища.
type Service struct {
	store   domain.Store
	engine  *pricing.Engine
	logger  *log.Entry
	metrics *metrics.CartMetrics
	ttl     time.Duration
	now     func() time.Time
	newID   func() string
}

// NewService создаёт сервис. Если engine == nil, используется движок поверх store
// с тем же источником времени.
func NewService(store domain.Store, engine *pricing.Engine, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: log.WithField("component", "cart-service"),
		ttl:    domain.DefaultReservationTTL,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if engine == nil {
		engine = pricing.NewEngine(store, pricing.WithClock(s.now))
	}
	s.engine = engine
	return s
}

// AddItem резервирует quantity единиц варианта и добавляет позицию в ACTIVE корзину
// пользователя, создавая корзину при необходимости. Цена фиксируется снапшотом.
func (s *Service) AddItem(ctx context.Context, in domain.AddItemInput) (item domain.CartItem, err error) {
	started := time.Now()
	defer func() { s.observe(opAdd, err, started) }()

	if err := in.Validate(); err != nil {
		return domain.CartItem{}, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		now := s.now()
		cart, err := tx.EnsureActiveCart(ctx, domain.Cart{
			ID:        s.newID(),
			UserID:    in.UserID,
			Status:    domain.CartStatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("ensure active cart: %w", err)
		}

		variant, err := tx.LockVariant(ctx, in.VariantID)
		if err != nil {
			return err
		}
		if variant.Available() < in.Quantity {
			return domain.Conflict(domain.ErrInsufficientStock, variant.ID)
		}

		quote, err := s.engine.ComputePriceWith(ctx, tx, domain.PriceRequest{
			ProductID: in.ProductID,
			VariantID: variant.ID,
			Quantity:  in.Quantity,
			UserTier:  in.UserTier,
			PromoCode: in.PromoCode,
		})
		if err != nil {
			return err
		}

		item = domain.CartItem{
			ID:                   s.newID(),
			CartID:               cart.ID,
			VariantID:            variant.ID,
			Quantity:             in.Quantity,
			PriceSnapshot:        quote.UnitPrice,
			Discounts:            quote.Discounts,
			ReservationExpiresAt: now.Add(s.ttl),
			CreatedAt:            now,
		}
		if err := tx.InsertItem(ctx, item); err != nil {
			return fmt.Errorf("insert cart item: %w", err)
		}

		variant.ReservedQuantity += in.Quantity
		if err := tx.SaveVariantCounters(ctx, variant); err != nil {
			return fmt.Errorf("reserve stock: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.CartItem{}, err
	}

	s.metrics.RecordReserved(opAdd, item.Quantity)
	s.logger.WithFields(log.Fields{
		"user_id":    in.UserID,
		"cart_id":    item.CartID,
		"item_id":    item.ID,
		"variant_id": item.VariantID,
		"quantity":   item.Quantity,
	}).Info("cart item added")
	return item, nil
}

// UpdateItem меняет количество позиции, резервируя или освобождая разницу.
// Снапшот цены не пересчитывается.
func (s *Service) UpdateItem(ctx context.Context, itemID string, quantity int, requesterID string) (item domain.CartItem, err error) {
	started := time.Now()
	defer func() { s.observe(opUpdate, err, started) }()

	if requesterID == "" {
		return domain.CartItem{}, domain.Validation(domain.ErrUserRequired, "")
	}
	if quantity <= 0 {
		return domain.CartItem{}, domain.Validation(domain.ErrQuantityInvalid, itemID)
	}

	var delta int
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		locked, err := s.lockOwnedItem(ctx, tx, itemID, requesterID)
		if err != nil {
			return err
		}

		delta = quantity - locked.Quantity
		if delta != 0 {
			variant, err := tx.LockVariant(ctx, locked.VariantID)
			if err != nil {
				return err
			}
			if delta > 0 && variant.Available() < delta {
				return domain.Conflict(domain.ErrInsufficientStock, variant.ID)
			}
			if delta < 0 && variant.ReservedQuantity < -delta {
				return domain.Conflict(domain.ErrReservationInconsistent, variant.ID)
			}
			variant.ReservedQuantity += delta
			if err := tx.SaveVariantCounters(ctx, variant); err != nil {
				return fmt.Errorf("adjust reservation: %w", err)
			}
			if err := tx.UpdateItemQuantity(ctx, locked.ID, quantity); err != nil {
				return fmt.Errorf("update cart item: %w", err)
			}
		}

		locked.Quantity = quantity
		item = locked
		return nil
	})
	if err != nil {
		return domain.CartItem{}, err
	}

	if delta > 0 {
		s.metrics.RecordReserved(opUpdate, delta)
	} else {
		s.metrics.RecordReleased(metrics.ReleaseDecreased, -delta)
	}
	s.logger.WithFields(log.Fields{
		"user_id":  requesterID,
		"item_id":  item.ID,
		"quantity": item.Quantity,
		"delta":    delta,
	}).Info("cart item updated")
	return item, nil
}

// RemoveItem удаляет позицию и полностью освобождает её резерв.
func (s *Service) RemoveItem(ctx context.Context, itemID string, requesterID string) (err error) {
	started := time.Now()
	defer func() { s.observe(opRemove, err, started) }()

	if requesterID == "" {
		return domain.Validation(domain.ErrUserRequired, "")
	}

	var released int
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		item, err := s.lockOwnedItem(ctx, tx, itemID, requesterID)
		if err != nil {
			return err
		}

		variant, err := tx.LockVariant(ctx, item.VariantID)
		if err != nil {
			return err
		}
		if variant.ReservedQuantity < item.Quantity {
			return domain.Conflict(domain.ErrReservationInconsistent, variant.ID)
		}
		variant.ReservedQuantity -= item.Quantity
		if err := tx.SaveVariantCounters(ctx, variant); err != nil {
			return fmt.Errorf("release reservation: %w", err)
		}
		if err := tx.DeleteItems(ctx, item.ID); err != nil {
			return fmt.Errorf("delete cart item: %w", err)
		}
		released = item.Quantity
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.RecordReleased(metrics.ReleaseRemoved, released)
	s.logger.WithFields(log.Fields{
		"user_id":  requesterID,
		"item_id":  itemID,
		"released": released,
	}).Info("cart item removed")
	return nil
}

// GetCart возвращает ACTIVE корзину пользователя. Если корзины нет, возвращается
// пустое представление без ошибки.
func (s *Service) GetCart(ctx context.Context, userID string) (domain.CartView, error) {
	if userID == "" {
		return domain.CartView{}, domain.Validation(domain.ErrUserRequired, "")
	}

	view, found, err := s.store.ViewActiveCart(ctx, userID)
	if err != nil {
		return domain.CartView{}, fmt.Errorf("view active cart: %w", err)
	}
	if !found {
		return domain.CartView{Items: make([]domain.CartItemView, 0)}, nil
	}
	return view, nil
}

// Checkout превращает резервы ACTIVE корзины в проданный сток и заказ.
// Всё выполняется одной транзакцией: либо заказ создан и корзина COMPLETED,
// либо ничего не изменилось.
func (s *Service) Checkout(ctx context.Context, userID string) (result domain.CheckoutResult, err error) {
	started := time.Now()
	defer func() { s.observe(opCheckout, err, started) }()

	if userID == "" {
		return domain.CheckoutResult{}, domain.Validation(domain.ErrUserRequired, "")
	}

	var order domain.Order
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cart, found, err := tx.LockActiveCart(ctx, userID)
		if err != nil {
			return fmt.Errorf("lock active cart: %w", err)
		}
		if !found {
			return domain.Validation(domain.ErrCartEmpty, "")
		}

		items, err := tx.LockCartItems(ctx, cart.ID)
		if err != nil {
			return fmt.Errorf("lock cart items: %w", err)
		}
		if len(items) == 0 {
			return domain.Validation(domain.ErrCartEmpty, cart.ID)
		}

		if err := settleVariants(ctx, tx, items); err != nil {
			return err
		}

		now := s.now()
		order = domain.Order{
			ID:        s.newID(),
			UserID:    userID,
			CartID:    cart.ID,
			Items:     make([]domain.OrderItem, 0, len(items)),
			CreatedAt: now,
		}
		itemIDs := make([]string, 0, len(items))
		for _, item := range items {
			order.Items = append(order.Items, domain.OrderItem{
				ID:        s.newID(),
				OrderID:   order.ID,
				VariantID: item.VariantID,
				Quantity:  item.Quantity,
				Price:     item.PriceSnapshot,
			})
			itemIDs = append(itemIDs, item.ID)
		}
		order.Total = order.ComputeTotal()

		if err := tx.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if err := tx.DeleteItems(ctx, itemIDs...); err != nil {
			return fmt.Errorf("delete cart items: %w", err)
		}
		if err := tx.CompleteCart(ctx, cart.ID, now); err != nil {
			return fmt.Errorf("complete cart: %w", err)
		}

		msg, err := orderPlacedMessage(order)
		if err != nil {
			return err
		}
		if err := tx.EnqueueOutbox(ctx, msg); err != nil {
			return fmt.Errorf("enqueue order placed: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.CheckoutResult{}, err
	}

	units := 0
	for _, item := range order.Items {
		units += item.Quantity
	}
	s.metrics.RecordReleased(metrics.ReleaseSold, units)
	s.metrics.RecordOrderPlaced()
	s.logger.WithFields(log.Fields{
		"user_id":  userID,
		"order_id": order.ID,
		"total":    order.Total.StringFixed(2),
		"items":    len(order.Items),
	}).Info("checkout completed")

	return domain.CheckoutResult{OrderID: order.ID, Total: order.Total}, nil
}

// lockOwnedItem находит позицию, блокирует её корзину, проверяет статус и владельца
// и перечитывает позицию под блокировкой.
func (s *Service) lockOwnedItem(ctx context.Context, tx domain.Tx, itemID, requesterID string) (domain.CartItem, error) {
	item, err := tx.GetItem(ctx, itemID)
	if err != nil {
		return domain.CartItem{}, err
	}

	cart, err := tx.LockCart(ctx, item.CartID)
	if err != nil {
		return domain.CartItem{}, err
	}
	if !cart.IsActive() {
		return domain.CartItem{}, domain.Conflict(domain.ErrCartNotActive, cart.ID)
	}
	if cart.UserID != requesterID {
		return domain.CartItem{}, domain.Conflict(domain.ErrNotOwner, cart.ID)
	}

	return tx.LockItem(ctx, itemID)
}

// settleVariants списывает сток и резерв по всем позициям, блокируя варианты
// по возрастанию id.
func settleVariants(ctx context.Context, tx domain.Tx, items []domain.CartItem) error {
	need := make(map[string]int, len(items))
	for _, item := range items {
		need[item.VariantID] += item.Quantity
	}
	variantIDs := make([]string, 0, len(need))
	for id := range need {
		variantIDs = append(variantIDs, id)
	}
	sort.Strings(variantIDs)

	for _, id := range variantIDs {
		variant, err := tx.LockVariant(ctx, id)
		if err != nil {
			return err
		}
		qty := need[id]
		if variant.ReservedQuantity < qty || variant.StockQuantity < qty {
			return domain.Conflict(domain.ErrReservationInconsistent, id)
		}
		variant.StockQuantity -= qty
		variant.ReservedQuantity -= qty
		if err := tx.SaveVariantCounters(ctx, variant); err != nil {
			return fmt.Errorf("settle variant %s: %w", id, err)
		}
	}
	return nil
}

func orderPlacedMessage(order domain.Order) (domain.OutboxMessage, error) {
	payload := domain.OrderPlacedPayload{
		OrderID:  order.ID,
		UserID:   order.UserID,
		CartID:   order.CartID,
		Total:    order.Total.StringFixed(2),
		Items:    make([]domain.OrderPlacedLine, 0, len(order.Items)),
		PlacedAt: order.CreatedAt,
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, domain.OrderPlacedLine{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			Price:     item.Price.StringFixed(2),
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal order placed: %w", err)
	}
	return domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     domain.EventOrderPlaced,
		Payload:       data,
		CreatedAt:     order.CreatedAt,
	}, nil
}

func (s *Service) observe(operation string, err error, started time.Time) {
	result := "ok"
	if err != nil {
		result = string(domain.KindOf(err))
	}
	s.metrics.RecordOperation(operation, result, time.Since(started))
}

// LineTotal возвращает стоимость позиции корзины по снапшоту цены.
func LineTotal(item domain.CartItem) decimal.Decimal {
	return item.PriceSnapshot.Mul(decimal.NewFromInt(int64(item.Quantity)))
}
