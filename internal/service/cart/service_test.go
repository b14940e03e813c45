package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
	"github.com/vladislavdragonenkov/shopcart/internal/metrics"
	"github.com/vladislavdragonenkov/shopcart/internal/storage/memory"
)

var testNow = time.Date(2026, time.May, 4, 9, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestStore() *memory.Store {
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "p-1", Name: "T-shirt", BasePrice: dec("100.00")})
	store.PutProduct(domain.Product{ID: "p-2", Name: "Cap", BasePrice: dec("20.00")})
	store.PutVariant(domain.Variant{ID: "v-1", ProductID: "p-1", SKU: "TS-M", StockQuantity: 10})
	store.PutVariant(domain.Variant{ID: "v-2", ProductID: "p-2", SKU: "CAP", StockQuantity: 5, PriceAdjustment: dec("2.50")})
	store.PutRule(domain.PricingRule{
		ID: "r-season", Type: domain.RuleTypeSeasonal, DiscountType: domain.DiscountPercentage,
		DiscountValue: dec("10"), Priority: 10, IsActive: true,
	})
	return store
}

func newTestService(store *memory.Store) *Service {
	var seq atomic.Int64
	return NewService(store, nil,
		WithClock(func() time.Time { return testNow }),
		WithMetrics(metrics.NewCartMetricsWithRegisterer(prometheus.NewRegistry())),
		WithIDGenerator(func() string { return fmt.Sprintf("id-%03d", seq.Add(1)) }),
	)
}

func variant(t *testing.T, store *memory.Store, id string) domain.Variant {
	t.Helper()
	v, err := store.GetVariant(context.Background(), id)
	require.NoError(t, err)
	return v
}

func TestAddItem_ReservesStockAndSnapshotsPrice(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)

	item, err := svc.AddItem(context.Background(), domain.AddItemInput{
		UserID: "u-1", UserTier: domain.UserTierRegular, VariantID: "v-1", Quantity: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, item.Quantity)
	assert.True(t, item.PriceSnapshot.Equal(dec("90.00")), item.PriceSnapshot.String())
	require.Len(t, item.Discounts, 1)
	assert.Equal(t, "r-season", item.Discounts[0].RuleID)
	assert.Equal(t, testNow.Add(domain.DefaultReservationTTL), item.ReservationExpiresAt)
	assert.Equal(t, 3, variant(t, store, "v-1").ReservedQuantity)

	view, err := svc.GetCart(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, domain.CartStatusActive, view.Cart.Status)
	assert.True(t, LineTotal(view.Items[0].Item).Equal(dec("270.00")))
}

func TestAddItem_SecondAddReusesActiveCart(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)
	ctx := context.Background()

	first, err := svc.AddItem(ctx, domain.AddItemInput{UserID: "u-1", VariantID: "v-1", Quantity: 1})
	require.NoError(t, err)
	second, err := svc.AddItem(ctx, domain.AddItemInput{UserID: "u-1", VariantID: "v-1", Quantity: 2})
	require.NoError(t, err)

	assert.Equal(t, first.CartID, second.CartID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 3, variant(t, store, "v-1").ReservedQuantity)
}

func TestAddItem_InsufficientStockLeavesReservationUnchanged(t *testing.T) {
	store := newTestStore()
	store.PutVariant(domain.Variant{ID: "v-1", ProductID: "p-1", StockQuantity: 10, ReservedQuantity: 10})
	svc := newTestService(store)

	_, err := svc.AddItem(context.Background(), domain.AddItemInput{UserID: "u-1", VariantID: "v-1", Quantity: 1})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.Equal(t, 10, variant(t, store, "v-1").ReservedQuantity)

	_, found, err := store.ViewActiveCart(context.Background(), "u-1")
	require.NoError(t, err)
	assert.False(t, found, "cart creation must roll back with the failed add")
}

func TestAddItem_ValidationAndLookupErrors(t *testing.T) {
	svc := newTestService(newTestStore())
	ctx := context.Background()

	_, err := svc.AddItem(ctx, domain.AddItemInput{UserID: "u-1", VariantID: "v-1", Quantity: 0})
	assert.ErrorIs(t, err, domain.ErrQuantityInvalid)

	_, err = svc.AddItem(ctx, domain.AddItemInput{VariantID: "v-1", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrUserRequired)

	_, err = svc.AddItem(ctx, domain.AddItemInput{UserID: "u-1", VariantID: "missing", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrVariantNotFound)

	_, err = svc.AddItem(ctx, domain.AddItemInput{UserID: "u-1", VariantID: "v-1", ProductID: "p-2", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrVariantMismatch)
}

func TestAddItem_ConcurrentAddsNeverOversell(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)

	const shoppers = 25
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		rejected  atomic.Int64
	)
	for i := 0; i < shoppers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.AddItem(context.Background(), domain.AddItemInput{
				UserID: fmt.Sprintf("u-%d", i), VariantID: "v-2", Quantity: 1,
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case domain.IsConflict(err):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(5), succeeded.Load())
	assert.Equal(t, int64(shoppers-5), rejected.Load())
	v := variant(t, store, "v-2")
	assert.Equal(t, 5, v.ReservedQuantity)
	assert.LessOrEqual(t, v.ReservedQuantity, v.StockQuantity)
}

func TestUpdateItem_AdjustsReservationByDelta(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)
	ctx := context.Background()

	item, err := svc.AddItem(ctx, domain.AddItemInput{UserID: "u-1", VariantID: "v-1", Quantity: 2})
	require.NoError(t, err)

	updated, err := svc.UpdateItem(ctx, item.ID, 6, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 6, updated.Quantity)
	assert.True(t, updated.PriceSnapshot.Equal(item.PriceSnapshot), "snapshot must stay unchanged")
	assert.Equal(t, 6, variant(t, store, "v-1").ReservedQuantity)

	_, err = svc.UpdateItem(ctx, item.ID, 1, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 1, variant(t, store, "v-1").ReservedQuantity)

	_, err = svc.UpdateItem(ctx, item.ID, 1, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 1, variant(t, store, "v-1").ReservedQuantity)
}

func TestUpdateItem_Errors(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)
	ctx := context.Background()

	item, err := svc.AddItem(ctx, domain.AddItemInput{UserID: "u-1", VariantID: "v-1", Quantity: 2})
	require.NoError(t, err)

	_, err = svc.UpdateItem(ctx, item.ID, 11, "u-1")
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 2, variant(t, store, "v-1").ReservedQuantity)

	_, err = svc.UpdateItem(ctx, item.ID, 3, "u-2")
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	_, err = svc.UpdateItem(ctx, "missing", 3, "u-1")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	_, err = svc.UpdateItem(ctx, item.ID, 0, "u-1")
	assert.ErrorIs(t, err, domain.ErrQuantityInvalid)

	_, err = svc.UpdateItem(ctx, item.ID, 1, "")
	assert.ErrorIs(t, err, domain.ErrUserRequired)
}

func TestUpdateAndRemove_RejectCompletedCart(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)
	ctx := context.Background()

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cart, err := tx.EnsureActiveCart(ctx, domain.Cart{ID: "c-old", UserID: "u-1"})
		if err != nil {
			return err
		}
		if err := tx.InsertItem(ctx, domain.CartItem{ID: "i-old", CartID: cart.ID, VariantID: "v-1", Quantity: 1}); err != nil {
			return err
		}
		return tx.CompleteCart(ctx, cart.ID, testNow)
	}))

	_, err := svc.UpdateItem(ctx, "i-old", 2, "u-1")
	assert.ErrorIs(t, err, domain.ErrCartNotActive)

	err = svc.RemoveItem(ctx, "i-old", "u-1")
	assert.ErrorIs(t, err, domain.ErrCartNotActive)
}

func TestRemoveItem_ReleasesReservation(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)
	ctx := context.Background()

	item, err := svc.AddItem(ctx, domain.AddItemInput{UserID: "u-1", VariantID: "v-1", Quantity: 4})
	require.NoError(t, err)

	require.ErrorIs(t, svc.RemoveItem(ctx, item.ID, "u-2"), domain.ErrNotOwner)
	assert.Equal(t, 4, variant(t, store, "v-1").ReservedQuantity)

	require.NoError(t, svc.RemoveItem(ctx, item.ID, "u-1"))
	assert.Zero(t, variant(t, store, "v-1").ReservedQuantity)

	require.ErrorIs(t, svc.RemoveItem(ctx, item.ID, "u-1"), domain.ErrItemNotFound)

	view, err := svc.GetCart(ctx, "u-1")
	require.NoError(t, err)
	assert.Empty(t, view.Items)
}

func TestCheckout_ConvertsReservationsIntoOrder(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, domain.AddItemInput{UserID: "u-1", VariantID: "v-1", Quantity: 2})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, domain.AddItemInput{UserID: "u-1", VariantID: "v-2", Quantity: 3})
	require.NoError(t, err)

	result, err := svc.Checkout(ctx, "u-1")
	require.NoError(t, err)
	// 2 * 90.00 + 3 * 20.25
	assert.True(t, result.Total.Equal(dec("240.75")), result.Total.String())

	v1 := variant(t, store, "v-1")
	assert.Equal(t, 8, v1.StockQuantity)
	assert.Zero(t, v1.ReservedQuantity)
	v2 := variant(t, store, "v-2")
	assert.Equal(t, 2, v2.StockQuantity)
	assert.Zero(t, v2.ReservedQuantity)

	orders := store.Orders("u-1")
	require.Len(t, orders, 1)
	assert.Equal(t, result.OrderID, orders[0].ID)
	assert.Len(t, orders[0].Items, 2)

	_, found, err := store.ViewActiveCart(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, found, "cart must be completed")

	pending := store.AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventOrderPlaced, pending[0].EventType)
	assert.Equal(t, result.OrderID, pending[0].AggregateID)

	var payload domain.OrderPlacedPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, "240.75", payload.Total)
	assert.Len(t, payload.Items, 2)

	_, err = svc.Checkout(ctx, "u-1")
	assert.ErrorIs(t, err, domain.ErrCartEmpty)
}

func TestCheckout_EmptyCart(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.Checkout(ctx, "u-1")
	assert.ErrorIs(t, err, domain.ErrCartEmpty)

	item, err := svc.AddItem(ctx, domain.AddItemInput{UserID: "u-1", VariantID: "v-1", Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, svc.RemoveItem(ctx, item.ID, "u-1"))

	_, err = svc.Checkout(ctx, "u-1")
	assert.ErrorIs(t, err, domain.ErrCartEmpty)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestCheckout_IsAllOrNothing(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, domain.AddItemInput{UserID: "u-1", VariantID: "v-1", Quantity: 2})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, domain.AddItemInput{UserID: "u-1", VariantID: "v-2", Quantity: 2})
	require.NoError(t, err)

	// Резерв v-2 рассинхронизирован с корзиной.
	store.PutVariant(domain.Variant{ID: "v-2", ProductID: "p-2", StockQuantity: 5, ReservedQuantity: 1, PriceAdjustment: dec("2.50")})

	_, err = svc.Checkout(ctx, "u-1")
	require.ErrorIs(t, err, domain.ErrReservationInconsistent)

	v1 := variant(t, store, "v-1")
	assert.Equal(t, 10, v1.StockQuantity)
	assert.Equal(t, 2, v1.ReservedQuantity)
	assert.Empty(t, store.Orders("u-1"))
	assert.Empty(t, store.AllPending())

	view, err := svc.GetCart(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, view.Items, 2)
}

func TestCheckout_ConcurrentWithUpdateKeepsInvariant(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)
	ctx := context.Background()

	item, err := svc.AddItem(ctx, domain.AddItemInput{UserID: "u-1", VariantID: "v-1", Quantity: 2})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = svc.Checkout(ctx, "u-1")
	}()
	go func() {
		defer wg.Done()
		_, _ = svc.UpdateItem(ctx, item.ID, 5, "u-1")
	}()
	wg.Wait()

	v := variant(t, store, "v-1")
	require.NoError(t, v.ValidateCounters())
	orders := store.Orders("u-1")
	require.Len(t, orders, 1)
	// Списано ровно столько, сколько попало в заказ, и ничего не осталось в резерве.
	assert.Equal(t, 10-orders[0].Items[0].Quantity, v.StockQuantity)
	assert.Zero(t, v.ReservedQuantity)
}

func TestGetCart_NoActiveCart(t *testing.T) {
	svc := newTestService(newTestStore())

	view, err := svc.GetCart(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, view.Items)
	assert.Empty(t, view.Items)

	_, err = svc.GetCart(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrUserRequired)
}
