package memory

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

func enqueue(t *testing.T, store *Store, msg domain.OutboxMessage) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.EnqueueOutbox(ctx, msg)
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
}

func TestOutboxRepository_EnqueueAndPull(t *testing.T) {
	store := NewStore()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	enqueue(t, store, domain.OutboxMessage{ID: "m-2", AggregateType: domain.AggregateOrder, EventType: domain.EventOrderPlaced, CreatedAt: base.Add(time.Second)})
	enqueue(t, store, domain.OutboxMessage{ID: "m-1", AggregateType: domain.AggregateOrder, EventType: domain.EventOrderPlaced, CreatedAt: base})
	enqueue(t, store, domain.OutboxMessage{AggregateType: domain.AggregateCart, EventType: domain.EventReservationExpired, CreatedAt: base.Add(time.Minute)})

	pending, err := store.PullPending(2)
	if err != nil {
		t.Fatalf("pull pending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending messages, got %d", len(pending))
	}
	if pending[0].ID != "m-1" || pending[1].ID != "m-2" {
		t.Fatalf("expected oldest first, got %s, %s", pending[0].ID, pending[1].ID)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 3 {
		t.Fatalf("expected 3 pending, got %d", stats.PendingCount)
	}
	if !stats.OldestPendingAt.Equal(base) {
		t.Fatalf("unexpected oldest pending at %s", stats.OldestPendingAt)
	}
}

func TestOutboxRepository_MarkSentAndFailed(t *testing.T) {
	store := NewStore()
	enqueue(t, store, domain.OutboxMessage{ID: "m-1", AggregateType: domain.AggregateOrder})
	enqueue(t, store, domain.OutboxMessage{ID: "m-2", AggregateType: domain.AggregateOrder})

	if err := store.MarkSent("m-1"); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	if err := store.MarkFailed("m-2"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkFailed("missing"); err == nil {
		t.Fatal("expected error for missing record")
	}

	if pending := store.AllPending(); len(pending) != 0 {
		t.Fatalf("expected no pending messages, got %d", len(pending))
	}
}

func TestOutboxRepository_RolledBackMessageIsNotVisible(t *testing.T) {
	store := NewStore()

	_ = store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.EnqueueOutbox(ctx, domain.OutboxMessage{ID: "m-1"}); err != nil {
			return err
		}
		return domain.Conflict(domain.ErrCartEmpty, "")
	})

	if pending := store.AllPending(); len(pending) != 0 {
		t.Fatalf("expected rollback to drop message, got %d", len(pending))
	}
}

func TestOutboxRepository_SentMessagesArePruned(t *testing.T) {
	store := NewStore()
	enqueue(t, store, domain.OutboxMessage{ID: "m-1", AggregateType: domain.AggregateOrder})
	enqueue(t, store, domain.OutboxMessage{ID: "m-2", AggregateType: domain.AggregateOrder})

	if err := store.MarkSent("m-1"); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	if got := store.OutboxSize(); got != 1 {
		t.Fatalf("expected sent record to be pruned, size=%d", got)
	}
	if err := store.MarkSent("m-1"); err == nil {
		t.Fatal("expected error for already pruned record")
	}

	if err := store.MarkFailed("m-2"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if got := store.OutboxSize(); got != 1 {
		t.Fatalf("expected failed record to be kept, size=%d", got)
	}
}

func TestStore_OrdersAndOutboxAppliedOnCommit(t *testing.T) {
	store := NewStore()
	order := domain.Order{ID: "o-1", UserID: "u-1", CreatedAt: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}

	_ = store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.EnqueueOutbox(ctx, domain.OutboxMessage{ID: "m-1"}); err != nil {
			return err
		}
		return domain.Conflict(domain.ErrCartEmpty, "")
	})
	if got := len(store.Orders("u-1")); got != 0 {
		t.Fatalf("expected rolled back order to be dropped, got %d", got)
	}
	if got := store.OutboxSize(); got != 0 {
		t.Fatalf("expected rolled back outbox to be dropped, got %d", got)
	}

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.EnqueueOutbox(ctx, domain.OutboxMessage{ID: "m-1"})
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if got := len(store.Orders("u-1")); got != 1 {
		t.Fatalf("expected committed order, got %d", got)
	}
	if got := store.OutboxSize(); got != 1 {
		t.Fatalf("expected committed outbox record, got %d", got)
	}

	err = store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.InsertOrder(ctx, order)
	})
	if err == nil {
		t.Fatal("expected duplicate order to be rejected")
	}
}
