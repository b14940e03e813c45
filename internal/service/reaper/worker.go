// Package reaper снимает истёкшие резервы позиций корзин.
package reaper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
	"github.com/vladislavdragonenkov/shopcart/internal/metrics"
)

const (
	defaultInterval  = 60 * time.Second
	defaultBatchSize = 200
)

// Options задаёт параметры воркера.
type Options struct {
	Logger    *log.Entry
	Metrics   *metrics.CartMetrics
	Interval  time.Duration
	BatchSize int
	Clock     func() time.Time
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики прогонов.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithInterval задаёт интервал между прогонами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт число позиций, освобождаемых одной транзакцией,
// и размер страницы при обходе вариантов.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// WithClock задаёт источник времени для Run.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = now
	}
}

// Worker периодически освобождает резервы позиций ACTIVE корзин,
// у которых истёк ReservationExpiresAt.
type Worker struct {
	store     domain.Store
	logger    *log.Entry
	metrics   *metrics.CartMetrics
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewWorker создаёт воркер очистки резервов.
func NewWorker(store domain.Store, options ...Option) *Worker {
	opts := Options{
		Interval:  defaultInterval,
		BatchSize: defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reservation-reaper")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Worker{
		store:     store,
		logger:    logger,
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		now:       opts.Clock,
	}
}

// Run выполняет прогон сразу и затем на каждом тике до отмены ctx.
// Ошибка прогона логируется и не останавливает цикл.
func (w *Worker) Run(ctx context.Context) {
	if w.store == nil {
		w.logger.Warn("reservation reaper is disabled: store is nil")
		return
	}

	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	now := w.now()
	released, err := w.Sweep(ctx, now)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.metrics.RecordReaperRun("error", now)
		w.logger.WithError(err).WithField("released", released).Warn("reservation reaper run failed")
		return
	}

	w.metrics.RecordReaperRun("ok", now)
	if released > 0 {
		w.logger.WithField("released", released).Info("expired reservations released")
	}
}

// Sweep освобождает все резервы, истёкшие к моменту now. Варианты обходятся по
// возрастанию id, каждый освобождается своими транзакциями по batchSize позиций.
// Вариант с несогласованными счётчиками пропускается, остальные освобождаются;
// ошибки пропущенных вариантов возвращаются вместе. Возвращает число удалённых позиций.
func (w *Worker) Sweep(ctx context.Context, now time.Time) (int, error) {
	var (
		total   int
		skipped []error
		afterID string
	)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var variantIDs []string
		err := w.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) (err error) {
			variantIDs, err = tx.ListExpiredVariants(ctx, now, afterID, w.batchSize)
			return err
		})
		if err != nil {
			return total, fmt.Errorf("list expired variants: %w", err)
		}

		for _, id := range variantIDs {
			released, err := w.releaseVariant(ctx, id, now)
			total += released
			if err == nil {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return total, ctxErr
			}
			w.metrics.RecordReaperSkipped()
			w.logger.WithError(err).WithField("variant_id", id).Warn("expired reservations of variant skipped")
			skipped = append(skipped, fmt.Errorf("variant %s: %w", id, err))
		}

		if len(variantIDs) < w.batchSize {
			return total, errors.Join(skipped...)
		}
		afterID = variantIDs[len(variantIDs)-1]
	}
}

func (w *Worker) releaseVariant(ctx context.Context, variantID string, now time.Time) (int, error) {
	total := 0
	for {
		released, units, err := w.releaseBatch(ctx, variantID, now)
		if err != nil {
			return total, err
		}
		total += released
		w.metrics.RecordReleased(metrics.ReleaseExpired, units)

		if released < w.batchSize {
			return total, nil
		}
	}
}

func (w *Worker) releaseBatch(ctx context.Context, variantID string, now time.Time) (released, units int, err error) {
	err = w.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		released, units = 0, 0

		items, err := tx.LockExpiredItems(ctx, variantID, now, w.batchSize)
		if err != nil {
			return fmt.Errorf("lock expired items: %w", err)
		}
		if len(items) == 0 {
			return nil
		}

		need := 0
		for _, item := range items {
			need += item.Quantity
		}

		variant, err := tx.LockVariant(ctx, variantID)
		if err != nil {
			return err
		}
		if variant.ReservedQuantity < need {
			return domain.Conflict(domain.ErrReservationInconsistent, variantID)
		}
		variant.ReservedQuantity -= need
		if err := tx.SaveVariantCounters(ctx, variant); err != nil {
			return fmt.Errorf("release variant %s: %w", variantID, err)
		}

		itemIDs := make([]string, 0, len(items))
		for _, item := range items {
			itemIDs = append(itemIDs, item.ID)
			msg, err := expiredMessage(item, now)
			if err != nil {
				return err
			}
			if err := tx.EnqueueOutbox(ctx, msg); err != nil {
				return fmt.Errorf("enqueue reservation expired: %w", err)
			}
		}
		if err := tx.DeleteItems(ctx, itemIDs...); err != nil {
			return fmt.Errorf("delete expired items: %w", err)
		}

		released, units = len(items), need
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return released, units, nil
}

func expiredMessage(item domain.CartItem, now time.Time) (domain.OutboxMessage, error) {
	data, err := json.Marshal(domain.ReservationExpiredPayload{
		ItemID:     item.ID,
		CartID:     item.CartID,
		VariantID:  item.VariantID,
		Quantity:   item.Quantity,
		ExpiredAt:  item.ReservationExpiresAt,
		ReleasedAt: now,
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal reservation expired: %w", err)
	}
	return domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: domain.AggregateCart,
		AggregateID:   item.CartID,
		EventType:     domain.EventReservationExpired,
		Payload:       data,
		CreatedAt:     now,
	}, nil
}
