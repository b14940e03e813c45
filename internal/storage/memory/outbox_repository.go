package memory

import (
	"sort"
	"time"

	"github.com/vladislavdragonenkov/shopcart/internal/domain"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     domain.OutboxStatus
	attemptCnt int
	updatedAt  time.Time
}

// PullPending возвращает до limit сообщений со статусом `pending`, старые первыми.
func (s *Store) PullPending(limit int) ([]domain.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := s.pendingLocked()
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Stats возвращает размер backlog и возраст самого старого pending-сообщения.
func (s *Store) Stats() (domain.OutboxStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := s.pendingLocked()
	stats := domain.OutboxStats{PendingCount: len(pending)}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].CreatedAt
	}
	return stats, nil
}

// MarkSent удаляет опубликованное событие: история отправок в памяти не хранится.
func (s *Store) MarkSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outbox[id]; !ok {
		return domain.ErrOutboxPublish
	}
	delete(s.outbox, id)
	return nil
}

// MarkFailed фиксирует ошибку публикации.
func (s *Store) MarkFailed(id string) error {
	return s.markOutbox(id, domain.OutboxStatusFailed)
}

// OutboxSize возвращает число хранимых записей outbox (pending и failed).
func (s *Store) OutboxSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outbox)
}

// AllPending возвращает копию всех сообщений со статусом `pending` (используется в тестах).
func (s *Store) AllPending() []domain.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingLocked()
}

func (s *Store) markOutbox(id string, status domain.OutboxStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.outbox[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = s.now()
	s.outbox[id] = record
	return nil
}

func (s *Store) pendingLocked() []domain.OutboxMessage {
	result := make([]domain.OutboxMessage, 0)
	for _, rec := range s.outbox {
		if rec.status == domain.OutboxStatusPending {
			result = append(result, rec.msg)
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

var _ domain.OutboxRepository = (*Store)(nil)
