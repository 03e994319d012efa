package memstore

import (
	"context"
	"time"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
)

// HistoryRepository is the in-memory, append-only historical view store.
type HistoryRepository struct{ s *Store }

func (s *Store) HistoryRepository() *HistoryRepository { return &HistoryRepository{s: s} }

func (r *HistoryRepository) HasSnapshot(_ context.Context, entityType domain.EntityType, day time.Time) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	next := day.AddDate(0, 0, 1)
	for _, h := range r.s.history[entityType] {
		if !h.AccurateForDatetime.Before(day) && h.AccurateForDatetime.Before(next) {
			return true, nil
		}
	}
	return false, nil
}

func (r *HistoryRepository) Append(_ context.Context, entityType domain.EntityType, views []entities.HistoricalView) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.history[entityType] = append(r.s.history[entityType], views...)
	return nil
}

func (r *HistoryRepository) DeleteSnapshot(_ context.Context, entityType domain.EntityType, day time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	next := day.AddDate(0, 0, 1)
	kept := r.s.history[entityType][:0]
	for _, h := range r.s.history[entityType] {
		if h.AccurateForDatetime.Before(day) || !h.AccurateForDatetime.Before(next) {
			kept = append(kept, h)
		}
	}
	r.s.history[entityType] = kept
	return nil
}

// History returns every historical view stored for a type.
func (s *Store) History(entityType domain.EntityType) []entities.HistoricalView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]entities.HistoricalView(nil), s.history[entityType]...)
}
