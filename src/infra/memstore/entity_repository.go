package memstore

import (
	"context"
	"fmt"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
)

func (s *Store) entityState(entityType domain.EntityType) (*entityState, error) {
	st, ok := s.entities[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity type %q", domain.ErrValidation, entityType)
	}
	return st, nil
}

// EntityRepository is the in-memory entity store.
type EntityRepository struct{ s *Store }

func (s *Store) EntityRepository() *EntityRepository { return &EntityRepository{s: s} }

func (r *EntityRepository) FindByAdapterKeys(_ context.Context, entityType domain.EntityType, keys []entities.AdapterKey) ([]entities.Entity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	st, err := r.s.entityState(entityType)
	if err != nil {
		return nil, err
	}

	var out []entities.Entity
	for _, id := range st.order {
		e := st.byID[id]
		for _, k := range keys {
			if e.HasAdapter(k) {
				out = append(out, e.Clone())
				break
			}
		}
	}
	return out, nil
}

func (r *EntityRepository) FindByIDs(_ context.Context, entityType domain.EntityType, ids []string) ([]entities.Entity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	st, err := r.s.entityState(entityType)
	if err != nil {
		return nil, err
	}

	var out []entities.Entity
	for _, id := range ids {
		if e, ok := st.byID[id]; ok {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// ForEach itera sobre uma cópia, então fn pode chamar o store.
func (r *EntityRepository) ForEach(_ context.Context, entityType domain.EntityType, fn func(entities.Entity) error) error {
	r.s.mu.RLock()
	st, err := r.s.entityState(entityType)
	if err != nil {
		r.s.mu.RUnlock()
		return err
	}
	all := make([]entities.Entity, 0, len(st.order))
	for _, id := range st.order {
		all = append(all, st.byID[id].Clone())
	}
	r.s.mu.RUnlock()

	for _, e := range all {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Apply valida a mutação inteira antes de escrever qualquer coisa. Update e Delete só passam
// se a versão guardada ainda for a que foi lida.
func (r *EntityRepository) Apply(_ context.Context, entityType domain.EntityType, mutation domain.EntityMutation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	st, err := r.s.entityState(entityType)
	if err != nil {
		return err
	}

	for _, e := range mutation.Insert {
		if _, exists := st.byID[e.InternalAxonID]; exists {
			return fmt.Errorf("EntityRepository.Apply - entity %s already exists: %w", e.InternalAxonID, domain.ErrStore)
		}
	}
	for _, e := range append(append([]entities.Entity(nil), mutation.Update...), mutation.Delete...) {
		stored, exists := st.byID[e.InternalAxonID]
		if !exists {
			return fmt.Errorf("EntityRepository.Apply - entity %s vanished: %w", e.InternalAxonID, domain.ErrConflict)
		}
		if stored.Version != e.Version {
			return fmt.Errorf("EntityRepository.Apply - entity %s is at version %d, write expected %d: %w",
				e.InternalAxonID, stored.Version, e.Version, domain.ErrConflict)
		}
	}

	for _, e := range mutation.Insert {
		c := e.Clone()
		c.Version = 1
		st.byID[c.InternalAxonID] = c
		st.order = append(st.order, c.InternalAxonID)
	}
	for _, e := range mutation.Update {
		c := e.Clone()
		c.Version = e.Version + 1
		st.byID[c.InternalAxonID] = c
	}
	for _, e := range mutation.Delete {
		delete(st.byID, e.InternalAxonID)
		st.order = removeID(st.order, e.InternalAxonID)
	}
	return nil
}

// Entities returns every stored entity of a type, in insertion order.
func (s *Store) Entities(entityType domain.EntityType) []entities.Entity {
	var out []entities.Entity
	_ = s.EntityRepository().ForEach(context.Background(), entityType, func(e entities.Entity) error {
		out = append(out, e)
		return nil
	})
	return out
}
