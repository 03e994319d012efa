package memstore

import (
	"context"
	"fmt"
	"sync"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
)

func (s *Store) viewState(entityType domain.EntityType) (*viewState, error) {
	st, ok := s.views[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity type %q", domain.ErrValidation, entityType)
	}
	return st, nil
}

type stage struct {
	store      *Store
	entityType domain.EntityType

	mu     sync.Mutex
	views  *viewState
	closed bool
}

// ViewRepository is the in-memory view store.
type ViewRepository struct{ s *Store }

func (s *Store) ViewRepository() *ViewRepository { return &ViewRepository{s: s} }

func (r *ViewRepository) Stage(_ context.Context, entityType domain.EntityType) (domain.ViewStage, error) {
	r.s.mu.RLock()
	_, err := r.s.viewState(entityType)
	r.s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return &stage{store: r.s, entityType: entityType, views: newViewState()}, nil
}

func (st *stage) Write(_ context.Context, views []entities.View) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return fmt.Errorf("ViewRepository.Stage.Write - stage already closed: %w", domain.ErrStore)
	}
	for _, v := range views {
		if _, ok := st.views.byID[v.InternalAxonID]; !ok {
			st.views.order = append(st.views.order, v.InternalAxonID)
		}
		st.views.byID[v.InternalAxonID] = v
	}
	return nil
}

// Commit troca a coleção inteira de uma vez.
func (st *stage) Commit(_ context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return fmt.Errorf("ViewRepository.Stage.Commit - stage already closed: %w", domain.ErrStore)
	}
	st.closed = true

	st.store.mu.Lock()
	st.store.views[st.entityType] = st.views
	st.store.mu.Unlock()
	return nil
}

func (st *stage) Abort(_ context.Context) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true
	return nil
}

func (r *ViewRepository) Upsert(_ context.Context, entityType domain.EntityType, views []entities.View) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	st, err := r.s.viewState(entityType)
	if err != nil {
		return err
	}
	for _, v := range views {
		if _, ok := st.byID[v.InternalAxonID]; !ok {
			st.order = append(st.order, v.InternalAxonID)
		}
		st.byID[v.InternalAxonID] = v
	}
	return nil
}

func (r *ViewRepository) Delete(_ context.Context, entityType domain.EntityType, ids []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	st, err := r.s.viewState(entityType)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := st.byID[id]; !ok {
			continue
		}
		delete(st.byID, id)
		st.order = removeID(st.order, id)
	}
	return nil
}

func (r *ViewRepository) ForEach(_ context.Context, entityType domain.EntityType, fn func(entities.View) error) error {
	r.s.mu.RLock()
	st, err := r.s.viewState(entityType)
	if err != nil {
		r.s.mu.RUnlock()
		return err
	}
	all := make([]entities.View, 0, len(st.order))
	for _, id := range st.order {
		all = append(all, st.byID[id])
	}
	r.s.mu.RUnlock()

	for _, v := range all {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// Views returns the current view documents of a type keyed by internal_axon_id.
func (s *Store) Views(entityType domain.EntityType) map[string]entities.View {
	out := make(map[string]entities.View)
	_ = s.ViewRepository().ForEach(context.Background(), entityType, func(v entities.View) error {
		out[v.InternalAxonID] = v
		return nil
	})
	return out
}
