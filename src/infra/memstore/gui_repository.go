package memstore

import (
	"context"
	"fmt"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
)

// GUIRepository serves the GUI-owned inputs of the query compiler.
type GUIRepository struct{ s *Store }

func (s *Store) GUIRepository() *GUIRepository { return &GUIRepository{s: s} }

func (r *GUIRepository) FindSavedQuery(_ context.Context, id string) (entities.SavedQuery, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	q, ok := r.s.savedQueries[id]
	if !ok {
		return entities.SavedQuery{}, fmt.Errorf("GUIRepository.FindSavedQuery - saved query %q: %w", id, domain.ErrNotFound)
	}
	return q, nil
}

func (r *GUIRepository) ListClientConnections(_ context.Context) ([]entities.ClientConnection, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]entities.ClientConnection(nil), r.s.connections...), nil
}

func (r *GUIRepository) FindRecipeResultIDs(_ context.Context, ref domain.RecipeRef) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]string(nil), r.s.recipeResults[ref]...), nil
}

func (s *Store) PutSavedQuery(q entities.SavedQuery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedQueries[q.ID] = q
}

func (s *Store) PutClientConnection(c entities.ClientConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections = append(s.connections, c)
}

func (s *Store) PutRecipeResults(ref domain.RecipeRef, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipeResults[ref] = append([]string(nil), ids...)
}
