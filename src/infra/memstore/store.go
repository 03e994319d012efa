// Package memstore keeps every store of the core in memory. It backs the tests and the
// single-process mode of the server; nothing is persisted.
package memstore

import (
	"sync"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
)

type entityState struct {
	order []string
	byID  map[string]entities.Entity
}

type viewState struct {
	order []string
	byID  map[string]entities.View
}

type Store struct {
	mu sync.RWMutex

	entities map[domain.EntityType]*entityState
	views    map[domain.EntityType]*viewState
	history  map[domain.EntityType][]entities.HistoricalView

	savedQueries  map[string]entities.SavedQuery
	connections   []entities.ClientConnection
	recipeResults map[domain.RecipeRef][]string
}

func NewStore() *Store {
	s := &Store{
		entities:      make(map[domain.EntityType]*entityState),
		views:         make(map[domain.EntityType]*viewState),
		history:       make(map[domain.EntityType][]entities.HistoricalView),
		savedQueries:  make(map[string]entities.SavedQuery),
		recipeResults: make(map[domain.RecipeRef][]string),
	}
	for _, et := range domain.EntityTypes {
		s.entities[et] = &entityState{byID: make(map[string]entities.Entity)}
		s.views[et] = newViewState()
	}
	return s
}

func newViewState() *viewState {
	return &viewState{byID: make(map[string]entities.View)}
}

func removeID(order []string, id string) []string {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
