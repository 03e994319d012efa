package correlation

import (
	"context"
	"fmt"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
)

// unlink separa as chaves pedidas numa entidade nova; a entidade antiga fica com o resto.
func (s *Service) unlink(ctx context.Context, request domain.PushRequest) ([]string, error) {
	owners, err := s.findOwners(ctx, request.EntityType, request.AssociatedAdapters)
	if err != nil {
		return nil, fmt.Errorf("CorrelationService.unlink - %w", err)
	}

	if len(owners) != 1 {
		return nil, fmt.Errorf("CorrelationService.unlink - keys span %d entities: %w", len(owners), domain.ErrCardinality)
	}

	remaining, split, err := splitEntity(owners[0], request.AssociatedAdapters, s.newID())
	if err != nil {
		return nil, fmt.Errorf("CorrelationService.unlink - %w", err)
	}

	mutation := domain.EntityMutation{
		Insert: []entities.Entity{split},
		Update: []entities.Entity{remaining},
	}
	if err := s.apply(ctx, request.EntityType, mutation); err != nil {
		return nil, err
	}

	s.logger.Info("entity unlinked",
		"entity_type", request.EntityType,
		"internal_axon_id", remaining.InternalAxonID,
		"split_into", split.InternalAxonID,
		"count", len(split.Adapters))

	return []string{remaining.InternalAxonID, split.InternalAxonID}, nil
}

// splitEntity particiona source em (restante, nova). Uma tag com qualquer adapter removido vai para a nova,
// com associated_adapters reduzido à interseção, e sai da antiga.
func splitEntity(source entities.Entity, removedKeys []entities.AdapterKey, newID string) (entities.Entity, entities.Entity, error) {
	removed := make(map[entities.AdapterKey]bool, len(removedKeys))
	for _, k := range removedKeys {
		removed[k] = true
	}

	remaining := entities.Entity{
		InternalAxonID:      source.InternalAxonID,
		AccurateForDatetime: source.AccurateForDatetime,
		Version:             source.Version,
	}
	split := entities.Entity{
		InternalAxonID:      newID,
		AccurateForDatetime: source.AccurateForDatetime,
	}

	for _, a := range source.Adapters {
		if removed[a.Key()] {
			split.Adapters = append(split.Adapters, a.Clone())
		} else {
			remaining.Adapters = append(remaining.Adapters, a.Clone())
		}
	}

	if len(remaining.Adapters) == 0 {
		return entities.Entity{}, entities.Entity{}, fmt.Errorf("unlinking all %d adapters of %s would leave it empty: %w",
			len(source.Adapters), source.InternalAxonID, domain.ErrCardinality)
	}

	for _, t := range source.Tags {
		var moved []entities.AdapterKey
		for _, k := range t.AssociatedAdapters {
			if removed[k] {
				moved = append(moved, k)
			}
		}

		if len(moved) == 0 {
			remaining.Tags = append(remaining.Tags, t.Clone())
			continue
		}

		c := t.Clone()
		c.AssociatedAdapters = moved
		split.Tags = append(split.Tags, c)
	}

	remaining.RecomputeAdapterCount()
	split.RecomputeAdapterCount()
	return remaining, split, nil
}
