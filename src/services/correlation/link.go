package correlation

import (
	"context"
	"fmt"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
)

// link junta as entidades donas das duas chaves numa entidade nova e apaga as antigas.
func (s *Service) link(ctx context.Context, request domain.PushRequest) ([]string, error) {
	owners, err := s.findOwners(ctx, request.EntityType, request.AssociatedAdapters)
	if err != nil {
		return nil, fmt.Errorf("CorrelationService.link - %w", err)
	}

	if len(owners) < 2 {
		return nil, fmt.Errorf("CorrelationService.link - %s and %s already belong to entity %s: %w",
			request.AssociatedAdapters[0].String(), request.AssociatedAdapters[1].String(), owners[0].InternalAxonID, domain.ErrCardinality)
	}

	merged := mergeEntities(s.newID(), owners)
	deleted := entityIDs(owners)

	mutation := domain.EntityMutation{
		Insert: []entities.Entity{merged},
		Delete: owners,
	}
	if err := s.apply(ctx, request.EntityType, mutation); err != nil {
		return nil, err
	}

	s.logger.Info("entities linked",
		"entity_type", request.EntityType,
		"internal_axon_id", merged.InternalAxonID,
		"merged_from", deleted)

	// os ids apagados entram para que o rebuild parcial remova as views antigas
	return append([]string{merged.InternalAxonID}, deleted...), nil
}

// mergeEntities une adapters e tags. Tags com o mesmo (plugin_unique_name, name) ficam com a mais recente;
// empate mantém a primeira vista.
func mergeEntities(id string, candidates []entities.Entity) entities.Entity {
	merged := entities.Entity{InternalAxonID: id}

	type tagKey struct{ pluginUniqueName, name string }
	tagAt := make(map[tagKey]int)

	for _, candidate := range candidates {
		for _, a := range candidate.Adapters {
			merged.Adapters = append(merged.Adapters, a.Clone())
		}

		for _, t := range candidate.Tags {
			k := tagKey{t.PluginUniqueName, t.Name}
			if i, ok := tagAt[k]; ok {
				if t.AccurateForDatetime.After(merged.Tags[i].AccurateForDatetime) {
					merged.Tags[i] = t.Clone()
				}
				continue
			}
			tagAt[k] = len(merged.Tags)
			merged.Tags = append(merged.Tags, t.Clone())
		}

		if candidate.AccurateForDatetime.After(merged.AccurateForDatetime) {
			merged.AccurateForDatetime = candidate.AccurateForDatetime
		}
	}

	merged.RecomputeAdapterCount()
	return merged
}
