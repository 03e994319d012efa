package correlation

import (
	"context"
	"fmt"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
	"axoncore/src/helper/jsonx"
)

func (s *Service) tag(ctx context.Context, request domain.PushRequest) ([]string, error) {
	owners, err := s.findOwners(ctx, request.EntityType, request.AssociatedAdapters)
	if err != nil {
		return nil, fmt.Errorf("CorrelationService.tag - %w", err)
	}

	entity := owners[0].Clone()
	if !s.applyTag(&entity, request.Issuer, request.Tag, request.AssociatedAdapters) {
		return nil, nil
	}

	if err := s.apply(ctx, request.EntityType, domain.EntityMutation{Update: []entities.Entity{entity}}); err != nil {
		return nil, err
	}

	return []string{entity.InternalAxonID}, nil
}

// multitag aplica cada tag em cada entidade encontrada, usando as chaves da própria entidade como associação.
func (s *Service) multitag(ctx context.Context, request domain.PushRequest) ([]string, error) {
	owners, err := s.findOwners(ctx, request.EntityType, request.AssociatedAdapters)
	if err != nil {
		return nil, fmt.Errorf("CorrelationService.multitag - %w", err)
	}

	var changed []entities.Entity
	for _, owner := range owners {
		entity := owner.Clone()
		associated := entity.AdapterKeys()

		dirty := false
		for _, spec := range request.Tags {
			if s.applyTag(&entity, request.Issuer, spec, associated) {
				dirty = true
			}
		}
		if dirty {
			changed = append(changed, entity)
		}
	}

	if err := s.apply(ctx, request.EntityType, domain.EntityMutation{Update: changed}); err != nil {
		return nil, err
	}

	return entityIDs(changed), nil
}

// applyTag escreve a tag na entidade e diz se algo mudou.
func (s *Service) applyTag(entity *entities.Entity, issuer domain.Issuer, spec domain.TagSpec, associated []entities.AdapterKey) bool {
	// a validação já garantiu os enums
	action, _ := domain.ParseActionIfExists(string(spec.ActionIfExists))

	incoming := entities.Tag{
		PluginUniqueName:    issuer.PluginUniqueName,
		PluginName:          issuer.PluginName,
		Name:                spec.Name,
		Type:                spec.Type,
		Data:                entities.CloneValue(spec.Data),
		AssociatedAdapters:  append([]entities.AdapterKey(nil), associated...),
		AccurateForDatetime: s.now(),
	}
	if spec.Type == entities.TagTypeAdapterData && len(associated) == 1 {
		if i := entity.AdapterIndex(associated[0]); i >= 0 {
			incoming.AssociatedAdapterPluginName = entity.Adapters[i].PluginName
		}
	}

	if i := entity.TagIndex(incoming.Identity()); i >= 0 {
		existing := entity.Tags[i]

		if action == domain.ActionUpdate && spec.Type == entities.TagTypeAdapterData {
			oldData, _ := existing.Data.(map[string]any)
			newData, _ := incoming.Data.(map[string]any)
			incoming.Data = deepMerge(oldData, newData)
		}

		if sameTag(existing, incoming) {
			return false
		}
		entity.Tags[i] = incoming
		return true
	}

	if isGUILabelRemoval(issuer, spec) {
		patched := false
		for i := range entity.Tags {
			t := &entity.Tags[i]
			if t.Type == entities.TagTypeLabel && t.Name == spec.Name && t.Enabled() {
				t.Data = false
				t.AccurateForDatetime = incoming.AccurateForDatetime
				patched = true
			}
		}
		if patched {
			return true
		}
	}

	entity.Tags = append(entity.Tags, incoming)
	return true
}

// isGUILabelRemoval: a GUI pode desligar um label que não emitiu.
func isGUILabelRemoval(issuer domain.Issuer, spec domain.TagSpec) bool {
	if issuer.PluginName != domain.GUIPluginName || spec.Type != entities.TagTypeLabel {
		return false
	}
	enabled, isBool := spec.Data.(bool)
	return isBool && !enabled
}

// sameTag ignora o timestamp: reenviar o mesmo valor não é uma escrita.
func sameTag(a, b entities.Tag) bool {
	if a.Identity() != b.Identity() || a.PluginName != b.PluginName || a.AssociatedAdapterPluginName != b.AssociatedAdapterPluginName {
		return false
	}
	if len(a.AssociatedAdapters) != len(b.AssociatedAdapters) {
		return false
	}
	for i := range a.AssociatedAdapters {
		if a.AssociatedAdapters[i] != b.AssociatedAdapters[i] {
			return false
		}
	}
	return jsonx.Equal(a.Data, b.Data)
}
