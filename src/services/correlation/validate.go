package correlation

import (
	"fmt"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
)

// validatePush roda antes de qualquer lock; nada é escrito quando falha.
func validatePush(request domain.PushRequest) error {
	if _, err := domain.ParseEntityType(string(request.EntityType)); err != nil {
		return err
	}

	associationType, err := domain.ParseAssociationType(string(request.AssociationType))
	if err != nil {
		return err
	}

	for _, key := range request.AssociatedAdapters {
		if key.PluginUniqueName == "" || key.ID == "" {
			return fmt.Errorf("%w: associated adapter %q is missing plugin_unique_name or id", domain.ErrValidation, key.String())
		}
	}

	switch associationType {
	case domain.AssociationTag:
		if len(request.AssociatedAdapters) != 1 {
			return fmt.Errorf("%w: Tag requires exactly one associated adapter, got %d", domain.ErrValidation, len(request.AssociatedAdapters))
		}
		if request.Issuer.PluginUniqueName == "" {
			return fmt.Errorf("%w: Tag requires an issuing plugin", domain.ErrValidation)
		}
		return validateTagSpec(request.Tag)

	case domain.AssociationMultitag:
		if len(request.AssociatedAdapters) == 0 {
			return fmt.Errorf("%w: Multitag requires associated adapters", domain.ErrValidation)
		}
		if len(request.Tags) == 0 {
			return fmt.Errorf("%w: Multitag requires a non-empty tags list", domain.ErrValidation)
		}
		if request.Issuer.PluginUniqueName == "" {
			return fmt.Errorf("%w: Multitag requires an issuing plugin", domain.ErrValidation)
		}
		for i, spec := range request.Tags {
			if err := validateTagSpec(spec); err != nil {
				return fmt.Errorf("tags[%d]: %w", i, err)
			}
		}
		return nil

	case domain.AssociationLink:
		if len(request.AssociatedAdapters) != 2 {
			return fmt.Errorf("%w: Link requires exactly 2 associated adapters, got %d", domain.ErrValidation, len(request.AssociatedAdapters))
		}
		if request.AssociatedAdapters[0] == request.AssociatedAdapters[1] {
			return fmt.Errorf("%w: Link got the same adapter twice (%s)", domain.ErrValidation, request.AssociatedAdapters[0].String())
		}
		return nil

	case domain.AssociationUnlink:
		if len(request.AssociatedAdapters) == 0 {
			return fmt.Errorf("%w: Unlink requires associated adapters", domain.ErrValidation)
		}
		return nil
	}

	return fmt.Errorf("%w: unhandled association type %q", domain.ErrValidation, associationType)
}

func validateTagSpec(spec domain.TagSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("%w: tag name must be a non-empty string", domain.ErrValidation)
	}

	tagType, err := entities.ParseTagType(string(spec.Type))
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrValidation, err.Error())
	}

	if _, err := domain.ParseActionIfExists(string(spec.ActionIfExists)); err != nil {
		return err
	}

	if tagType == entities.TagTypeAdapterData {
		if _, ok := spec.Data.(map[string]any); !ok {
			return fmt.Errorf("%w: adapterdata tag %q requires an object payload, got %T", domain.ErrValidation, spec.Name, spec.Data)
		}
	}

	return nil
}

func validateIngest(request domain.IngestRequest) error {
	if _, err := domain.ParseEntityType(string(request.EntityType)); err != nil {
		return err
	}
	if len(request.Records) == 0 {
		return fmt.Errorf("%w: ingestion request must contain at least one record", domain.ErrValidation)
	}
	for i, r := range request.Records {
		if r.PluginUniqueName == "" || r.PluginName == "" || r.ID == "" {
			return fmt.Errorf("%w: records[%d] requires plugin_unique_name, plugin_name and id", domain.ErrValidation, i)
		}
	}
	return nil
}
