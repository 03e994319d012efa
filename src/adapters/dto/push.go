package dto

import (
	"encoding/json"
	"fmt"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
	"axoncore/src/helper/jsonx"
)

type TagDTO struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Data           any    `json:"data"`
	ActionIfExists string `json:"action_if_exists,omitempty"`
}

// PushRequestDTO é o payload que os plugins mandam. Para Tag, os campos da tag vêm na raiz.
type PushRequestDTO struct {
	EntityType         string                `json:"entity_type,omitempty"`
	AssociationType    string                `json:"association_type"`
	AssociatedAdapters []entities.AdapterKey `json:"associated_adapters"`
	PluginUniqueName   string                `json:"plugin_unique_name,omitempty"`
	PluginName         string                `json:"plugin_name,omitempty"`
	Name               string                `json:"name,omitempty"`
	Type               string                `json:"type,omitempty"`
	Data               any                   `json:"data,omitempty"`
	ActionIfExists     string                `json:"action_if_exists,omitempty"`
	Tags               []TagDTO              `json:"tags,omitempty"`
}

type PushResponseDTO struct {
	AffectedIDs []string `json:"affected_ids"`
}

// DecodePush valida e decodifica um push. entityType, quando vem da rota, tem precedência sobre o corpo.
func (v *Validator) DecodePush(data []byte, entityType string) (domain.PushRequest, error) {
	if err := v.ValidatePush(data); err != nil {
		return domain.PushRequest{}, err
	}

	var payload PushRequestDTO
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.PushRequest{}, fmt.Errorf("%w: %s", domain.ErrValidation, err.Error())
	}
	if entityType != "" {
		payload.EntityType = entityType
	}
	return payload.ToDomain()
}

func (p PushRequestDTO) ToDomain() (domain.PushRequest, error) {
	entityType, err := domain.ParseEntityType(p.EntityType)
	if err != nil {
		return domain.PushRequest{}, err
	}
	associationType, err := domain.ParseAssociationType(p.AssociationType)
	if err != nil {
		return domain.PushRequest{}, err
	}

	request := domain.PushRequest{
		EntityType:         entityType,
		AssociationType:    associationType,
		AssociatedAdapters: p.AssociatedAdapters,
		Issuer: domain.Issuer{
			PluginUniqueName: p.PluginUniqueName,
			PluginName:       p.PluginName,
		},
	}

	switch associationType {
	case domain.AssociationTag:
		request.Tag = TagDTO{Name: p.Name, Type: p.Type, Data: p.Data, ActionIfExists: p.ActionIfExists}.toDomain()
	case domain.AssociationMultitag:
		request.Tags = make([]domain.TagSpec, len(p.Tags))
		for i, t := range p.Tags {
			request.Tags[i] = t.toDomain()
		}
	}

	return request, nil
}

func (t TagDTO) toDomain() domain.TagSpec {
	return domain.TagSpec{
		Name:           t.Name,
		Type:           entities.TagType(t.Type),
		Data:           jsonx.DecodeDates(t.Data),
		ActionIfExists: domain.ActionIfExists(t.ActionIfExists),
	}
}

func MapPushResult(result domain.PushResult) PushResponseDTO {
	ids := result.AffectedIDs
	if ids == nil {
		ids = []string{}
	}
	return PushResponseDTO{AffectedIDs: ids}
}
