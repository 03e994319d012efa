package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"axoncore/src/domain/entities"
)

var (
	ErrValidation  = errors.New("invalid push request")
	ErrNotFound    = errors.New("adapter not found")
	ErrCardinality = errors.New("cardinality violation")
	ErrCompile     = errors.New("query compile failed")
	ErrStore       = errors.New("store unavailable")
	// ErrConflict: a entidade mudou entre a leitura e a escrita; quem chamou deve reler e refazer.
	ErrConflict    = errors.New("entity modified concurrently")

	ErrUnavailableServer = errors.New("Oops, something unexpected happened. Please try again later.")
)

// ############################################################
// ################### TIPOS DE ENTIDADE ######################
// ############################################################

type EntityType string

const (
	EntityTypeDevices EntityType = "devices"
	EntityTypeUsers   EntityType = "users"
)

var EntityTypes = []EntityType{EntityTypeDevices, EntityTypeUsers}

func ParseEntityType(s string) (EntityType, error) {
	switch EntityType(strings.ToLower(strings.TrimSpace(s))) {
	case EntityTypeDevices:
		return EntityTypeDevices, nil
	case EntityTypeUsers:
		return EntityTypeUsers, nil
	default:
		return "", fmt.Errorf("%w: unknown entity type %q", ErrValidation, s)
	}
}

// ############################################################
// ################## PROCESSO DE PUSH ########################
// ############################################################

type AssociationType string

const (
	AssociationTag      AssociationType = "Tag"
	AssociationMultitag AssociationType = "Multitag"
	AssociationLink     AssociationType = "Link"
	AssociationUnlink   AssociationType = "Unlink"
)

func ParseAssociationType(s string) (AssociationType, error) {
	switch AssociationType(s) {
	case AssociationTag, AssociationMultitag, AssociationLink, AssociationUnlink:
		return AssociationType(s), nil
	default:
		return "", fmt.Errorf("%w: unknown association type %q", ErrValidation, s)
	}
}

type ActionIfExists string

const (
	ActionReplace ActionIfExists = "replace"
	ActionUpdate  ActionIfExists = "update"
)

// ParseActionIfExists defaults to replace when the field is absent.
func ParseActionIfExists(s string) (ActionIfExists, error) {
	switch ActionIfExists(s) {
	case "", ActionReplace:
		return ActionReplace, nil
	case ActionUpdate:
		return ActionUpdate, nil
	default:
		return "", fmt.Errorf("%w: unknown action_if_exists %q", ErrValidation, s)
	}
}

// GUIPluginName is the privileged origin allowed to switch off labels it did not issue.
const GUIPluginName = "gui"

// Issuer é o plugin que emitiu o push.
type Issuer struct {
	PluginUniqueName string `json:"plugin_unique_name"`
	PluginName       string `json:"plugin_name"`
}

type TagSpec struct {
	Name           string
	Type           entities.TagType
	Data           any
	ActionIfExists ActionIfExists
}

// PushRequest já decodificado e com os enums interpretados.
type PushRequest struct {
	EntityType         EntityType
	AssociationType    AssociationType
	AssociatedAdapters []entities.AdapterKey
	Issuer             Issuer

	// Tag
	Tag TagSpec

	// Multitag
	Tags []TagSpec

	// SkipRebuild deixa a reconstrução da view para quem chamou (lotes grandes).
	SkipRebuild bool
}

type PushResult struct {
	AffectedIDs []string `json:"affected_ids"`
}

// IngestRequest carries adapter output for one entity type.
type IngestRequest struct {
	EntityType  EntityType
	Records     []entities.AdapterRecord
	SkipRebuild bool
}

// EntityEvent is published after a push or ingestion changes the entity store.
type EntityEvent struct {
	EventType   string     `json:"event_type"`
	EntityType  EntityType `json:"entity_type"`
	AffectedIDs []string   `json:"affected_ids"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// RecipeRef points at the stored results of one enforcement action run.
type RecipeRef struct {
	RecipeRunID string `json:"recipe_run_id"`
	Condition   string `json:"condition"`
	ActionIndex int    `json:"action_index"`
}

// ############################################################
// ############ ESCRITA NO STORE DE ENTIDADES #################
// ############################################################

// EntityMutation é aplicada atomicamente pelo repositório: inserts antes de deletes,
// para que uma falha no meio deixe no máximo um registro duplicado, nunca um perdido.
// Update e Delete carregam a Version lida; se a linha mudou desde então, nada é gravado e volta ErrConflict.
type EntityMutation struct {
	Insert []entities.Entity
	Update []entities.Entity
	Delete []entities.Entity
}

func (m EntityMutation) IsEmpty() bool {
	return len(m.Insert) == 0 && len(m.Update) == 0 && len(m.Delete) == 0
}
