package events

import (
	"log/slog"

	"axoncore/src/domain"
	"axoncore/src/infra/debezium"
)

// EntityChange é uma linha de axonius_entities que mudou fora do serviço de correlação.
type EntityChange struct {
	EntityType domain.EntityType
	ID         string
	Deleted    bool
}

type CDCTransformer struct {
	logger *slog.Logger
}

func NewCDCTransformer(logger *slog.Logger) *CDCTransformer {
	return &CDCTransformer{
		logger: logger,
	}
}

// TransformCDCEvent extrai a chave da entidade. Eventos de outras tabelas ou sem chave devolvem false.
func (t *CDCTransformer) TransformCDCEvent(cdcEvent *debezium.CDCEvent) (EntityChange, bool) {
	if cdcEvent.Source.Table != domain.TableEntities {
		t.logger.Debug("Ignoring CDC event from unknown table", "table", cdcEvent.Source.Table)
		return EntityChange{}, false
	}

	row := cdcEvent.Row()
	rawType, _ := row["entity_type"].(string)
	id, _ := row["internal_axon_id"].(string)

	entityType, err := domain.ParseEntityType(rawType)
	if err != nil || id == "" {
		t.logger.Warn("CDC event without entity key",
			"table", cdcEvent.Source.Table,
			"operation", cdcEvent.Operation,
			"entity_type", rawType)
		return EntityChange{}, false
	}

	return EntityChange{EntityType: entityType, ID: id, Deleted: cdcEvent.Operation == "d"}, true
}

// GroupByEntityType agrupa os ids alterados por tipo, sem repetição, na ordem de chegada.
func (t *CDCTransformer) GroupByEntityType(cdcEvents []*debezium.CDCEvent) map[domain.EntityType][]string {
	grouped := make(map[domain.EntityType][]string)
	seen := make(map[EntityChange]struct{})

	for _, cdcEvent := range cdcEvents {
		change, ok := t.TransformCDCEvent(cdcEvent)
		if !ok {
			continue
		}
		key := EntityChange{EntityType: change.EntityType, ID: change.ID}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		grouped[change.EntityType] = append(grouped[change.EntityType], change.ID)
	}
	return grouped
}
