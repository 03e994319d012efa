package test_seeder

import (
	"context"
	"encoding/json"
	"fmt"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
)

// InsertEntity grava a entidade direto na tabela, sem passar pelo repositório
func (ts TestSeeder) InsertEntity(ctx context.Context, entityType domain.EntityType, entity entities.Entity) {
	adapters, err := json.Marshal(entity.Adapters)
	if err != nil {
		panic(fmt.Sprintf("Seeder.InsertEntity failed to encode adapters: %v", err))
	}
	tags := entity.Tags
	if tags == nil {
		tags = []entities.Tag{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		panic(fmt.Sprintf("Seeder.InsertEntity failed to encode tags: %v", err))
	}

	query := `
		INSERT INTO axonius_entities (entity_type, internal_axon_id, adapters, tags, adapter_count, accurate_for_datetime)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = ts.pool.Exec(ctx, query,
		string(entityType),
		entity.InternalAxonID,
		adapters,
		tagsJSON,
		entity.AdapterCount,
		entity.AccurateForDatetime,
	)
	if err != nil {
		panic(fmt.Sprintf("Seeder.InsertEntity failed: %v", err))
	}
}
