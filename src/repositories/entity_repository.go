package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
	"axoncore/src/helper/jsonx"
	"axoncore/src/infra/postgres"
)

const entitiesSchema = `
	CREATE TABLE IF NOT EXISTS axonius_entities (
		entity_type           TEXT        NOT NULL,
		internal_axon_id      TEXT        NOT NULL,
		adapters              JSONB       NOT NULL DEFAULT '[]'::jsonb,
		tags                  JSONB       NOT NULL DEFAULT '[]'::jsonb,
		adapter_count         INTEGER     NOT NULL DEFAULT 0,
		accurate_for_datetime TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		version               BIGINT      NOT NULL DEFAULT 1,
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (entity_type, internal_axon_id)
	);
	ALTER TABLE axonius_entities ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 1;
	CREATE INDEX IF NOT EXISTS axonius_entities_adapters_idx
		ON axonius_entities USING GIN (adapters jsonb_path_ops);
`

// EntityRepository guarda as AxoniusEntities em JSONB. Leituras feitas sob lock de correlação vão
// para o primário; o scan do rebuild completo vai para a réplica.
type EntityRepository struct {
	client *postgres.ReadWriteClient
}

func NewEntityRepository(client *postgres.ReadWriteClient) *EntityRepository {
	return &EntityRepository{client: client}
}

func (r *EntityRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.client.GetWritePool().Exec(ctx, entitiesSchema); err != nil {
		return fmt.Errorf("EntityRepository.EnsureSchema - %w", storeError(err))
	}
	return nil
}

// FindByAdapterKeys usa containment (@>) para acertar o índice GIN: cada chave vira [{"plugin_unique_name":..,"id":..}].
func (r *EntityRepository) FindByAdapterKeys(ctx context.Context, entityType domain.EntityType, keys []entities.AdapterKey) ([]entities.Entity, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	probes := make([]string, len(keys))
	for i, k := range keys {
		b, err := json.Marshal([]entities.AdapterKey{k})
		if err != nil {
			return nil, fmt.Errorf("EntityRepository.FindByAdapterKeys - failed to encode key: %w", err)
		}
		probes[i] = string(b)
	}

	query := `
		SELECT internal_axon_id, adapters, tags, adapter_count, accurate_for_datetime, version
		FROM axonius_entities
		WHERE entity_type = $1
		  AND adapters @> ANY($2::text[]::jsonb[])
		ORDER BY internal_axon_id`

	rows, err := r.client.GetWritePool().Query(ctx, query, string(entityType), probes)
	if err != nil {
		return nil, fmt.Errorf("EntityRepository.FindByAdapterKeys - %w", storeError(err))
	}
	return collectEntities(rows)
}

func (r *EntityRepository) FindByIDs(ctx context.Context, entityType domain.EntityType, ids []string) ([]entities.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT internal_axon_id, adapters, tags, adapter_count, accurate_for_datetime, version
		FROM axonius_entities
		WHERE entity_type = $1
		  AND internal_axon_id = ANY($2)`

	rows, err := r.client.GetWritePool().Query(ctx, query, string(entityType), ids)
	if err != nil {
		return nil, fmt.Errorf("EntityRepository.FindByIDs - %w", storeError(err))
	}
	return collectEntities(rows)
}

// ForEach percorre todas as entidades do tipo na réplica, uma linha por vez.
func (r *EntityRepository) ForEach(ctx context.Context, entityType domain.EntityType, fn func(entities.Entity) error) error {
	query := `
		SELECT internal_axon_id, adapters, tags, adapter_count, accurate_for_datetime, version
		FROM axonius_entities
		WHERE entity_type = $1`

	rows, err := r.client.GetReadPool().Query(ctx, query, string(entityType))
	if err != nil {
		return fmt.Errorf("EntityRepository.ForEach - %w", storeError(err))
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return fmt.Errorf("EntityRepository.ForEach - %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("EntityRepository.ForEach - %w", storeError(err))
	}
	return nil
}

// Apply grava a mutação numa transação: inserts, updates e só então deletes. Update e delete são
// condicionados à versão lida; qualquer linha que não bata desfaz tudo com ErrConflict.
func (r *EntityRepository) Apply(ctx context.Context, entityType domain.EntityType, mutation domain.EntityMutation) error {
	if mutation.IsEmpty() {
		return nil
	}

	tx, err := r.client.GetWritePool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("EntityRepository.Apply - failed to begin transaction: %w", storeError(err))
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	// conditional[i] é o id cuja versão o statement i precisa acertar; vazio para inserts.
	var conditional []string

	for _, e := range mutation.Insert {
		adapters, tags, err := encodeEntity(e)
		if err != nil {
			return fmt.Errorf("EntityRepository.Apply - %w", err)
		}
		batch.Queue(`
			INSERT INTO axonius_entities (entity_type, internal_axon_id, adapters, tags, adapter_count, accurate_for_datetime, version)
			VALUES ($1, $2, $3, $4, $5, $6, 1)`,
			string(entityType), e.InternalAxonID, adapters, tags, e.AdapterCount, accurateFor(e))
		conditional = append(conditional, "")
	}

	for _, e := range mutation.Update {
		adapters, tags, err := encodeEntity(e)
		if err != nil {
			return fmt.Errorf("EntityRepository.Apply - %w", err)
		}
		batch.Queue(`
			UPDATE axonius_entities
			SET adapters = $3, tags = $4, adapter_count = $5, accurate_for_datetime = $6, version = version + 1, updated_at = NOW()
			WHERE entity_type = $1 AND internal_axon_id = $2 AND version = $7`,
			string(entityType), e.InternalAxonID, adapters, tags, e.AdapterCount, accurateFor(e), e.Version)
		conditional = append(conditional, e.InternalAxonID)
	}

	for _, e := range mutation.Delete {
		batch.Queue(`DELETE FROM axonius_entities WHERE entity_type = $1 AND internal_axon_id = $2 AND version = $3`,
			string(entityType), e.InternalAxonID, e.Version)
		conditional = append(conditional, e.InternalAxonID)
	}

	results := tx.SendBatch(ctx, batch)
	for i, id := range conditional {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			if postgres.IsUniqueViolation(err) {
				return fmt.Errorf("EntityRepository.Apply - statement %d: %w: %w", i, domain.ErrConflict, err)
			}
			return fmt.Errorf("EntityRepository.Apply - statement %d failed: %w", i, storeError(err))
		}
		if id != "" && tag.RowsAffected() != 1 {
			results.Close()
			return fmt.Errorf("EntityRepository.Apply - entity %s changed since it was read: %w", id, domain.ErrConflict)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("EntityRepository.Apply - %w", storeError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("EntityRepository.Apply - failed to commit: %w", storeError(err))
	}
	return nil
}

func accurateFor(e entities.Entity) time.Time {
	if e.AccurateForDatetime.IsZero() {
		return time.Now().UTC()
	}
	return e.AccurateForDatetime
}

// encodeEntity serializa adapters e tags com datas em {"$date": millis}, para sobreviverem ao JSONB.
func encodeEntity(e entities.Entity) ([]byte, []byte, error) {
	adapters := make([]entities.AdapterRecord, len(e.Adapters))
	for i, a := range e.Adapters {
		c := a
		c.Data, _ = jsonx.EncodeDates(a.Data).(map[string]any)
		c.Raw, _ = jsonx.EncodeDates(a.Raw).(map[string]any)
		adapters[i] = c
	}

	tags := make([]entities.Tag, len(e.Tags))
	for i, t := range e.Tags {
		c := t
		c.Data = jsonx.EncodeDates(t.Data)
		if c.AssociatedAdapters == nil {
			c.AssociatedAdapters = []entities.AdapterKey{}
		}
		tags[i] = c
	}

	adaptersJSON, err := json.Marshal(adapters)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode adapters of %s: %w", e.InternalAxonID, err)
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode tags of %s: %w", e.InternalAxonID, err)
	}
	return adaptersJSON, tagsJSON, nil
}

func scanEntity(rows pgx.Rows) (entities.Entity, error) {
	var (
		e              entities.Entity
		adapters, tags []byte
	)
	if err := rows.Scan(&e.InternalAxonID, &adapters, &tags, &e.AdapterCount, &e.AccurateForDatetime, &e.Version); err != nil {
		return entities.Entity{}, storeError(err)
	}

	if err := json.Unmarshal(adapters, &e.Adapters); err != nil {
		return entities.Entity{}, fmt.Errorf("failed to decode adapters of %s: %w", e.InternalAxonID, err)
	}
	if err := json.Unmarshal(tags, &e.Tags); err != nil {
		return entities.Entity{}, fmt.Errorf("failed to decode tags of %s: %w", e.InternalAxonID, err)
	}

	for i := range e.Adapters {
		e.Adapters[i].Data = jsonx.DecodeDatesMap(e.Adapters[i].Data)
		e.Adapters[i].Raw = jsonx.DecodeDatesMap(e.Adapters[i].Raw)
	}
	for i := range e.Tags {
		e.Tags[i].Data = jsonx.DecodeDates(e.Tags[i].Data)
	}
	e.AccurateForDatetime = e.AccurateForDatetime.UTC()
	return e, nil
}

func collectEntities(rows pgx.Rows) ([]entities.Entity, error) {
	defer rows.Close()

	var out []entities.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err)
	}
	return out, nil
}

func storeError(err error) error {
	if err == nil {
		return nil
	}
	if postgres.IsUnavailable(err) {
		return fmt.Errorf("%w: %w", domain.ErrStore, err)
	}
	return err
}
