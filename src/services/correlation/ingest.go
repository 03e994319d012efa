package correlation

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
)

// IngestRecords grava a saída dos adapters: o registro com a mesma chave é substituído dentro da entidade
// que o contém; registros novos viram entidades de um adapter só.
func (s *Service) IngestRecords(ctx context.Context, request domain.IngestRequest) (domain.PushResult, error) {
	if err := validateIngest(request); err != nil {
		return domain.PushResult{}, err
	}

	records := dedupRecords(request.Records)
	keys := make([]entities.AdapterKey, len(records))
	for i, r := range records {
		keys[i] = r.Key()
	}

	unlock, err := s.locker.Lock(ctx, string(request.EntityType), lockKeys(keys))
	if err != nil {
		return domain.PushResult{}, fmt.Errorf("CorrelationService.IngestRecords - failed to acquire locks: %w", err)
	}

	affected, err := func() ([]string, error) {
		defer unlock()
		return s.retryOnConflict(ctx, func() ([]string, error) {
			return s.ingest(ctx, request.EntityType, records, keys)
		})
	}()
	if err != nil {
		if !errors.Is(err, domain.ErrValidation) {
			s.logger.Error("record ingestion failed", "entity_type", request.EntityType, "count", len(records), "error", err)
		}
		return domain.PushResult{}, err
	}

	s.logger.Debug("records ingested", "entity_type", request.EntityType, "count", len(records), "affected", len(affected))
	s.afterMutation(ctx, request.EntityType, "records_ingested", affected, request.SkipRebuild)

	return domain.PushResult{AffectedIDs: affected}, nil
}

func (s *Service) ingest(ctx context.Context, entityType domain.EntityType, records []entities.AdapterRecord, keys []entities.AdapterKey) ([]string, error) {
	existing, err := s.entityRepository.FindByAdapterKeys(ctx, entityType, keys)
	if err != nil {
		return nil, fmt.Errorf("CorrelationService.ingest - failed to query entities: %w", asStoreError(err))
	}

	byID := make(map[string]*entities.Entity, len(existing))
	var updateOrder []string
	for _, e := range existing {
		c := e.Clone()
		byID[c.InternalAxonID] = &c
	}

	var mutation domain.EntityMutation
	now := s.now()

	for _, record := range records {
		record = record.Clone()
		if record.AccurateForDatetime.IsZero() {
			record.AccurateForDatetime = now
		}

		owner := findOwner(byID, record.Key())
		if owner == nil {
			e := entities.Entity{
				InternalAxonID:      s.newID(),
				Adapters:            []entities.AdapterRecord{record},
				Tags:                []entities.Tag{},
				AccurateForDatetime: record.AccurateForDatetime,
			}
			e.RecomputeAdapterCount()
			mutation.Insert = append(mutation.Insert, e)
			continue
		}

		if !slices.Contains(updateOrder, owner.InternalAxonID) {
			updateOrder = append(updateOrder, owner.InternalAxonID)
		}
		owner.Adapters[owner.AdapterIndex(record.Key())] = record
		if record.AccurateForDatetime.After(owner.AccurateForDatetime) {
			owner.AccurateForDatetime = record.AccurateForDatetime
		}
		owner.RecomputeAdapterCount()
	}

	for _, id := range updateOrder {
		mutation.Update = append(mutation.Update, *byID[id])
	}

	if err := s.apply(ctx, entityType, mutation); err != nil {
		return nil, err
	}

	affected := append(entityIDs(mutation.Update), entityIDs(mutation.Insert)...)
	return affected, nil
}

func findOwner(byID map[string]*entities.Entity, key entities.AdapterKey) *entities.Entity {
	for _, e := range byID {
		if e.HasAdapter(key) {
			return e
		}
	}
	return nil
}

// dedupRecords mantém a última ocorrência de cada chave, na posição da primeira.
func dedupRecords(records []entities.AdapterRecord) []entities.AdapterRecord {
	at := make(map[entities.AdapterKey]int, len(records))
	out := make([]entities.AdapterRecord, 0, len(records))
	for _, r := range records {
		if i, ok := at[r.Key()]; ok {
			out[i] = r
			continue
		}
		at[r.Key()] = len(out)
		out = append(out, r)
	}
	return out
}
