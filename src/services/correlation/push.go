package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
	"axoncore/src/helper/metrics"
)

// Push aplica um Tag/Multitag/Link/Unlink. Erros de validação e cardinalidade voltam como valor,
// sem nenhuma escrita parcial.
func (s *Service) Push(ctx context.Context, request domain.PushRequest) (domain.PushResult, error) {
	start := time.Now()
	result, err := s.push(ctx, request)

	metrics.PushDuration.WithLabelValues(string(request.AssociationType)).Observe(time.Since(start).Seconds())
	metrics.PushesTotal.WithLabelValues(string(request.AssociationType), outcome(err)).Inc()

	if err != nil {
		if errors.Is(err, domain.ErrStore) {
			s.logger.Error("push failed",
				"entity_type", request.EntityType,
				"association_type", request.AssociationType,
				"error", err)
		} else {
			s.logger.Warn("push rejected",
				"entity_type", request.EntityType,
				"association_type", request.AssociationType,
				"error", err)
		}
		return domain.PushResult{}, err
	}

	return result, nil
}

func (s *Service) push(ctx context.Context, request domain.PushRequest) (domain.PushResult, error) {
	if err := validatePush(request); err != nil {
		return domain.PushResult{}, err
	}

	unlock, err := s.locker.Lock(ctx, string(request.EntityType), lockKeys(request.AssociatedAdapters))
	if err != nil {
		return domain.PushResult{}, fmt.Errorf("CorrelationService.Push - failed to acquire locks: %w", err)
	}

	affected, err := func() ([]string, error) {
		defer unlock()
		return s.retryOnConflict(ctx, func() ([]string, error) {
			return s.dispatch(ctx, request)
		})
	}()
	if err != nil {
		return domain.PushResult{}, err
	}

	s.afterMutation(ctx, request.EntityType, eventTypeOf(request.AssociationType), affected, request.SkipRebuild)

	return domain.PushResult{AffectedIDs: affected}, nil
}

func (s *Service) dispatch(ctx context.Context, request domain.PushRequest) ([]string, error) {
	switch request.AssociationType {
	case domain.AssociationTag:
		return s.tag(ctx, request)
	case domain.AssociationMultitag:
		return s.multitag(ctx, request)
	case domain.AssociationLink:
		return s.link(ctx, request)
	case domain.AssociationUnlink:
		return s.unlink(ctx, request)
	}
	return nil, fmt.Errorf("%w: unhandled association type %q", domain.ErrValidation, request.AssociationType)
}

// findOwners busca as entidades donas das chaves e exige que cada chave exista em alguma delas.
func (s *Service) findOwners(ctx context.Context, entityType domain.EntityType, keys []entities.AdapterKey) ([]entities.Entity, error) {
	found, err := s.entityRepository.FindByAdapterKeys(ctx, entityType, keys)
	if err != nil {
		return nil, fmt.Errorf("CorrelationService.findOwners - failed to query entities: %w", asStoreError(err))
	}

	for _, key := range keys {
		owners := 0
		for _, e := range found {
			if e.HasAdapter(key) {
				owners++
			}
		}
		switch {
		case owners == 0:
			return nil, fmt.Errorf("CorrelationService.findOwners - adapter %s: %w", key.String(), domain.ErrNotFound)
		case owners > 1:
			return nil, fmt.Errorf("CorrelationService.findOwners - adapter %s belongs to %d entities: %w", key.String(), owners, domain.ErrCardinality)
		}
	}

	return orderByKeys(found, keys), nil
}

// orderByKeys deixa o resultado determinístico: entidades na ordem em que as chaves pedidas aparecem.
func orderByKeys(found []entities.Entity, keys []entities.AdapterKey) []entities.Entity {
	ordered := make([]entities.Entity, 0, len(found))
	taken := make(map[string]bool, len(found))
	for _, key := range keys {
		for _, e := range found {
			if !taken[e.InternalAxonID] && e.HasAdapter(key) {
				taken[e.InternalAxonID] = true
				ordered = append(ordered, e)
			}
		}
	}
	return ordered
}

func (s *Service) apply(ctx context.Context, entityType domain.EntityType, mutation domain.EntityMutation) error {
	if mutation.IsEmpty() {
		return nil
	}
	if err := s.entityRepository.Apply(ctx, entityType, mutation); err != nil {
		return fmt.Errorf("CorrelationService.apply - failed to write entities: %w", asStoreError(err))
	}
	return nil
}

// retryOnConflict refaz a operação inteira, relendo as entidades, quando outra escrita mudou uma delas
// entre a leitura e a gravação. Os locks seguem com quem chamou.
func (s *Service) retryOnConflict(ctx context.Context, fn func() ([]string, error)) ([]string, error) {
	for attempt := 1; ; attempt++ {
		affected, err := fn()
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			return affected, err
		}
		if attempt >= maxConflictRetries || ctx.Err() != nil {
			return nil, fmt.Errorf("CorrelationService - giving up after %d conflicting writes: %w: %w", attempt, domain.ErrStore, err)
		}
		s.logger.Debug("entity changed under the operation, retrying", "attempt", attempt, "error", err)
	}
}

func asStoreError(err error) error {
	if errors.Is(err, domain.ErrStore) || errors.Is(err, domain.ErrConflict) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStore, err)
}

func eventTypeOf(associationType domain.AssociationType) string {
	switch associationType {
	case domain.AssociationTag:
		return "entity_tagged"
	case domain.AssociationMultitag:
		return "entities_multitagged"
	case domain.AssociationLink:
		return "entities_linked"
	case domain.AssociationUnlink:
		return "entity_unlinked"
	}
	return "entity_changed"
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrCardinality):
		return "cardinality"
	default:
		return "error"
	}
}
