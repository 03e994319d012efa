package correlation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
)

// EntityRepository is the entity store as the correlation engine sees it.
type EntityRepository interface {
	FindByAdapterKeys(ctx context.Context, entityType domain.EntityType, keys []entities.AdapterKey) ([]entities.Entity, error)
	Apply(ctx context.Context, entityType domain.EntityType, mutation domain.EntityMutation) error
}

// Locker takes exclusive locks over a set of keys inside a scope, all-or-nothing.
type Locker interface {
	Lock(ctx context.Context, scope string, keys []string) (func(), error)
}

type ViewRebuilder interface {
	RebuildPartial(ctx context.Context, entityType domain.EntityType, ids []string) error
}

type EventPublisher interface {
	PublishEntityEvents(ctx context.Context, events []domain.EntityEvent) error
}

const maxConflictRetries = 5

type Service struct {
	logger           *slog.Logger
	entityRepository EntityRepository
	locker           Locker
	rebuilder        ViewRebuilder
	publisher        EventPublisher
	now              func() time.Time
	newID            func() string
}

type Option func(*Service)

func WithViewRebuilder(rebuilder ViewRebuilder) Option {
	return func(s *Service) { s.rebuilder = rebuilder }
}

func WithEventPublisher(publisher EventPublisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(logger *slog.Logger, entityRepository EntityRepository, locker Locker, opts ...Option) *Service {
	s := &Service{
		logger:           logger,
		entityRepository: entityRepository,
		locker:           locker,
		now:              func() time.Time { return time.Now().UTC() },
		newID:            newAxonID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newAxonID gera um internal_axon_id novo (uuid sem hífens).
func newAxonID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func lockKeys(keys []entities.AdapterKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

// afterMutation dispara a reconstrução parcial da view e publica o evento; falhas aqui não desfazem o push.
func (s *Service) afterMutation(ctx context.Context, entityType domain.EntityType, eventType string, affected []string, skipRebuild bool) {
	if len(affected) == 0 {
		return
	}

	if s.rebuilder != nil && !skipRebuild {
		if err := s.rebuilder.RebuildPartial(ctx, entityType, affected); err != nil {
			s.logger.Error("partial view rebuild after push failed",
				"entity_type", entityType,
				"event_type", eventType,
				"count", len(affected),
				"error", err)
		}
	}

	if s.publisher != nil {
		event := domain.EntityEvent{
			EventType:   eventType,
			EntityType:  entityType,
			AffectedIDs: affected,
			OccurredAt:  s.now(),
		}
		if err := s.publisher.PublishEntityEvents(ctx, []domain.EntityEvent{event}); err != nil {
			s.logger.Warn("failed to publish entity event", "event_type", eventType, "error", err)
		}
	}
}

func entityIDs(list []entities.Entity) []string {
	ids := make([]string, len(list))
	for i, e := range list {
		ids[i] = e.InternalAxonID
	}
	return ids
}
