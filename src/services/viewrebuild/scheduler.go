package viewrebuild

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"axoncore/src/domain"
)

type ScheduledJobs interface {
	RebuildFull(ctx context.Context, entityType domain.EntityType) error
	SnapshotToHistory(ctx context.Context, entityType domain.EntityType) error
}

// Scheduler roda a reconstrução completa e o snapshot histórico periodicamente, para todos os tipos.
// Intervalo zero desliga o job.
type Scheduler struct {
	logger           *slog.Logger
	jobs             ScheduledJobs
	fullInterval     time.Duration
	snapshotInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(logger *slog.Logger, jobs ScheduledJobs, fullInterval, snapshotInterval time.Duration) *Scheduler {
	return &Scheduler{
		logger:           logger,
		jobs:             jobs,
		fullInterval:     fullInterval,
		snapshotInterval: snapshotInterval,
	}
}

func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.fullInterval > 0 {
		s.wg.Add(1)
		go s.loop(ctx, "full_rebuild", s.fullInterval, s.jobs.RebuildFull)
	}
	if s.snapshotInterval > 0 {
		s.wg.Add(1)
		go s.loop(ctx, "history_snapshot", s.snapshotInterval, s.jobs.SnapshotToHistory)
	}
}

// Stop cancela os jobs em andamento e espera os loops terminarem.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, job func(context.Context, domain.EntityType) error) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, entityType := range domain.EntityTypes {
			if err := job(ctx, entityType); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("Scheduled job failed", "job", name, "entity_type", entityType, "error", err)
				continue
			}
			s.logger.Debug("Scheduled job done", "job", name, "entity_type", entityType)
		}
	}
}
