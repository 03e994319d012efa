package viewrebuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
	"axoncore/src/helper/metrics"
)

const (
	DefaultCooldown  = 10 * time.Second
	defaultBatchSize = 500
)

type EntityRepository interface {
	FindByIDs(ctx context.Context, entityType domain.EntityType, ids []string) ([]entities.Entity, error)
	ForEach(ctx context.Context, entityType domain.EntityType, fn func(entities.Entity) error) error
}

type ViewRepository interface {
	Stage(ctx context.Context, entityType domain.EntityType) (domain.ViewStage, error)
	Upsert(ctx context.Context, entityType domain.EntityType, views []entities.View) error
	Delete(ctx context.Context, entityType domain.EntityType, ids []string) error
	ForEach(ctx context.Context, entityType domain.EntityType, fn func(entities.View) error) error
}

type HistoryRepository interface {
	HasSnapshot(ctx context.Context, entityType domain.EntityType, day time.Time) (bool, error)
	Append(ctx context.Context, entityType domain.EntityType, views []entities.HistoricalView) error
	DeleteSnapshot(ctx context.Context, entityType domain.EntityType, day time.Time) error
}

// typeState guarda a sincronização de um entity_type. full e partial são locks distintos; o caminho
// completo pode chamar o parcial, o parcial nunca pega o completo.
type typeState struct {
	full     sync.Mutex
	partial  sync.Mutex
	snapshot sync.Mutex

	mu            sync.Mutex
	lastFull      time.Time
	fullRunning   bool
	pendingDuring map[string]struct{}
}

type Rebuilder struct {
	logger            *slog.Logger
	entityRepository  EntityRepository
	viewRepository    ViewRepository
	historyRepository HistoryRepository
	cooldown          time.Duration
	batchSize         int
	now               func() time.Time
	sleep             func(ctx context.Context, d time.Duration) error

	states map[domain.EntityType]*typeState
}

type Option func(*Rebuilder)

func WithCooldown(d time.Duration) Option {
	return func(r *Rebuilder) { r.cooldown = d }
}

func WithBatchSize(n int) Option {
	return func(r *Rebuilder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Rebuilder) { r.now = now }
}

// WithSleeper troca a espera do cooldown; usado nos testes.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Rebuilder) { r.sleep = sleep }
}

func NewRebuilder(
	logger *slog.Logger,
	entityRepository EntityRepository,
	viewRepository ViewRepository,
	historyRepository HistoryRepository,
	opts ...Option,
) *Rebuilder {
	r := &Rebuilder{
		logger:            logger,
		entityRepository:  entityRepository,
		viewRepository:    viewRepository,
		historyRepository: historyRepository,
		cooldown:          DefaultCooldown,
		batchSize:         defaultBatchSize,
		now:               func() time.Time { return time.Now().UTC() },
		sleep:             sleepContext,
		states:            make(map[domain.EntityType]*typeState, len(domain.EntityTypes)),
	}
	for _, et := range domain.EntityTypes {
		r.states[et] = &typeState{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Rebuilder) state(entityType domain.EntityType) (*typeState, error) {
	st, ok := r.states[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity type %q", domain.ErrValidation, entityType)
	}
	return st, nil
}

// Rebuild runs a full rebuild when ids is nil and a partial one otherwise.
func (r *Rebuilder) Rebuild(ctx context.Context, entityType domain.EntityType, ids []string) error {
	if ids == nil {
		return r.RebuildFull(ctx, entityType)
	}
	return r.RebuildPartial(ctx, entityType, ids)
}

// RebuildFull recalcula todas as views num stage e troca de uma vez. Chamadas dentro do cooldown
// esperam o cooldown terminar.
func (r *Rebuilder) RebuildFull(ctx context.Context, entityType domain.EntityType) error {
	st, err := r.state(entityType)
	if err != nil {
		return err
	}

	st.full.Lock()
	defer st.full.Unlock()

	st.mu.Lock()
	last := st.lastFull
	st.mu.Unlock()

	if !last.IsZero() {
		if wait := last.Add(r.cooldown).Sub(r.now()); wait > 0 {
			r.logger.Debug("full rebuild waiting for cooldown", "entity_type", entityType, "wait", wait.String())
			if err := r.sleep(ctx, wait); err != nil {
				return fmt.Errorf("Rebuilder.RebuildFull - cooldown interrupted: %w", err)
			}
		}
	}

	st.mu.Lock()
	st.fullRunning = true
	st.pendingDuring = make(map[string]struct{})
	st.mu.Unlock()

	start := time.Now()
	written, err := r.rebuildIntoStage(ctx, entityType)

	st.mu.Lock()
	st.fullRunning = false
	pending := make([]string, 0, len(st.pendingDuring))
	for id := range st.pendingDuring {
		pending = append(pending, id)
	}
	st.pendingDuring = nil
	if err == nil {
		st.lastFull = r.now()
	}
	st.mu.Unlock()

	if err != nil {
		return err
	}

	metrics.RebuildDuration.WithLabelValues(string(entityType), "full").Observe(time.Since(start).Seconds())
	metrics.RebuiltViews.WithLabelValues(string(entityType), "full").Add(float64(written))
	r.logger.Info("full view rebuild finished", "entity_type", entityType, "count", written, "catch_up", len(pending))

	// parciais que chegaram durante o rebuild foram escritos na coleção antiga, que acabou de ser trocada
	if len(pending) > 0 {
		if err := r.RebuildPartial(ctx, entityType, pending); err != nil {
			return fmt.Errorf("Rebuilder.RebuildFull - catch-up of %d ids failed: %w", len(pending), err)
		}
	}

	return nil
}

func (r *Rebuilder) rebuildIntoStage(ctx context.Context, entityType domain.EntityType) (int, error) {
	stage, err := r.viewRepository.Stage(ctx, entityType)
	if err != nil {
		return 0, fmt.Errorf("Rebuilder.RebuildFull - failed to open stage: %w", err)
	}

	written := 0
	batch := make([]entities.View, 0, r.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := stage.Write(ctx, batch); err != nil {
			return err
		}
		written += len(batch)
		batch = batch[:0]
		return nil
	}

	err = r.entityRepository.ForEach(ctx, entityType, func(e entities.Entity) error {
		view, ok := BuildView(e)
		if !ok {
			return nil
		}
		batch = append(batch, view)
		if len(batch) >= r.batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err == nil {
		err = stage.Commit(ctx)
	}

	if err != nil {
		if abortErr := stage.Abort(context.WithoutCancel(ctx)); abortErr != nil {
			r.logger.Warn("failed to drop view stage", "entity_type", entityType, "error", abortErr)
		}
		return 0, fmt.Errorf("Rebuilder.RebuildFull - failed to rebuild %s views: %w", entityType, err)
	}

	return written, nil
}

// RebuildPartial recalcula as views dos ids dados. Ids sem entidade (ou sem adapter visível) têm a view apagada.
func (r *Rebuilder) RebuildPartial(ctx context.Context, entityType domain.EntityType, ids []string) error {
	st, err := r.state(entityType)
	if err != nil {
		return err
	}

	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}

	st.mu.Lock()
	if st.fullRunning {
		for _, id := range ids {
			st.pendingDuring[id] = struct{}{}
		}
	}
	st.mu.Unlock()

	st.partial.Lock()
	defer st.partial.Unlock()

	start := time.Now()

	found, err := r.entityRepository.FindByIDs(ctx, entityType, ids)
	if err != nil {
		return fmt.Errorf("Rebuilder.RebuildPartial - failed to load entities: %w", err)
	}

	views := make([]entities.View, 0, len(found))
	live := make(map[string]struct{}, len(found))
	for _, e := range found {
		view, ok := BuildView(e)
		if !ok {
			continue
		}
		views = append(views, view)
		live[e.InternalAxonID] = struct{}{}
	}

	var tombstones []string
	for _, id := range ids {
		if _, ok := live[id]; !ok {
			tombstones = append(tombstones, id)
		}
	}

	if len(views) > 0 {
		if err := r.viewRepository.Upsert(ctx, entityType, views); err != nil {
			return fmt.Errorf("Rebuilder.RebuildPartial - failed to upsert views: %w", err)
		}
	}
	if len(tombstones) > 0 {
		if err := r.viewRepository.Delete(ctx, entityType, tombstones); err != nil {
			return fmt.Errorf("Rebuilder.RebuildPartial - failed to delete views: %w", err)
		}
	}

	metrics.RebuildDuration.WithLabelValues(string(entityType), "partial").Observe(time.Since(start).Seconds())
	metrics.RebuiltViews.WithLabelValues(string(entityType), "partial").Add(float64(len(views)))
	r.logger.Debug("partial view rebuild finished",
		"entity_type", entityType,
		"count", len(views),
		"deleted", len(tombstones))

	return nil
}

// SnapshotToHistory copia as views atuais para o histórico, no máximo uma vez por dia (UTC).
// Se algum lote falhar os documentos do dia são removidos, assim a próxima chamada refaz o snapshot inteiro.
func (r *Rebuilder) SnapshotToHistory(ctx context.Context, entityType domain.EntityType) error {
	st, err := r.state(entityType)
	if err != nil {
		return err
	}

	st.snapshot.Lock()
	defer st.snapshot.Unlock()

	now := r.now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	exists, err := r.historyRepository.HasSnapshot(ctx, entityType, day)
	if err != nil {
		return fmt.Errorf("Rebuilder.SnapshotToHistory - failed to check today's snapshot: %w", err)
	}
	if exists {
		r.logger.Debug("history snapshot already taken today", "entity_type", entityType)
		return nil
	}

	copied := 0
	batch := make([]entities.HistoricalView, 0, r.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.historyRepository.Append(ctx, entityType, batch); err != nil {
			return err
		}
		copied += len(batch)
		batch = batch[:0]
		return nil
	}

	err = r.viewRepository.ForEach(ctx, entityType, func(v entities.View) error {
		batch = append(batch, ToHistorical(v, now))
		if len(batch) >= r.batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		// o lote que falhou pode ter sido gravado em parte, então apaga o dia mesmo com copied == 0
		if rollbackErr := r.historyRepository.DeleteSnapshot(context.WithoutCancel(ctx), entityType, day); rollbackErr != nil {
			r.logger.Error("failed to roll back partial history snapshot",
				"entity_type", entityType,
				"copied", copied,
				"error", rollbackErr)
			return fmt.Errorf("Rebuilder.SnapshotToHistory - failed after %d views and left them in place: %w", copied, errors.Join(err, rollbackErr))
		}
		return fmt.Errorf("Rebuilder.SnapshotToHistory - failed after %d views: %w", copied, err)
	}

	r.logger.Info("history snapshot taken", "entity_type", entityType, "count", copied)
	return nil
}

func ToHistorical(v entities.View, at time.Time) entities.HistoricalView {
	v.AccurateForDatetime = at
	short := ""
	if v.InternalAxonID != "" {
		short = v.InternalAxonID[:1]
	}
	return entities.HistoricalView{View: v, ShortAxonID: short}
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
