package viewrebuild_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
	"axoncore/src/infra/memstore"
	"axoncore/src/services/viewrebuild"
	"axoncore/src/test_artefacts/stubs"
)

// gatedEntityRepository lê tudo do store e só entrega ao callback depois de release.
type gatedEntityRepository struct {
	*memstore.EntityRepository
	started chan struct{}
	release chan struct{}
}

func (g *gatedEntityRepository) ForEach(ctx context.Context, entityType domain.EntityType, fn func(entities.Entity) error) error {
	var snapshot []entities.Entity
	if err := g.EntityRepository.ForEach(ctx, entityType, func(e entities.Entity) error {
		snapshot = append(snapshot, e)
		return nil
	}); err != nil {
		return err
	}

	close(g.started)
	<-g.release

	for _, e := range snapshot {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// flakyHistoryRepository falha na chamada failAt de Append enquanto failAt > 0.
type flakyHistoryRepository struct {
	*memstore.HistoryRepository
	mu      sync.Mutex
	appends int
	failAt  int
}

func (h *flakyHistoryRepository) Append(ctx context.Context, entityType domain.EntityType, views []entities.HistoricalView) error {
	h.mu.Lock()
	h.appends++
	fail := h.failAt > 0 && h.appends == h.failAt
	h.mu.Unlock()

	if fail {
		return fmt.Errorf("%w: connection reset", domain.ErrStore)
	}
	return h.HistoryRepository.Append(ctx, entityType, views)
}

func (h *flakyHistoryRepository) Recover() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failAt = 0
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

var _ = Describe("Rebuilder", func() {
	var (
		ctx       context.Context
		store     *memstore.Store
		clock     *fakeClock
		logger    *slog.Logger
		rebuilder *viewrebuild.Rebuilder
	)

	seed := func(list ...entities.Entity) {
		err := store.EntityRepository().Apply(ctx, domain.EntityTypeDevices, domain.EntityMutation{Insert: list})
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = memstore.NewStore()
		clock = &fakeClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
		logger = slog.New(slog.NewTextHandler(GinkgoWriter, &slog.HandlerOptions{Level: slog.LevelDebug}))
		rebuilder = viewrebuild.NewRebuilder(logger,
			store.EntityRepository(), store.ViewRepository(), store.HistoryRepository(),
			viewrebuild.WithClock(clock.Now),
			viewrebuild.WithSleeper(clock.Sleep),
			viewrebuild.WithBatchSize(2),
		)
	})

	Describe("RebuildFull", func() {
		It("writes one view per entity with a visible adapter", func() {
			// ARRANGE
			seed(
				stubs.NewEntityStub().WithID("e1").Get(),
				stubs.NewEntityStub().WithID("e2").Get(),
				stubs.NewEntityStub().WithID("e3").Get(),
				stubs.NewEntityStub().WithID("ghost").WithAdapters(stubs.NewAdapterRecordStub().PendingDelete().Get()).Get(),
			)

			// ACT
			err := rebuilder.RebuildFull(ctx, domain.EntityTypeDevices)

			// ASSERT
			Expect(err).NotTo(HaveOccurred())
			views := store.Views(domain.EntityTypeDevices)
			Expect(views).To(HaveLen(3))
			Expect(views).To(HaveKey("e1"))
			Expect(views).NotTo(HaveKey("ghost"))
		})

		It("drops views whose entity is gone", func() {
			// ARRANGE
			Expect(store.ViewRepository().Upsert(ctx, domain.EntityTypeDevices, []entities.View{{InternalAxonID: "stale"}})).To(Succeed())
			seed(stubs.NewEntityStub().WithID("e1").Get())

			// ACT
			err := rebuilder.RebuildFull(ctx, domain.EntityTypeDevices)

			// ASSERT
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Views(domain.EntityTypeDevices)).To(HaveLen(1))
			Expect(store.Views(domain.EntityTypeDevices)).NotTo(HaveKey("stale"))
		})

		It("waits for the cooldown when called again too soon", func() {
			// ARRANGE
			seed(stubs.NewEntityStub().WithID("e1").Get())
			Expect(rebuilder.RebuildFull(ctx, domain.EntityTypeDevices)).To(Succeed())
			clock.Advance(3 * time.Second)

			// ACT
			err := rebuilder.RebuildFull(ctx, domain.EntityTypeDevices)

			// ASSERT
			Expect(err).NotTo(HaveOccurred())
			Expect(clock.Sleeps()).To(Equal([]time.Duration{7 * time.Second}))
		})

		It("does not wait once the cooldown has passed", func() {
			// ARRANGE
			seed(stubs.NewEntityStub().WithID("e1").Get())
			Expect(rebuilder.RebuildFull(ctx, domain.EntityTypeDevices)).To(Succeed())
			clock.Advance(viewrebuild.DefaultCooldown)

			// ACT
			err := rebuilder.RebuildFull(ctx, domain.EntityTypeDevices)

			// ASSERT
			Expect(err).NotTo(HaveOccurred())
			Expect(clock.Sleeps()).To(BeEmpty())
		})

		It("keeps the cooldown per entity type", func() {
			// ARRANGE
			Expect(rebuilder.RebuildFull(ctx, domain.EntityTypeDevices)).To(Succeed())

			// ACT
			err := rebuilder.RebuildFull(ctx, domain.EntityTypeUsers)

			// ASSERT
			Expect(err).NotTo(HaveOccurred())
			Expect(clock.Sleeps()).To(BeEmpty())
		})

		It("replays partial rebuilds that ran while the stage was being filled", func() {
			// ARRANGE
			seed(stubs.NewEntityStub().WithID("e1").Get())
			gated := &gatedEntityRepository{
				EntityRepository: store.EntityRepository(),
				started:          make(chan struct{}),
				release:          make(chan struct{}),
			}
			rebuilder = viewrebuild.NewRebuilder(logger, gated, store.ViewRepository(), store.HistoryRepository(),
				viewrebuild.WithClock(clock.Now), viewrebuild.WithSleeper(clock.Sleep))

			done := make(chan error, 1)
			go func() {
				done <- rebuilder.RebuildFull(ctx, domain.EntityTypeDevices)
			}()
			Eventually(gated.started).Should(BeClosed())

			// ACT
			seed(stubs.NewEntityStub().WithID("late").Get())
			Expect(rebuilder.RebuildPartial(ctx, domain.EntityTypeDevices, []string{"late"})).To(Succeed())
			close(gated.release)

			// ASSERT
			Eventually(done).Should(Receive(BeNil()))
			views := store.Views(domain.EntityTypeDevices)
			Expect(views).To(HaveKey("e1"))
			Expect(views).To(HaveKey("late"))
		})

		It("rejects an unknown entity type", func() {
			// ACT
			err := rebuilder.RebuildFull(ctx, "printers")

			// ASSERT
			Expect(err).To(MatchError(domain.ErrValidation))
		})
	})

	Describe("RebuildPartial", func() {
		It("leaves the same views as a full rebuild", func() {
			// ARRANGE
			seed(
				stubs.NewEntityStub().WithID("e1").WithTags(stubs.NewTagStub().WithName("critical").Get()).Get(),
				stubs.NewEntityStub().WithID("e2").Get(),
			)
			Expect(rebuilder.RebuildFull(ctx, domain.EntityTypeDevices)).To(Succeed())
			before := store.Views(domain.EntityTypeDevices)

			// ACT
			err := rebuilder.RebuildPartial(ctx, domain.EntityTypeDevices, []string{"e1", "e2"})

			// ASSERT
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Views(domain.EntityTypeDevices)).To(Equal(before))
		})

		It("deletes the view of an id that no longer has an entity", func() {
			// ARRANGE
			seed(stubs.NewEntityStub().WithID("e1").Get(), stubs.NewEntityStub().WithID("e2").Get())
			Expect(rebuilder.RebuildFull(ctx, domain.EntityTypeDevices)).To(Succeed())
			gone, err := store.EntityRepository().FindByIDs(ctx, domain.EntityTypeDevices, []string{"e2"})
			Expect(err).NotTo(HaveOccurred())
			Expect(store.EntityRepository().Apply(ctx, domain.EntityTypeDevices, domain.EntityMutation{Delete: gone})).To(Succeed())

			// ACT
			err = rebuilder.RebuildPartial(ctx, domain.EntityTypeDevices, []string{"e2", "e1", "e2"})

			// ASSERT
			Expect(err).NotTo(HaveOccurred())
			views := store.Views(domain.EntityTypeDevices)
			Expect(views).To(HaveLen(1))
			Expect(views).To(HaveKey("e1"))
		})

		It("picks up a changed entity", func() {
			// ARRANGE
			seed(stubs.NewEntityStub().WithID("e1").Get())
			Expect(rebuilder.RebuildFull(ctx, domain.EntityTypeDevices)).To(Succeed())

			changed := stubs.NewEntityStub().WithID("e1").WithTags(stubs.NewTagStub().WithName("patched").Get()).Get()
			changed.Version = 1
			Expect(store.EntityRepository().Apply(ctx, domain.EntityTypeDevices, domain.EntityMutation{Update: []entities.Entity{changed}})).To(Succeed())

			// ACT
			err := rebuilder.RebuildPartial(ctx, domain.EntityTypeDevices, []string{"e1"})

			// ASSERT
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Views(domain.EntityTypeDevices)["e1"].Labels).To(Equal([]string{"patched"}))
		})

		It("does nothing for an empty id list", func() {
			// ACT
			err := rebuilder.RebuildPartial(ctx, domain.EntityTypeDevices, []string{"", ""})

			// ASSERT
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Views(domain.EntityTypeDevices)).To(BeEmpty())
		})
	})

	Describe("Rebuild", func() {
		It("runs a full rebuild for nil ids", func() {
			// ARRANGE
			seed(stubs.NewEntityStub().WithID("e1").Get(), stubs.NewEntityStub().WithID("e2").Get())

			// ACT
			err := rebuilder.Rebuild(ctx, domain.EntityTypeDevices, nil)

			// ASSERT
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Views(domain.EntityTypeDevices)).To(HaveLen(2))
		})

		It("runs a partial rebuild for the given ids", func() {
			// ARRANGE
			seed(stubs.NewEntityStub().WithID("e1").Get(), stubs.NewEntityStub().WithID("e2").Get())

			// ACT
			err := rebuilder.Rebuild(ctx, domain.EntityTypeDevices, []string{"e2"})

			// ASSERT
			Expect(err).NotTo(HaveOccurred())
			views := store.Views(domain.EntityTypeDevices)
			Expect(views).To(HaveLen(1))
			Expect(views).To(HaveKey("e2"))
		})
	})

	Describe("SnapshotToHistory", func() {
		BeforeEach(func() {
			seed(stubs.NewEntityStub().WithID("abc").Get(), stubs.NewEntityStub().WithID("def").Get(), stubs.NewEntityStub().WithID("ghi").Get())
			Expect(rebuilder.RebuildFull(ctx, domain.EntityTypeDevices)).To(Succeed())
		})

		It("copies every view stamped with the snapshot time", func() {
			// ACT
			err := rebuilder.SnapshotToHistory(ctx, domain.EntityTypeDevices)

			// ASSERT
			Expect(err).NotTo(HaveOccurred())
			history := store.History(domain.EntityTypeDevices)
			Expect(history).To(HaveLen(3))
			for _, h := range history {
				Expect(h.AccurateForDatetime).To(Equal(clock.Now()))
				Expect(h.ShortAxonID).To(Equal(h.InternalAxonID[:1]))
			}
		})

		It("takes at most one snapshot per day", func() {
			// ARRANGE
			Expect(rebuilder.SnapshotToHistory(ctx, domain.EntityTypeDevices)).To(Succeed())
			clock.Advance(6 * time.Hour)

			// ACT
			err := rebuilder.SnapshotToHistory(ctx, domain.EntityTypeDevices)

			// ASSERT
			Expect(err).NotTo(HaveOccurred())
			Expect(store.History(domain.EntityTypeDevices)).To(HaveLen(3))
		})

		It("leaves no partial snapshot behind when a batch fails", func() {
			// ARRANGE
			seed(stubs.NewEntityStub().WithID("jkl").Get())
			Expect(rebuilder.RebuildPartial(ctx, domain.EntityTypeDevices, []string{"jkl"})).To(Succeed())

			history := &flakyHistoryRepository{HistoryRepository: store.HistoryRepository(), failAt: 2}
			flaky := viewrebuild.NewRebuilder(logger,
				store.EntityRepository(), store.ViewRepository(), history,
				viewrebuild.WithClock(clock.Now),
				viewrebuild.WithSleeper(clock.Sleep),
				viewrebuild.WithBatchSize(2),
			)

			// ACT
			err := flaky.SnapshotToHistory(ctx, domain.EntityTypeDevices)

			// ASSERT
			Expect(err).To(MatchError(domain.ErrStore))
			Expect(store.History(domain.EntityTypeDevices)).To(BeEmpty())
			taken, err := store.HistoryRepository().HasSnapshot(ctx, domain.EntityTypeDevices, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
			Expect(err).NotTo(HaveOccurred())
			Expect(taken).To(BeFalse())

			// ACT
			history.Recover()
			clock.Advance(time.Hour)
			err = flaky.SnapshotToHistory(ctx, domain.EntityTypeDevices)

			// ASSERT
			Expect(err).NotTo(HaveOccurred())
			Expect(store.History(domain.EntityTypeDevices)).To(HaveLen(4))
		})

		It("keeps earlier days when rolling back a failed snapshot", func() {
			// ARRANGE
			Expect(rebuilder.SnapshotToHistory(ctx, domain.EntityTypeDevices)).To(Succeed())
			clock.Advance(24 * time.Hour)

			history := &flakyHistoryRepository{HistoryRepository: store.HistoryRepository(), failAt: 2}
			flaky := viewrebuild.NewRebuilder(logger,
				store.EntityRepository(), store.ViewRepository(), history,
				viewrebuild.WithClock(clock.Now),
				viewrebuild.WithSleeper(clock.Sleep),
				viewrebuild.WithBatchSize(2),
			)

			// ACT
			err := flaky.SnapshotToHistory(ctx, domain.EntityTypeDevices)

			// ASSERT
			Expect(err).To(HaveOccurred())
			Expect(store.History(domain.EntityTypeDevices)).To(HaveLen(3))
		})

		It("takes a new snapshot the next day", func() {
			// ARRANGE
			Expect(rebuilder.SnapshotToHistory(ctx, domain.EntityTypeDevices)).To(Succeed())
			clock.Advance(24 * time.Hour)

			// ACT
			err := rebuilder.SnapshotToHistory(ctx, domain.EntityTypeDevices)

			// ASSERT
			Expect(err).NotTo(HaveOccurred())
			Expect(store.History(domain.EntityTypeDevices)).To(HaveLen(6))
		})
	})
})
