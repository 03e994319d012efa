package correlation_test

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
	"axoncore/src/infra/locks"
	"axoncore/src/infra/memstore"
	"axoncore/src/services/correlation"
)

type recordingRebuilder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recordingRebuilder) RebuildPartial(_ context.Context, _ domain.EntityType, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string(nil), ids...))
	return nil
}

func (r *recordingRebuilder) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.EntityEvent
}

func (p *recordingPublisher) PublishEntityEvents(_ context.Context, events []domain.EntityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

type fixture struct {
	ctx       context.Context
	store     *memstore.Store
	service   *correlation.Service
	rebuilder *recordingRebuilder
	publisher *recordingPublisher
	now       time.Time
	nextID    int
	idMu      sync.Mutex
}

func newFixture() *fixture {
	f := &fixture{
		ctx:       context.Background(),
		store:     memstore.NewStore(),
		rebuilder: &recordingRebuilder{},
		publisher: &recordingPublisher{},
		now:       time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
	}

	logger := slog.New(slog.NewTextHandler(GinkgoWriter, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f.service = correlation.NewService(logger, f.store.EntityRepository(), locks.NewLocalLocker(),
		correlation.WithViewRebuilder(f.rebuilder),
		correlation.WithEventPublisher(f.publisher),
		correlation.WithClock(func() time.Time { return f.now }),
		correlation.WithIDGenerator(f.newID),
	)
	return f
}

func (f *fixture) newID() string {
	f.idMu.Lock()
	defer f.idMu.Unlock()
	f.nextID++
	return fmt.Sprintf("new%03d", f.nextID)
}

func (f *fixture) seed(list ...entities.Entity) {
	err := f.store.EntityRepository().Apply(f.ctx, domain.EntityTypeDevices, domain.EntityMutation{Insert: list})
	Expect(err).NotTo(HaveOccurred())
}

func (f *fixture) entity(id string) entities.Entity {
	found, err := f.store.EntityRepository().FindByIDs(f.ctx, domain.EntityTypeDevices, []string{id})
	Expect(err).NotTo(HaveOccurred())
	Expect(found).To(HaveLen(1), "entity %s", id)
	return found[0]
}

func (f *fixture) entities() []entities.Entity {
	return f.store.Entities(domain.EntityTypeDevices)
}

func key(pluginUniqueName, id string) entities.AdapterKey {
	return entities.AdapterKey{PluginUniqueName: pluginUniqueName, ID: id}
}

func record(pluginName, id string) entities.AdapterRecord {
	return entities.AdapterRecord{
		PluginUniqueName:    pluginName + "_0",
		PluginName:          pluginName,
		ID:                  id,
		AccurateForDatetime: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Data:                map[string]any{"hostname": "host-" + id},
	}
}

func tagPush(k entities.AdapterKey, issuer string, spec domain.TagSpec) domain.PushRequest {
	return domain.PushRequest{
		EntityType:         domain.EntityTypeDevices,
		AssociationType:    domain.AssociationTag,
		AssociatedAdapters: []entities.AdapterKey{k},
		Issuer:             domain.Issuer{PluginUniqueName: issuer, PluginName: issuer},
		Tag:                spec,
	}
}

func linkPush(a, b entities.AdapterKey) domain.PushRequest {
	return domain.PushRequest{
		EntityType:         domain.EntityTypeDevices,
		AssociationType:    domain.AssociationLink,
		AssociatedAdapters: []entities.AdapterKey{a, b},
		Issuer:             domain.Issuer{PluginUniqueName: "static_correlator_0", PluginName: "static_correlator"},
	}
}

func unlinkPush(keys ...entities.AdapterKey) domain.PushRequest {
	return domain.PushRequest{
		EntityType:         domain.EntityTypeDevices,
		AssociationType:    domain.AssociationUnlink,
		AssociatedAdapters: keys,
		Issuer:             domain.Issuer{PluginUniqueName: "gui", PluginName: "gui"},
	}
}

// expectPartition checa que cada chave está em exatamente uma entidade e nenhuma entidade está vazia.
func expectPartition(list []entities.Entity, keys []entities.AdapterKey) {
	owners := make(map[entities.AdapterKey]int)
	for _, e := range list {
		Expect(e.Adapters).NotTo(BeEmpty(), "entity %s has no adapters", e.InternalAxonID)
		for _, k := range e.AdapterKeys() {
			owners[k]++
		}
	}
	for _, k := range keys {
		Expect(owners[k]).To(Equal(1), "adapter %s", k.String())
	}
	Expect(owners).To(HaveLen(len(keys)))
}

func adapterKeySet(e entities.Entity) map[entities.AdapterKey]bool {
	set := make(map[entities.AdapterKey]bool)
	for _, k := range e.AdapterKeys() {
		set[k] = true
	}
	return set
}
