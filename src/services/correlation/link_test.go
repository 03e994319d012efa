package correlation_test

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
	"axoncore/src/test_artefacts/stubs"
)

var _ = Describe("Push Link", func() {
	var (
		f     *fixture
		older time.Time
		newer time.Time
		keyA  entities.AdapterKey
		keyB  entities.AdapterKey
	)

	BeforeEach(func() {
		f = newFixture()
		older = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		newer = older.Add(24 * time.Hour)
		keyA = key("p1_0", "idA")
		keyB = key("p2_0", "idB")

		f.seed(
			stubs.NewEntityStub().WithID("entA").
				WithAdapters(record("p1", "idA")).
				WithTags(stubs.NewTagStub().WithIssuer("x_0", "x").WithName("owner").WithType(entities.TagTypeData).
					WithData("alice").AssociatedWith(keyA).WithAccurateFor(older).Get()).
				WithAccurateFor(older).
				Get(),
			stubs.NewEntityStub().WithID("entB").
				WithAdapters(record("p2", "idB")).
				WithTags(stubs.NewTagStub().WithIssuer("x_0", "x").WithName("owner").WithType(entities.TagTypeData).
					WithData("bob").AssociatedWith(keyB).WithAccurateFor(newer).Get()).
				WithAccurateFor(newer).
				Get(),
		)
	})

	It("merges both entities into a fresh one", func() {
		// ACT
		result, err := f.service.Push(f.ctx, linkPush(keyA, keyB))

		// ASSERT
		Expect(err).NotTo(HaveOccurred())
		Expect(result.AffectedIDs).To(Equal([]string{"new001", "entA", "entB"}))

		all := f.entities()
		Expect(all).To(HaveLen(1))
		merged := all[0]
		Expect(merged.InternalAxonID).To(Equal("new001"))
		Expect(merged.AdapterKeys()).To(Equal([]entities.AdapterKey{keyA, keyB}))
		Expect(merged.AdapterCount).To(Equal(2))
		Expect(merged.AccurateForDatetime).To(Equal(newer))

		Expect(merged.Tags).To(HaveLen(1))
		Expect(merged.Tags[0].Data).To(Equal("bob"))

		Expect(f.rebuilder.Calls()).To(Equal([][]string{{"new001", "entA", "entB"}}))
	})

	It("keeps the first candidate's tag when timestamps tie", func() {
		// ARRANGE
		a := f.entity("entA")
		a.Tags[0].AccurateForDatetime = newer
		Expect(f.store.EntityRepository().Apply(f.ctx, domain.EntityTypeDevices, domain.EntityMutation{Update: []entities.Entity{a}})).To(Succeed())

		// ACT
		_, err := f.service.Push(f.ctx, linkPush(keyA, keyB))

		// ASSERT
		Expect(err).NotTo(HaveOccurred())
		Expect(f.entities()[0].Tags[0].Data).To(Equal("alice"))
	})

	It("refuses keys that already share an entity", func() {
		// ARRANGE
		_, err := f.service.Push(f.ctx, linkPush(keyA, keyB))
		Expect(err).NotTo(HaveOccurred())

		// ACT
		_, err = f.service.Push(f.ctx, linkPush(keyA, keyB))

		// ASSERT
		Expect(err).To(MatchError(domain.ErrCardinality))
		Expect(f.entities()).To(HaveLen(1))
	})

	It("refuses the same key twice", func() {
		// ACT
		_, err := f.service.Push(f.ctx, linkPush(keyA, keyA))

		// ASSERT
		Expect(err).To(MatchError(domain.ErrValidation))
	})

	It("refuses an unknown key without touching the store", func() {
		// ACT
		_, err := f.service.Push(f.ctx, linkPush(keyA, key("p9_0", "ghost")))

		// ASSERT
		Expect(err).To(MatchError(domain.ErrNotFound))
		Expect(f.entities()).To(HaveLen(2))
	})
})

var _ = Describe("Push Unlink", func() {
	var f *fixture

	BeforeEach(func() {
		f = newFixture()
	})

	Context("when the split adapter carries a tag shared with the remaining one", func() {
		It("moves the tag to the new entity trimmed to the removed adapters", func() {
			// ARRANGE
			keyA := key("p1_0", "idA")
			keyX := key("p2_0", "idX")
			shared := stubs.NewTagStub().WithName("critical").AssociatedWith(keyA, keyX).Get()
			onlyA := stubs.NewTagStub().WithName("reviewed").AssociatedWith(keyA).Get()
			f.seed(stubs.NewEntityStub().WithID("ent1").
				WithAdapters(record("p1", "idA"), record("p2", "idX")).
				WithTags(shared, onlyA).
				Get())

			// ACT
			result, err := f.service.Push(f.ctx, unlinkPush(keyX))

			// ASSERT
			Expect(err).NotTo(HaveOccurred())
			Expect(result.AffectedIDs).To(Equal([]string{"ent1", "new001"}))

			old := f.entity("ent1")
			Expect(old.AdapterKeys()).To(Equal([]entities.AdapterKey{keyA}))
			Expect(old.AdapterCount).To(Equal(1))
			Expect(old.Tags).To(HaveLen(1))
			Expect(old.Tags[0].Name).To(Equal("reviewed"))

			split := f.entity("new001")
			Expect(split.AdapterKeys()).To(Equal([]entities.AdapterKey{keyX}))
			Expect(split.Tags).To(HaveLen(1))
			Expect(split.Tags[0].Name).To(Equal("critical"))
			Expect(split.Tags[0].AssociatedAdapters).To(Equal([]entities.AdapterKey{keyX}))
		})
	})

	It("refuses to empty an entity", func() {
		// ARRANGE
		f.seed(stubs.NewEntityStub().WithID("ent1").WithAdapters(record("p1", "idA"), record("p2", "idX")).Get())

		// ACT
		_, err := f.service.Push(f.ctx, unlinkPush(key("p1_0", "idA"), key("p2_0", "idX")))

		// ASSERT
		Expect(err).To(MatchError(domain.ErrCardinality))
		Expect(f.entity("ent1").Adapters).To(HaveLen(2))
		Expect(f.entities()).To(HaveLen(1))
	})

	It("refuses keys spread over two entities", func() {
		// ARRANGE
		f.seed(
			stubs.NewEntityStub().WithID("ent1").WithAdapters(record("p1", "a"), record("p1", "b")).Get(),
			stubs.NewEntityStub().WithID("ent2").WithAdapters(record("p2", "c"), record("p2", "d")).Get(),
		)

		// ACT
		_, err := f.service.Push(f.ctx, unlinkPush(key("p1_0", "a"), key("p2_0", "c")))

		// ASSERT
		Expect(err).To(MatchError(domain.ErrCardinality))
		Expect(f.entities()).To(HaveLen(2))
	})
})

var _ = Describe("Link and Unlink laws", func() {
	var f *fixture

	BeforeEach(func() {
		f = newFixture()
	})

	It("restores the original adapter sets when a link is undone", func() {
		// ARRANGE
		f.seed(
			stubs.NewEntityStub().WithID("entA").WithAdapters(record("p1", "a1"), record("p2", "a2")).Get(),
			stubs.NewEntityStub().WithID("entB").WithAdapters(record("p3", "b1"), record("p4", "b2")).Get(),
		)
		beforeA := adapterKeySet(f.entity("entA"))
		beforeB := adapterKeySet(f.entity("entB"))

		// ACT
		_, errLink := f.service.Push(f.ctx, linkPush(key("p1_0", "a1"), key("p3_0", "b1")))
		_, errUnlink := f.service.Push(f.ctx, unlinkPush(key("p3_0", "b1"), key("p4_0", "b2")))

		// ASSERT
		Expect(errLink).NotTo(HaveOccurred())
		Expect(errUnlink).NotTo(HaveOccurred())

		all := f.entities()
		Expect(all).To(HaveLen(2))
		sets := []map[entities.AdapterKey]bool{adapterKeySet(all[0]), adapterKeySet(all[1])}
		Expect(sets).To(ConsistOf(beforeA, beforeB))
	})

	It("keeps every adapter in exactly one entity through random links and unlinks", func() {
		// ARRANGE
		var keys []entities.AdapterKey
		for i := 0; i < 12; i++ {
			r := record("p"+string(rune('a'+i%4)), "r"+string(rune('a'+i)))
			f.seed(stubs.NewEntityStub().WithID("seed-" + r.ID).WithAdapters(r).Get())
			keys = append(keys, r.Key())
		}
		rng := rand.New(rand.NewSource(42))

		for step := 0; step < 200; step++ {
			// ACT
			a := keys[rng.Intn(len(keys))]
			b := keys[rng.Intn(len(keys))]
			if rng.Intn(2) == 0 {
				_, _ = f.service.Push(f.ctx, linkPush(a, b))
			} else {
				_, _ = f.service.Push(f.ctx, unlinkPush(a))
			}

			// ASSERT
			expectPartition(f.entities(), keys)
		}
	})

	It("keeps the partition when workers push over disjoint key sets in parallel", func() {
		// ARRANGE
		const workers = 8
		groups := make([][]entities.AdapterKey, workers)
		var keys []entities.AdapterKey
		for w := 0; w < workers; w++ {
			for i := 0; i < 4; i++ {
				r := record("p"+string(rune('a'+i)), fmt.Sprintf("w%d-%d", w, i))
				f.seed(stubs.NewEntityStub().WithID("seed-" + r.ID).WithAdapters(r).Get())
				groups[w] = append(groups[w], r.Key())
				keys = append(keys, r.Key())
			}
		}

		// ACT
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(group []entities.AdapterKey, seed int64) {
				defer GinkgoRecover()
				defer wg.Done()
				rng := rand.New(rand.NewSource(seed))
				for step := 0; step < 50; step++ {
					a := group[rng.Intn(len(group))]
					b := group[rng.Intn(len(group))]
					switch rng.Intn(3) {
					case 0:
						_, _ = f.service.Push(f.ctx, linkPush(a, b))
					case 1:
						_, _ = f.service.Push(f.ctx, unlinkPush(a))
					default:
						_, _ = f.service.Push(f.ctx, tagPush(a, "x_0", domain.TagSpec{Name: "seen", Type: entities.TagTypeLabel, Data: true}))
					}
				}
			}(groups[w], int64(w))
		}
		wg.Wait()

		// ASSERT
		expectPartition(f.entities(), keys)
	})
})
