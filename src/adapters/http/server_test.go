package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.mongodb.org/mongo-driver/bson"

	"axoncore/src/adapters/dto"
	api "axoncore/src/adapters/http"
	"axoncore/src/domain"
	"axoncore/src/domain/entities"
	"axoncore/src/infra/locks"
	"axoncore/src/infra/memstore"
	"axoncore/src/services/aql"
	"axoncore/src/services/correlation"
	"axoncore/src/services/viewrebuild"
	"axoncore/src/test_artefacts/stubs"
)

type querierStub struct {
	mu      sync.Mutex
	filters []bson.M
	limit   int64
	skip    int64
	views   []entities.View
}

func (q *querierStub) Query(_ context.Context, _ domain.EntityType, filter bson.M, limit, skip int64) ([]entities.View, int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.filters = append(q.filters, filter)
	q.limit, q.skip = limit, skip
	return q.views, int64(len(q.views)), nil
}

type failingCorrelation struct{}

func (failingCorrelation) Push(context.Context, domain.PushRequest) (domain.PushResult, error) {
	return domain.PushResult{}, errors.New("connection reset by peer")
}

func (failingCorrelation) IngestRecords(context.Context, domain.IngestRequest) (domain.PushResult, error) {
	return domain.PushResult{}, errors.New("connection reset by peer")
}

var _ = Describe("Server", func() {
	var (
		store     *memstore.Store
		querier   *querierStub
		validator *dto.Validator
		logger    *slog.Logger
		rebuilder *viewrebuild.Rebuilder
		compiler  *aql.Compiler
		server    *api.Server
		handler   http.Handler
	)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	decode := func(rec *httptest.ResponseRecorder, into any) {
		ExpectWithOffset(1, json.Unmarshal(rec.Body.Bytes(), into)).To(Succeed())
	}

	BeforeEach(func() {
		var err error
		store = memstore.NewStore()
		querier = &querierStub{}
		logger = slog.New(slog.NewTextHandler(GinkgoWriter, nil))

		validator, err = dto.NewValidator()
		Expect(err).NotTo(HaveOccurred())

		rebuilder = viewrebuild.NewRebuilder(logger, store.EntityRepository(), store.ViewRepository(), store.HistoryRepository())
		service := correlation.NewService(logger, store.EntityRepository(), locks.NewLocalLocker(),
			correlation.WithViewRebuilder(rebuilder))
		compiler, err = aql.NewCompiler(logger, store.GUIRepository(), store.GUIRepository(), store.GUIRepository())
		Expect(err).NotTo(HaveOccurred())

		server = api.NewServer(logger, 0, validator, service, rebuilder, compiler, querier)
		handler = server.Handler()

		Expect(store.EntityRepository().Apply(context.Background(), domain.EntityTypeDevices, domain.EntityMutation{Insert: []entities.Entity{
			stubs.NewEntityStub().WithID("ent1").WithAdapters(
				stubs.NewAdapterRecordStub().WithPlugin("qualys_adapter").WithID("q1").Get(),
				stubs.NewAdapterRecordStub().WithPlugin("active_directory_adapter").WithID("ad1").Get(),
			).Get(),
		}})).To(Succeed())
	})

	AfterEach(func() {
		Expect(server.Shutdown(context.Background())).To(Succeed())
	})

	Describe("POST /v1/{entity_type}/push", func() {
		It("applies a tag and answers with the affected ids", func() {
			// ACT
			rec := do(http.MethodPost, "/v1/devices/push",
				`{"association_type": "Tag", "associated_adapters": [["qualys_adapter_0", "q1"]], "plugin_unique_name": "gui", "plugin_name": "gui", "name": "critical", "type": "label", "data": true}`)

			// ASSERT
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			var response dto.PushResponseDTO
			decode(rec, &response)
			Expect(response.AffectedIDs).To(Equal([]string{"ent1"}))
			Expect(store.Views(domain.EntityTypeDevices)["ent1"].Labels).To(Equal([]string{"critical"}))
		})

		It("answers 400 for a malformed payload", func() {
			// ACT
			rec := do(http.MethodPost, "/v1/devices/push", `{"association_type": "Merge"}`)

			// ASSERT
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("answers 400 for an unknown entity type", func() {
			// ACT
			rec := do(http.MethodPost, "/v1/printers/push", `{"association_type": "Unlink", "associated_adapters": [["qualys_adapter_0", "q1"]]}`)

			// ASSERT
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("answers 404 for an unknown adapter", func() {
			// ACT
			rec := do(http.MethodPost, "/v1/devices/push", `{"association_type": "Unlink", "associated_adapters": [["nobody_0", "x"]]}`)

			// ASSERT
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("answers 409 when an unlink would empty the entity", func() {
			// ACT
			rec := do(http.MethodPost, "/v1/devices/push",
				`{"association_type": "Unlink", "associated_adapters": [["qualys_adapter_0", "q1"], ["active_directory_adapter_0", "ad1"]]}`)

			// ASSERT
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})

		It("hides unexpected errors behind a generic 500", func() {
			// ARRANGE
			handler = api.NewServer(logger, 0, validator, failingCorrelation{}, rebuilder, compiler, querier).Handler()

			// ACT
			rec := do(http.MethodPost, "/v1/devices/push", `{"association_type": "Unlink", "associated_adapters": [["qualys_adapter_0", "q1"]]}`)

			// ASSERT
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Body.String()).To(ContainSubstring(domain.ErrUnavailableServer.Error()))
			Expect(rec.Body.String()).NotTo(ContainSubstring("connection reset"))
		})
	})

	Describe("POST /v1/{entity_type}/records", func() {
		It("ingests records into new entities", func() {
			// ACT
			rec := do(http.MethodPost, "/v1/devices/records",
				`{"records": [{"plugin_unique_name": "esx_adapter_0", "plugin_name": "esx_adapter", "id": "vm1", "data": {"hostname": "vm1"}}]}`)

			// ASSERT
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			var response dto.PushResponseDTO
			decode(rec, &response)
			Expect(response.AffectedIDs).To(HaveLen(1))
			Expect(store.Views(domain.EntityTypeDevices)).To(HaveKey(response.AffectedIDs[0]))
		})

		It("answers 400 when a record misses its id", func() {
			// ACT
			rec := do(http.MethodPost, "/v1/devices/records", `{"records": [{"plugin_unique_name": "esx_adapter_0", "plugin_name": "esx_adapter"}]}`)

			// ASSERT
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /v1/{entity_type}/rebuild", func() {
		It("rebuilds the given ids synchronously", func() {
			// ACT
			rec := do(http.MethodPost, "/v1/devices/rebuild", `{"ids": ["ent1"]}`)

			// ASSERT
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(store.Views(domain.EntityTypeDevices)).To(HaveKey("ent1"))
		})

		It("accepts a full rebuild and runs it in the background", func() {
			// ACT
			rec := do(http.MethodPost, "/v1/devices/rebuild", "")

			// ASSERT
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Eventually(func() map[string]entities.View { return store.Views(domain.EntityTypeDevices) }).Should(HaveKey("ent1"))
		})

		It("answers 400 for an unknown entity type", func() {
			// ACT
			rec := do(http.MethodPost, "/v1/printers/rebuild", "")

			// ASSERT
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /v1/{entity_type}/history/snapshot", func() {
		It("copies the current views to history in the background", func() {
			// ARRANGE
			Expect(rebuilder.RebuildFull(context.Background(), domain.EntityTypeDevices)).To(Succeed())

			// ACT
			rec := do(http.MethodPost, "/v1/devices/history/snapshot", "")

			// ASSERT
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Eventually(func() int { return len(store.History(domain.EntityTypeDevices)) }).Should(Equal(1))
		})
	})

	Describe("POST /v1/query/compile", func() {
		It("returns the native query as extended JSON", func() {
			// ACT
			rec := do(http.MethodPost, "/v1/query/compile",
				`{"filter": "accurate_for_datetime > NOW - 1d", "for_date": "2024-03-10T00:00:00Z"}`)

			// ASSERT
			Expect(rec.Code).To(Equal(http.StatusOK))
			var native map[string]any
			decode(rec, &native)
			Expect(native).To(HaveKey("accurate_for_datetime"))
			Expect(rec.Body.String()).To(ContainSubstring(`"$date"`))
			Expect(rec.Body.String()).To(ContainSubstring(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC).Format("2006-01-02")))
		})

		It("answers 400 with the offending fragment", func() {
			// ACT
			rec := do(http.MethodPost, "/v1/query/compile", `{"filter": "adapters == shout(\"a\")"}`)

			// ASSERT
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			var response map[string]string
			decode(rec, &response)
			Expect(response["fragment"]).To(ContainSubstring("shout"))
		})
	})

	Describe("POST /v1/{entity_type}/query", func() {
		It("compiles the filter and pages through the views", func() {
			// ARRANGE
			querier.views = []entities.View{{InternalAxonID: "ent1"}}

			// ACT
			rec := do(http.MethodPost, "/v1/devices/query", `{"filter": "labels == \"critical\"", "skip": 5}`)

			// ASSERT
			Expect(rec.Code).To(Equal(http.StatusOK))
			var response api.QueryResponse
			decode(rec, &response)
			Expect(response.Total).To(Equal(int64(1)))
			Expect(response.Views[0].InternalAxonID).To(Equal("ent1"))

			Expect(querier.filters).To(Equal([]bson.M{{"labels": "critical"}}))
			Expect(querier.limit).To(Equal(int64(100)))
			Expect(querier.skip).To(Equal(int64(5)))
		})

		It("answers with an empty list when nothing matches", func() {
			// ACT
			rec := do(http.MethodPost, "/v1/devices/query", `{"filter": ""}`)

			// ASSERT
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"views":[]`))
		})
	})
})
