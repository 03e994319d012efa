package dto_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"axoncore/src/adapters/dto"
	"axoncore/src/domain"
	"axoncore/src/domain/entities"
)

var _ = Describe("DecodePush", func() {
	var validator *dto.Validator

	BeforeEach(func() {
		var err error
		validator, err = dto.NewValidator()
		Expect(err).NotTo(HaveOccurred())
	})

	It("decodes a Tag with the tag fields at the root", func() {
		// ARRANGE
		body := []byte(`{
			"association_type": "Tag",
			"associated_adapters": [["qualys_adapter_0", "q1"]],
			"plugin_unique_name": "gui",
			"plugin_name": "gui",
			"name": "owner",
			"type": "data",
			"data": {"since": {"$date": 1704067200000}},
			"action_if_exists": "update"
		}`)

		// ACT
		request, err := validator.DecodePush(body, "devices")

		// ASSERT
		Expect(err).NotTo(HaveOccurred())
		Expect(request.EntityType).To(Equal(domain.EntityTypeDevices))
		Expect(request.AssociationType).To(Equal(domain.AssociationTag))
		Expect(request.AssociatedAdapters).To(Equal([]entities.AdapterKey{{PluginUniqueName: "qualys_adapter_0", ID: "q1"}}))
		Expect(request.Issuer).To(Equal(domain.Issuer{PluginUniqueName: "gui", PluginName: "gui"}))
		Expect(request.Tag.Name).To(Equal("owner"))
		Expect(request.Tag.Type).To(Equal(entities.TagTypeData))
		Expect(request.Tag.ActionIfExists).To(Equal(domain.ActionUpdate))
		Expect(request.Tag.Data).To(Equal(map[string]any{"since": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}))
	})

	It("decodes a Multitag and keys given as objects", func() {
		// ARRANGE
		body := []byte(`{
			"entity_type": "users",
			"association_type": "Multitag",
			"associated_adapters": [{"plugin_unique_name": "ad_0", "id": "u1"}, {"plugin_unique_name": "ad_0", "id": "u2"}],
			"plugin_unique_name": "gui",
			"tags": [{"name": "vip", "type": "label", "data": true}, {"name": "dept", "type": "data", "data": "sales"}]
		}`)

		// ACT
		request, err := validator.DecodePush(body, "")

		// ASSERT
		Expect(err).NotTo(HaveOccurred())
		Expect(request.EntityType).To(Equal(domain.EntityTypeUsers))
		Expect(request.AssociatedAdapters).To(HaveLen(2))
		Expect(request.AssociatedAdapters[1]).To(Equal(entities.AdapterKey{PluginUniqueName: "ad_0", ID: "u2"}))
		Expect(request.Tags).To(HaveLen(2))
		Expect(request.Tags[0]).To(Equal(domain.TagSpec{Name: "vip", Type: entities.TagTypeLabel, Data: true}))
		Expect(request.Tags[1].Data).To(Equal("sales"))
	})

	It("lets the route's entity type override the body", func() {
		// ARRANGE
		body := []byte(`{"entity_type": "users", "association_type": "Unlink", "associated_adapters": [["a_0", "1"]]}`)

		// ACT
		request, err := validator.DecodePush(body, "devices")

		// ASSERT
		Expect(err).NotTo(HaveOccurred())
		Expect(request.EntityType).To(Equal(domain.EntityTypeDevices))
	})

	DescribeTable("rejects malformed payloads",
		func(body string, entityType string) {
			// ACT
			_, err := validator.DecodePush([]byte(body), entityType)

			// ASSERT
			Expect(err).To(MatchError(domain.ErrValidation))
		},
		Entry("not json", `{"association_type": `, "devices"),
		Entry("unknown association type", `{"association_type": "Merge", "associated_adapters": []}`, "devices"),
		Entry("missing adapters", `{"association_type": "Link"}`, "devices"),
		Entry("key with one element", `{"association_type": "Unlink", "associated_adapters": [["a_0"]]}`, "devices"),
		Entry("key object without id", `{"association_type": "Unlink", "associated_adapters": [{"plugin_unique_name": "a_0"}]}`, "devices"),
		Entry("unknown tag type", `{"association_type": "Tag", "associated_adapters": [["a_0", "1"]], "name": "x", "type": "colour"}`, "devices"),
		Entry("unknown action", `{"association_type": "Tag", "associated_adapters": [["a_0", "1"]], "name": "x", "type": "label", "action_if_exists": "merge"}`, "devices"),
		Entry("multitag tag without name", `{"association_type": "Multitag", "associated_adapters": [["a_0", "1"]], "tags": [{"type": "label"}]}`, "devices"),
		Entry("unknown entity type", `{"association_type": "Unlink", "associated_adapters": [["a_0", "1"]]}`, "printers"),
		Entry("no entity type at all", `{"association_type": "Unlink", "associated_adapters": [["a_0", "1"]]}`, ""),
	)
})

var _ = Describe("MapPushResult", func() {
	It("never returns a nil id list", func() {
		// ACT
		response := dto.MapPushResult(domain.PushResult{})

		// ASSERT
		Expect(response.AffectedIDs).NotTo(BeNil())
		Expect(response.AffectedIDs).To(BeEmpty())
	})

	It("keeps the affected ids in order", func() {
		// ACT
		response := dto.MapPushResult(domain.PushResult{AffectedIDs: []string{"b", "a"}})

		// ASSERT
		Expect(response.AffectedIDs).To(Equal([]string{"b", "a"}))
	})
})
