package viewrebuild_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"axoncore/src/domain/entities"
	"axoncore/src/services/viewrebuild"
	"axoncore/src/test_artefacts/comparer"
	"axoncore/src/test_artefacts/stubs"
)

var _ = Describe("BuildView", func() {
	var (
		seen time.Time
		ad   entities.AdapterRecord
		qu   entities.AdapterRecord
	)

	BeforeEach(func() {
		seen = time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
		ad = stubs.NewAdapterRecordStub().WithPlugin("active_directory_adapter").WithID("ad1").
			WithData(map[string]any{"hostname": "dc01"}).WithLastSeen(seen).Get()
		qu = stubs.NewAdapterRecordStub().WithPlugin("qualys_adapter").WithID("q1").
			WithData(map[string]any{"hostname": "dc01.corp"}).Old().Get()
	})

	It("projects every visible adapter into specific_data in order", func() {
		// ARRANGE
		entity := stubs.NewEntityStub().WithID("ent1").WithAdapters(ad, qu).Get()

		// ACT
		view, ok := viewrebuild.BuildView(entity)

		// ASSERT
		Expect(ok).To(BeTrue())
		Expect(view.InternalAxonID).To(Equal("ent1"))
		Expect(view.Adapters).To(Equal([]string{"active_directory_adapter", "qualys_adapter"}))
		Expect(view.UniqueAdapterNames).To(Equal([]string{"active_directory_adapter_0", "qualys_adapter_0"}))

		Expect(view.SpecificData).To(HaveLen(2))
		Expect(view.SpecificData[0]).To(BeComparableTo(entities.SpecificDataEntry{
			PluginName:       "active_directory_adapter",
			PluginUniqueName: "active_directory_adapter_0",
			Type:             entities.SpecificDataTypeEntity,
			Data:             map[string]any{"hostname": "dc01", "id": "ad1", "last_seen": seen},
		}, comparer.IgnoreFieldsFor[entities.SpecificDataEntry]("ClientUsed", "AccurateForDatetime")))
		Expect(view.SpecificData[1].Data).To(HaveKeyWithValue("_old", true))

		Expect(view.AdaptersData).To(HaveKey("active_directory_adapter"))
		Expect(view.AdaptersData["qualys_adapter"]["hostname"]).To(Equal("dc01.corp"))
	})

	It("keeps the last record's data when two adapters share a plugin name", func() {
		// ARRANGE
		second := stubs.NewAdapterRecordStub().WithPlugin("active_directory_adapter").
			WithPluginUniqueName("active_directory_adapter_1").WithID("ad2").
			WithData(map[string]any{"hostname": "dc02"}).Get()
		entity := stubs.NewEntityStub().WithAdapters(ad, second).Get()

		// ACT
		view, ok := viewrebuild.BuildView(entity)

		// ASSERT
		Expect(ok).To(BeTrue())
		Expect(view.SpecificData).To(HaveLen(2))
		Expect(view.UniqueAdapterNames).To(Equal([]string{"active_directory_adapter_0", "active_directory_adapter_1"}))
		Expect(view.AdaptersData).To(HaveLen(1))
		Expect(view.AdaptersData["active_directory_adapter"]).To(HaveKeyWithValue("hostname", "dc02"))
		Expect(view.AdaptersData["active_directory_adapter"]).To(HaveKeyWithValue("id", "ad2"))
	})

	It("drops records pending deletion", func() {
		// ARRANGE
		gone := stubs.NewAdapterRecordStub().WithPlugin("esx_adapter").PendingDelete().Get()
		entity := stubs.NewEntityStub().WithAdapters(ad, gone).Get()

		// ACT
		view, ok := viewrebuild.BuildView(entity)

		// ASSERT
		Expect(ok).To(BeTrue())
		Expect(view.Adapters).To(Equal([]string{"active_directory_adapter"}))
		Expect(view.AdaptersData).NotTo(HaveKey("esx_adapter"))
	})

	It("has no view when every record is pending deletion", func() {
		// ARRANGE
		entity := stubs.NewEntityStub().WithAdapters(stubs.NewAdapterRecordStub().PendingDelete().Get()).Get()

		// ACT
		_, ok := viewrebuild.BuildView(entity)

		// ASSERT
		Expect(ok).To(BeFalse())
	})

	It("spreads tags into labels, generic_data and specific_data by type", func() {
		// ARRANGE
		enabled := stubs.NewTagStub().WithName("critical").Get()
		disabled := stubs.NewTagStub().WithName("retired").WithData(false).Get()
		duplicate := stubs.NewTagStub().WithIssuer("qualys_adapter_0", "qualys_adapter").WithName("critical").Get()
		data := stubs.NewTagStub().WithIssuer("x_0", "x").WithName("owner").WithType(entities.TagTypeData).WithData("alice").Get()
		adapterData := stubs.NewTagStub().WithIssuer("scanner_0", "scanner").WithName("scan").
			WithType(entities.TagTypeAdapterData).WithData(map[string]any{"score": 9}).
			WithAssociatedAdapterPluginName("active_directory_adapter").Get()
		entity := stubs.NewEntityStub().WithAdapters(ad).WithTags(enabled, disabled, duplicate, data, adapterData).Get()

		// ACT
		view, ok := viewrebuild.BuildView(entity)

		// ASSERT
		Expect(ok).To(BeTrue())
		Expect(view.Labels).To(Equal([]string{"critical"}))

		Expect(view.GenericData).To(HaveLen(1))
		Expect(view.GenericData[0].Name).To(Equal("owner"))
		Expect(view.GenericData[0].Data).To(Equal("alice"))

		Expect(view.SpecificData).To(HaveLen(2))
		Expect(view.SpecificData[1].Type).To(Equal(entities.SpecificDataTypeAdapterData))
		Expect(view.SpecificData[1].AssociatedAdapterPluginName).To(Equal("active_directory_adapter"))
		Expect(view.AdaptersData["scanner"]).To(Equal(map[string]any{"score": 9}))
	})

	It("does not share maps with the source entity", func() {
		// ARRANGE
		entity := stubs.NewEntityStub().WithAdapters(ad).Get()

		// ACT
		view, _ := viewrebuild.BuildView(entity)
		view.SpecificData[0].Data["hostname"] = "changed"

		// ASSERT
		Expect(entity.Adapters[0].Data["hostname"]).To(Equal("dc01"))
	})
})

var _ = Describe("ToHistorical", func() {
	It("stamps the snapshot time and the short id", func() {
		// ARRANGE
		at := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
		view := entities.View{InternalAxonID: "abc123", AccurateForDatetime: at.Add(-time.Hour)}

		// ACT
		h := viewrebuild.ToHistorical(view, at)

		// ASSERT
		Expect(h.AccurateForDatetime).To(Equal(at))
		Expect(h.ShortAxonID).To(Equal("a"))
		Expect(h.InternalAxonID).To(Equal("abc123"))
	})
})
