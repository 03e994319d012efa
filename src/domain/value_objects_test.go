package domain_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"axoncore/src/domain"
	"axoncore/src/domain/entities"
)

var _ = Describe("Parsing", func() {
	DescribeTable("ParseEntityType",
		func(input string, expected domain.EntityType, ok bool) {
			// ACT
			got, err := domain.ParseEntityType(input)

			// ASSERT
			if !ok {
				Expect(err).To(MatchError(domain.ErrValidation))
				return
			}
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(expected))
		},
		Entry("devices", "devices", domain.EntityTypeDevices, true),
		Entry("case and spaces", " Users ", domain.EntityTypeUsers, true),
		Entry("unknown", "printers", domain.EntityType(""), false),
	)

	It("accepts the four association types and nothing else", func() {
		for _, s := range []string{"Tag", "Multitag", "Link", "Unlink"} {
			got, err := domain.ParseAssociationType(s)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(got)).To(Equal(s))
		}
		_, err := domain.ParseAssociationType("tag")
		Expect(err).To(MatchError(domain.ErrValidation))
	})

	It("defaults action_if_exists to replace", func() {
		got, err := domain.ParseActionIfExists("")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(domain.ActionReplace))

		got, err = domain.ParseActionIfExists("update")
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(domain.ActionUpdate))

		_, err = domain.ParseActionIfExists("merge")
		Expect(err).To(MatchError(domain.ErrValidation))
	})
})

var _ = Describe("CompileError", func() {
	It("unwraps to ErrCompile and names the fragment", func() {
		// ARRANGE
		err := error(domain.NewCompileError("os.type ==", "missing value"))

		// ASSERT
		Expect(errors.Is(err, domain.ErrCompile)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring(`near "os.type =="`))

		var compileErr *domain.CompileError
		Expect(errors.As(err, &compileErr)).To(BeTrue())
		Expect(compileErr.Reason).To(Equal("missing value"))
	})

	It("omits the fragment when there is none", func() {
		Expect(domain.NewCompileError("", "empty filter").Error()).To(Equal("query compile failed: empty filter"))
	})
})

var _ = Describe("EntityMutation", func() {
	It("is empty only with nothing to write", func() {
		Expect(domain.EntityMutation{}.IsEmpty()).To(BeTrue())
		Expect(domain.EntityMutation{Delete: []entities.Entity{{InternalAxonID: "a"}}}.IsEmpty()).To(BeFalse())
	})
})
