package registry_test

import (
	"os"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hamed0406/statusgrid/internal/domain"
	"github.com/hamed0406/statusgrid/internal/registry"
)

var _ = Describe("Registry", func() {
	Describe("Default", func() {
		It("loads the compiled-in endpoint list in order", func() {
			r, err := registry.Default()
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Len()).To(Equal(21))

			eps := r.Endpoints()
			Expect(eps[0]).To(Equal(domain.Endpoint{
				URL:         "https://checkout-api-stage.startse.com/health",
				Name:        "Checkout API",
				Environment: domain.Stage,
			}))
			Expect(eps[8].Name).To(Equal("Dify Redirect"))
			Expect(eps[8].Environment).To(Equal(domain.Prod))
		})

		It("splits into Prod and Stage", func() {
			r, err := registry.Default()
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Filter(domain.Prod)).To(HaveLen(11))
			Expect(r.Filter(domain.Stage)).To(HaveLen(10))
		})

		It("hands out copies", func() {
			r, err := registry.Default()
			Expect(err).NotTo(HaveOccurred())
			eps := r.Endpoints()
			eps[0].Name = "mutated"
			Expect(r.Endpoints()[0].Name).To(Equal("Checkout API"))
		})
	})

	Describe("Load", func() {
		var tempDir string

		BeforeEach(func() {
			tempDir = GinkgoT().TempDir()
		})

		It("falls back to the default when no path is given", func() {
			r, err := registry.Load("")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Len()).To(Equal(21))
		})

		It("reads a file and normalises environment names", func() {
			path := filepath.Join(tempDir, "endpoints.yaml")
			content := `
endpoints:
  - url: "http://localhost:8081/health"
    name: "Local A"
    environment: "prod"
  - url: "http://localhost:8082/health"
    name: "Local B"
    environment: "STAGE"
`
			Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())

			r, err := registry.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Endpoints()).To(Equal([]domain.Endpoint{
				{URL: "http://localhost:8081/health", Name: "Local A", Environment: domain.Prod},
				{URL: "http://localhost:8082/health", Name: "Local B", Environment: domain.Stage},
			}))
		})

		It("accepts an empty list", func() {
			r, err := registry.Parse([]byte("endpoints: []\n"))
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Len()).To(BeZero())
		})

		It("reports a missing file", func() {
			_, err := registry.Load(filepath.Join(tempDir, "missing.yaml"))
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("read registry"))
		})

		It("reports malformed YAML", func() {
			_, err := registry.Parse([]byte("endpoints: [: :"))
			Expect(err).To(MatchError(ContainSubstring("decode")))
		})
	})

	Describe("validation", func() {
		It("rejects duplicate URLs", func() {
			_, err := registry.New(
				domain.Endpoint{URL: "https://a.example/health", Name: "A", Environment: domain.Prod},
				domain.Endpoint{URL: "https://a.example/health", Name: "A again", Environment: domain.Stage},
			)
			Expect(err).To(HaveOccurred())
			var verrs validation.Errors
			Expect(err).To(BeAssignableToTypeOf(verrs))
			Expect(err.(validation.Errors)).To(HaveKey("1"))
			Expect(err.Error()).To(ContainSubstring("duplicates endpoint 0"))
		})

		It("rejects unknown environments, missing names and non-http URLs", func() {
			_, err := registry.New(
				domain.Endpoint{URL: "ftp://files.example", Name: "A", Environment: domain.Prod},
				domain.Endpoint{URL: "https://b.example", Name: "", Environment: domain.Stage},
				domain.Endpoint{URL: "https://c.example", Name: "C", Environment: "Dev"},
				domain.Endpoint{URL: "", Name: "D", Environment: domain.Prod},
			)
			Expect(err).To(HaveOccurred())
			errs := err.(validation.Errors)
			Expect(errs).To(HaveKey("0"))
			Expect(errs).To(HaveKey("1"))
			Expect(errs).To(HaveKey("2"))
			Expect(errs).To(HaveKey("3"))
		})
	})
})
