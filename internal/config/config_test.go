package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hamed0406/statusgrid/internal/config"
)

var envKeys = []string{
	"API_ADDR", "LOG_DIR", "LOG_LEVEL", "PROBE_TIMEOUT", "PROBE_ERROR_BODY",
	"ALLOWED_ORIGINS", "ADMIN_API_KEYS", "RATE_LIMIT_RPM", "RATE_LIMIT_BURST",
	"REGISTRY_FILE", "REFRESH_ON_START", "SHUTDOWN_TIMEOUT",
}

var _ = Describe("Config", func() {
	var (
		tempDir string
		origWD  string
	)

	BeforeEach(func() {
		var err error
		origWD, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		tempDir = GinkgoT().TempDir()
		// keep a stray statusgrid.yaml in the package dir from leaking in
		Expect(os.Chdir(tempDir)).To(Succeed())
		for _, k := range envKeys {
			os.Unsetenv(k)
		}
	})

	AfterEach(func() {
		Expect(os.Chdir(origWD)).To(Succeed())
		for _, k := range envKeys {
			os.Unsetenv(k)
		}
	})

	Describe("Load", func() {
		Context("without file or environment", func() {
			It("returns the defaults", func() {
				cfg, err := config.Load("")
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Addr).To(Equal("127.0.0.1:8080"))
				Expect(cfg.LogDir).To(Equal("logs"))
				Expect(cfg.LogLevel).To(Equal(config.LogLevelInfo))
				Expect(cfg.ProbeTimeout).To(Equal(10 * time.Second))
				Expect(cfg.ProbeErrorBody).To(BeFalse())
				Expect(cfg.RefreshOnStart).To(BeTrue())
				Expect(cfg.AllowedOrigins).To(Equal([]string{"*"}))
				Expect(cfg.AdminAPIKeys).To(BeEmpty())
				Expect(cfg.RateLimitRPM).To(Equal(120))
				Expect(cfg.ShutdownTimeout).To(Equal(10 * time.Second))
			})
		})

		Context("with environment variables", func() {
			It("overrides defaults", func() {
				os.Setenv("API_ADDR", ":9090")
				os.Setenv("LOG_LEVEL", "debug")
				os.Setenv("PROBE_TIMEOUT", "1500ms")
				os.Setenv("PROBE_ERROR_BODY", "true")
				os.Setenv("ADMIN_API_KEYS", "adm_a, adm_b")
				os.Setenv("ALLOWED_ORIGINS", "https://dash.example")
				os.Setenv("RATE_LIMIT_RPM", "0")

				cfg, err := config.Load("")
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Addr).To(Equal(":9090"))
				Expect(cfg.LogLevel).To(Equal("debug"))
				Expect(cfg.ProbeTimeout).To(Equal(1500 * time.Millisecond))
				Expect(cfg.ProbeErrorBody).To(BeTrue())
				Expect(cfg.AdminAPIKeys).To(Equal([]string{"adm_a", "adm_b"}))
				Expect(cfg.AllowedOrigins).To(Equal([]string{"https://dash.example"}))
				Expect(cfg.RateLimitRPM).To(BeZero())
			})
		})

		Context("with a config file", func() {
			It("reads statusgrid.yaml from the working directory", func() {
				content := `
api_addr: ":7070"
registry_file: "/etc/statusgrid/endpoints.yaml"
probe_timeout: "0s"
refresh_on_start: false
admin_api_keys:
  - adm_file
`
				Expect(os.WriteFile(filepath.Join(tempDir, "statusgrid.yaml"), []byte(content), 0o644)).To(Succeed())

				cfg, err := config.Load("")
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Addr).To(Equal(":7070"))
				Expect(cfg.RegistryFile).To(Equal("/etc/statusgrid/endpoints.yaml"))
				Expect(cfg.ProbeTimeout).To(BeZero())
				Expect(cfg.RefreshOnStart).To(BeFalse())
				Expect(cfg.AdminAPIKeys).To(Equal([]string{"adm_file"}))
			})

			It("fails when an explicit path does not exist", func() {
				_, err := config.Load(filepath.Join(tempDir, "missing.yaml"))
				Expect(err).To(MatchError(ContainSubstring("read config")))
			})
		})

		Context("with invalid values", func() {
			It("rejects an unknown log level", func() {
				os.Setenv("LOG_LEVEL", "loud")
				_, err := config.Load("")
				Expect(err).To(MatchError(ContainSubstring("LogLevel")))
			})

			It("rejects an address without port", func() {
				os.Setenv("API_ADDR", "localhost")
				_, err := config.Load("")
				Expect(err).To(MatchError(ContainSubstring("Addr")))
			})

			It("rejects a negative probe timeout", func() {
				os.Setenv("PROBE_TIMEOUT", "-1s")
				_, err := config.Load("")
				Expect(err).To(HaveOccurred())
			})

			It("requires a burst when rate limiting is on", func() {
				os.Setenv("RATE_LIMIT_BURST", "0")
				_, err := config.Load("")
				Expect(err).To(MatchError(ContainSubstring("RateLimitBurst")))
			})
		})
	})
})
