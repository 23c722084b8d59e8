// cmd/preflight/main.go
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/hamed0406/statusgrid/internal/config"
	"github.com/hamed0406/statusgrid/internal/domain"
	"github.com/hamed0406/statusgrid/internal/registry"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("preflight", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgFile := fs.String("config", os.Getenv("CONFIG_FILE"), "config YAML (optional)")
	regFile := fs.String("registry", "", "endpoint registry YAML (overrides REGISTRY_FILE)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	failed := false
	fail := func(msg string) {
		fmt.Fprintln(stderr, "✖", msg)
		failed = true
	}
	warn := func(msg string) { fmt.Fprintln(stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Fprintln(stdout, "✔", msg) }

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fail("config: " + err.Error())
		return 1
	}
	ok("API_ADDR=" + cfg.Addr)

	if len(cfg.AdminAPIKeys) == 0 {
		warn("ADMIN_API_KEYS is empty; POST /api/refresh is open to anyone who can reach the API.")
	} else {
		ok(fmt.Sprintf("ADMIN_API_KEYS: %d key(s)", len(cfg.AdminAPIKeys)))
	}
	for _, k := range cfg.AdminAPIKeys {
		if strings.Contains(k, " ") {
			warn("ADMIN_API_KEYS contains spaces; use comma-separated with no spaces, e.g. key1,key2")
			break
		}
	}

	switch {
	case len(cfg.AllowedOrigins) == 0:
		warn("ALLOWED_ORIGINS empty; browsers will be blocked by CORS for cross-origin requests.")
	case len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*":
		warn("ALLOWED_ORIGINS=* accepts any origin.")
	default:
		ok("ALLOWED_ORIGINS=" + strings.Join(cfg.AllowedOrigins, ","))
	}

	if cfg.ProbeTimeout == 0 {
		warn("PROBE_TIMEOUT=0; a hung endpoint will stall the refresh.")
	} else {
		ok("PROBE_TIMEOUT=" + cfg.ProbeTimeout.String())
	}
	if cfg.RateLimitRPM == 0 {
		warn("RATE_LIMIT_RPM=0; rate limiting disabled.")
	}

	path := cfg.RegistryFile
	if *regFile != "" {
		path = *regFile
	}
	reg, err := registry.Load(path)
	if err != nil {
		fail("registry: " + err.Error())
	} else {
		src := path
		if src == "" {
			src = "built-in"
		}
		parts := make([]string, 0, len(domain.Environments))
		for _, env := range domain.Environments {
			n := len(reg.Filter(env))
			if n == 0 {
				warn(fmt.Sprintf("registry has no %s endpoints", env))
			}
			parts = append(parts, fmt.Sprintf("%s=%d", env, n))
		}
		ok(fmt.Sprintf("registry (%s): %d endpoints, %s", src, reg.Len(), strings.Join(parts, " ")))
	}

	if failed {
		return 1
	}
	ok("preflight passed")
	return 0
}
