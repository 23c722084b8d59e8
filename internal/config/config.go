package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type Config struct {
	Addr            string        `mapstructure:"api_addr"`         // e.g. "127.0.0.1:8080" or ":8080"
	LogDir          string        `mapstructure:"log_dir"`          // logs directory
	LogLevel        string        `mapstructure:"log_level"`        // debug | info | warn | error
	LogStderr       bool          `mapstructure:"log_stderr"`       // tee logs to stderr
	RegistryFile    string        `mapstructure:"registry_file"`    // empty means the built-in endpoint list
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`    // 0 disables the per-probe timeout
	ProbeErrorBody  bool          `mapstructure:"probe_error_body"` // show body of non-2xx responses
	RefreshOnStart  bool          `mapstructure:"refresh_on_start"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	AdminAPIKeys    []string      `mapstructure:"admin_api_keys"` // protect POST /api/refresh when set
	RateLimitRPM    int           `mapstructure:"rate_limit_rpm"` // 0 disables
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_addr", "127.0.0.1:8080")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("log_level", LogLevelInfo)
	v.SetDefault("log_stderr", false)
	v.SetDefault("registry_file", "")
	v.SetDefault("probe_timeout", "10s")
	v.SetDefault("probe_error_body", false)
	v.SetDefault("refresh_on_start", true)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("admin_api_keys", []string{})
	v.SetDefault("rate_limit_rpm", 120)
	v.SetDefault("rate_limit_burst", 30)
	v.SetDefault("shutdown_timeout", "10s")
}

// Load reads configuration from defaults, an optional YAML file and the
// environment (API_ADDR, LOG_DIR, PROBE_TIMEOUT, ...). With an empty path
// it looks for statusgrid.yaml in . and ./config and carries on without one.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("statusgrid")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.AllowedOrigins = splitList(cfg.AllowedOrigins)
	cfg.AdminAPIKeys = splitList(cfg.AdminAPIKeys)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Addr, validation.Required, validation.By(validateHostPort)),
		validation.Field(&c.LogDir, validation.Required),
		validation.Field(&c.LogLevel,
			validation.Required,
			validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
		),
		validation.Field(&c.ProbeTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.RateLimitRPM, validation.Min(0)),
		validation.Field(&c.RateLimitBurst,
			validation.When(c.RateLimitRPM > 0, validation.Required, validation.Min(1)),
		),
		validation.Field(&c.ShutdownTimeout, validation.Required, validation.Min(time.Second)),
	)
}

func validateHostPort(value interface{}) error {
	s, _ := value.(string)
	if _, _, err := net.SplitHostPort(s); err != nil {
		return errors.New("must be host:port")
	}
	return nil
}

// splitList trims entries and splits any that still hold commas, so both
// YAML lists and "a,b" environment values work.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
