// Package config loads runtime settings from defaults, an optional gata.yaml
// file and GATA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"gata/internal/gata"
	"gata/internal/observability"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "GATA"

// DefaultConfigName is the file looked up in the search paths (without extension).
const DefaultConfigName = "gata"

// ValueSource describes where a configuration value originated from.
type ValueSource string

const (
	SourceDefault ValueSource = "default"
	SourceFile    ValueSource = "file"
	SourceEnv     ValueSource = "environment"
)

// Config is the full runtime configuration.
type Config struct {
	KeyFile    string `mapstructure:"key_file" yaml:"key_file"`
	InviteCode string `mapstructure:"invite_code" yaml:"invite_code"`

	Endpoints EndpointsConfig `mapstructure:"endpoints" yaml:"endpoints"`
	Client    ClientConfig    `mapstructure:"client" yaml:"client"`
	Delays    DelaysConfig    `mapstructure:"delays" yaml:"delays"`
	Rewards   RewardsConfig   `mapstructure:"rewards" yaml:"rewards"`
	State     StateConfig     `mapstructure:"state" yaml:"state"`
	History   HistoryConfig   `mapstructure:"history" yaml:"history"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Status    StatusConfig    `mapstructure:"status" yaml:"status"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap" yaml:"bootstrap"`

	Tracing observability.TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

type EndpointsConfig struct {
	Earn  string `mapstructure:"earn" yaml:"earn"`
	Agent string `mapstructure:"agent" yaml:"agent"`
}

type ClientConfig struct {
	EndpointHeader string        `mapstructure:"endpoint_header" yaml:"endpoint_header"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type DelaysConfig struct {
	Min    time.Duration `mapstructure:"min" yaml:"min"`
	Max    time.Duration `mapstructure:"max" yaml:"max"`
	Retry  time.Duration `mapstructure:"retry" yaml:"retry"`
	Settle time.Duration `mapstructure:"settle" yaml:"settle"`
}

type RewardsConfig struct {
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
}

type StateConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir"`
	TokensFile string `mapstructure:"tokens_file" yaml:"tokens_file"`
	StatsFile  string `mapstructure:"stats_file" yaml:"stats_file"`
}

// HistoryConfig enables the SQLite cycle ledger when Path is set.
type HistoryConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// StatusConfig enables the HTTP status server when Addr is set.
type StatusConfig struct {
	Addr        string   `mapstructure:"addr" yaml:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// BootstrapConfig controls handshake retries. Zero means fail on first error.
type BootstrapConfig struct {
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

func defaults() map[string]any {
	return map[string]any{
		"key_file":                "pk.txt",
		"invite_code":             "",
		"endpoints.earn":          gata.DefaultEarnURL,
		"endpoints.agent":         gata.DefaultAgentURL,
		"client.endpoint_header":  gata.DefaultEndpointHeader,
		"client.user_agent":       gata.DefaultUserAgent,
		"client.timeout":          30 * time.Second,
		"delays.min":              5 * time.Second,
		"delays.max":              15 * time.Second,
		"delays.retry":            10 * time.Second,
		"delays.settle":           2 * time.Second,
		"rewards.page_size":       10,
		"state.dir":               ".",
		"state.tokens_file":       "tokens.json",
		"state.stats_file":        "stats.json",
		"history.path":            "",
		"log.level":               "info",
		"log.file":                "",
		"status.addr":             "",
		"status.cors_origins":     []string{},
		"bootstrap.max_retries":   0,
		"tracing.enabled":         false,
		"tracing.exporter":        "otlp",
		"tracing.otlp_endpoint":   "localhost:4318",
		"tracing.zipkin_endpoint": "http://localhost:9411/api/v2/spans",
		"tracing.sample_rate":     1.0,
		"tracing.service_name":    "gata",
		"tracing.service_version": "",
	}
}

// Keys lists every recognised configuration key.
func Keys() []string {
	d := defaults()
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	return keys
}

// EnvName maps a key such as "delays.min" to GATA_DELAYS_MIN.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Metadata contains provenance details for loaded configuration.
type Metadata struct {
	sources  map[string]ValueSource
	file     string
	loadedAt time.Time
}

// Source returns the origin of the given key.
func (m Metadata) Source(key string) ValueSource {
	if src, ok := m.sources[key]; ok {
		return src
	}
	return SourceDefault
}

// File returns the config file that was read, if any.
func (m Metadata) File() string { return m.file }

// LoadedAt returns the timestamp when the configuration was constructed.
func (m Metadata) LoadedAt() time.Time { return m.loadedAt }

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

type loadOptions struct {
	envLookup   EnvLookup
	configPath  string
	searchPaths []string
}

// Option customises the loader behaviour.
type Option func(*loadOptions)

// WithEnv supplies a custom environment lookup implementation.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		if lookup != nil {
			o.envLookup = lookup
		}
	}
}

// WithConfigPath forces the loader to read a specific file, which must exist.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

// WithSearchPaths replaces the directories searched for gata.yaml.
func WithSearchPaths(dirs ...string) Option {
	return func(o *loadOptions) { o.searchPaths = dirs }
}

// Load resolves the configuration. Precedence is env over file over defaults.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{
		envLookup:   DefaultEnvLookup,
		searchPaths: []string{"."},
	}
	for _, opt := range opts {
		opt(&options)
	}

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}

	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}

	if options.configPath != "" {
		v.SetConfigFile(options.configPath)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		for _, dir := range options.searchPaths {
			v.AddConfigPath(dir)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if options.configPath != "" || !errors.As(err, &notFound) {
			return Config{}, Metadata{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		meta.file = v.ConfigFileUsed()
		for _, k := range Keys() {
			if v.InConfig(k) {
				meta.sources[k] = SourceFile
			}
		}
	}

	for _, k := range Keys() {
		if val, ok := options.envLookup(EnvName(k)); ok && strings.TrimSpace(val) != "" {
			v.Set(k, strings.TrimSpace(val))
			meta.sources[k] = SourceEnv
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, Metadata{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, Metadata{}, err
	}
	return cfg, meta, nil
}

// Validate checks invariants the loop relies on.
func (c Config) Validate() error {
	var errs []error
	for name, d := range map[string]time.Duration{
		"delays.min":    c.Delays.Min,
		"delays.max":    c.Delays.Max,
		"delays.retry":  c.Delays.Retry,
		"delays.settle": c.Delays.Settle,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Delays.Min > c.Delays.Max {
		errs = append(errs, fmt.Errorf("delays.min (%s) exceeds delays.max (%s)", c.Delays.Min, c.Delays.Max))
	}
	if c.Rewards.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("rewards.page_size must be positive, got %d", c.Rewards.PageSize))
	}
	if c.Client.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("client.timeout must be positive, got %s", c.Client.Timeout))
	}
	if c.Bootstrap.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("bootstrap.max_retries must not be negative"))
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		errs = append(errs, errors.New("key_file is required"))
	}
	for name, raw := range map[string]string{
		"endpoints.earn":  c.Endpoints.Earn,
		"endpoints.agent": c.Endpoints.Agent,
	} {
		if err := validateURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	for _, origin := range c.Status.CORSOrigins {
		if origin == "*" {
			continue
		}
		if err := validateURL(origin); err != nil {
			errs = append(errs, fmt.Errorf("status.cors_origins %q: %w", origin, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.InviteCode != "" {
		c.InviteCode = "[REDACTED]"
	}
	return c
}
