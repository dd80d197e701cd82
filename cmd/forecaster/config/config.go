// Package config parses the forecaster service configuration.
//
// Sources, highest precedence first:
//  1. Command-line flags
//  2. Environment variables (flag name upper-cased, dashes as underscores,
//     e.g. -model-endpoint reads MODEL_ENDPOINT)
//  3. A YAML file given by -config-file whose keys are flag names
//  4. Default values
//
// Adapter settings come from ADAPTER_* environment variables
// (ADAPTER_QUERY → query) or from the adapter-config map of the YAML file.
//
// Example file:
//
//	name: checkout-rps
//	adapter: prometheus
//	adapter-config:
//	  url: http://prometheus:9090
//	  query: sum(rate(http_requests_total[1m]))
//	engine: chronos2
//	horizon: 24
//	frequency: h
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/HatiCode/chronocast/pkg/storage"
	"github.com/HatiCode/chronocast/pkg/tls"
)

// NoSeed marks an unset random seed.
const NoSeed int64 = -1

// Config holds all forecaster configuration.
type Config struct {
	ConfigFile string

	Listen        string
	LogFormat     string
	LogLevel      string
	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	TLS           tls.Config

	// Name keys the stored snapshot.
	Name          string
	Adapter       string
	AdapterConfig map[string]string
	Interval      time.Duration
	Window        time.Duration

	Engine        string
	ModelEndpoint string
	ModelURI      string
	ModelTimeout  time.Duration
	ModelTLS      tls.Config
	Device        string
	Horizon       int
	Frequency     string
	DatetimeCol   string
	TargetCol     string
	ItemIDCol     string
	Seed          int64
	// FullFit selects the legacy fit-per-call path.
	FullFit bool

	Once        bool
	Input       string
	PastInput   string
	FutureInput string
	Output      string
}

// RandomSeed returns the configured seed, or nil when unset.
func (c *Config) RandomSeed() *int64 {
	if c.Seed == NoSeed {
		return nil
	}
	seed := c.Seed
	return &seed
}

// ParseFlags parses os.Args and exits on invalid configuration.
func ParseFlags() *Config {
	cfg, err := Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// Parse reads configuration from args, the environment and the optional
// config file, then validates it.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}

	fs.StringVar(&cfg.ConfigFile, "config-file", getEnv("CONFIG_FILE", ""), "YAML configuration file")

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8081"), "HTTP listen address")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	fs.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Storage backend: memory or redis")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	fs.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 30*time.Minute), "Redis snapshot TTL")

	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable mTLS for the HTTP server")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	fs.StringVar(&cfg.Name, "name", getEnv("NAME", ""), "Forecast name (required in service mode)")
	fs.StringVar(&cfg.Adapter, "adapter", getEnv("ADAPTER", ""), "History adapter: prometheus, victoriametrics, http, or csv")
	fs.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", 5*time.Minute), "Forecast loop interval")
	fs.DurationVar(&cfg.Window, "window", getEnvDuration("WINDOW", 7*24*time.Hour), "History window collected per tick")

	fs.StringVar(&cfg.Engine, "engine", getEnv("ENGINE", "chronos2"), "Forecasting engine: chronos or chronos2")
	fs.StringVar(&cfg.ModelEndpoint, "model-endpoint", getEnv("MODEL_ENDPOINT", "local://baseline"), "Model backend: http(s)://host, grpc://host:port, local://baseline or local://arima?p=1&d=1&q=1")
	fs.StringVar(&cfg.ModelURI, "model-uri", getEnv("MODEL_URI", ""), "Model checkpoint (default depends on engine)")
	fs.DurationVar(&cfg.ModelTimeout, "model-timeout", getEnvDuration("MODEL_TIMEOUT", time.Minute), "Model backend call timeout")
	fs.BoolVar(&cfg.ModelTLS.Enabled, "model-tls-enabled", getEnvBool("MODEL_TLS_ENABLED", false), "Use mTLS towards the model backend")
	fs.StringVar(&cfg.ModelTLS.CertFile, "model-tls-cert-file", getEnv("MODEL_TLS_CERT_FILE", ""), "Client certificate for the model backend")
	fs.StringVar(&cfg.ModelTLS.KeyFile, "model-tls-key-file", getEnv("MODEL_TLS_KEY_FILE", ""), "Client key for the model backend")
	fs.StringVar(&cfg.ModelTLS.CAFile, "model-tls-ca-file", getEnv("MODEL_TLS_CA_FILE", ""), "CA certificate of the model backend")
	fs.StringVar(&cfg.Device, "device", getEnv("DEVICE", "auto"), "Device policy: auto, cpu or cuda")
	fs.IntVar(&cfg.Horizon, "horizon", getEnvInt("HORIZON", 24), "Forecast horizon in steps")
	fs.StringVar(&cfg.Frequency, "frequency", getEnv("FREQUENCY", "h"), "Series frequency code (e.g. 15min, h, D, W-MON, MS)")
	fs.StringVar(&cfg.DatetimeCol, "datetime-col", getEnv("DATETIME_COL", "ts"), "Datetime column")
	fs.StringVar(&cfg.TargetCol, "target-col", getEnv("TARGET_COL", "value"), "Target column")
	fs.StringVar(&cfg.ItemIDCol, "item-id-col", getEnv("ITEM_ID_COL", ""), "Item id column for multi-series input")
	fs.Int64Var(&cfg.Seed, "seed", getEnvInt64("SEED", NoSeed), "Random seed (-1 for none)")
	fs.BoolVar(&cfg.FullFit, "full-fit", getEnvBool("FULL_FIT", false), "Use the legacy fit-per-call predictor")

	fs.BoolVar(&cfg.Once, "once", getEnvBool("ONCE", false), "Forecast -input once, print CSV and exit")
	fs.StringVar(&cfg.Input, "input", getEnv("INPUT", ""), "History CSV file for -once")
	fs.StringVar(&cfg.PastInput, "past", getEnv("PAST", ""), "Past covariates CSV file for -once")
	fs.StringVar(&cfg.FutureInput, "future", getEnv("FUTURE", ""), "Future covariates CSV file for -once")
	fs.StringVar(&cfg.Output, "output", getEnv("OUTPUT", "-"), "Output CSV file for -once, - for stdout")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.AdapterConfig = parseAdapterConfig(os.Environ())

	if cfg.ConfigFile != "" {
		if err := applyFile(fs, cfg, cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile sets every flag named in the YAML file that was given neither
// on the command line nor through the environment.
func applyFile(fs *flag.FlagSet, cfg *Config, path string) error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	for name, value := range k.StringMap("adapter-config") {
		if _, set := cfg.AdapterConfig[name]; !set {
			cfg.AdapterConfig[name] = value
		}
	}

	for _, key := range k.Keys() {
		if strings.HasPrefix(key, "adapter-config.") || key == "config-file" {
			continue
		}
		f := fs.Lookup(key)
		if f == nil {
			return fmt.Errorf("config file %s: unknown key %q", path, key)
		}
		if explicit[key] || os.Getenv(EnvName(key)) != "" {
			continue
		}
		if err := fs.Set(key, k.String(key)); err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, key, err)
		}
	}
	return nil
}

// EnvName returns the environment variable read for a flag.
func EnvName(flagName string) string {
	return strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// Validate checks the service-level settings. Forecast parameters are
// validated again, in depth, when the forecaster is built.
func (c *Config) Validate() error {
	var errs []error

	if c.Once {
		if c.Input == "" {
			errs = append(errs, errors.New("-input is required with -once"))
		}
	} else {
		if !storage.ValidName(c.Name) {
			errs = append(errs, fmt.Errorf("-name %q is required and may only contain letters, digits, '-' and '_'", c.Name))
		}
		if c.Adapter == "" {
			errs = append(errs, errors.New("-adapter is required"))
		}
		if c.Interval <= 0 {
			errs = append(errs, errors.New("-interval must be positive"))
		}
		if c.Window <= 0 {
			errs = append(errs, errors.New("-window must be positive"))
		}
	}

	if c.Horizon <= 0 {
		errs = append(errs, errors.New("-horizon must be positive"))
	}
	if c.Storage != "memory" && c.Storage != "redis" {
		errs = append(errs, fmt.Errorf("-storage must be memory or redis, got %q", c.Storage))
	}
	if c.Seed < NoSeed {
		errs = append(errs, errors.New("-seed must be -1 or non-negative"))
	}
	if err := c.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server tls: %w", err))
	}
	if err := c.ModelTLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("model tls: %w", err))
	}

	return errors.Join(errs...)
}

// parseAdapterConfig maps ADAPTER_* variables to lowerCamelCase keys
// (ADAPTER_SERIES_LABEL → seriesLabel). ADAPTER itself is the adapter kind.
func parseAdapterConfig(environ []string) map[string]string {
	config := make(map[string]string)
	for _, env := range environ {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, "ADAPTER_") {
			continue
		}
		config[toLowerCamelCase(strings.TrimPrefix(name, "ADAPTER_"))] = value
	}
	return config
}

func toLowerCamelCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteString(strings.ToUpper(p[:1]))
			b.WriteString(p[1:])
			continue
		}
		b.WriteString(p)
	}
	return b.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		var i int64
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
