package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Environment names the deployment stage the host runs in
type Environment string

const (
	EnvironmentDevelopment Environment = "Development"
	EnvironmentStaging     Environment = "Staging"
	EnvironmentProduction  Environment = "Production"
)

const (
	// EnvPrefix prefixes every environment variable the loader reads
	EnvPrefix = "SUPERSERVICE"

	// DefaultListenerURL is where the host binds when nothing overrides it
	DefaultListenerURL = "https://0.0.0.0:8443"

	configFileFlag = "config"
)

// ServerConfig holds the listener and HTTP server settings
type ServerConfig struct {
	// URL is the single bind URL (SUPERSERVICE_SERVER_URL, default: https://0.0.0.0:8443)
	URL      string `mapstructure:"url" yaml:"url" validate:"required"`
	CertFile string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`

	// ACMEHosts obtains certificates for these names from an ACME CA (tls-alpn-01)
	// when no certificate files are set
	ACMEHosts    []string `mapstructure:"acme_hosts" yaml:"acme_hosts"`
	ACMECacheDir string   `mapstructure:"acme_cache_dir" yaml:"acme_cache_dir" validate:"required_with=ACMEHosts"`

	// DevCertificate allows an in-memory self-signed certificate when cert files are absent.
	// Defaults to true only in Development.
	DevCertificate bool `mapstructure:"dev_certificate" yaml:"dev_certificate"`

	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout" validate:"gt=0"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes" yaml:"max_header_bytes" validate:"gte=0"`

	// DrainDelay is how long the listener keeps accepting requests after the
	// startup handler's Stop hook ran. It counts against ShutdownTimeout.
	DrainDelay time.Duration `mapstructure:"drain_delay" yaml:"drain_delay" validate:"gte=0,ltfield=ShutdownTimeout"`
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=console json"`
}

// TracingConfig controls the OpenTelemetry tracer provider
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name" validate:"required_if=Enabled true"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// MetricsConfig controls Prometheus exposition
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path" validate:"required,startswith=/"`
}

// HealthConfig controls the health probe
type HealthConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required,startswith=/"`
}

// RateLimitConfig controls per-client request rate limiting
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst" yaml:"burst" validate:"gte=1"`

	// MaxClients bounds how many client limiters are tracked at once
	MaxClients int `mapstructure:"max_clients" yaml:"max_clients" validate:"gte=1"`

	// RedisAddr shares limits across replicas; empty keeps them in memory
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"-"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db" validate:"gte=0"`
}

// Config holds all configuration for the host
type Config struct {
	Environment Environment     `mapstructure:"environment" yaml:"environment" validate:"oneof=Development Staging Production"`
	Server      ServerConfig    `mapstructure:"server" yaml:"server"`
	Logging     LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Tracing     TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	Metrics     MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Health      HealthConfig    `mapstructure:"health" yaml:"health"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	listener ListenerURL
}

// Listener returns the parsed bind URL resolved during Load
func (c *Config) Listener() ListenerURL {
	return c.listener
}

// IsDevelopment reports whether the host runs in the Development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvironmentDevelopment
}

// Loader builds a Config from defaults, a .env file, YAML config files,
// environment variables and command-line arguments, in increasing precedence.
// Each Load call uses a fresh viper instance.
type Loader struct {
	// SearchPaths are the directories searched for config.yaml
	SearchPaths []string
	// EnvFile is loaded into the process environment when present
	EnvFile string
}

// NewLoader returns a Loader with the default search paths
func NewLoader() *Loader {
	return &Loader{
		SearchPaths: []string{".", "./config"},
		EnvFile:     ".env",
	}
}

// Load is shorthand for NewLoader().Load(args)
func Load(args []string) (*Config, error) {
	return NewLoader().Load(args)
}

// Load resolves configuration. args are the raw process arguments; they are
// not validated here beyond flag syntax, and unknown --key=value pairs become
// configuration overrides.
func (l *Loader) Load(args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	flags, err := parseArgs(v, args)
	if err != nil {
		return nil, err
	}

	if err := l.loadEnvFile(); err != nil {
		return nil, err
	}
	loadFromEnv(v)

	// environment may come from flags or env, so files are read after both are bound
	env := Environment(v.GetString("environment"))
	if env == EnvironmentDevelopment {
		v.SetDefault("server.dev_certificate", true)
	}

	configFile, _ := flags.GetString(configFileFlag)
	if err := l.readConfigFiles(v, configFile, env); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", string(EnvironmentProduction))

	v.SetDefault("server.url", DefaultListenerURL)
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")
	v.SetDefault("server.acme_hosts", []string{})
	v.SetDefault("server.acme_cache_dir", "./certs")
	v.SetDefault("server.dev_certificate", false)
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.max_header_bytes", 1<<20) // 1MB
	v.SetDefault("server.drain_delay", time.Duration(0))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("tracing.enabled", true)
	v.SetDefault("tracing.service_name", "superservice")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("health.path", "/health")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_second", 50.0)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("rate_limit.max_clients", 10000)
	v.SetDefault("rate_limit.redis_addr", "")
	v.SetDefault("rate_limit.redis_password", "")
	v.SetDefault("rate_limit.redis_db", 0)
}

// loadFromEnv sets up environment variable loading
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Shorter names for the settings operators touch most
	_ = v.BindEnv("environment", EnvPrefix+"_ENVIRONMENT", EnvPrefix+"_ENV")
	_ = v.BindEnv("server.url", EnvPrefix+"_SERVER_URL", EnvPrefix+"_URLS")
}

func (l *Loader) loadEnvFile() error {
	if l.EnvFile == "" {
		return nil
	}
	if _, err := os.Stat(l.EnvFile); err != nil {
		return nil
	}
	// godotenv.Load never overrides variables already set in the environment
	if err := godotenv.Load(l.EnvFile); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", l.EnvFile, err)
	}
	return nil
}

// readConfigFiles reads the base config file and merges the environment
// specific one on top. Missing files are skipped.
func (l *Loader) readConfigFiles(v *viper.Viper, explicit string, env Environment) error {
	v.SetConfigType("yaml")

	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", explicit, err)
		}
		overlay := strings.TrimSuffix(explicit, filepath.Ext(explicit)) + "." + strings.ToLower(string(env)) + filepath.Ext(explicit)
		if _, err := os.Stat(overlay); err == nil {
			v.SetConfigFile(overlay)
			if err := v.MergeInConfig(); err != nil {
				return fmt.Errorf("failed to merge config file %s: %w", overlay, err)
			}
		}
		return nil
	}

	base := l.findConfigFile("config.yaml")
	if base != "" {
		v.SetConfigFile(base)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", base, err)
		}
	}

	overlay := l.findConfigFile("config." + strings.ToLower(string(env)) + ".yaml")
	if overlay != "" {
		v.SetConfigFile(overlay)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("failed to merge config file %s: %w", overlay, err)
		}
	}
	return nil
}

func (l *Loader) findConfigFile(name string) string {
	for _, dir := range l.SearchPaths {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// parseArgs binds --key=value style arguments onto v. Every default key is a
// flag; any other --name seen in args is registered on the fly so it still
// reaches the configuration. Positional arguments and bare switches without a
// value are ignored.
func parseArgs(v *viper.Viper, args []string) (*pflag.FlagSet, error) {
	flags := pflag.NewFlagSet("superservice", pflag.ContinueOnError)
	flags.SetNormalizeFunc(normalizeFlagName)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	flags.SetOutput(io.Discard)

	flags.String(configFileFlag, "", "path to a YAML config file")
	for _, key := range v.AllKeys() {
		flags.String(key, v.GetString(key), "")
	}

	args = dropBareSwitches(args)
	for _, arg := range args {
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "--") || len(arg) == 2 {
			continue
		}
		name, _, _ := strings.Cut(arg[2:], "=")
		if flags.Lookup(name) == nil {
			flags.String(name, "", "")
		}
	}

	if err := flags.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return nil, fmt.Errorf("failed to parse arguments: %w", err)
	}

	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == configFileFlag || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(f.Name, f)
	})
	if bindErr != nil {
		return nil, fmt.Errorf("failed to bind arguments: %w", bindErr)
	}
	return flags, nil
}

// dropBareSwitches removes --name arguments that carry no value, either
// because they are last or because the next argument is another --flag.
// Malformed --=value and ---name arguments are removed as well.
func dropBareSwitches(args []string) []string {
	kept := make([]string, 0, len(args))
	for i, arg := range args {
		if arg == "--" {
			return append(kept, args[i:]...)
		}
		if !strings.HasPrefix(arg, "--") {
			kept = append(kept, arg)
			continue
		}
		name, _, hasValue := strings.Cut(arg[2:], "=")
		if name == "" || name[0] == '-' {
			continue
		}
		if !hasValue && (i+1 == len(args) || strings.HasPrefix(args[i+1], "--")) {
			continue
		}
		kept = append(kept, arg)
	}
	return kept
}

// normalizeFlagName accepts "server:url" and "read-header-timeout" spellings
// of the "server.url" and "read_header_timeout" keys. --urls is kept as an
// alias of server.url.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, ":", ".")
	name = strings.ReplaceAll(name, "-", "_")
	if name == "urls" {
		name = "server.url"
	}
	return pflag.NormalizedName(name)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateConfig validates the configuration and resolves the listener
func validateConfig(config *Config) error {
	if err := validate.Struct(config); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value: %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	listener, err := ParseListenerURL(config.Server.URL)
	if err != nil {
		return err
	}
	config.listener = listener

	if (config.Server.CertFile == "") != (config.Server.KeyFile == "") {
		return fmt.Errorf("server.cert_file and server.key_file must be set together")
	}

	return nil
}
