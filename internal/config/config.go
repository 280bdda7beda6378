// Package config loads the producer service configuration.
//
// Configuration comes from an optional YAML file, then NAC_* environment
// variables override individual fields. Validate reports every problem at
// once rather than stopping at the first.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "NAC_"

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Identity IdentityConfig `yaml:"identity"`
	Producer ProducerConfig `yaml:"producer"`
	Store    StoreConfig    `yaml:"store"`
	EKeys    EKeyConfig     `yaml:"ekeys"`
	Policy   PolicyConfig   `yaml:"policy"`
	Audit    AuditConfig    `yaml:"audit"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxBodyBytes caps plaintext uploads.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// LoggingConfig configures logrus.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// IdentityConfig selects the signing identity.
type IdentityConfig struct {
	// Mode is "key" (sign with KeyFile) or "digest" (DigestSha256, no key).
	Mode    string `yaml:"mode"`
	KeyFile string `yaml:"key_file"`
	KeyName string `yaml:"key_name"`
}

// ProducerConfig tunes produced packets.
type ProducerConfig struct {
	FreshnessPeriod time.Duration `yaml:"freshness_period"`
}

// StoreConfig selects and configures the object store backend.
type StoreConfig struct {
	Type  string           `yaml:"type"` // memory, file, s3, redis
	File  FileStoreConfig  `yaml:"file"`
	S3    S3StoreConfig    `yaml:"s3"`
	Redis RedisStoreConfig `yaml:"redis"`
	Retry RetryConfig      `yaml:"retry"`
}

// FileStoreConfig configures the directory backend.
type FileStoreConfig struct {
	Dir string `yaml:"dir"`
}

// S3StoreConfig configures the S3-compatible backend.
type S3StoreConfig struct {
	Provider     string `yaml:"provider"`
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// RedisStoreConfig configures the redis backend.
type RedisStoreConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// RetryConfig configures the store retry wrapper. MaxRetries 0 disables it.
type RetryConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
}

// EKeyConfig configures the encryption key registry.
type EKeyConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// TrustAnchor is an optional PEM public key that registered E-KEY
	// packets must verify against.
	TrustAnchor string `yaml:"trust_anchor"`
}

// PolicyConfig restricts which content names may be produced.
type PolicyConfig struct {
	// AllowedNames are glob patterns over content name URIs. Empty allows all.
	AllowedNames []string `yaml:"allowed_names"`
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled            bool       `yaml:"enabled"`
	MaxEvents          int        `yaml:"max_events"`
	Sink               SinkConfig `yaml:"sink"`
	RedactMetadataKeys []string   `yaml:"redact_metadata_keys"`
}

// SinkConfig configures where audit events go.
type SinkConfig struct {
	Type          string            `yaml:"type"` // stdout, file, http
	Endpoint      string            `yaml:"endpoint"`
	Headers       map[string]string `yaml:"headers"`
	FilePath      string            `yaml:"file_path"`
	BatchSize     int               `yaml:"batch_size"`
	FlushInterval time.Duration     `yaml:"flush_interval"`
	RetryCount    int               `yaml:"retry_count"`
	RetryBackoff  time.Duration     `yaml:"retry_backoff"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Exporter    string  `yaml:"exporter"` // none, stdout, otlp
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used before the file and environment
// are applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    64 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Identity: IdentityConfig{
			Mode: "digest",
		},
		Producer: ProducerConfig{
			FreshnessPeriod: time.Hour,
		},
		Store: StoreConfig{
			Type: "memory",
			Redis: RedisStoreConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "nac:",
			},
			Retry: RetryConfig{
				MaxRetries:      3,
				InitialInterval: 100 * time.Millisecond,
			},
		},
		EKeys: EKeyConfig{
			CacheTTL: time.Hour,
		},
		Audit: AuditConfig{
			MaxEvents: 10000,
			Sink:      SinkConfig{Type: "stdout"},
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: "nac-producer",
			SampleRatio: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies NAC_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var result *multierror.Error

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("LISTEN_ADDR", &c.Server.ListenAddr)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("IDENTITY_MODE", &c.Identity.Mode)
	str("IDENTITY_KEY_FILE", &c.Identity.KeyFile)
	str("IDENTITY_KEY_NAME", &c.Identity.KeyName)
	duration("FRESHNESS_PERIOD", &c.Producer.FreshnessPeriod)
	str("STORE_TYPE", &c.Store.Type)
	str("STORE_DIR", &c.Store.File.Dir)
	str("S3_ENDPOINT", &c.Store.S3.Endpoint)
	str("S3_REGION", &c.Store.S3.Region)
	str("S3_BUCKET", &c.Store.S3.Bucket)
	str("S3_PREFIX", &c.Store.S3.Prefix)
	str("S3_ACCESS_KEY", &c.Store.S3.AccessKey)
	str("S3_SECRET_KEY", &c.Store.S3.SecretKey)
	boolean("S3_USE_PATH_STYLE", &c.Store.S3.UsePathStyle)
	str("REDIS_ADDR", &c.Store.Redis.Addr)
	str("REDIS_PASSWORD", &c.Store.Redis.Password)
	integer("REDIS_DB", &c.Store.Redis.DB)
	duration("REDIS_TTL", &c.Store.Redis.TTL)
	integer("STORE_MAX_RETRIES", &c.Store.Retry.MaxRetries)
	duration("EKEY_CACHE_TTL", &c.EKeys.CacheTTL)
	str("EKEY_TRUST_ANCHOR", &c.EKeys.TrustAnchor)
	if v, ok := lookup(EnvPrefix + "ALLOWED_NAMES"); ok {
		c.Policy.AllowedNames = splitList(v)
	}
	boolean("AUDIT_ENABLED", &c.Audit.Enabled)
	str("AUDIT_SINK", &c.Audit.Sink.Type)
	str("AUDIT_FILE", &c.Audit.Sink.FilePath)
	str("AUDIT_ENDPOINT", &c.Audit.Sink.Endpoint)
	str("TRACING_EXPORTER", &c.Tracing.Exporter)
	str("TRACING_ENDPOINT", &c.Tracing.Endpoint)
	boolean("METRICS_ENABLED", &c.Metrics.Enabled)

	return result.ErrorOrNil()
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Server.ListenAddr == "" {
		result = multierror.Append(result, fmt.Errorf("server.listen_addr cannot be empty"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		result = multierror.Append(result, fmt.Errorf("server.max_body_bytes must be positive"))
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		result = multierror.Append(result, fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		result = multierror.Append(result, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}

	switch c.Identity.Mode {
	case "digest":
	case "key":
		if c.Identity.KeyFile == "" {
			result = multierror.Append(result, fmt.Errorf("identity.key_file is required in key mode"))
		}
		if c.Identity.KeyName == "" {
			result = multierror.Append(result, fmt.Errorf("identity.key_name is required in key mode"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("identity.mode must be key or digest, got %q", c.Identity.Mode))
	}

	if c.Producer.FreshnessPeriod < 0 {
		result = multierror.Append(result, fmt.Errorf("producer.freshness_period cannot be negative"))
	}

	switch c.Store.Type {
	case "memory":
	case "file":
		if c.Store.File.Dir == "" {
			result = multierror.Append(result, fmt.Errorf("store.file.dir is required for the file store"))
		}
	case "s3":
		if c.Store.S3.Bucket == "" {
			result = multierror.Append(result, fmt.Errorf("store.s3.bucket is required for the s3 store"))
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			result = multierror.Append(result, fmt.Errorf("store.redis.addr is required for the redis store"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("store.type %q is not supported", c.Store.Type))
	}
	if c.Store.Retry.MaxRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("store.retry.max_retries cannot be negative"))
	}

	if c.EKeys.CacheTTL < 0 {
		result = multierror.Append(result, fmt.Errorf("ekeys.cache_ttl cannot be negative"))
	}

	if c.Audit.Enabled {
		switch c.Audit.Sink.Type {
		case "", "stdout":
		case "file":
			if c.Audit.Sink.FilePath == "" {
				result = multierror.Append(result, fmt.Errorf("audit.sink.file_path is required for the file sink"))
			}
		case "http":
			if c.Audit.Sink.Endpoint == "" {
				result = multierror.Append(result, fmt.Errorf("audit.sink.endpoint is required for the http sink"))
			}
		default:
			result = multierror.Append(result, fmt.Errorf("audit.sink.type %q is not supported", c.Audit.Sink.Type))
		}
	}

	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	case "otlp":
		if c.Tracing.Endpoint == "" {
			result = multierror.Append(result, fmt.Errorf("tracing.endpoint is required for the otlp exporter"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("tracing.exporter %q is not supported", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		result = multierror.Append(result, fmt.Errorf("tracing.sample_ratio must be within [0, 1]"))
	}

	return result.ErrorOrNil()
}
