// Package config loads spawncache settings from YAML with SPAWNCACHE_*
// environment overrides.
//
// Precedence: defaults, then the YAML file, then environment variables. Env
// names are the upper-cased path of env tags, e.g. SPAWNCACHE_CACHE_L1_MAX_ENTRIES
// or SPAWNCACHE_STORE_QDRANT_URL.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SPAWNCACHE"

// Config is the full file configuration.
type Config struct {
	Cache        CacheConfig        `yaml:"cache" env:"CACHE"`
	Embedding    EmbeddingConfig    `yaml:"embedding" env:"EMBEDDING"`
	Store        StoreConfig        `yaml:"store" env:"STORE"`
	Sweep        SweepConfig        `yaml:"sweep" env:"SWEEP"`
	Invalidation InvalidationConfig `yaml:"invalidation" env:"INVALIDATION"`
	Metrics      MetricsConfig      `yaml:"metrics" env:"METRICS"`
	Log          LogConfig          `yaml:"log" env:"LOG"`
}

// CacheConfig covers both tiers and the hit policy.
type CacheConfig struct {
	L1Enabled    bool          `yaml:"l1_enabled" env:"L1_ENABLED"`
	L1MaxEntries int           `yaml:"l1_max_entries" env:"L1_MAX_ENTRIES"`
	L1TTL        time.Duration `yaml:"l1_ttl" env:"L1_TTL"`
	L2Enabled    bool          `yaml:"l2_enabled" env:"L2_ENABLED"`
	L2Timeout    time.Duration `yaml:"l2_timeout" env:"L2_TIMEOUT"`
	Dimension    int           `yaml:"dimension" env:"DIMENSION"`

	Thresholds ThresholdsConfig `yaml:"thresholds" env:"THRESHOLDS"`

	// TTLTiers maps minimum access counts to record lifetimes. File only.
	TTLTiers []TTLTierConfig `yaml:"ttl_tiers" env:"-"`

	Coalescing      bool `yaml:"coalescing" env:"COALESCING"`
	PersistFallback bool `yaml:"persist_fallback" env:"PERSIST_FALLBACK"`

	// Policies are per-kind overrides. File only.
	Policies []PolicyConfig `yaml:"policies" env:"-"`
}

// PolicyConfig is one named group of kind rules and its overrides.
type PolicyConfig struct {
	Name           string        `yaml:"name"`
	Exact          []string      `yaml:"exact"`
	Prefix         []string      `yaml:"prefix"`
	Regex          []string      `yaml:"regex"`
	MinSimilarity  float64       `yaml:"min_similarity"`
	FactoryTimeout time.Duration `yaml:"factory_timeout"`
	Bypass         bool          `yaml:"bypass"`
	LocalOnly      bool          `yaml:"local_only"`
}

// ThresholdsConfig holds the similarity cut-offs.
type ThresholdsConfig struct {
	Exact float64 `yaml:"exact" env:"EXACT"`
	High  float64 `yaml:"high" env:"HIGH"`
	Good  float64 `yaml:"good" env:"GOOD"`
}

// TTLTierConfig is one row of the TTL table.
type TTLTierConfig struct {
	MinAccesses int64         `yaml:"min_accesses"`
	TTL         time.Duration `yaml:"ttl"`
}

// EmbeddingConfig selects and tunes the embedder.
type EmbeddingConfig struct {
	// Provider is "hash" or "openai".
	Provider string        `yaml:"provider" env:"PROVIDER"`
	BaseURL  string        `yaml:"base_url" env:"BASE_URL"`
	Model    string        `yaml:"model" env:"MODEL"`
	APIKey   string        `yaml:"api_key" env:"API_KEY"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`

	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	Burst     int     `yaml:"burst" env:"BURST"`

	CacheSize     int64         `yaml:"cache_size" env:"CACHE_SIZE"`
	CacheTTL      time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB"`
}

// StoreConfig selects the L2 vector store.
type StoreConfig struct {
	// Backend is "memory", "qdrant" or "pgvector".
	Backend    string         `yaml:"backend" env:"BACKEND"`
	Collection string         `yaml:"collection" env:"COLLECTION"`
	Qdrant     QdrantConfig   `yaml:"qdrant" env:"QDRANT"`
	Postgres   PostgresConfig `yaml:"postgres" env:"POSTGRES"`
}

type QdrantConfig struct {
	URL     string        `yaml:"url" env:"URL"`
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn" env:"DSN"`
}

// SweepConfig schedules the L2 expiry sweep.
type SweepConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Schedule string `yaml:"schedule" env:"SCHEDULE"`
}

// InvalidationConfig enables cross-process L1 invalidation over NATS.
type InvalidationConfig struct {
	NATSURL string `yaml:"nats_url" env:"NATS_URL"`
	Subject string `yaml:"subject" env:"SUBJECT"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// LogConfig controls the zap logger. Enabled=false yields a no-op logger.
type LogConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Level   string `yaml:"level" env:"LEVEL"`
	// Format is "json" or "console".
	Format string `yaml:"format" env:"FORMAT"`
}

// Load reads path (if non-empty) over the defaults and applies environment
// overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(reflect.ValueOf(cfg).Elem(), EnvPrefix); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := range v.NumField() {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag

		if field.Kind() == reflect.Struct {
			if err := applyEnv(field, key); err != nil {
				return err
			}
			continue
		}
		raw, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if err := setField(field, raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setField(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}

// String renders cfg as YAML with secrets masked.
func (c Config) String() string {
	c.Embedding.APIKey = mask(c.Embedding.APIKey)
	c.Embedding.RedisPassword = mask(c.Embedding.RedisPassword)
	c.Store.Qdrant.APIKey = mask(c.Store.Qdrant.APIKey)
	c.Store.Postgres.DSN = mask(c.Store.Postgres.DSN)
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return strings.TrimSpace(string(out))
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
