// Package config handles configuration loading for bcrpdata.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BCRPDATA_CACHE_STORAGE.
const EnvPrefix = "BCRPDATA"

// Config represents the complete application configuration.
type Config struct {
	API     APIConfig     `mapstructure:"api"     yaml:"api"`
	Request RequestConfig `mapstructure:"request" yaml:"request"`
	Cache   CacheConfig   `mapstructure:"cache"   yaml:"cache"`
	Batch   BatchConfig   `mapstructure:"batch"   yaml:"batch"`
	Catalog CatalogConfig `mapstructure:"catalog" yaml:"catalog"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// APIConfig holds the remote endpoints and request pacing.
type APIConfig struct {
	BaseURL     string `mapstructure:"base_url"     yaml:"base_url"     validate:"required,url"`
	MetadataURL string `mapstructure:"metadata_url" yaml:"metadata_url" validate:"required,url"`
	SnapshotURL string `mapstructure:"snapshot_url" yaml:"snapshot_url" validate:"omitempty,url"` // UTF-8 fallback for the metadata
	TimeoutSec  int    `mapstructure:"timeout_sec"  yaml:"timeout_sec"  validate:"gt=0"`
	RateLimit   int    `mapstructure:"rate_limit"   yaml:"rate_limit"   validate:"gte=0"` // requests per second, 0 disables
}

// Timeout returns TimeoutSec as a duration.
func (c APIConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSec) * time.Second }

// RequestConfig holds the defaults of a series request.
type RequestConfig struct {
	Language string `mapstructure:"language" yaml:"language" validate:"oneof=en es"`
	Format   string `mapstructure:"format"   yaml:"format"   validate:"oneof=json csv html"`
	Start    string `mapstructure:"start"    yaml:"start"    validate:"required"`
	End      string `mapstructure:"end"      yaml:"end"      validate:"required"`
	Order    bool   `mapstructure:"order"    yaml:"order"`    // reorder columns to match the requested codes
	Datetime bool   `mapstructure:"datetime" yaml:"datetime"` // normalise period labels to dates
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Storage     string `mapstructure:"storage"      yaml:"storage"      validate:"oneof=file postgres badger"`
	Dir         string `mapstructure:"dir"          yaml:"dir"`
	Strict      bool   `mapstructure:"strict"       yaml:"strict"` // treat parameter mismatches as misses
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn" validate:"required_if=Storage postgres"`
}

// BatchConfig controls large requests.
type BatchConfig struct {
	ChunkSize int  `mapstructure:"chunk_size" yaml:"chunk_size" validate:"gt=0"`
	Parallel  bool `mapstructure:"parallel"   yaml:"parallel"`
	Workers   int  `mapstructure:"workers"    yaml:"workers"    validate:"gt=0"`
}

// CatalogConfig controls the metadata catalog.
type CatalogConfig struct {
	File    string `mapstructure:"file"     yaml:"file"`
	MinRows int    `mapstructure:"min_rows" yaml:"min_rows" validate:"gte=0"`
	TTLSec  int    `mapstructure:"ttl_sec"  yaml:"ttl_sec"  validate:"gte=0"` // in-memory reuse of a loaded catalog
}

// TTL returns TTLSec as a duration.
func (c CatalogConfig) TTL() time.Duration { return time.Duration(c.TTLSec) * time.Second }

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.bcrpdata/config.yaml (home directory)
//  3. /etc/bcrpdata/config.yaml (system)
//
// Environment variables override config file values.
// Format: BCRPDATA_<SECTION>_<KEY>, e.g., BCRPDATA_CACHE_POSTGRES_DSN
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".bcrpdata"))
	v.AddConfigPath("/etc/bcrpdata")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.base_url", "https://estadisticas.bcrp.gob.pe/estadisticas/series/api")
	v.SetDefault("api.metadata_url", "https://estadisticas.bcrp.gob.pe/estadisticas/series/metadata")
	v.SetDefault("api.snapshot_url", "")
	v.SetDefault("api.timeout_sec", 30)
	v.SetDefault("api.rate_limit", 5)

	// Request defaults
	v.SetDefault("request.language", "en")
	v.SetDefault("request.format", "json")
	v.SetDefault("request.start", "2010-1")
	v.SetDefault("request.end", "2016-9")
	v.SetDefault("request.order", true)
	v.SetDefault("request.datetime", true)

	// Cache defaults
	v.SetDefault("cache.storage", "file")
	v.SetDefault("cache.dir", ".bcrpcache")
	v.SetDefault("cache.strict", false)
	v.SetDefault("cache.postgres_dsn", "")

	// Batch defaults
	v.SetDefault("batch.chunk_size", 100)
	v.SetDefault("batch.parallel", true)
	v.SetDefault("batch.workers", 4)

	// Catalog defaults
	v.SetDefault("catalog.file", "metadata.csv")
	v.SetDefault("catalog.min_rows", 5)
	v.SetDefault("catalog.ttl_sec", 3600) // 1 hour

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
func overrideFromEnv(cfg *Config) {
	if dsn := os.Getenv(EnvPrefix + "_CACHE_POSTGRES_DSN"); dsn != "" {
		cfg.Cache.PostgresDSN = dsn
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
