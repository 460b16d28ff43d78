// Package config loads tracker settings with viper. Defaults are set on
// the viper instance first, then a YAML file and GRACELOCK_* environment
// variables override them.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-gracelock/v1/identity"
)

// EnvPrefix prefixes every environment override,
// e.g. GRACELOCK_STORE_DRIVER for store.driver.
const EnvPrefix = "GRACELOCK"

// Config is the complete tracker configuration.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Grace     GraceConfig     `mapstructure:"grace"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Bus       BusConfig       `mapstructure:"bus"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Validator ValidatorConfig `mapstructure:"validator"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	// Driver is one of memory, sqlite or postgres.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// GraceConfig controls the grace window.
type GraceConfig struct {
	Period time.Duration `mapstructure:"period"`
	Tick   time.Duration `mapstructure:"tick"`
}

// RedisConfig is the shared Redis used for locks, the bus and caches.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig points at a NATS server.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// KafkaConfig mirrors the audit log to a Kafka topic when brokers are set.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// BusConfig selects how sessions exchange invalidations.
type BusConfig struct {
	// Backend is one of memory, redis or nats.
	Backend string `mapstructure:"backend"`
	Topic   string `mapstructure:"topic"`
}

// CacheConfig selects the projection and unit of measure caches.
type CacheConfig struct {
	// Backend is memory or ristretto for the projection.
	Backend string        `mapstructure:"backend"`
	UOMTTL  time.Duration `mapstructure:"uom_ttl"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HTTPConfig is the listen address of serve.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// IdentityConfig is the user the CLI acts as.
type IdentityConfig struct {
	Email string `mapstructure:"email"`
	Tier  int    `mapstructure:"tier"`
}

// ValidatorConfig controls the drift validator.
type ValidatorConfig struct {
	Mode     string        `mapstructure:"mode"`
	Interval time.Duration `mapstructure:"interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store:     StoreConfig{Driver: "memory"},
		Grace:     GraceConfig{Period: 300 * time.Second, Tick: time.Second},
		Kafka:     KafkaConfig{Topic: "gracelock.audit"},
		Bus:       BusConfig{Backend: "memory", Topic: "gracelock.records"},
		Cache:     CacheConfig{Backend: "memory", UOMTTL: 10 * time.Minute},
		Log:       LogConfig{Level: "info", Format: "text"},
		HTTP:      HTTPConfig{Addr: ":8080"},
		Identity:  IdentityConfig{Tier: int(identity.TierViewer)},
		Validator: ValidatorConfig{Mode: "noop", Interval: time.Minute},
	}
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)

	v.SetDefault("grace.period", d.Grace.Period)
	v.SetDefault("grace.tick", d.Grace.Tick)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("nats.url", d.NATS.URL)

	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)

	v.SetDefault("bus.backend", d.Bus.Backend)
	v.SetDefault("bus.topic", d.Bus.Topic)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.uom_ttl", d.Cache.UOMTTL)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("http.addr", d.HTTP.Addr)

	v.SetDefault("identity.email", d.Identity.Email)
	v.SetDefault("identity.tier", d.Identity.Tier)

	v.SetDefault("validator.mode", d.Validator.Mode)
	v.SetDefault("validator.interval", d.Validator.Interval)
}

// Init prepares v: defaults, environment overrides and the config file.
// An empty file searches the default locations; a missing file is not an
// error.
func Init(v *viper.Viper, file string) error {
	SetDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}

// Dir returns the per-user config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "gracelock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gracelock"
	}
	return filepath.Join(home, ".config", "gracelock")
}

// Logger builds the slog logger described by c.
func (c LogConfig) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// ValidStoreDrivers lists the accepted store.driver values.
func ValidStoreDrivers() []string { return []string{"memory", "sqlite", "postgres"} }

// ValidBusBackends lists the accepted bus.backend values.
func ValidBusBackends() []string { return []string{"memory", "redis", "nats"} }

// ValidCacheBackends lists the accepted cache.backend values.
func ValidCacheBackends() []string { return []string{"memory", "ristretto"} }

// ValidLogFormats lists the accepted log.format values.
func ValidLogFormats() []string { return []string{"text", "json"} }

// ValidLogLevels lists the accepted log.level values.
func ValidLogLevels() []string { return []string{"debug", "info", "warn", "error"} }

// TierLevel returns the configured identity tier.
func (c IdentityConfig) TierLevel() identity.Tier { return identity.Tier(c.Tier) }

func oneOf(errs *ValidationErrors, field, value string, valid []string) {
	if !slices.Contains(valid, strings.ToLower(value)) {
		*errs = append(*errs, ValidationError{
			Field:   field,
			Value:   value,
			Message: "must be one of " + strings.Join(valid, ", "),
		})
	}
}
