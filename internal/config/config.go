package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment overrides. Sections are separated by a double
// underscore: ROADSIDE_HTTP__ADDR sets http.addr.
const EnvPrefix = "ROADSIDE_"

// Config captures every tunable of the dispatch service. Defaults let the
// binary run locally with in-memory stores and no brokers.
type Config struct {
	HTTP      HTTPConfig      `koanf:"http"`
	Postgres  PostgresConfig  `koanf:"postgres"`
	Redis     RedisConfig     `koanf:"redis"`
	Kafka     KafkaConfig     `koanf:"kafka"`
	Push      PushConfig      `koanf:"push"`
	Matching  MatchingConfig  `koanf:"matching"`
	Lifecycle LifecycleConfig `koanf:"lifecycle"`
	Registry  RegistryConfig  `koanf:"registry"`
	Log       LogConfig       `koanf:"log"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// PostgresConfig selects the Postgres ledger and registry. An empty DSN
// keeps everything in memory.
type PostgresConfig struct {
	DSN     string `koanf:"dsn"`
	Migrate bool   `koanf:"migrate"`
}

type RedisConfig struct {
	Addr        string        `koanf:"addr"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	SnapshotKey string        `koanf:"snapshot_key"`
	SnapshotTTL time.Duration `koanf:"snapshot_ttl"`
}

// KafkaConfig covers the status event topic and the garage directory feed
// read by the consumer binary.
type KafkaConfig struct {
	Brokers     []string `koanf:"brokers"`
	Topic       string   `koanf:"topic"`
	GarageTopic string   `koanf:"garage_topic"`
	Group       string   `koanf:"group"`
}

type PushConfig struct {
	Endpoint    string        `koanf:"endpoint"`
	AccessToken string        `koanf:"access_token"`
	ChunkSize   int           `koanf:"chunk_size"`
	Timeout     time.Duration `koanf:"timeout"`
}

type MatchingConfig struct {
	DefaultRadiusKm float64 `koanf:"default_radius_km"`
	DefaultLimit    int     `koanf:"default_limit"`
	Concurrency     int     `koanf:"concurrency"`
}

type LifecycleConfig struct {
	ExpireAfter   time.Duration `koanf:"expire_after"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// RegistryConfig points at a JSON garage seed used when no DSN is set.
type RegistryConfig struct {
	SeedFile string `koanf:"seed_file"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{
			SnapshotKey: "garages:snapshot",
			SnapshotTTL: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:       "service-request-status",
			GarageTopic: "garage-updates",
			Group:       "roadside-garage-sync",
		},
		Push: PushConfig{
			Endpoint:  "https://exp.host/--/api/v2/push/send",
			ChunkSize: 100,
			Timeout:   10 * time.Second,
		},
		Matching: MatchingConfig{
			DefaultRadiusKm: 50,
			DefaultLimit:    10,
			Concurrency:     8,
		},
		Lifecycle: LifecycleConfig{
			ExpireAfter:   30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load layers an optional YAML file and ROADSIDE_ environment variables over
// the defaults. path may be empty.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
		default:
			return Config{}, fmt.Errorf("unsupported config format: %s", path)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Kafka.Brokers = trimAll(cfg.Kafka.Brokers)
	return cfg, cfg.Validate()
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("http.shutdown_timeout must be > 0"))
	}
	if c.Push.ChunkSize <= 0 || c.Push.ChunkSize > 100 {
		errs = append(errs, fmt.Errorf("push.chunk_size must be in 1..100, got %d", c.Push.ChunkSize))
	}
	if c.Push.Endpoint == "" {
		errs = append(errs, errors.New("push.endpoint is required"))
	}
	if c.Matching.DefaultRadiusKm <= 0 {
		errs = append(errs, errors.New("matching.default_radius_km must be > 0"))
	}
	if c.Matching.DefaultLimit <= 0 {
		errs = append(errs, errors.New("matching.default_limit must be > 0"))
	}
	if c.Matching.Concurrency <= 0 {
		errs = append(errs, errors.New("matching.concurrency must be > 0"))
	}
	if c.Lifecycle.ExpireAfter <= 0 || c.Lifecycle.SweepInterval <= 0 {
		errs = append(errs, errors.New("lifecycle durations must be > 0"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
