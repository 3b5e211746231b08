package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables; "__" separates levels,
// e.g. EVENTPIPE_PIPELINE__BATCH_WINDOW=100ms.
const EnvPrefix = "EVENTPIPE_"

// Config represents the top-level application config.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Log         LogConfig         `koanf:"log"`
	Pipeline    PipelineConfig    `koanf:"pipeline"`
	Persistence PersistenceConfig `koanf:"persistence"`
	Outbound    OutboundConfig    `koanf:"outbound"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeKB int    `koanf:"max_body_size_kb"`
	Mode          string `koanf:"mode"` // debug | release
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Enabled      bool   `koanf:"enabled"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug | info | warn | error
	Format string `koanf:"format"` // text | json
}

// PipelineConfig sizes the batching engine and bus and holds the routing
// allowlists. Unset lists fall back to the built-in defaults.
type PipelineConfig struct {
	BatchWindow    time.Duration `koanf:"batch_window"`
	MaxBatchSize   int           `koanf:"max_batch_size"`
	MaxBuffered    int           `koanf:"max_buffered"`
	BusBufferSize  int           `koanf:"bus_buffer_size"`
	BatchableTypes []string      `koanf:"batchable_types"`
	CriticalTypes  []string      `koanf:"critical_types"`
	ImmediateTypes []string      `koanf:"immediate_types"`
}

type PersistenceConfig struct {
	Workers      int           `koanf:"workers"`
	QueueSize    int           `koanf:"queue_size"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type OutboundConfig struct {
	Enabled      bool     `koanf:"enabled"`
	ProjectID    string   `koanf:"project_id"`
	Topic        string   `koanf:"topic"`
	ForwardTypes []string `koanf:"forward_types"`
	QueueSize    int      `koanf:"queue_size"`
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
)

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeKB <= 0 {
		return fmt.Errorf("server.max_body_size_kb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required when database.enabled is true")
		}
		if c.Database.MaxOpenConns <= 0 {
			return fmt.Errorf("database.max_open_conns must be > 0")
		}
		if c.Database.MaxIdleConns <= 0 {
			return fmt.Errorf("database.max_idle_conns must be > 0")
		}
	}

	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log.level %q (must be debug, info, warn or error)", c.Log.Level)
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log.format %q (must be text or json)", c.Log.Format)
	}

	if c.Pipeline.BatchWindow <= 0 {
		return fmt.Errorf("pipeline.batch_window must be > 0")
	}
	if c.Pipeline.MaxBatchSize <= 0 {
		return fmt.Errorf("pipeline.max_batch_size must be > 0")
	}
	if c.Pipeline.MaxBuffered < c.Pipeline.MaxBatchSize {
		return fmt.Errorf("pipeline.max_buffered (%d) must be >= pipeline.max_batch_size (%d)",
			c.Pipeline.MaxBuffered, c.Pipeline.MaxBatchSize)
	}
	if c.Pipeline.BusBufferSize <= 0 {
		return fmt.Errorf("pipeline.bus_buffer_size must be > 0")
	}
	for _, t := range c.Pipeline.CriticalTypes {
		for _, b := range c.Pipeline.BatchableTypes {
			if t == b {
				return fmt.Errorf("event type %q is both critical and batchable", t)
			}
		}
	}

	if c.Persistence.Workers <= 0 {
		return fmt.Errorf("persistence.workers must be > 0")
	}
	if c.Persistence.QueueSize <= 0 {
		return fmt.Errorf("persistence.queue_size must be > 0")
	}
	if c.Persistence.WriteTimeout <= 0 {
		return fmt.Errorf("persistence.write_timeout must be > 0")
	}

	if c.Outbound.Enabled {
		if strings.TrimSpace(c.Outbound.ProjectID) == "" {
			return fmt.Errorf("outbound.project_id is required when outbound.enabled is true")
		}
		if strings.TrimSpace(c.Outbound.Topic) == "" {
			return fmt.Errorf("outbound.topic is required when outbound.enabled is true")
		}
		if c.Outbound.QueueSize <= 0 {
			return fmt.Errorf("outbound.queue_size must be > 0")
		}
	}

	return nil
}

// listKeys are comma-separated when set through the environment, e.g.
// EVENTPIPE_PIPELINE__BATCHABLE_TYPES=channel.follow,channel.cheer.
var listKeys = map[string]bool{
	"pipeline.batchable_types": true,
	"pipeline.critical_types":  true,
	"pipeline.immediate_types": true,
	"outbound.forward_types":   true,
}

func envKeyValue(key, value string) (string, interface{}) {
	key = strings.Replace(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__", ".", -1)
	if !listKeys[key] {
		return key, value
	}

	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

// Load parses config from defaults, an optional YAML file and env, then validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":               8080,
		"server.host":               "0.0.0.0",
		"server.max_body_size_kb":   256,
		"server.mode":               "release",
		"database.enabled":          false,
		"database.dsn":              "",
		"database.max_open_conns":   10,
		"database.max_idle_conns":   10,
		"database.auto_migrate":     true,
		"log.level":                 "info",
		"log.format":                "text",
		"pipeline.batch_window":     "50ms",
		"pipeline.max_batch_size":   100,
		"pipeline.max_buffered":     1000,
		"pipeline.bus_buffer_size":  256,
		"persistence.workers":       4,
		"persistence.queue_size":    1000,
		"persistence.write_timeout": "5s",
		"outbound.enabled":          false,
		"outbound.queue_size":       500,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKeyValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
