// Package config provides configuration loading and management using koanf.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Default configuration values.
const (
	// DefaultServerPort is the default HTTP server port.
	DefaultServerPort = 8080

	// DefaultMaxRequestSize is the default maximum request body size (1MB).
	DefaultMaxRequestSize = 1 << 20 // 1048576 bytes

	// DefaultLogFileMaxSizeMB is the default max log file size in megabytes.
	DefaultLogFileMaxSizeMB = 100

	// DefaultLogFileMaxBackups is the default number of old log files to retain.
	DefaultLogFileMaxBackups = 3

	// DefaultLogFileMaxAgeDays is the default max days to retain old log files.
	DefaultLogFileMaxAgeDays = 28

	// DefaultRegistryShardCount is the default number of registry map shards.
	DefaultRegistryShardCount = 32

	// DefaultRegistryRemovalHistory is the default number of removed
	// identifiers remembered for not-found diagnostics.
	DefaultRegistryRemovalHistory = 256

	// DefaultProbeBranches is the default number of concurrent probe branches.
	DefaultProbeBranches = 4

	// DefaultProbeConcurrency is the default probe branch concurrency limit.
	DefaultProbeConcurrency = 4
)

// Config is the root configuration structure.
type Config struct {
	App       AppConfig       `koanf:"app"       validate:"required"`
	Server    ServerConfig    `koanf:"server"    validate:"required"`
	Log       LogConfig       `koanf:"log"       validate:"required"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Registry  RegistryConfig  `koanf:"registry"  validate:"required"`
	Probe     ProbeConfig     `koanf:"probe"     validate:"required"`
	Health    HealthConfig    `koanf:"health"    validate:"required"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `koanf:"name"        validate:"required"`
	Version     string `koanf:"version"     validate:"required"`
	Environment string `koanf:"environment" validate:"required,oneof=local dev qa prod test"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"             validate:"required,min=1,max=65535"`
	Host            string        `koanf:"host"             validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout"     validate:"required,min=1s"`
	WriteTimeout    time.Duration `koanf:"write_timeout"    validate:"required,min=1s"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"     validate:"required,min=1s"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"required,min=1s"`
	RequestTimeout  time.Duration `koanf:"request_timeout"  validate:"required,min=100ms"`
	MaxRequestSize  int64         `koanf:"max_request_size" validate:"required,min=1"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string        `koanf:"level"  validate:"required,oneof=trace debug info warn error"`
	Format string        `koanf:"format" validate:"required,oneof=json text pretty"`
	File   LogFileConfig `koanf:"file"`
}

// LogFileConfig contains rolling log file settings.
type LogFileConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Path       string `koanf:"path"       validate:"required_if=Enabled true"`
	MaxSizeMB  int    `koanf:"max_size"   validate:"omitempty,min=1,max=1024"`
	MaxBackups int    `koanf:"max_backups" validate:"omitempty,min=0,max=100"`
	MaxAgeDays int    `koanf:"max_age"    validate:"omitempty,min=0,max=365"`
	Compress   bool   `koanf:"compress"`
}

// TelemetryConfig contains OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"      validate:"required_if=Enabled true,omitempty,url"`
	ServiceName  string  `koanf:"service_name"  validate:"required_if=Enabled true"`
	SamplingRate float64 `koanf:"sampling_rate" validate:"min=0,max=1"`
}

// RegistryConfig contains request context registry settings.
type RegistryConfig struct {
	ShardCount           int           `koanf:"shard_count"            validate:"required,min=1,max=65536,pow2"`
	HandlingMode         string        `koanf:"handling_mode"          validate:"required,oneof=collect display"`
	UnavailableWarning   string        `koanf:"unavailable_warning"    validate:"required,oneof=always sampled debug off"`
	WarningInterval      time.Duration `koanf:"warning_interval"       validate:"required,min=1s"`
	RemovalHistory       int           `koanf:"removal_history"        validate:"min=0,max=65536"`
	ReclaimLeakedHandles bool          `koanf:"reclaim_leaked_handles"`
}

// ProbeConfig contains settings for the diagnostic probe endpoint.
type ProbeConfig struct {
	Branches    int `koanf:"branches"    validate:"required,min=1,max=64"`
	Concurrency int `koanf:"concurrency" validate:"required,min=1,max=64"`
}

// HealthConfig contains readiness check settings.
type HealthConfig struct {
	CheckTimeout time.Duration `koanf:"check_timeout" validate:"required,min=10ms,max=30s"`

	// ObserverCheck degrades readiness while registry observers fault.
	ObserverCheck bool `koanf:"observer_check"`
}

// defaults returns the default configuration values.
func defaults() map[string]any {
	return map[string]any{
		"app.name":        "go-request-registry",
		"app.version":     "dev",
		"app.environment": "local",

		"server.port":             DefaultServerPort,
		"server.host":             "0.0.0.0",
		"server.read_timeout":     "30s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "10s",
		"server.request_timeout":  "25s",
		"server.max_request_size": DefaultMaxRequestSize,

		"log.level":            "info",
		"log.format":           "json",
		"log.file.enabled":     false,
		"log.file.path":        "./logs/app.log",
		"log.file.max_size":    DefaultLogFileMaxSizeMB,
		"log.file.max_backups": DefaultLogFileMaxBackups,
		"log.file.max_age":     DefaultLogFileMaxAgeDays,
		"log.file.compress":    true,

		"telemetry.enabled":       false,
		"telemetry.endpoint":      "",
		"telemetry.service_name":  "go-request-registry",
		"telemetry.sampling_rate": 1.0,

		"registry.shard_count":            DefaultRegistryShardCount,
		"registry.handling_mode":          "collect",
		"registry.unavailable_warning":    "always",
		"registry.warning_interval":       "1m",
		"registry.removal_history":        DefaultRegistryRemovalHistory,
		"registry.reclaim_leaked_handles": false,

		"probe.branches":    DefaultProbeBranches,
		"probe.concurrency": DefaultProbeConcurrency,

		"health.check_timeout":  "2s",
		"health.observer_check": true,
	}
}

// Load loads configuration with the following precedence (highest to lowest):
//  1. Environment variables (APP_ prefix)
//  2. Profile config file (configs/{profile}.yaml)
//  3. Base config file (configs/base.yaml)
//  4. Default values
func Load(profile string) (*Config, error) {
	k := koanf.New(".")

	// 1. Load defaults
	err := k.Load(confmap.Provider(defaults(), "."), nil)
	if err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// 2. Load base config file if it exists
	err = loadFileIfExists(k, "configs/base.yaml")
	if err != nil {
		return nil, fmt.Errorf("loading base config: %w", err)
	}

	// 3. Load profile config file if it exists
	if profile != "" {
		profilePath := fmt.Sprintf("configs/%s.yaml", profile)

		err := loadFileIfExists(k, profilePath)
		if err != nil {
			return nil, fmt.Errorf("loading profile config %q: %w", profile, err)
		}
	}

	// 4. Load environment variables with APP_ prefix
	err = k.Load(env.Provider("APP_", ".", envKey), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config

	err = k.Unmarshal("", &cfg)
	if err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return &cfg, nil
}

// knownEnvKeys maps flattened env names ("registry_shard_count") to config
// keys ("registry.shard_count"), so keys containing underscores survive.
var knownEnvKeys = func() map[string]string {
	keys := make(map[string]string)
	for key := range defaults() {
		keys[strings.ReplaceAll(key, ".", "_")] = key
	}

	return keys
}()

// envKey converts APP_REGISTRY_SHARD_COUNT to registry.shard_count.
func envKey(s string) string {
	name := strings.ToLower(strings.TrimPrefix(s, "APP_"))
	if key, ok := knownEnvKeys[name]; ok {
		return key
	}

	return strings.ReplaceAll(name, "_", ".")
}

// loadFileIfExists loads a YAML config file if it exists.
// Returns nil if the file doesn't exist, error only for parse/read failures.
func loadFileIfExists(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil // File doesn't exist, that's fine
	}

	return k.Load(file.Provider(path), yaml.Parser())
}
