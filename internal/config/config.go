// Package config loads walink configuration from defaults, an optional
// JSON5 or YAML file, and environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Pairing   PairingConfig   `json:"pairing" yaml:"pairing"`
	Linking   LinkingConfig   `json:"linking" yaml:"linking"`
	Webhook   WebhookConfig   `json:"webhook" yaml:"webhook"`
	Commands  CommandsConfig  `json:"commands" yaml:"commands"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

type ServerConfig struct {
	Host            string   `json:"host" yaml:"host"`
	Port            int      `json:"port" yaml:"port"`
	Token           string   `json:"token" yaml:"token"` // bearer token for /api; empty = open
	StaticDir       string   `json:"static_dir" yaml:"static_dir"`
	AllowedOrigins  []string `json:"allowed_origins" yaml:"allowed_origins"`
	ShutdownSeconds int      `json:"shutdown_seconds" yaml:"shutdown_seconds"`
}

type StorageConfig struct {
	SessionsDir string `json:"sessions_dir" yaml:"sessions_dir"`
	DataDir     string `json:"data_dir" yaml:"data_dir"`
	// RedisURL or PostgresDSN switch the pairing snapshot away from
	// <data_dir>/pairings.json. At most one may be set.
	RedisURL    string `json:"redis_url" yaml:"redis_url"`
	RedisKey    string `json:"redis_key" yaml:"redis_key"`
	PostgresDSN string `json:"postgres_dsn" yaml:"postgres_dsn"`
}

type PairingConfig struct {
	TTLSeconds           int  `json:"ttl_seconds" yaml:"ttl_seconds"`
	CodeLength           int  `json:"code_length" yaml:"code_length"`
	SingleUse            bool `json:"single_use" yaml:"single_use"`
	SweepIntervalSeconds int  `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds"`
}

type LinkingConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`
	LingerSeconds  int `json:"linger_seconds" yaml:"linger_seconds"`
	QRSize         int `json:"qr_size" yaml:"qr_size"`
}

type WebhookConfig struct {
	TimeoutSeconds   int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	UserAgent        string `json:"user_agent" yaml:"user_agent"`
	DedupeTTLSeconds int    `json:"dedupe_ttl_seconds" yaml:"dedupe_ttl_seconds"`
	DedupeSize       int    `json:"dedupe_size" yaml:"dedupe_size"`
}

type CommandsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Prefix  string `json:"prefix" yaml:"prefix"`
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	File       string `json:"file" yaml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Endpoint    string            `json:"endpoint" yaml:"endpoint"`
	Protocol    string            `json:"protocol" yaml:"protocol"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure" yaml:"insecure"`
	ServiceName string            `json:"service_name" yaml:"service_name"`
	Headers     map[string]string `json:"headers" yaml:"headers"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 disables
	Burst             int `json:"burst" yaml:"burst"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			ShutdownSeconds: 10,
		},
		Storage: StorageConfig{
			SessionsDir: "./sessions",
			DataDir:     "./data",
			RedisKey:    "walink:pairings",
		},
		Pairing: PairingConfig{
			TTLSeconds:           600,
			CodeLength:           6,
			SweepIntervalSeconds: 60,
		},
		Linking: LinkingConfig{
			TimeoutSeconds: 15,
			LingerSeconds:  180,
			QRSize:         400,
		},
		Webhook: WebhookConfig{
			TimeoutSeconds:   10,
			UserAgent:        "walink-webhook/1.0",
			DedupeTTLSeconds: 1200,
			DedupeSize:       5000,
		},
		Commands: CommandsConfig{Enabled: true, Prefix: "!"},
		Log:      LogConfig{Level: "info", Format: "text"},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "walink",
		},
		RateLimit: RateLimitConfig{Burst: 5},
	}
}

// Load builds the configuration. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := unmarshal(path, data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json5.Unmarshal(data, cfg)
	}
}

// applyEnv overlays the environment variables the deployment sets.
func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	envStr("SESSIONS_DIR", &c.Storage.SessionsDir)
	envStr("DATA_DIR", &c.Storage.DataDir)
	envStr("LOG_LEVEL", &c.Log.Level)
	envStr("WALINK_API_TOKEN", &c.Server.Token)
	envStr("REDIS_URL", &c.Storage.RedisURL)
	envStr("WALINK_POSTGRES_DSN", &c.Storage.PostgresDSN)
	return nil
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate rejects values the components cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Storage.SessionsDir == "" {
		return errors.New("storage.sessions_dir is required")
	}
	if c.Storage.RedisURL != "" && c.Storage.PostgresDSN != "" {
		return errors.New("storage.redis_url and storage.postgres_dsn are mutually exclusive")
	}
	if c.Storage.DataDir == "" && c.Storage.RedisURL == "" && c.Storage.PostgresDSN == "" {
		return errors.New("storage.data_dir is required without a redis or postgres snapshot")
	}
	if c.Pairing.CodeLength != 0 && c.Pairing.CodeLength < 6 {
		return fmt.Errorf("pairing.code_length must be at least 6, got %d", c.Pairing.CodeLength)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry.endpoint is required when telemetry is enabled")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// PairingsFile is the snapshot path used without Redis.
func (c *Config) PairingsFile() string {
	return filepath.Join(c.Storage.DataDir, "pairings.json")
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (p PairingConfig) TTL() time.Duration            { return seconds(p.TTLSeconds) }
func (p PairingConfig) SweepInterval() time.Duration  { return seconds(p.SweepIntervalSeconds) }
func (l LinkingConfig) Timeout() time.Duration        { return seconds(l.TimeoutSeconds) }
func (l LinkingConfig) Linger() time.Duration         { return seconds(l.LingerSeconds) }
func (w WebhookConfig) Timeout() time.Duration        { return seconds(w.TimeoutSeconds) }
func (w WebhookConfig) DedupeTTL() time.Duration      { return seconds(w.DedupeTTLSeconds) }
func (s ServerConfig) ShutdownTimeout() time.Duration { return seconds(s.ShutdownSeconds) }
