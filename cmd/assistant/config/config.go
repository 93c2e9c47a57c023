// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the assistant configuration.
//
// Sources are applied in order: built-in defaults, the YAML file (created
// with defaults on first run), then environment variables. The result is
// validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultDir is the config directory under the user's home.
const DefaultDir = ".mlflow-assistant"

// DefaultFile is the config file name inside DefaultDir.
const DefaultFile = "config.yaml"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// =============================================================================
// Configuration Sections
// =============================================================================

// Config is the full assistant configuration.
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Tracking    TrackingConfig   `yaml:"tracking"`
	LLM         LLMConfig        `yaml:"llm"`
	Invitations InvitationConfig `yaml:"invitations"`
	Sessions    SessionConfig    `yaml:"sessions"`
	Influx      InfluxConfig     `yaml:"influx"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"API_PORT" validate:"min=1,max=65535"`
	GinMode         string        `yaml:"gin_mode" env:"GIN_MODE" validate:"omitempty,oneof=debug release test"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"min=0"`
}

// TrackingConfig points at the MLflow tracking server.
type TrackingConfig struct {
	URI       string        `yaml:"uri" env:"MLFLOW_TRACKING_URI" validate:"required,url"`
	Timeout   time.Duration `yaml:"timeout" env:"REQUEST_TIMEOUT" validate:"min=0"`
	RateLimit float64       `yaml:"rate_limit" env:"TRACKING_RATE_LIMIT" validate:"min=0"`
}

// LLMConfig selects the default classifier. An empty DefaultModel picks the
// provider's own default. Credentials never come from the file.
type LLMConfig struct {
	DefaultProvider string `yaml:"default_provider" env:"DEFAULT_LLM_PROVIDER" validate:"oneof=openai anthropic llama"`
	DefaultModel    string `yaml:"default_model" env:"DEFAULT_LLM_MODEL"`
	LlamaEndpoint   string `yaml:"llama_endpoint" env:"LLAMA_API_ENDPOINT" validate:"omitempty,url"`

	OpenAIAPIKey    string `yaml:"-" env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `yaml:"-" env:"ANTHROPIC_API_KEY"`
	LlamaAPIKey     string `yaml:"-" env:"LLAMA_API_KEY"`
}

// InvitationConfig configures the token store and issuance defaults.
type InvitationConfig struct {
	DBPath        string `yaml:"db_path" env:"INVITATION_DB_PATH"`
	MaxRequests   int    `yaml:"max_requests" env:"MAX_REQUESTS_PER_SESSION" validate:"min=1"`
	ExpirySeconds int    `yaml:"expiry_seconds" env:"INVITATION_EXPIRY_SECONDS" validate:"min=1"`
	Bootstrap     bool   `yaml:"bootstrap" env:"INVITATION_BOOTSTRAP"`

	AdminAPIKey string `yaml:"-" env:"ADMIN_API_KEY"`
}

// TTL returns ExpirySeconds as a duration.
func (c InvitationConfig) TTL() time.Duration {
	return time.Duration(c.ExpirySeconds) * time.Second
}

// SessionConfig configures session retention.
type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout" env:"SESSION_IDLE_TIMEOUT" validate:"min=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SESSION_SWEEP_INTERVAL" validate:"min=0"`
}

// InfluxConfig enables the usage sink when URL is set.
type InfluxConfig struct {
	URL    string `yaml:"url" env:"INFLUXDB_URL" validate:"omitempty,url"`
	Org    string `yaml:"org" env:"INFLUXDB_ORG" validate:"required_with=URL"`
	Bucket string `yaml:"bucket" env:"INFLUXDB_BUCKET" validate:"required_with=URL"`

	Token string `yaml:"-" env:"INFLUXDB_TOKEN"`
}

// TelemetryConfig selects the OpenTelemetry exporters.
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" env:"OTEL_TRACES_EXPORTER" validate:"omitempty,oneof=otlp stdout none"`
	MetricExporter string `yaml:"metric_exporter" env:"OTEL_METRICS_EXPORTER" validate:"omitempty,oneof=prometheus stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Environment    string `yaml:"environment" env:"DEPLOY_ENV"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json" env:"LOG_JSON"`
	Dir   string `yaml:"dir" env:"LOG_DIR"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            5003,
			ShutdownTimeout: 10 * time.Second,
		},
		Tracking: TrackingConfig{
			URI:     "http://127.0.0.1:5000",
			Timeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			DefaultProvider: "openai",
		},
		Invitations: InvitationConfig{
			DBPath:        filepath.Join("~", DefaultDir, "invitations"),
			MaxRequests:   10,
			ExpirySeconds: 3600,
		},
		Sessions: SessionConfig{
			SweepInterval: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// Loading
// =============================================================================

// DefaultPath returns ~/.mlflow-assistant/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultDir, DefaultFile), nil
}

// Load reads the configuration.
//
// # Description
//
// Starts from Default, writes the defaults to path when the file does not
// exist, overlays the file, then overlays environment variables. Paths
// beginning with "~" are expanded after validation.
//
// # Inputs
//
//   - path: the YAML file. Empty uses DefaultPath.
//
// # Outputs
//
//   - Config: the validated configuration.
//   - error: a read, parse or env error, or ErrInvalidConfig.
func Load(path string) (Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := writeDefault(path, cfg); err != nil {
			return Config{}, err
		}
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	cfg.Invitations.DBPath = expandHome(cfg.Invitations.DBPath)
	cfg.Logging.Dir = expandHome(cfg.Logging.Dir)
	return cfg, nil
}

var validate = validator.New()

// Validate checks the struct tags of cfg.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func writeDefault(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
