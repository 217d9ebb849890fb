package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	tracing "github.com/mamasecure/scanstore/internal/observability"
	"github.com/mamasecure/scanstore/pkg/classify"
	"github.com/mamasecure/scanstore/pkg/session"
	"gopkg.in/yaml.v3"
)

// MaxConfigSize is the largest config file LoadConfig accepts.
const MaxConfigSize = 1 << 20

// Config represents the application configuration
type Config struct {
	// User is the identity used by the shell and one-shot commands.
	// Empty means the guest namespace.
	User string `yaml:"user"`

	Storage    session.Config  `yaml:"storage"`
	Classifier classify.Config `yaml:"classifier"`
	Server     ServerConfig    `yaml:"server"`
	Tracing    tracing.Config  `yaml:"tracing"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`

	// MetricsPort serves /health and /metrics. Zero disables the listener.
	MetricsPort int `yaml:"metrics_port"`

	// HealthSchedule is a cron spec for the background health refresh.
	HealthSchedule string `yaml:"health_schedule"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// ScanRatePerSecond limits scan submissions per namespace. Zero
	// disables the limit.
	ScanRatePerSecond float64 `yaml:"scan_rate_per_second"`
	ScanBurst         int     `yaml:"scan_burst"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Storage: session.DefaultConfig(),
		Tracing: tracing.Config{Exporter: "none"},
	}
	cfg.applyDefaults()
	return cfg
}

// LoadDotEnv loads variables from .env files into the process environment.
// Variables already set are not overridden and missing files are ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			log.Printf("[Config] WARNING: failed to load %s: %v", p, err)
		}
	}
}

// LoadConfig loads configuration from a YAML file. Defaults are applied for
// missing values and secrets fall back to the environment.
func LoadConfig(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if info.Size() > MaxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

// FromEnv returns the defaults overlaid with environment variables.
func FromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Classifier.Kind == "" {
		c.Classifier.Kind = "heuristic"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = tracing.DefaultServiceName
	}
}

// applyEnv fills unset values from the environment. SCANSTORE_STORAGE,
// SCANSTORE_CLASSIFIER, HTTP_PORT and OTEL_TRACES_EXPORTER override the file.
func (c *Config) applyEnv() {
	setIfSet(&c.Storage.Backend, "SCANSTORE_STORAGE")
	setIfSet(&c.Classifier.Kind, "SCANSTORE_CLASSIFIER")

	setIfEmpty(&c.User, "SCANSTORE_USER")
	setIfEmpty(&c.Storage.BaseDir, "SCANSTORE_DIR")
	setIfEmpty(&c.Storage.Redis.Addr, "REDIS_ADDR")
	setIfEmpty(&c.Storage.Redis.Password, "REDIS_PASSWORD")
	setIfEmpty(&c.Storage.Firestore.ProjectID, "GCP_PROJECT")
	setIfEmpty(&c.Storage.Firestore.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")

	if c.Classifier.APIKey == "" {
		switch c.Classifier.Kind {
		case "openai":
			c.Classifier.APIKey = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			c.Classifier.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	setIfEmpty(&c.Classifier.Project, "GOOGLE_CLOUD_PROJECT")
	setIfEmpty(&c.Classifier.Region, "AWS_REGION")

	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.HTTPPort = port
		} else {
			log.Printf("[Config] WARNING: ignoring invalid HTTP_PORT %q", v)
		}
	}
	setIfSet(&c.Tracing.Exporter, "OTEL_TRACES_EXPORTER")
	setIfEmpty(&c.Tracing.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file", "memory", "sqlite":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
	case "firestore":
		if c.Storage.Firestore.ProjectID == "" {
			return fmt.Errorf("storage.firestore.project_id is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}

	switch c.Classifier.Kind {
	case "heuristic", "bedrock":
	case "openai":
		if c.Classifier.APIKey == "" {
			return fmt.Errorf("classifier.api_key or OPENAI_API_KEY is required for the openai classifier")
		}
	case "gemini":
		if c.Classifier.APIKey == "" && c.Classifier.Project == "" {
			return fmt.Errorf("classifier.api_key or classifier.project is required for the gemini classifier")
		}
	default:
		return fmt.Errorf("unknown classifier kind: %s", c.Classifier.Kind)
	}

	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("server.metrics_port out of range: %d", c.Server.MetricsPort)
	}
	if c.Server.ScanRatePerSecond < 0 {
		return fmt.Errorf("server.scan_rate_per_second must not be negative")
	}
	return nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func setIfSet(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setIfEmpty(dst *string, key string) {
	if *dst == "" {
		*dst = os.Getenv(key)
	}
}
