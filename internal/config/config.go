// Package config loads service configuration.
//
// Sources are applied in order: built-in defaults, an optional YAML file,
// then STATUS_* environment variables. A .env file in the working directory
// is loaded into the environment first when present. Nested keys use a
// double underscore, e.g. STATUS_DATABASE__URL.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bissquit/status-dashboard/internal/domain"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "STATUS_"

// Config is the root configuration.
type Config struct {
	Server         ServerConfig            `koanf:"server"`
	Database       DatabaseConfig          `koanf:"database"`
	Log            LogConfig               `koanf:"log"`
	CORS           CORSConfig              `koanf:"cors"`
	Auth           AuthConfig              `koanf:"auth"`
	RateLimit      RateLimitConfig         `koanf:"rate_limit"`
	Reconciliation ReconciliationConfig    `koanf:"reconciliation"`
	Impacts        []domain.ImpactLevel    `koanf:"impacts"`
	Statuses       domain.StatusVocabulary `koanf:"statuses"`
	Availability   AvailabilityConfig      `koanf:"availability"`
	Notifications  NotificationsConfig     `koanf:"notifications"`
	Catalog        CatalogConfig           `koanf:"catalog"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	LockTimeout     time.Duration `koanf:"lock_timeout"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// AuthConfig contains bearer token settings.
type AuthConfig struct {
	SecretKey     string        `koanf:"secret_key"`
	AllowedUsers  []string      `koanf:"allowed_users"`
	TokenDuration time.Duration `koanf:"token_duration"`
}

// RateLimitConfig limits write requests per client address.
type RateLimitConfig struct {
	Enabled bool    `koanf:"enabled"`
	RPS     float64 `koanf:"rps"`
	Burst   int     `koanf:"burst"`
}

// ReconciliationConfig tunes the incident engine.
type ReconciliationConfig struct {
	MaxConflictRetries int `koanf:"max_conflict_retries"`
}

// AvailabilityConfig bounds SLA queries.
type AvailabilityConfig struct {
	DefaultMonths int `koanf:"default_months"`
	MaxMonths     int `koanf:"max_months"`
}

// NotificationsConfig selects where committed transitions are published.
type NotificationsConfig struct {
	Enabled        bool          `koanf:"enabled"`
	RedisURL       string        `koanf:"redis_url"`
	Channel        string        `koanf:"channel"`
	PublishTimeout time.Duration `koanf:"publish_timeout"`
	MaxAttempts    int           `koanf:"max_attempts"`
	QueueSize      int           `koanf:"queue_size"`
}

// CatalogConfig points at the component catalog file used by provisioning.
type CatalogConfig struct {
	File string `koanf:"file"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			RequestTimeout:    30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectAttempts: 5,
			ConnectTimeout:  60 * time.Second,
			LockTimeout:     5 * time.Second,
			MigrationsPath:  "migrations",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     20,
			Burst:   40,
		},
		Reconciliation: ReconciliationConfig{
			MaxConflictRetries: 3,
		},
		Impacts:  domain.DefaultImpactLevels(),
		Statuses: domain.DefaultStatusVocabulary(),
		Availability: AvailabilityConfig{
			DefaultMonths: 6,
			MaxMonths:     24,
		},
		Notifications: NotificationsConfig{
			Channel:        "status-dashboard:transitions",
			PublishTimeout: 2 * time.Second,
			MaxAttempts:    3,
			QueueSize:      256,
		},
		Catalog: CatalogConfig{
			File: "catalog.yaml",
		},
	}
}

// Load reads configuration from defaults, the optional file at path and the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	// Slices decode element-wise into existing values, so list defaults are
	// applied after unmarshalling.
	cfg := Default()
	cfg.Impacts = nil
	cfg.Statuses = domain.StatusVocabulary{}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyListDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyListDefaults() {
	if len(c.Impacts) == 0 {
		c.Impacts = domain.DefaultImpactLevels()
	}
	def := domain.DefaultStatusVocabulary()
	if len(c.Statuses.Incident) == 0 {
		c.Statuses.Incident = def.Incident
	}
	if len(c.Statuses.Maintenance) == 0 {
		c.Statuses.Maintenance = def.Maintenance
	}
	if len(c.Statuses.Actions) == 0 {
		c.Statuses.Actions = def.Actions
	}
}

// envKey maps STATUS_DATABASE__URL to database.url.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate checks that required settings are present and consistent.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Auth.SecretKey == "" {
		errs = append(errs, errors.New("auth.secret_key is required"))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Reconciliation.MaxConflictRetries < 0 {
		errs = append(errs, errors.New("reconciliation.max_conflict_retries must not be negative"))
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		errs = append(errs, errors.New("rate_limit.rps must be positive"))
	}
	if c.Availability.MaxMonths < 1 {
		errs = append(errs, errors.New("availability.max_months must be positive"))
	}
	if c.Availability.DefaultMonths < 1 || c.Availability.DefaultMonths > c.Availability.MaxMonths {
		errs = append(errs, errors.New("availability.default_months must be between 1 and max_months"))
	}
	if c.Notifications.Enabled && c.Notifications.RedisURL == "" {
		errs = append(errs, errors.New("notifications.redis_url is required when notifications are enabled"))
	}
	if c.Notifications.QueueSize < 1 {
		errs = append(errs, errors.New("notifications.queue_size must be positive"))
	}
	if _, err := domain.NewImpacts(c.Impacts); err != nil {
		errs = append(errs, fmt.Errorf("impacts: %w", err))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: must be json or text", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ImpactSet returns the validated impact levels.
func (c *Config) ImpactSet() domain.Impacts {
	return domain.MustImpacts(c.Impacts)
}
