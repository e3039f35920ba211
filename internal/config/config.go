package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Limiter type identifiers accepted in limiter definitions.
const (
	// UserLimiterType selects a per-user limiter.
	UserLimiterType = "user_limiter"
	// ClusterLimiterType selects a deployment-wide limiter.
	ClusterLimiterType = "cluster_limiter"
)

const (
	defaultConfigPath      = "config.yaml"
	defaultListenPort      = 8080
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "prefer"
	defaultSchedulerPeriod = 1
	defaultUserIDHeader    = "X-User-ID"
	defaultLogLevel        = "info"
	defaultLogMaxSizeMB    = 100
	defaultLogMaxBackups   = 5
	defaultLogMaxAgeDays   = 30
	configPathEnvKey       = "QUOTA_CONFIG_PATH"
)

// periodPattern matches interval literals both SQL dialects understand, e.g. "5 days" or "1 hour".
var periodPattern = regexp.MustCompile(`^\s*\d+\s+(second|minute|hour|day|month|year)s?\s*$`)

// AppConfig holds process-level options resolved from flags.
type AppConfig struct {
	ConfigPath string
}

// Config is the root of the YAML configuration file.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Auth          AuthConfig          `yaml:"auth"`
	QuotaHandlers QuotaHandlersConfig `yaml:"quota_handlers"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"` // Listen host; empty binds all interfaces.
	Port int    `yaml:"port"` // Listen port.
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures logrus output.
type LoggingConfig struct {
	Level      string `yaml:"level"`        // logrus level name.
	File       string `yaml:"file"`         // Optional log file; stdout when empty.
	MaxSizeMB  int    `yaml:"max_size_mb"`  // Rotation size threshold.
	MaxBackups int    `yaml:"max_backups"`  // Rotated files kept.
	MaxAgeDays int    `yaml:"max_age_days"` // Rotated file retention.
	JSON       bool   `yaml:"json"`         // Use the JSON formatter.
}

// AuthConfig configures how the caller's subject identifier is resolved.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`     // HS256 secret; enables bearer token resolution.
	UserIDHeader string `yaml:"user_id_header"` // Header used when no JWT secret is configured.
}

// QuotaHandlersConfig configures storage, limiters and the replenishment scheduler.
type QuotaHandlersConfig struct {
	SQLite             *SQLiteConfig   `yaml:"sqlite"`
	Postgres           *PostgresConfig `yaml:"postgres"`
	Limiters           []LimiterConfig `yaml:"limiters"`
	Scheduler          SchedulerConfig `yaml:"scheduler"`
	EnableTokenHistory bool            `yaml:"enable_token_history"`
}

// StorageConfigured reports whether any storage backend is selected.
func (q QuotaHandlersConfig) StorageConfigured() bool {
	return q.SQLite != nil || q.Postgres != nil
}

// Storage returns the storage selection.
func (q QuotaHandlersConfig) Storage() StorageConfig {
	return StorageConfig{SQLite: q.SQLite, Postgres: q.Postgres}
}

// StorageConfig selects exactly one quota storage backend.
type StorageConfig struct {
	SQLite   *SQLiteConfig
	Postgres *PostgresConfig
}

// SQLiteConfig configures the embedded single-file backend.
type SQLiteConfig struct {
	DBPath string `yaml:"db_path"` // Database file path or sqlite DSN.
}

// PostgresConfig configures the networked backend.
type PostgresConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	DB         string `yaml:"db"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Namespace  string `yaml:"namespace"`    // Schema placed on search_path.
	SSLMode    string `yaml:"ssl_mode"`     // libpq sslmode.
	CACertPath string `yaml:"ca_cert_path"` // Root certificate for verify-ca / verify-full.
}

// DSN renders the connection string understood by pgx.
func (p PostgresConfig) DSN() string {
	parts := []string{
		"host=" + quoteDSNValue(p.Host),
		fmt.Sprintf("port=%d", p.Port),
		"dbname=" + quoteDSNValue(p.DB),
		"user=" + quoteDSNValue(p.User),
	}
	if p.Password != "" {
		parts = append(parts, "password="+quoteDSNValue(p.Password))
	}
	if p.SSLMode != "" {
		parts = append(parts, "sslmode="+quoteDSNValue(p.SSLMode))
	}
	if p.CACertPath != "" {
		parts = append(parts, "sslrootcert="+quoteDSNValue(p.CACertPath))
	}
	if p.Namespace != "" {
		parts = append(parts, "search_path="+quoteDSNValue(p.Namespace))
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// LimiterConfig defines one quota limiter.
type LimiterConfig struct {
	Name          string `yaml:"name"`
	Type          string `yaml:"type"`           // user_limiter or cluster_limiter.
	InitialQuota  int64  `yaml:"initial_quota"`  // Quota assigned on first sight and on reset.
	QuotaIncrease *int64 `yaml:"quota_increase"` // Amount added per elapsed period; nil disables increases.
	Period        string `yaml:"period"`         // Replenishment window, e.g. "1 day".
}

// IncreaseBy returns the configured increase or zero.
func (l LimiterConfig) IncreaseBy() int64 {
	if l.QuotaIncrease == nil {
		return 0
	}
	return *l.QuotaIncrease
}

// SchedulerConfig configures the replenishment loop.
type SchedulerConfig struct {
	Period int `yaml:"period"` // Wake interval in seconds.
}

// ResolveConfigPath picks the config path from the flag, the environment, or the default.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return filepath.Clean(trimmed)
	}
	if env := strings.TrimSpace(os.Getenv(configPathEnvKey)); env != "" {
		return filepath.Clean(env)
	}
	return defaultConfigPath
}

// Load reads, defaults and validates the YAML configuration file.
func Load(path string) (Config, error) {
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, errRead)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates YAML configuration bytes.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return Config{}, fmt.Errorf("config: decode: %w", errUnmarshal)
	}
	cfg.ApplyDefaults()
	if errValidate := cfg.Validate(); errValidate != nil {
		return Config{}, errValidate
	}
	return cfg, nil
}

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = defaultListenPort
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = defaultLogMaxBackups
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = defaultLogMaxAgeDays
	}
	if strings.TrimSpace(c.Auth.UserIDHeader) == "" {
		c.Auth.UserIDHeader = defaultUserIDHeader
	}
	c.QuotaHandlers.ApplyDefaults()
}

// ApplyDefaults fills unset optional quota fields.
func (q *QuotaHandlersConfig) ApplyDefaults() {
	if q.Scheduler.Period <= 0 {
		q.Scheduler.Period = defaultSchedulerPeriod
	}
	if q.Postgres != nil {
		if q.Postgres.Port == 0 {
			q.Postgres.Port = defaultPostgresPort
		}
		if strings.TrimSpace(q.Postgres.SSLMode) == "" {
			q.Postgres.SSLMode = defaultPostgresSSLMode
		}
	}
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port out of range: %d", c.Server.Port)
	}
	return c.QuotaHandlers.Validate()
}

// Validate checks storage selection and limiter definitions.
func (q QuotaHandlersConfig) Validate() error {
	if errStorage := q.Storage().Validate(); errStorage != nil && !errors.Is(errStorage, ErrNoStorage) {
		return errStorage
	}
	if q.Scheduler.Period < 0 {
		return fmt.Errorf("config: quota_handlers.scheduler.period must be positive: %d", q.Scheduler.Period)
	}
	for i, limiter := range q.Limiters {
		if errLimiter := limiter.Validate(); errLimiter != nil {
			return fmt.Errorf("config: quota_handlers.limiters[%d]: %w", i, errLimiter)
		}
	}
	return nil
}

// ErrNoStorage indicates no quota storage backend is configured.
var ErrNoStorage = errors.New("config: no quota storage configured")

// Validate requires exactly one backend.
func (s StorageConfig) Validate() error {
	switch {
	case s.SQLite == nil && s.Postgres == nil:
		return ErrNoStorage
	case s.SQLite != nil && s.Postgres != nil:
		return errors.New("config: both sqlite and postgres quota storage configured")
	case s.SQLite != nil && strings.TrimSpace(s.SQLite.DBPath) == "":
		return errors.New("config: sqlite.db_path is required")
	case s.Postgres != nil && strings.TrimSpace(s.Postgres.Host) == "":
		return errors.New("config: postgres.host is required")
	case s.Postgres != nil && strings.TrimSpace(s.Postgres.DB) == "":
		return errors.New("config: postgres.db is required")
	}
	return nil
}

// Validate checks a limiter definition.
func (l LimiterConfig) Validate() error {
	switch l.Type {
	case UserLimiterType, ClusterLimiterType:
	default:
		return fmt.Errorf("invalid limiter type %q", l.Type)
	}
	if l.InitialQuota < 0 {
		return fmt.Errorf("initial_quota must not be negative: %d", l.InitialQuota)
	}
	if l.QuotaIncrease != nil && *l.QuotaIncrease < 0 {
		return fmt.Errorf("quota_increase must not be negative: %d", *l.QuotaIncrease)
	}
	if !ValidPeriod(l.Period) {
		return fmt.Errorf("invalid period %q", l.Period)
	}
	return nil
}

// ValidPeriod reports whether period is an interval literal accepted by both backends.
func ValidPeriod(period string) bool {
	return periodPattern.MatchString(period)
}
