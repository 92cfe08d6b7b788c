// Package config provides Viper-based configuration loading for the game hub.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HTTPConfig holds the HTTP/WebSocket listener settings.
type HTTPConfig struct {
	// Host is the IPv4 bind address.
	Host string `mapstructure:"host"`
	// Port is the IPv4 TCP port.
	Port int `mapstructure:"port"`
	// IPv6Host is the IPv6 bind address. Empty disables the IPv6 listener.
	IPv6Host string `mapstructure:"ipv6_host"`
	// IPv6Port is the IPv6 TCP port.
	IPv6Port int `mapstructure:"ipv6_port"`
	// Mode is the gin mode: "debug", "release" or "test".
	Mode string `mapstructure:"mode"`
	// ReadHeaderTimeout bounds how long a client may take to send request headers.
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" IPv4 listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// IPv6Addr returns the bracketed "[host]:port" IPv6 listen address, or "" when disabled.
func (h HTTPConfig) IPv6Addr() string {
	if h.IPv6Host == "" {
		return ""
	}
	return net.JoinHostPort(h.IPv6Host, strconv.Itoa(h.IPv6Port))
}

// AuthConfig holds the shared bearer token accepted on protected endpoints.
type AuthConfig struct {
	Token string `mapstructure:"token"`
}

// HubConfig holds broadcast hub sizing and backpressure settings.
type HubConfig struct {
	// QueueDepth is the capacity of the hub mailbox.
	QueueDepth int `mapstructure:"queue_depth"`
	// EnqueueTimeout is how long a producer waits for mailbox space.
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
	// OutboxSize is the per-connection outbound buffer size.
	OutboxSize int `mapstructure:"outbox_size"`
}

// SessionConfig holds per-WebSocket session settings.
type SessionConfig struct {
	// ReadLimit is the maximum inbound frame size in bytes.
	ReadLimit int64 `mapstructure:"read_limit"`
	// WriteTimeout is the per-frame write deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PongWait is how long the session waits for a pong before treating the peer as gone.
	PongWait time.Duration `mapstructure:"pong_wait"`
	// PingPeriod is the interval between pings. Must be less than PongWait.
	PingPeriod time.Duration `mapstructure:"ping_period"`
	// ConnectTimeout bounds the hub registration on session start.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MessageRate is the sustained inbound messages per second allowed per session.
	MessageRate float64 `mapstructure:"message_rate"`
	// MessageBurst is the inbound burst allowance per session.
	MessageBurst int `mapstructure:"message_burst"`
}

// StorageConfig holds blob storage settings.
type StorageConfig struct {
	// BlobDir is the root directory for player and world blobs.
	BlobDir string `mapstructure:"blob_dir"`
	// MaxUploadBytes caps a single blob upload.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// LedgerConfig holds currency ledger settings.
type LedgerConfig struct {
	// Enabled mounts the ledger routes.
	Enabled bool `mapstructure:"enabled"`
	// Backend selects the store: "postgres" or "memory".
	Backend string `mapstructure:"backend"`
	// DebtLimit is the lowest balance a withdrawal or transfer may leave behind.
	DebtLimit int64 `mapstructure:"debt_limit"`
	// DefaultCurrency is created at startup when missing; empty disables it.
	DefaultCurrency string `mapstructure:"default_currency"`
}

// UsesDatabase reports whether the ledger needs a PostgreSQL connection.
func (l LedgerConfig) UsesDatabase() bool {
	return l.Enabled && l.Backend == "postgres"
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// AutoMigrate applies pending schema migrations at startup.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Config is the top-level application configuration.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Hub      HubConfig      `mapstructure:"hub"`
	Session  SessionConfig  `mapstructure:"session"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	checks := []error{
		validateHTTP(c.HTTP),
		validateAuth(c.Auth),
		validateHub(c.Hub),
		validateSession(c.Session),
		validateStorage(c.Storage),
		validateLedger(c.Ledger),
		validateLogging(c.Logging),
		validateMetrics(c.Metrics),
	}
	// The database is only dialled for the postgres ledger.
	if c.Ledger.UsesDatabase() {
		checks = append(checks, validateDatabase(c.Database))
	}
	for _, err := range checks {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be 1-65535, got %d", field, port)
	}
	return nil
}

func validateHTTP(h HTTPConfig) error {
	var errs []string
	if err := validatePort("http.port", h.Port); err != nil {
		errs = append(errs, err.Error())
	}
	if h.IPv6Host != "" {
		if err := validatePort("http.ipv6_port", h.IPv6Port); err != nil {
			errs = append(errs, err.Error())
		}
	}
	validModes := map[string]bool{"debug": true, "release": true, "test": true}
	if !validModes[h.Mode] {
		errs = append(errs, fmt.Sprintf("http.mode must be one of [debug, release, test], got %q", h.Mode))
	}
	if h.ReadHeaderTimeout < 0 {
		errs = append(errs, "http.read_header_timeout must not be negative")
	}
	if h.ShutdownTimeout <= 0 {
		errs = append(errs, "http.shutdown_timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAuth(a AuthConfig) error {
	if strings.TrimSpace(a.Token) == "" {
		return errors.New("auth.token must not be empty")
	}
	return nil
}

func validateHub(h HubConfig) error {
	var errs []string
	if h.QueueDepth < 1 {
		errs = append(errs, fmt.Sprintf("hub.queue_depth must be >= 1, got %d", h.QueueDepth))
	}
	if h.EnqueueTimeout <= 0 {
		errs = append(errs, "hub.enqueue_timeout must be positive")
	}
	if h.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("hub.outbox_size must be >= 1, got %d", h.OutboxSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSession(s SessionConfig) error {
	var errs []string
	if s.ReadLimit < 1 {
		errs = append(errs, fmt.Sprintf("session.read_limit must be >= 1, got %d", s.ReadLimit))
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "session.write_timeout must be positive")
	}
	if s.PongWait <= 0 {
		errs = append(errs, "session.pong_wait must be positive")
	}
	if s.PingPeriod <= 0 || s.PingPeriod >= s.PongWait {
		errs = append(errs, "session.ping_period must be positive and less than session.pong_wait")
	}
	if s.ConnectTimeout <= 0 {
		errs = append(errs, "session.connect_timeout must be positive")
	}
	if s.MessageRate <= 0 {
		errs = append(errs, "session.message_rate must be positive")
	}
	if s.MessageBurst < 1 {
		errs = append(errs, fmt.Sprintf("session.message_burst must be >= 1, got %d", s.MessageBurst))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateStorage(s StorageConfig) error {
	var errs []string
	if s.BlobDir == "" {
		errs = append(errs, "storage.blob_dir must not be empty")
	}
	if s.MaxUploadBytes < 1 {
		errs = append(errs, fmt.Sprintf("storage.max_upload_bytes must be >= 1, got %d", s.MaxUploadBytes))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLedger(l LedgerConfig) error {
	validBackends := map[string]bool{"postgres": true, "memory": true}
	if !validBackends[l.Backend] {
		return fmt.Errorf("ledger.backend must be one of [postgres, memory], got %q", l.Backend)
	}
	if l.DebtLimit > 0 {
		return fmt.Errorf("ledger.debt_limit must be <= 0, got %d", l.DebtLimit)
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if err := validatePort("database.port", d.Port); err != nil {
		errs = append(errs, err.Error())
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateMetrics(m MetricsConfig) error {
	if m.Enabled && !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", m.Path)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// LoadDatabase reads only the database section of the file at path, with
// defaults and environment overrides applied. The migrate tool uses it so a
// schema change never requires the rest of the server configuration.
//
// Postcondition: Returns a DatabaseConfig that passes database validation, or an error.
func LoadDatabase(path string) (DatabaseConfig, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return DatabaseConfig{}, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return DatabaseConfig{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := validateDatabase(cfg.Database); err != nil {
		return DatabaseConfig{}, err
	}
	return cfg.Database, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	// Environment variable overrides with GAMEHUB_ prefix
	v.SetEnvPrefix("GAMEHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 2000)
	v.SetDefault("http.ipv6_host", "")
	v.SetDefault("http.ipv6_port", 2000)
	v.SetDefault("http.mode", "release")
	v.SetDefault("http.read_header_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("auth.token", "")

	v.SetDefault("hub.queue_depth", 1024)
	v.SetDefault("hub.enqueue_timeout", "2s")
	v.SetDefault("hub.outbox_size", 256)

	v.SetDefault("session.read_limit", 64*1024)
	v.SetDefault("session.write_timeout", "10s")
	v.SetDefault("session.pong_wait", "60s")
	v.SetDefault("session.ping_period", "54s")
	v.SetDefault("session.connect_timeout", "5s")
	v.SetDefault("session.message_rate", 20.0)
	v.SetDefault("session.message_burst", 40)

	v.SetDefault("storage.blob_dir", "data")
	v.SetDefault("storage.max_upload_bytes", 64*1024*1024)

	v.SetDefault("ledger.enabled", false)
	v.SetDefault("ledger.backend", "postgres")
	v.SetDefault("ledger.debt_limit", -200)
	v.SetDefault("ledger.default_currency", "money")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gamehub")
	v.SetDefault("database.password", "gamehub")
	v.SetDefault("database.name", "gamehub")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
