package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure shared by the access server
// and the badge station. Each binary validates the sections it needs with
// ValidateServer or ValidateStation after Load.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Retention RetentionConfig `yaml:"retention"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Station   StationConfig   `yaml:"station"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings for the central store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// Event publishing is optional; the server runs without a broker when
// Enabled is false.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	// MaxBatchSize caps the number of entries accepted by one batch submit.
	MaxBatchSize int `yaml:"max_batch_size"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains request gate settings.
type SecurityConfig struct {
	Gate GateConfig `yaml:"gate"`
}

// GateConfig configures bearer verification and the authorization allow-list.
type GateConfig struct {
	// JWKSURL is the issuing authority's published key set.
	JWKSURL  string `yaml:"jwks_url"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`

	// AllowedDomains grants any identifier ending in "@<domain>".
	AllowedDomains []string `yaml:"allowed_domains"`
	// AllowedIdentifiers grants exact (case-insensitive) identifier matches.
	AllowedIdentifiers []string `yaml:"allowed_identifiers"`

	// LoopbackBypass lets credential-less requests addressed to a loopback
	// host through. Development only.
	LoopbackBypass bool `yaml:"loopback_bypass"`

	// JWKSRefreshInterval is how long a fetched key set is trusted (seconds).
	JWKSRefreshInterval int `yaml:"jwks_refresh_interval"`
	// JWKSFetchTimeout bounds a single key set fetch (seconds).
	JWKSFetchTimeout int `yaml:"jwks_fetch_timeout"`
	// JWKSMinRefreshGap rate-limits refreshes triggered by unknown key ids (seconds).
	JWKSMinRefreshGap int `yaml:"jwks_min_refresh_gap"`
}

// RetentionConfig contains retention purge settings.
type RetentionConfig struct {
	// Key authorises the maintenance purge endpoint.
	Key        string `yaml:"key"`
	AuditDays  int    `yaml:"audit_days"`
	AccessDays int    `yaml:"access_days"`
	// PruneIntervalHours runs the purge in-process. 0 disables the pruner.
	PruneIntervalHours int `yaml:"prune_interval_hours"`
}

// ScannerConfig tunes the keystroke disambiguation heuristic.
type ScannerConfig struct {
	GapThresholdMs int    `yaml:"gap_threshold_ms"`
	Terminator     string `yaml:"terminator"`
}

// StationConfig contains badge station settings.
type StationConfig struct {
	ID            string `yaml:"id"`
	ServerURL     string `yaml:"server_url"`
	ServiceToken  string `yaml:"service_token"`
	PublicKeyFile string `yaml:"public_key_file"`
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
	OutboxPath    string `yaml:"outbox_path"`
	// ShipInterval is the delay between outbox shipping cycles (seconds).
	ShipInterval int `yaml:"ship_interval"`
	BatchSize    int `yaml:"batch_size"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic Access",
		},
		Database: DatabaseConfig{
			Path:        "./data/access.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-access",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			MaxBatchSize: 1000,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			Gate: GateConfig{
				JWKSRefreshInterval: 3600,
				JWKSFetchTimeout:    5,
				JWKSMinRefreshGap:   30,
			},
		},
		Retention: RetentionConfig{
			AuditDays:          1825,
			AccessDays:         730,
			PruneIntervalHours: 24,
		},
		Scanner: ScannerConfig{
			GapThresholdMs: 100,
			Terminator:     "enter",
		},
		Station: StationConfig{
			OutboxPath:   "./data/station-outbox.db",
			ShipInterval: 30,
			BatchSize:    200,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Secrets are expected to arrive this way rather than in the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("GRAYLOGIC_JWKS_URL"); v != "" {
		cfg.Security.Gate.JWKSURL = v
	}
	if v := os.Getenv("GRAYLOGIC_RETENTION_KEY"); v != "" {
		cfg.Retention.Key = v
	}
	if v := os.Getenv("GRAYLOGIC_STATION_TOKEN"); v != "" {
		cfg.Station.ServiceToken = v
	}
}

// Validate checks settings common to both binaries.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Scanner.GapThresholdMs <= 0 {
		errs = append(errs, "scanner.gap_threshold_ms must be positive")
	}
	if c.Scanner.Terminator == "" {
		errs = append(errs, "scanner.terminator is required")
	}

	return joinErrors(errs)
}

// minRetentionKeyLength keeps the purge key out of brute-force range.
const minRetentionKeyLength = 32

// ValidateServer checks the sections the access server depends on.
func (c *Config) ValidateServer() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.MaxBatchSize < 1 {
		errs = append(errs, "api.max_batch_size must be positive")
	}

	g := c.Security.Gate
	if g.JWKSURL == "" {
		errs = append(errs, "security.gate.jwks_url is required (set GRAYLOGIC_JWKS_URL environment variable)")
	} else if u, err := url.Parse(g.JWKSURL); err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		errs = append(errs, "security.gate.jwks_url must be an http(s) URL")
	}
	if g.Issuer == "" {
		errs = append(errs, "security.gate.issuer is required")
	}
	if g.Audience == "" {
		errs = append(errs, "security.gate.audience is required")
	}
	if len(g.AllowedDomains) == 0 && len(g.AllowedIdentifiers) == 0 {
		errs = append(errs, "security.gate requires at least one allowed domain or identifier")
	}
	if g.JWKSRefreshInterval <= 0 {
		errs = append(errs, "security.gate.jwks_refresh_interval must be positive")
	}

	if c.Retention.Key == "" {
		errs = append(errs, "retention.key is required (set GRAYLOGIC_RETENTION_KEY environment variable)")
	} else if len(c.Retention.Key) < minRetentionKeyLength {
		errs = append(errs, "retention.key must be at least 32 characters")
	}
	if c.Retention.AuditDays <= 0 || c.Retention.AccessDays <= 0 {
		errs = append(errs, "retention.audit_days and retention.access_days must be positive")
	}
	if c.Retention.PruneIntervalHours < 0 {
		errs = append(errs, "retention.prune_interval_hours cannot be negative")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	return joinErrors(errs)
}

// ValidateStation checks the sections the badge station depends on.
func (c *Config) ValidateStation() error {
	var errs []string

	s := c.Station
	if s.ID == "" {
		errs = append(errs, "station.id is required")
	}
	if s.ServerURL == "" {
		errs = append(errs, "station.server_url is required")
	}
	if s.ServiceToken == "" {
		errs = append(errs, "station.service_token is required (set GRAYLOGIC_STATION_TOKEN environment variable)")
	}
	if s.PublicKeyFile == "" {
		errs = append(errs, "station.public_key_file is required")
	}
	if s.Issuer == "" || s.Audience == "" {
		errs = append(errs, "station.issuer and station.audience are required")
	}
	if s.OutboxPath == "" {
		errs = append(errs, "station.outbox_path is required")
	}
	if s.ShipInterval <= 0 {
		errs = append(errs, "station.ship_interval must be positive")
	}
	if s.BatchSize <= 0 {
		errs = append(errs, "station.batch_size must be positive")
	}

	return joinErrors(errs)
}

func joinErrors(errs []string) error {
	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}

// ScanGapThreshold returns the disambiguator gap threshold as a Duration.
func (c *Config) ScanGapThreshold() time.Duration {
	return time.Duration(c.Scanner.GapThresholdMs) * time.Millisecond
}

// RetentionDays returns the configured maximum age per record class.
func (c *Config) RetentionDays() map[string]int {
	return map[string]int{
		"audit":  c.Retention.AuditDays,
		"access": c.Retention.AccessDays,
	}
}
