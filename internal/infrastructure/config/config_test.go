package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testRetentionKey = "retention-key-at-least-32-chars-long!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
api:
  port: 9090
security:
  gate:
    jwks_url: "https://id.example.com/.well-known/jwks.json"
    issuer: "https://id.example.com"
    audience: "access-api"
    allowed_domains: ["example.com"]
scanner:
  gap_threshold_ms: 80
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if got := cfg.ScanGapThreshold(); got != 80*time.Millisecond {
		t.Errorf("ScanGapThreshold() = %v, want 80ms", got)
	}
	// Defaults survive where the file is silent.
	if cfg.Retention.AuditDays != 1825 || cfg.Retention.AccessDays != 730 {
		t.Errorf("retention defaults = %d/%d, want 1825/730", cfg.Retention.AuditDays, cfg.Retention.AccessDays)
	}
	if cfg.Scanner.Terminator != "enter" {
		t.Errorf("Scanner.Terminator = %q, want enter", cfg.Scanner.Terminator)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "test-site"
`)
	t.Setenv("GRAYLOGIC_RETENTION_KEY", testRetentionKey)
	t.Setenv("GRAYLOGIC_JWKS_URL", "https://keys.example.com/jwks")
	t.Setenv("GRAYLOGIC_STATION_TOKEN", "station-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Retention.Key != testRetentionKey {
		t.Errorf("Retention.Key not overridden from environment")
	}
	if cfg.Security.Gate.JWKSURL != "https://keys.example.com/jwks" {
		t.Errorf("Gate.JWKSURL = %q", cfg.Security.Gate.JWKSURL)
	}
	if cfg.Station.ServiceToken != "station-token" {
		t.Errorf("Station.ServiceToken not overridden from environment")
	}
}

func validServerConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.Gate = GateConfig{
		JWKSURL:             "https://id.example.com/jwks.json",
		Issuer:              "https://id.example.com",
		Audience:            "access-api",
		AllowedDomains:      []string{"example.com"},
		JWKSRefreshInterval: 3600,
	}
	cfg.Retention.Key = testRetentionKey
	return cfg
}

func TestConfig_ValidateServer(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:    "missing jwks url",
			mutate:  func(c *Config) { c.Security.Gate.JWKSURL = "" },
			wantErr: "jwks_url is required",
		},
		{
			name:    "non-http jwks url",
			mutate:  func(c *Config) { c.Security.Gate.JWKSURL = "file:///etc/keys" },
			wantErr: "http(s) URL",
		},
		{
			name: "empty allow-list",
			mutate: func(c *Config) {
				c.Security.Gate.AllowedDomains = nil
				c.Security.Gate.AllowedIdentifiers = nil
			},
			wantErr: "allowed domain or identifier",
		},
		{
			name:    "identifiers alone are enough",
			mutate:  func(c *Config) { c.Security.Gate.AllowedDomains = nil; c.Security.Gate.AllowedIdentifiers = []string{"ops@partner.org"} },
			wantErr: "",
		},
		{
			name:    "short retention key",
			mutate:  func(c *Config) { c.Retention.Key = "short" },
			wantErr: "at least 32 characters",
		},
		{
			name:    "missing retention key",
			mutate:  func(c *Config) { c.Retention.Key = "" },
			wantErr: "retention.key is required",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "influx enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validServerConfig()
			tt.mutate(cfg)
			err := cfg.ValidateServer()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateServer() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateServer() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateStation(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.ValidateStation(); err == nil {
		t.Fatal("ValidateStation() on defaults should fail")
	}

	cfg.Station.ID = "lobby-1"
	cfg.Station.ServerURL = "https://access.example.com"
	cfg.Station.ServiceToken = "token"
	cfg.Station.PublicKeyFile = "/etc/graylogic/badge.pub"
	cfg.Station.Issuer = "https://id.example.com"
	cfg.Station.Audience = "badge"
	if err := cfg.ValidateStation(); err != nil {
		t.Errorf("ValidateStation() error = %v", err)
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := APIConfig{Timeouts: APITimeoutConfig{Read: 10, Write: 20, Idle: 30}}

	if got := cfg.GetReadTimeout(); got != 10*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 10s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 20*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 20s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 30*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 30s", got)
	}
}

func TestConfig_RetentionDays(t *testing.T) {
	cfg := defaultConfig()
	days := cfg.RetentionDays()
	if days["audit"] != 1825 || days["access"] != 730 {
		t.Errorf("RetentionDays() = %v", days)
	}
}
