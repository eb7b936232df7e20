package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/reconcile"
	"github.com/nerrad567/gray-logic-access/migrations"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config failure", err)
	}
}

// TestRun_MissingGateSettings verifies the server refuses to start without
// a key set URL or an allow-list.
func TestRun_MissingGateSettings(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
site:
  id: test-site

database:
  path: "` + filepath.Join(tmpDir, "access.db") + `"

logging:
  level: info
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: 8080
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("GRAYLOGIC_CONFIG", configPath)
	t.Setenv("GRAYLOGIC_JWKS_URL", "")
	t.Setenv("GRAYLOGIC_RETENTION_KEY", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail without gate settings")
	}
	if !strings.Contains(err.Error(), "jwks_url") {
		t.Errorf("run() error = %v, want jwks_url to be reported", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")

	path := getConfigPath()
	if path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("GRAYLOGIC_CONFIG", expected)

	path := getConfigPath()
	if path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestHealthCheck_OptionalClientsDisabled verifies only the database is
// required when MQTT and InfluxDB are off.
func TestHealthCheck_OptionalClientsDisabled(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:       filepath.Join(t.TempDir(), "health.db"),
		Migrations: migrations.Server,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err := healthCheck(ctx, db, nil, nil); err != nil {
		t.Errorf("healthCheck() error = %v, want nil", err)
	}
}

// TestHealthCheck_ClosedDatabase verifies a closed database is reported.
func TestHealthCheck_ClosedDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:       filepath.Join(t.TempDir(), "closed.db"),
		Migrations: migrations.Server,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	db.Close()

	err = healthCheck(ctx, db, nil, nil)
	if err == nil {
		t.Fatal("healthCheck() should fail on a closed database")
	}
	if !strings.HasPrefix(err.Error(), "database:") {
		t.Errorf("healthCheck() error = %v, want database prefix", err)
	}
}

func TestRetentionPolicies(t *testing.T) {
	cfg := &config.Config{
		Retention: config.RetentionConfig{AuditDays: 30, AccessDays: 7},
	}

	got := retentionPolicies(cfg)
	if len(got) != 2 {
		t.Fatalf("retentionPolicies() returned %d policies, want 2", len(got))
	}
	want := map[reconcile.Class]int{reconcile.ClassAudit: 30, reconcile.ClassAccess: 7}
	for _, p := range got {
		if want[p.Class] != p.MaxAgeDays {
			t.Errorf("policy %s = %d days, want %d", p.Class, p.MaxAgeDays, want[p.Class])
		}
	}
}

func writeMigrateConfig(t *testing.T) {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "migrate.yaml")
	content := "database:\n  path: \"" + filepath.Join(tmpDir, "access.db") + "\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("GRAYLOGIC_CONFIG", configPath)
}

// TestRunMigrate_UpStatusDown walks the schema forward and back one step.
func TestRunMigrate_UpStatusDown(t *testing.T) {
	writeMigrateConfig(t)
	ctx := context.Background()

	var out strings.Builder
	if err := runMigrate(ctx, "status", &out); err != nil {
		t.Fatalf("status: %v", err)
	}
	if strings.Contains(out.String(), "applied") || !strings.Contains(out.String(), "pending") {
		t.Fatalf("fresh database status = %q, want only pending", out.String())
	}

	out.Reset()
	if err := runMigrate(ctx, "up", &out); err != nil {
		t.Fatalf("up: %v", err)
	}
	if strings.Contains(out.String(), "pending") || !strings.Contains(out.String(), "applied") {
		t.Fatalf("after up status = %q, want only applied", out.String())
	}
	appliedBefore := strings.Count(out.String(), "applied")

	out.Reset()
	if err := runMigrate(ctx, "down", &out); err != nil {
		t.Fatalf("down: %v", err)
	}
	if got := strings.Count(out.String(), "pending"); got != 1 {
		t.Errorf("after down pending lines = %d, want 1 (%q)", got, out.String())
	}
	if got := strings.Count(out.String(), "applied"); got != appliedBefore-1 {
		t.Errorf("after down applied lines = %d, want %d", got, appliedBefore-1)
	}
}

func TestRunMigrate_UnknownCommand(t *testing.T) {
	err := runMigrate(context.Background(), "sideways", io.Discard)
	if !errors.Is(err, errUnknownMigrateCommand) {
		t.Fatalf("runMigrate(sideways) error = %v, want errUnknownMigrateCommand", err)
	}
}

func TestRunMigrate_MissingDatabasePath(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(configPath, []byte("database:\n  path: \"\"\n"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("GRAYLOGIC_CONFIG", configPath)
	t.Setenv("GRAYLOGIC_DATABASE_PATH", "")

	err := runMigrate(context.Background(), "status", io.Discard)
	if err == nil || !strings.Contains(err.Error(), "database.path") {
		t.Fatalf("runMigrate() error = %v, want database.path failure", err)
	}
}
