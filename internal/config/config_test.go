package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Host != "localhost" || cfg.Database.Port != 5432 {
		t.Errorf("Database defaults = %s:%d, want localhost:5432", cfg.Database.Host, cfg.Database.Port)
	}
	if len(cfg.Models.Execute) != 2 || cfg.Models.Execute[0] != "gemini-2.5-pro" {
		t.Errorf("Models.Execute = %v, want default gemini pair", cfg.Models.Execute)
	}
	if cfg.Models.MaxRetries != 5 || cfg.Models.RetryInitialSeconds != 1 || cfg.Models.RetryMaxSeconds != 60 {
		t.Errorf("retry defaults = %d/%d/%d, want 5/1/60",
			cfg.Models.MaxRetries, cfg.Models.RetryInitialSeconds, cfg.Models.RetryMaxSeconds)
	}
	if cfg.Execution.CleanupDelaySeconds != 5 {
		t.Errorf("CleanupDelaySeconds = %d, want 5", cfg.Execution.CleanupDelaySeconds)
	}
	if _, ok := cfg.Models.Pricing["gemini-2.5-pro"]; !ok {
		t.Error("default pricing table missing gemini-2.5-pro")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
database:
  name: bench_db
  user: bench
models:
  execute:
    - gemini-2.5-flash
    - gpt-4o-audio-preview
  pricing:
    gpt-4o-audio-preview:
      input_per_mtok: 2.5
      output_per_mtok: 10.0
execution:
  cleanup_delay_seconds: 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Name != "bench_db" {
		t.Errorf("Database.Name = %q, want bench_db", cfg.Database.Name)
	}
	if len(cfg.Models.Execute) != 2 || cfg.Models.Execute[1] != "gpt-4o-audio-preview" {
		t.Errorf("Models.Execute = %v", cfg.Models.Execute)
	}
	if p := cfg.Models.Pricing["gpt-4o-audio-preview"]; p.InputPerMTok != 2.5 {
		t.Errorf("pricing input = %v, want 2.5", p.InputPerMTok)
	}
	if cfg.Execution.CleanupDelaySeconds != 2 {
		t.Errorf("CleanupDelaySeconds = %d, want 2", cfg.Execution.CleanupDelaySeconds)
	}
	// Untouched fields still get defaults.
	if cfg.Database.SSLMode != "disable" {
		t.Errorf("Database.SSLMode = %q, want disable", cfg.Database.SSLMode)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7001")
	t.Setenv("DB_NAME", "env_db")
	t.Setenv("EXECUTION_MODELS", "claude-sonnet-4-5, gemini-2.5-pro")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 7001 {
		t.Errorf("Server.Port = %d, want 7001", cfg.Server.Port)
	}
	if cfg.Database.Name != "env_db" {
		t.Errorf("Database.Name = %q, want env_db", cfg.Database.Name)
	}
	want := []string{"claude-sonnet-4-5", "gemini-2.5-pro"}
	if len(cfg.Models.Execute) != len(want) {
		t.Fatalf("Models.Execute = %v, want %v", cfg.Models.Execute, want)
	}
	for i := range want {
		if cfg.Models.Execute[i] != want[i] {
			t.Errorf("Models.Execute[%d] = %q, want %q", i, cfg.Models.Execute[i], want[i])
		}
	}
	if !cfg.Minio.UseSSL {
		t.Error("Minio.UseSSL = false, want true")
	}
}

func TestLoadAuthValidation(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")

	if _, err := Load(""); err == nil {
		t.Fatal("Load() with auth enabled and no credentials should fail")
	}

	t.Setenv("ADMIN_USERNAME", "admin")
	t.Setenv("ADMIN_PASSWORD", "secret")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Auth.Enabled || cfg.Auth.AdminUsername != "admin" {
		t.Errorf("auth config not applied: %+v", cfg.Auth)
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	want := "host=db port=5433 user=u password=p dbname=n sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
