package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scheduler.MinCeiling != 4 || cfg.Scheduler.MaxCeiling != 16 {
		t.Errorf("unexpected ceiling bounds %+v", cfg.Scheduler)
	}
	if cfg.Controller.OptimizeInterval.Std() != 30*time.Second || cfg.Controller.Window.Std() != time.Hour {
		t.Errorf("unexpected controller cadence %+v", cfg.Controller)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: "9090"
database:
  driver: sqlite
  url: /tmp/archive.db
pool:
  size: 6
controller:
  optimize_interval: 5s
  historical_throughput: 12.5
processor:
  chunk_timeout: 45s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Database.Driver != "sqlite" || cfg.Pool.Size != 6 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Controller.OptimizeInterval.Std() != 5*time.Second || cfg.Controller.HistoricalThroughput != 12.5 {
		t.Errorf("unexpected controller %+v", cfg.Controller)
	}
	if cfg.Processor.ChunkTimeout.Std() != 45*time.Second {
		t.Errorf("expected chunk timeout 45s, got %v", cfg.Processor.ChunkTimeout.Std())
	}
	if cfg.Controller.HealthInterval.Std() != 10*time.Second {
		t.Errorf("expected unset fields to keep defaults, got %v", cfg.Controller.HealthInterval.Std())
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
[scheduler]
initial_ceiling = 10

[logging]
level = "debug"
format = "json"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scheduler.InitialCeiling != 10 || cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file:/tmp/x.db")
	t.Setenv("POOL_SIZE", "8")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != "7070" || cfg.Database.Driver != "sqlite" || cfg.Database.URL != "file:/tmp/x.db" {
		t.Errorf("unexpected overrides %+v", cfg)
	}
	if cfg.Pool.Size != 8 || cfg.Logging.Level != "warn" {
		t.Errorf("unexpected overrides %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		env     map[string]string
		want    string
	}{
		{name: "extension", file: "config.ini", content: "x=1", want: "unsupported file extension"},
		{name: "bad duration", file: "c.yaml", content: "processor:\n  chunk_timeout: soon\n", want: "parse config"},
		{name: "pool out of bounds", file: "c.yaml", content: "pool:\n  size: 40\n", want: "pool.size"},
		{name: "bad driver", file: "c.toml", content: "[database]\ndriver = \"mysql\"\n", want: "database.driver"},
		{name: "bad pool env", env: map[string]string{"POOL_SIZE": "many"}, want: "POOL_SIZE"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := ""
			if tc.file != "" {
				path = writeFile(t, tc.file, tc.content)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	out, _ := d.MarshalText()
	if string(out) != "1m30s" {
		t.Fatalf("expected 1m30s, got %s", out)
	}
}
