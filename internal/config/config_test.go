package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  request_timeout: 15s
  allowed_origins:
    - http://localhost:3000
    - https://boxoracle.example

engine:
  method: exact
  max_lattice: 50000

storage:
  driver: sqlite
  db_path: "./data/test.db"
  max_history: 200
  history_retention: 48h

telegram:
  bot_token: "test_token"
  chat_id: "12345"
  enabled: true

logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Server.RequestTimeout != 15*time.Second {
		t.Errorf("Unexpected request timeout: %v", cfg.Server.RequestTimeout)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("Default read timeout not applied: %v", cfg.Server.ReadTimeout)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Errorf("Expected 2 allowed origins, got %d", len(cfg.Server.AllowedOrigins))
	}
	if cfg.Engine.Method != "exact" || cfg.Engine.MaxLattice != 50000 {
		t.Errorf("Unexpected engine config: %+v", cfg.Engine)
	}
	if cfg.Storage.MaxHistory != 200 {
		t.Errorf("Unexpected max history: %d", cfg.Storage.MaxHistory)
	}
	if cfg.Storage.HistoryRetention != 48*time.Hour {
		t.Errorf("Unexpected history retention: %v", cfg.Storage.HistoryRetention)
	}
	if cfg.Telegram.MaxRetries != 3 || cfg.Telegram.RetryDelayBase != time.Second {
		t.Errorf("Telegram retry defaults not applied: %+v", cfg.Telegram)
	}
	if cfg.Redis.Stream != "calculations.completed" {
		t.Errorf("Unexpected redis stream: %s", cfg.Redis.Stream)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.Method != "normal" || cfg.Storage.Driver != "sqlite" {
		t.Errorf("Unexpected defaults: engine=%+v storage=%+v", cfg.Engine, cfg.Storage)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BOXORACLE_ENGINE_METHOD", "exact")
	t.Setenv("BOXORACLE_STORAGE_MAX_HISTORY", "42")

	cfg, err := Load(writeConfig(t, "logging:\n  level: warn\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.Method != "exact" {
		t.Errorf("Env override ignored: method=%s", cfg.Engine.Method)
	}
	if cfg.Storage.MaxHistory != 42 {
		t.Errorf("Env override ignored: max_history=%d", cfg.Storage.MaxHistory)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("File value lost: level=%s", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Engine:  EngineConfig{Method: "normal", MaxLattice: 200000},
		Storage: StorageConfig{Driver: "sqlite", MaxHistory: 1000, HistoryRetention: 720 * time.Hour},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing telegram token when enabled", func(c *Config) { c.Telegram.Enabled = true; c.Telegram.ChatID = "1" }, true},
		{"missing telegram chat when enabled", func(c *Config) { c.Telegram.Enabled = true; c.Telegram.BotToken = "t" }, true},
		{"unknown engine method", func(c *Config) { c.Engine.Method = "monte-carlo" }, true},
		{"zero lattice", func(c *Config) { c.Engine.MaxLattice = 0 }, true},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, true},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, true},
		{"postgres with dsn", func(c *Config) { c.Storage.Driver = "postgres"; c.Storage.DSN = "postgres://localhost/boxoracle" }, false},
		{"zero history", func(c *Config) { c.Storage.MaxHistory = 0 }, true},
		{"short retention", func(c *Config) { c.Storage.HistoryRetention = time.Minute }, true},
		{"redis without stream", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "localhost:6379" }, true},
		{"short request timeout", func(c *Config) { c.Server.RequestTimeout = time.Millisecond }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
