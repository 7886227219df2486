package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAppConfig_Defaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")

	cfg, err := LoadAppConfig("")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Expected default addr ':8080', got '%s'", cfg.Server.Addr)
	}
	if cfg.SandboxTimeout() != time.Second {
		t.Errorf("Expected 1s sandbox timeout, got %v", cfg.SandboxTimeout())
	}
	if cfg.SandboxMemoryLimit() != 8<<20 {
		t.Errorf("Expected 8MiB memory limit, got %d", cfg.SandboxMemoryLimit())
	}
	if _, ok := cfg.Providers["echo"]; !ok {
		t.Error("Expected default echo provider")
	}
}

func TestLoadAppConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promptchain.yaml")
	data := `
log_level: debug
server:
  addr: ":9000"
cache:
  backend: memory
  ttl_seconds: 60
concurrency: 4
providers:
  local:
    type: http
    base_url: http://localhost:11434
    auth:
      type: bearer
      header: Authorization
      value: $env:LOCAL_TOKEN
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvConfigPath, path)
	t.Setenv(EnvAddr, ":7000")
	t.Setenv(EnvRedisAddr, "localhost:6379")
	t.Setenv(EnvDBPath, "")

	cfg, err := LoadAppConfig("")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log level from file, got '%s'", cfg.LogLevel)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("Expected env override of addr, got '%s'", cfg.Server.Addr)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.RedisAddr != "localhost:6379" {
		t.Errorf("Expected redis cache from env, got %+v", cfg.Cache)
	}
	if cfg.CacheTTL() != time.Minute {
		t.Errorf("Expected 1m TTL, got %v", cfg.CacheTTL())
	}
	if cfg.Store.Path != "" {
		t.Errorf("Expected persistence disabled by empty env, got '%s'", cfg.Store.Path)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("Expected concurrency 4, got %d", cfg.Concurrency)
	}
	if cfg.Providers["local"].Auth.Value != "$env:LOCAL_TOKEN" {
		t.Errorf("Expected unexpanded auth reference, got '%s'", cfg.Providers["local"].Auth.Value)
	}
}

func TestAppConfig_Validate(t *testing.T) {
	cfg := DefaultAppConfig()
	cfg.Cache.Backend = "memcached"
	cfg.Providers["broken"] = ProviderConfig{Type: "http"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	for _, want := range []string{"unknown backend", "base_url is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error to mention %q, got: %v", want, err)
		}
	}
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("PC_TEST_TOKEN", "secret")

	v, err := ResolveEnv("$env:PC_TEST_TOKEN")
	if err != nil || v != "secret" {
		t.Errorf("Expected 'secret', got '%s' (%v)", v, err)
	}

	v, err = ResolveEnv("plain")
	if err != nil || v != "plain" {
		t.Errorf("Expected literal value, got '%s' (%v)", v, err)
	}

	if _, err := ResolveEnv("$env:PC_TEST_UNSET_VARIABLE"); err == nil {
		t.Error("Expected error for unset variable")
	}
}
