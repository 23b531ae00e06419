package config

import (
	"testing"
)

// memBackend is an in-memory Backend for tests.
type memBackend struct {
	data map[string]any
}

func (b *memBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (b *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	i, _ := v.(int)
	return i, true, nil
}

func (b *memBackend) SetString(key, val string) error { b.data[key] = val; return nil }
func (b *memBackend) SetInt(key string, val int) error { b.data[key] = val; return nil }
func (b *memBackend) Delete(key string) error          { delete(b.data, key); return nil }

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MNEMO_API_TOKEN", "secret")

	cfg, err := loadWith(&memBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 4600 || cfg.Server.MCPPort != 4601 {
		t.Errorf("ports = %d/%d", cfg.Server.Port, cfg.Server.MCPPort)
	}
	if cfg.Engine.BaseURL != "http://localhost:11434" {
		t.Errorf("engine base url = %q", cfg.Engine.BaseURL)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoad_BackendOverridesDefaults(t *testing.T) {
	t.Setenv("MNEMO_API_TOKEN", "secret")

	cfg, err := loadWith(&memBackend{data: map[string]any{
		"server.port":     5000,
		"engine.model":    "mistral-nemo",
		"memory.root_dir": "/srv/memories",
	}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Engine.Model != "mistral-nemo" {
		t.Errorf("model = %q", cfg.Engine.Model)
	}
	if cfg.Memory.RootDir != "/srv/memories" {
		t.Errorf("root dir = %q", cfg.Memory.RootDir)
	}
}

func TestLoad_EnvOverridesBackend(t *testing.T) {
	t.Setenv("MNEMO_API_TOKEN", "secret")
	t.Setenv("MNEMO_SERVER_PORT", "6000")

	cfg, err := loadWith(&memBackend{data: map[string]any{"server.port": 5000}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("port = %d, want env override 6000", cfg.Server.Port)
	}
}

func TestLoad_MissingToken(t *testing.T) {
	t.Setenv("MNEMO_API_TOKEN", "")

	if _, err := loadWith(&memBackend{data: map[string]any{}}); err == nil {
		t.Fatal("expected error for missing API token")
	}
}

func TestSetKey_RejectsSecret(t *testing.T) {
	if err := SetKey("server.api_token", "x"); err == nil {
		t.Fatal("expected error when setting a secret key")
	}
}

func TestValidKeys_ExcludesSecrets(t *testing.T) {
	for _, key := range ValidKeys() {
		if key == "server.api_token" {
			t.Fatal("secret key listed in ValidKeys")
		}
	}
}
