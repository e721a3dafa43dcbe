package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Gateway.Addr != ":9090" {
		t.Fatalf("addrs = %q %q", cfg.Server.Addr, cfg.Gateway.Addr)
	}
	if cfg.Cache.AnalysisTTL != 24*time.Hour || cfg.Cache.Capacity != 512 {
		t.Fatalf("cache = %+v", cfg.Cache)
	}
	if cfg.Resolver.ProviderTimeout != 30*time.Second || cfg.Audio.AnalyzeTimeout != 90*time.Second {
		t.Fatalf("timeouts = %+v %+v", cfg.Resolver, cfg.Audio)
	}
	if cfg.OpenAI.APIKey != "" {
		t.Fatal("credentials must not have defaults")
	}
	if cfg.Server.SessionRetention != time.Hour {
		t.Fatalf("SessionRetention = %s", cfg.Server.SessionRetention)
	}
	if len(cfg.Audio.RemoteHosts) != 0 || cfg.Audio.LocalRoot != "" {
		t.Fatalf("fallback reads must be off by default: %+v", cfg.Audio)
	}
}

func TestNew_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mixify.yaml")
	content := `
server:
  addr: ":7000"
cache:
  capacity: 64
audio:
  remote_hosts: ["cdn.example.com", "media.example.com"]
gateway:
  url: "http://gw.internal"
  client_id: "mixer"
  clients:
    mixer: "s3cret"
worker:
  count: 4
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MIXIFY_OPENAI_API_KEY", "sk-test")
	t.Setenv("MIXIFY_WORKER_COUNT", "8")

	v, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":7000" || cfg.Cache.Capacity != 64 {
		t.Fatalf("file values not applied: %+v %+v", cfg.Server, cfg.Cache)
	}
	if cfg.OpenAI.APIKey != "sk-test" {
		t.Fatalf("APIKey = %q", cfg.OpenAI.APIKey)
	}
	if cfg.Worker.Count != 8 {
		t.Fatalf("environment should win over file: count = %d", cfg.Worker.Count)
	}
	if got := cfg.Audio.RemoteHosts; len(got) != 2 || got[0] != "cdn.example.com" {
		t.Fatalf("RemoteHosts = %v", got)
	}
	if cfg.Gateway.Clients["mixer"] != "s3cret" {
		t.Fatalf("clients = %v", cfg.Gateway.Clients)
	}
}

func TestNew_MissingExplicitFile(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for a missing explicit config file")
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		set     map[string]any
		wantErr string
	}{
		{name: "zero provider timeout", set: map[string]any{"resolver.provider_timeout": 0}, wantErr: "resolver.provider_timeout"},
		{name: "negative ttl", set: map[string]any{"cache.stem_ttl": -time.Second}, wantErr: "cache.stem_ttl"},
		{name: "no workers", set: map[string]any{"worker.count": 0}, wantErr: "worker.count"},
		{name: "zero capacity", set: map[string]any{"cache.capacity": 0}, wantErr: "cache.capacity"},
		{name: "client id without url", set: map[string]any{"gateway.client_id": "mixer"}, wantErr: "gateway.url"},
		{name: "zero session retention", set: map[string]any{"server.session_retention": 0}, wantErr: "server.session_retention"},
		{name: "zero ttl keeps entries", set: map[string]any{"cache.analysis_ttl": 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := Load(v)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
