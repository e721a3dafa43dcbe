package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

type audioService struct {
	calls atomic.Int32
	srv   *httptest.Server
}

func newAudioService(t *testing.T) *audioService {
	t.Helper()
	a := &audioService{}
	bpms := map[string]float64{"sc://one": 120, "sc://two": 126}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /analyze", func(w http.ResponseWriter, r *http.Request) {
		a.calls.Add(1)
		var req struct {
			TrackRef string `json:"trackRef"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		bpm, ok := bpms[req.TrackRef]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"bpm":%v,"key":"A Minor","energy":0.8,"clarity":0.7}`, bpm)
	})
	mux.HandleFunc("POST /separate", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"vocals":"svc://vocals","drums":"svc://drums"}`)
	})
	a.srv = httptest.NewServer(mux)
	t.Cleanup(a.srv.Close)
	return a
}

func writeConfig(t *testing.T, audioURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mixify.yaml")
	content := fmt.Sprintf(`
cache:
  path: %q
audio:
  url: %q
  attempts: 1
resolver:
  tick_interval: 1ms
`, filepath.Join(dir, "cache.db"), audioURL)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestAnalyzeCmd_UsesDurableCache(t *testing.T) {
	svc := newAudioService(t)
	cfg := writeConfig(t, svc.srv.URL)

	out, err := run(t, "analyze", "--config", cfg, "sc://one", "sc://two")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for _, want := range []string{"120.0", "126.0", "A Minor"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if n := svc.calls.Load(); n != 2 {
		t.Fatalf("calls = %d, want 2", n)
	}

	// A second process reads the analyses back from the SQLite tier.
	if _, err := run(t, "analyze", "--config", cfg, "sc://one"); err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	if n := svc.calls.Load(); n != 2 {
		t.Fatalf("calls = %d after cached run, want 2", n)
	}

	out, err = run(t, "cache", "clear", "--config", cfg)
	if err != nil || !strings.Contains(out, "Cleared all cache entries") {
		t.Fatalf("cache clear: %v\n%s", err, out)
	}
	if _, err := run(t, "analyze", "--config", cfg, "sc://one"); err != nil {
		t.Fatalf("analyze after clear: %v", err)
	}
	if n := svc.calls.Load(); n != 3 {
		t.Fatalf("calls = %d after clear, want 3", n)
	}
}

func TestAnalyzeCmd_Stems(t *testing.T) {
	svc := newAudioService(t)
	out, err := run(t, "analyze", "--config", writeConfig(t, svc.srv.URL), "--stems", "--quality", "high", "sc://one")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.Contains(out, "svc://vocals") {
		t.Fatalf("output missing stem:\n%s", out)
	}
}

func TestAnalyzeCmd_FallsBackLocally(t *testing.T) {
	svc := newAudioService(t)
	out, err := run(t, "analyze", "--config", writeConfig(t, svc.srv.URL), "sc://unknown")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.Contains(out, "C Major") || !strings.Contains(out, "120.0") {
		t.Fatalf("expected the local fallback analysis:\n%s", out)
	}
}

func TestCompatCmd(t *testing.T) {
	svc := newAudioService(t)
	out, err := run(t, "compat", "--config", writeConfig(t, svc.srv.URL), "sc://one", "sc://two")
	if err != nil {
		t.Fatalf("compat: %v", err)
	}
	for _, want := range []string{"1.0500", "Needs tempo adjustment"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestResolveCmd_FallbackWithoutProviders(t *testing.T) {
	svc := newAudioService(t)
	out, err := run(t, "resolve", "--config", writeConfig(t, svc.srv.URL), "sc://one", "sc://two", "smooth blend")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(out, "Source: default") || !strings.Contains(out, "crossfadeLength") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestRootCmd_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing config file", args: []string{"analyze", "--config", filepath.Join(t.TempDir(), "nope.yaml"), "sc://one"}},
		{name: "compat needs two tracks", args: []string{"compat", "sc://one"}},
		{name: "unknown command", args: []string{"remix"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoad_FlagOverridesConfig(t *testing.T) {
	opts := &rootOptions{cfgFile: writeConfig(t, "http://audio.test")}
	cmd := newServeCmd(opts)
	if err := cmd.ParseFlags([]string{"--addr", ":7777", "--workers", "6"}); err != nil {
		t.Fatal(err)
	}
	if err := opts.load(cmd); err != nil {
		t.Fatalf("load: %v", err)
	}
	if opts.cfg.Server.Addr != ":7777" || opts.cfg.Worker.Count != 6 {
		t.Fatalf("flags not applied: addr=%q workers=%d", opts.cfg.Server.Addr, opts.cfg.Worker.Count)
	}
	if opts.cfg.Audio.URL != "http://audio.test" {
		t.Fatalf("config file not applied: %q", opts.cfg.Audio.URL)
	}
}
