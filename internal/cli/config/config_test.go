package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope"))
	if err != nil || cfg != nil {
		t.Fatalf("cfg=%v err=%v", cfg, err)
	}
}

func TestSaveLoadResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config")
	cfg := &Config{}
	if err := cfg.SetContext("local", &Context{Server: "ws://localhost:5309/ws", TimeoutSeconds: 3, Environment: "staging"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := cfg.SetContext("prod", &Context{Server: "wss://console.example.com/ws", Scope: "temp", Reconnect: true}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.CurrentContext != "local" {
		t.Fatalf("first context should become current, got %q", cfg.CurrentContext)
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Fatalf("roundtrip (-want +got):\n%s", diff)
	}

	ctx, name, err := loaded.Resolve("")
	if err != nil || name != "local" || ctx.TimeoutSeconds != 3 {
		t.Fatalf("resolve current: %v %q %+v", err, name, ctx)
	}
	ctx, _, err = loaded.Resolve("prod")
	if err != nil || !ctx.Reconnect || ctx.Scope != "temp" {
		t.Fatalf("resolve prod: %v %+v", err, ctx)
	}
	if _, _, err := loaded.Resolve("missing"); !errors.Is(err, ErrContextNotFound) {
		t.Fatalf("expected ErrContextNotFound, got %v", err)
	}
	if err := loaded.UseContext("missing"); !errors.Is(err, ErrContextNotFound) {
		t.Fatalf("expected ErrContextNotFound, got %v", err)
	}
	if err := loaded.UseContext("prod"); err != nil || loaded.CurrentContext != "prod" {
		t.Fatalf("use prod: %v", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte("contexts: [unclosed"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadServerDefaultsAndOverrides(t *testing.T) {
	cfg, err := LoadServer("")
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if cfg.Listen != "localhost:5309" || cfg.Engine.Default != "starlark" || cfg.DefaultEnvironment != "staging" {
		t.Fatalf("defaults=%+v", cfg)
	}

	path := filepath.Join(t.TempDir(), "server.yaml")
	body := `
listen: ":7000"
catalogRoot: /srv/scripts
readonly: true
environment:
  staging:
    host: staging.internal
engine:
  default: command
  interpreter: [bash, -s]
  pty: true
jetstream:
  url: nats://127.0.0.1:4222
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = LoadServer(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":7000" || cfg.CatalogRoot != "/srv/scripts" || !cfg.Engine.PTY || !cfg.ReadOnly {
		t.Fatalf("cfg=%+v", cfg)
	}
	if diff := cmp.Diff([]string{"bash", "-s"}, cfg.Engine.Interpreter); diff != "" {
		t.Fatalf("interpreter (-want +got):\n%s", diff)
	}
	if cfg.Environment["staging"]["host"] != "staging.internal" {
		t.Fatalf("environment=%v", cfg.Environment)
	}
	if cfg.JetStream == nil || cfg.JetStream.URL != "nats://127.0.0.1:4222" {
		t.Fatalf("jetstream=%+v", cfg.JetStream)
	}
}

func TestLoadFillsBareContextsAndRejectsNegativeTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	body := "currentContext: local\ncontexts:\n  local:\n  prod:\n    server: wss://console.example.com/ws\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff([]string{"local", "prod"}, cfg.Names()); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
	ctx, name, err := cfg.Resolve("")
	if err != nil || name != "local" || ctx == nil || ctx.Timeout() != 0 {
		t.Fatalf("resolve: %+v %q %v", ctx, name, err)
	}

	bad := filepath.Join(dir, "bad")
	if err := os.WriteFile(bad, []byte("contexts:\n  x:\n    timeoutSeconds: -1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected negative timeout error")
	}
	if err := (&Config{}).SetContext("x", &Context{TimeoutSeconds: -2}); err == nil {
		t.Fatalf("expected SetContext to reject negative timeout")
	}
}

func TestSaveReplacesFileAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	cfg := &Config{}
	_ = cfg.SetContext("a", &Context{Server: "ws://a/ws", TimeoutSeconds: 7})
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = cfg.SetContext("b", &Context{Server: "ws://b/ws"})
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save again: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || entries[0].Name() != "config" {
		t.Fatalf("entries=%v err=%v", entries, err)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%v", info.Mode())
	}
	loaded, err := Load(path)
	if err != nil || len(loaded.Contexts) != 2 || loaded.Contexts["a"].Timeout() != 7*time.Second {
		t.Fatalf("loaded=%+v err=%v", loaded, err)
	}
	if err := (*Config)(nil).Save(path); err == nil {
		t.Fatalf("expected error saving nil config")
	}
}
