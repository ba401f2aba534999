package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	cliconfig "github.com/antonkrylov/livecon/internal/cli/config"
	"github.com/antonkrylov/livecon/internal/history"
	"github.com/antonkrylov/livecon/internal/scripts"
)

func TestAPIBase(t *testing.T) {
	cases := map[string]string{
		"ws://localhost:5309/ws":           "http://localhost:5309",
		"wss://console.example.com/ws":     "https://console.example.com",
		"wss://example.com/livecon/ws?x=1": "https://example.com/livecon",
	}
	for in, want := range cases {
		got, err := apiBase(in)
		if err != nil || got != want {
			t.Fatalf("apiBase(%q)=%q,%v want %q", in, got, err, want)
		}
	}
	if _, err := apiBase("http://localhost"); err == nil {
		t.Fatalf("expected error for non-websocket scheme")
	}
}

func TestAPIClientErrorsAndBodies(t *testing.T) {
	var put map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/api/overrides/staging":
			_ = json.NewDecoder(r.Body).Decode(&put)
			w.WriteHeader(http.StatusNoContent)
		case r.URL.Path == "/api/runs/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"run not found"}`))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()
	api := &apiClient{base: srv.URL, http: srv.Client()}

	if err := api.do(context.Background(), http.MethodPut, "/api/overrides/staging", map[string]string{"host": "db"}, nil); err != nil {
		t.Fatalf("put: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"host": "db"}, put); diff != "" {
		t.Fatalf("body (-want +got):\n%s", diff)
	}
	err := api.do(context.Background(), http.MethodGet, "/api/runs/missing", nil, &struct{}{})
	if err == nil || !strings.Contains(err.Error(), "run not found") {
		t.Fatalf("expected api error, got %v", err)
	}
	err = api.do(context.Background(), http.MethodGet, "/other", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "418") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestPrintRunsAndCollections(t *testing.T) {
	var out strings.Builder
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	printRuns(&out, []history.Run{{
		ID:       "r1",
		RunSpec:  history.RunSpec{Command: "exec", Path: "ops/db.yaml", Title: "Migrate"},
		Status:   history.StatusFailed,
		ExitCode: 2,
		Started:  started,
	}})
	if !strings.Contains(out.String(), "RUN ID") || !strings.Contains(out.String(), "2026-03-01T12:00:00Z") {
		t.Fatalf("runs=%q", out.String())
	}

	out.Reset()
	printCollections(&out, []scripts.Summary{{Path: "a.yaml", Title: "A", Requests: []string{"one", "two"}}},
		map[string]string{"z.yaml": "boom", "b.yaml": "bad"})
	text := out.String()
	if !strings.Contains(text, "one, two") {
		t.Fatalf("collections=%q", text)
	}
	if strings.Index(text, "invalid b.yaml") > strings.Index(text, "invalid z.yaml") {
		t.Fatalf("invalid entries not sorted: %q", text)
	}
}

func TestParseEnv(t *testing.T) {
	got, err := parseEnv([]string{"host=db", "dsn=a=b", "empty="})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff(map[string]string{"host": "db", "dsn": "a=b", "empty": ""}, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseEnv([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestSetContextMergesChangedFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	root := &rootOptions{configPath: path}

	run := func(args ...string) {
		t.Helper()
		cmd := newConfigCmd(root)
		cmd.SetArgs(args)
		cmd.SetOut(&strings.Builder{})
		cmd.SetErr(&strings.Builder{})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}
	run("set-context", "local", "--server", "ws://localhost:5309/ws", "--env", "staging", "--timeout-seconds", "4")
	run("set-context", "local", "--scope", "temp")
	run("set-context", "prod", "--server", "wss://console.example.com/ws", "--use")

	cfg, err := cliconfig.Load(path)
	if err != nil || cfg == nil {
		t.Fatalf("load: %v", err)
	}
	want := &cliconfig.Config{
		CurrentContext: "prod",
		Contexts: map[string]*cliconfig.Context{
			"local": {Server: "ws://localhost:5309/ws", Environment: "staging", Scope: "temp", TimeoutSeconds: 4},
			"prod":  {Server: "wss://console.example.com/ws"},
		},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config (-want +got):\n%s", diff)
	}

	run("use-context", "local")
	cfg, _ = cliconfig.Load(path)
	if cfg.CurrentContext != "local" {
		t.Fatalf("current=%q", cfg.CurrentContext)
	}

	cmd := newConfigCmd(root)
	cmd.SetArgs([]string{"use-context", "missing"})
	cmd.SetOut(&strings.Builder{})
	cmd.SetErr(&strings.Builder{})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected missing context error")
	}
}

func TestCancelRuns(t *testing.T) {
	var posted []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		posted = append(posted, r.URL.Path)
		switch r.URL.Path {
		case "/api/cancel":
			_, _ = w.Write([]byte(`{"canceled":["r1","r2"]}`))
		case "/api/runs/r1/cancel":
			_, _ = w.Write([]byte(`{"canceled":["r1"]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"run not found"}`))
		}
	}))
	defer srv.Close()
	api := &apiClient{base: srv.URL, http: srv.Client()}
	ctx := context.Background()

	got, err := cancelRuns(ctx, api, nil, true)
	if err != nil || !cmp.Equal([]string{"r1", "r2"}, got) {
		t.Fatalf("all: %v %v", got, err)
	}
	got, err = cancelRuns(ctx, api, []string{"r1", "gone"}, false)
	if err == nil || !strings.Contains(err.Error(), "run not found") || !cmp.Equal([]string{"r1"}, got) {
		t.Fatalf("by id: %v %v", got, err)
	}
	for _, tc := range []struct {
		ids []string
		all bool
	}{{nil, false}, {[]string{"r1"}, true}} {
		if _, err := cancelRuns(ctx, api, tc.ids, tc.all); err == nil {
			t.Fatalf("ids=%v all=%v: expected usage error", tc.ids, tc.all)
		}
	}
	want := []string{"/api/cancel", "/api/runs/r1/cancel", "/api/runs/gone/cancel"}
	if diff := cmp.Diff(want, posted); diff != "" {
		t.Fatalf("posted (-want +got):\n%s", diff)
	}
}
