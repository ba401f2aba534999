package scripts

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleCollection = `
title: Accounts
environment:
  staging:
    host: staging.internal
    user: alice
  prod:
    host: prod.internal
requests:
  - title: Ping
    script: |
      print("ping {{.host}} as {{.user}}")
  - title: Shell
    engine: command
    script: echo {{.host}}
`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestCatalogLoadAndPrepare(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "team", "accounts.yaml"), sampleCollection)
	cat := Catalog{Root: root}

	coll, err := cat.Load("team%2Faccounts.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if coll.Path != "team/accounts.yaml" || coll.Title != "Accounts" {
		t.Fatalf("collection=%+v", coll)
	}
	if diff := cmp.Diff([]string{"Ping", "Shell"}, coll.Titles()); diff != "" {
		t.Fatalf("titles (-want +got):\n%s", diff)
	}

	p, err := Prepare(coll, "Ping", "staging", map[string]string{"user": "server"}, map[string]string{"host": "override.internal"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if want := "print(\"ping override.internal as server\")\n"; p.Script != want {
		t.Fatalf("script=%q want %q", p.Script, want)
	}
	if p.Env["host"] != "override.internal" || p.Env["user"] != "server" {
		t.Fatalf("env=%v", p.Env)
	}
	if coll.Environment["staging"]["host"] != "staging.internal" {
		t.Fatalf("prepare mutated the collection environment")
	}

	shell, err := Prepare(coll, "Shell", "prod", nil, nil)
	if err != nil {
		t.Fatalf("prepare shell: %v", err)
	}
	if shell.Request.Engine != "command" || shell.Script != "echo prod.internal" {
		t.Fatalf("shell=%+v", shell)
	}
}

func TestPrepareErrors(t *testing.T) {
	coll, err := ParseCollection([]byte(sampleCollection))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	coll.Path = "accounts.yaml"
	if _, err := Prepare(coll, "Nope", "staging", nil, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing request: %v", err)
	}
	if _, err := Prepare(coll, "Ping", "qa", nil, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing environment: %v", err)
	}
	coll.Requests = append(coll.Requests, Request{Title: "Broken", Script: "{{.host"})
	if _, err := Prepare(coll, "Broken", "staging", nil, nil); err == nil || !strings.Contains(err.Error(), "prepare Broken") {
		t.Fatalf("template error: %v", err)
	}
}

func TestParseCollectionRejectsDuplicates(t *testing.T) {
	body := "title: x\nrequests:\n  - title: a\n    script: one\n  - title: a\n    script: two\n"
	if _, err := ParseCollection([]byte(body)); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if _, err := ParseCollection([]byte("requests:\n  - script: x\n")); err == nil {
		t.Fatalf("expected untitled request error")
	}
}

func TestCatalogRejectsEscapes(t *testing.T) {
	root := t.TempDir()
	cat := Catalog{Root: filepath.Join(root, "catalog")}
	writeFile(t, filepath.Join(root, "secret.yaml"), sampleCollection)

	for _, p := range []string{"../secret.yaml", "..%2Fsecret.yaml", "a/../../secret.yaml"} {
		if _, err := cat.Load(p); !errors.Is(err, ErrOutsideRoot) {
			t.Fatalf("load %q: %v", p, err)
		}
	}
	if _, err := cat.Load("missing.yaml"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}
	if _, err := cat.Load("%zz"); err == nil {
		t.Fatalf("expected unescape error")
	}
}

func TestCatalogList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.yml"), "title: B\nrequests:\n  - title: one\n    script: x\n")
	writeFile(t, filepath.Join(root, "a", "a.yaml"), sampleCollection)
	writeFile(t, filepath.Join(root, "broken.yaml"), "requests: [")
	writeFile(t, filepath.Join(root, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(root, ".git", "x.yaml"), sampleCollection)

	list, bad, err := Catalog{Root: root}.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []Summary{
		{Path: "a/a.yaml", Title: "Accounts", Requests: []string{"Ping", "Shell"}},
		{Path: "b.yml", Title: "B", Requests: []string{"one"}},
	}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Fatalf("list (-want +got):\n%s", diff)
	}
	if _, ok := bad["broken.yaml"]; !ok || len(bad) != 1 {
		t.Fatalf("bad=%v", bad)
	}
}

func TestOverridesScopes(t *testing.T) {
	o := NewOverrides()
	in := map[string]string{"host": "tmp"}
	o.Set("staging", in)
	in["host"] = "mutated"

	got, err := o.ForScope(ScopeTemp, "staging")
	if err != nil || got["host"] != "tmp" {
		t.Fatalf("temp: %v %v", got, err)
	}
	got["host"] = "mutated"
	if again, _ := o.Get("staging"); again["host"] != "tmp" {
		t.Fatalf("Get returned shared map")
	}
	if _, err := o.ForScope(ScopeTemp, "prod"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("temp missing env: %v", err)
	}
	for _, scope := range []string{"", ScopeConfig, "global", "TEMP"} {
		if v, err := o.ForScope(scope, "staging"); err != nil || v != nil {
			t.Fatalf("scope %q: %v %v", scope, v, err)
		}
	}
	o.Set("prod", nil)
	if diff := cmp.Diff([]string{"prod", "staging"}, o.Environments()); diff != "" {
		t.Fatalf("environments (-want +got):\n%s", diff)
	}
	if len(o.All()) != 2 {
		t.Fatalf("all=%v", o.All())
	}
}
