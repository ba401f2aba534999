package console

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/antonkrylov/livecon/internal/protocol"
)

func TestLineContextParse(t *testing.T) {
	lc := &LineContext{Scope: "config", Environment: "staging"}
	cases := []struct {
		line    string
		wantErr bool
	}{
		{line: "   "},
		{line: "# comment"},
		{line: "scope", wantErr: true},
		{line: "env a b", wantErr: true},
		{line: "run a.yaml A", wantErr: true},
		{line: "view a.yaml", wantErr: true},
	}
	for _, tc := range cases {
		got, err := lc.Parse(tc.line)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: err=%v wantErr=%v", tc.line, err, tc.wantErr)
		}
		if got != nil {
			t.Fatalf("%q: unexpected request %+v", tc.line, got)
		}
	}

	got, err := lc.Parse("exec dir/a%20b.yaml Deploy  all")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := protocol.NewExec("dir/a%20b.yaml", "Deploy all", "config", "staging")
	if diff := cmp.Diff(&want, got); diff != "" {
		t.Fatalf("request (-want +got):\n%s", diff)
	}

	for _, line := range []string{"scope temp", "env prod"} {
		if req, err := lc.Parse(line); req != nil || err != nil {
			t.Fatalf("%q: req=%v err=%v", line, req, err)
		}
	}
	got, _ = lc.Parse("view a.yaml A")
	want = protocol.NewView("a.yaml", "A", "temp", "prod")
	if diff := cmp.Diff(&want, got); diff != "" {
		t.Fatalf("request after context change (-want +got):\n%s", diff)
	}
}

func TestControllerRequestDispatchesByCommand(t *testing.T) {
	tr := &fakeTransport{}
	c := New(tr)
	c.OnOpen()
	if err := c.Request(protocol.NewExec("a.yaml", "A", "", "")); err != nil {
		t.Fatalf("exec: %v", err)
	}
	sent := tr.sent(t)
	if len(sent) != 1 || sent[0]["command"] != "exec" {
		t.Fatalf("sent=%v", sent)
	}
	err := c.Request(protocol.RequestEnvelope{Command: "run"})
	if !errors.Is(err, protocol.ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}
