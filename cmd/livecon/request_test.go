package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/antonkrylov/livecon/internal/console"
	"github.com/antonkrylov/livecon/internal/logging"
	"github.com/antonkrylov/livecon/internal/protocol"
)

// scriptedServer answers every request frame with the given render frames.
func scriptedServer(t *testing.T, replies ...string) (*rootOptions, <-chan protocol.RequestEnvelope) {
	t.Helper()
	got := make(chan protocol.RequestEnvelope, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			req, err := protocol.DecodeRequest(data)
			if err != nil {
				t.Errorf("decode request: %v", err)
				return
			}
			got <- req
			for _, reply := range replies {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	root := &rootOptions{
		serverURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		timeout:   5 * time.Second,
		logger:    logging.Discard(),
	}
	return root, got
}

func TestRunOnceViewPrintsReplacement(t *testing.T) {
	root, got := scriptedServer(t, `{"command":"replaced","payload":{"script":"print(env[\"host\"])"}}`)
	var out strings.Builder
	c := newConsoleClient(root, &out, nil, false, false)
	req := protocol.NewView("ops/db.yaml", "Migrate", "temp", "staging")
	if err := c.runOnce(context.Background(), req, 0, false); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if out.String() != "print(env[\"host\"])\n" {
		t.Fatalf("out=%q", out.String())
	}
	if diff := cmp.Diff(req, <-got); diff != "" {
		t.Fatalf("request (-want +got):\n%s", diff)
	}
}

func TestRunOnceExecStopsWhenIdle(t *testing.T) {
	root, _ := scriptedServer(t,
		`{"command":"clear"}`,
		`{"command":"exec","payload":{"fragment":"a\n"}}`,
		`{"command":"exec","payload":{"fragment":"b"}}`,
	)
	var out strings.Builder
	c := newConsoleClient(root, &out, nil, false, false)
	start := time.Now()
	if err := c.runOnce(context.Background(), protocol.NewExec("ops/db.yaml", "Migrate", "", ""), 100*time.Millisecond, false); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("idle wait did not end the command")
	}
	if out.String() != "a\nb\n" {
		t.Fatalf("out=%q", out.String())
	}
}

func TestRunOnceTimesOutWithoutResponse(t *testing.T) {
	root, _ := scriptedServer(t)
	root.timeout = 200 * time.Millisecond
	c := newConsoleClient(root, io.Discard, nil, false, false)
	err := c.runOnce(context.Background(), protocol.NewView("a.yaml", "A", "", ""), 0, false)
	if err == nil || !strings.Contains(err.Error(), "no response within") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestRunOnceRejectsInvalidRequest(t *testing.T) {
	root := &rootOptions{serverURL: "ws://127.0.0.1:1/ws", timeout: time.Second}
	c := newConsoleClient(root, io.Discard, nil, false, false)
	if err := c.runOnce(context.Background(), protocol.NewView("", "A", "", ""), 0, false); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestWatchSendsLinesInOrder(t *testing.T) {
	root, got := scriptedServer(t, `{"command":"exec","payload":{"fragment":"ok\n"}}`)
	var out, status strings.Builder
	c := newConsoleClient(root, &out, &status, false, false)
	in := strings.NewReader("env prod\nview a.yaml First\n\nscope temp\nexec b.yaml Second step\nbogus\n")
	lc := &console.LineContext{Environment: "staging"}
	if err := c.watch(context.Background(), in, lc, 200*time.Millisecond); err != nil {
		t.Fatalf("watch: %v", err)
	}
	want := []protocol.RequestEnvelope{
		protocol.NewView("a.yaml", "First", "", "prod"),
		protocol.NewExec("b.yaml", "Second step", "temp", "prod"),
	}
	var reqs []protocol.RequestEnvelope
	for range want {
		reqs = append(reqs, <-got)
	}
	if diff := cmp.Diff(want, reqs); diff != "" {
		t.Fatalf("requests (-want +got):\n%s", diff)
	}
	if out.String() != "ok\nok\n" {
		t.Fatalf("out=%q", out.String())
	}
	if !strings.Contains(status.String(), `unknown command "bogus"`) {
		t.Fatalf("status=%q", status.String())
	}
	if !strings.Contains(status.String(), "livecon: open") {
		t.Fatalf("status=%q", status.String())
	}
}
