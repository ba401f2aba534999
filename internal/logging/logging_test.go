package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConsoleAndFileSinks(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "server.log")
	logger, closer, err := New(Options{Level: "debug", File: path, Writer: &console})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Debug("request handled", "conn", "c1", "exit", 0)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(console.String(), "request handled") || !strings.Contains(console.String(), "conn=c1") {
		t.Fatalf("console=%q", console.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("file record %q: %v", data, err)
	}
	if rec["msg"] != "request handled" || rec["conn"] != "c1" {
		t.Fatalf("record=%v", rec)
	}
}

func TestJSONConsoleRespectsLevel(t *testing.T) {
	var console bytes.Buffer
	logger, _, err := New(Options{Level: "warn", JSON: true, Writer: &console})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	lines := strings.Split(strings.TrimSpace(console.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], `"msg":"shown"`) {
		t.Fatalf("console=%q", console.String())
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"", "info", "DEBUG", "warning", "error"} {
		if _, err := ParseLevel(s); err != nil {
			t.Fatalf("level %q: %v", s, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error")
	}
	if _, _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatalf("expected error from New")
	}
}

func TestJournalKey(t *testing.T) {
	if got := journalKey("conn.id-1"); got != "CONN_ID_1" {
		t.Fatalf("journalKey=%q", got)
	}
}
