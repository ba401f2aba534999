package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	cliconfig "github.com/antonkrylov/livecon/internal/cli/config"
	"github.com/antonkrylov/livecon/internal/client"
	"github.com/antonkrylov/livecon/internal/console"
	"github.com/antonkrylov/livecon/internal/logging"
)

func main() {
	var (
		configPath  string
		contextName string
		server      string
		scope       string
		environment string
		reconnect   bool
		logFile     string
		logLevel    string
	)
	defaultConfig := os.Getenv("LIVECON_CONFIG")
	if defaultConfig == "" {
		defaultConfig = cliconfig.DefaultConfigPath()
	}
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "Usage:\n  %s [flags]\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.StringVar(&configPath, "config", defaultConfig, "path to livecon config file")
	flag.StringVar(&contextName, "context", "", "context name within the config")
	flag.StringVar(&server, "server", "", "dispatcher websocket URL (overrides config)")
	flag.StringVar(&scope, "scope", "", "initial scope (defaults to context)")
	flag.StringVar(&environment, "env", "", "initial environment (defaults to context)")
	flag.BoolVar(&reconnect, "reconnect", true, "redial with backoff when the connection drops")
	flag.StringVar(&logFile, "log-file", "", "write JSON logs to this file")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	flag.Parse()

	conn, err := client.ResolveConnection(configPath, contextName, server, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolve:", err)
		os.Exit(1)
	}
	// the terminal belongs to the UI, so only the file sink is kept
	logger, closer, err := logging.New(logging.Options{Level: logLevel, File: logFile, Writer: io.Discard})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan console.Update, 64)
	observer := func(u console.Update) {
		select {
		case updates <- u:
		case <-ctx.Done():
		}
	}
	session := client.NewSession(client.SessionOptions{
		URL:       conn.ServerURL,
		Reconnect: reconnect || conn.Reconnect,
		Logger:    logger,
		Socket:    client.SocketOptions{HandshakeTimeout: conn.Timeout},
	})
	ctrl := console.New(session, console.WithLogger(logger), console.WithObserver(observer))

	done := make(chan error, 1)
	go func() { done <- session.Run(ctx, ctrl) }()

	lines := console.LineContext{
		Scope:       firstNonEmpty(scope, conn.Scope),
		Environment: firstNonEmpty(environment, conn.Environment),
	}
	m := newModel(cancel, ctrl, updates, done, conn.ServerURL, lines)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
