package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cliconfig "github.com/antonkrylov/livecon/internal/cli/config"
	"github.com/antonkrylov/livecon/internal/dispatch"
	"github.com/antonkrylov/livecon/internal/history"
	"github.com/antonkrylov/livecon/internal/logging"
	"github.com/antonkrylov/livecon/internal/scripts"
	"github.com/antonkrylov/livecon/internal/worker"
)

func main() {
	fs := flag.NewFlagSet("livecon-server", flag.ExitOnError)
	var (
		configPath      = fs.String("config", "", "server config file (LIVECON_SERVER_CONFIG, default $LIVECON_HOME/server.yaml)")
		listenAddr      = fs.String("listen", "", "HTTP/websocket listen address")
		catalogRoot     = fs.String("catalog", "", "directory holding script collections")
		defaultEnv      = fs.String("env", "", "environment used when a request names none")
		engine          = fs.String("engine", "", "default engine: starlark or command")
		interpreter     = fs.String("interpreter", "", "command engine argv, space separated (script is passed on stdin)")
		usePTY          = fs.Bool("pty", false, "run the command engine under a pseudo terminal")
		readOnly        = fs.Bool("readonly", false, "reject API calls that change server state")
		historyPath     = fs.String("history", "", "bbolt file for run history (empty keeps history in memory)")
		logJSON         = fs.Bool("log-json", false, "emit logs as JSON")
		logLevel        = fs.String("log-level", "", "log level: debug, info, warn, error")
		logFile         = fs.String("log-file", "", "also write JSON logs to this file")
		logJournal      = fs.Bool("log-journal", false, "also send logs to the systemd journal")
		enableJetStream = fs.Bool("enable-jetstream", false, "mirror run history to NATS JetStream")
		natsURL         = fs.String("nats-url", "", "NATS connection URL (LIVECON_NATS_URL)")
		natsUser        = fs.String("nats-user", "", "NATS username (LIVECON_NATS_USER)")
		natsPass        = fs.String("nats-pass", "", "NATS password (LIVECON_NATS_PASS)")
		natsEventsPref  = fs.String("nats-events-prefix", "", "NATS subject prefix for history events")
		natsRunsStream  = fs.String("nats-runs-stream", "", "JetStream stream for run snapshots")
		natsOutStream   = fs.String("nats-output-stream", "", "JetStream stream for output fragments")
	)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage:\n  %s [flags]\n\nFlags:\n", os.Args[0])
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	applyEnvFallback(configPath, "LIVECON_SERVER_CONFIG")
	if *configPath == "" {
		*configPath = cliconfig.DefaultServerConfigPath()
	}
	cfg, err := cliconfig.LoadServer(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livecon-server: %v\n", err)
		os.Exit(1)
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	overrideString(&cfg.Listen, *listenAddr)
	overrideString(&cfg.CatalogRoot, *catalogRoot)
	overrideString(&cfg.DefaultEnvironment, *defaultEnv)
	overrideString(&cfg.Engine.Default, *engine)
	if *interpreter != "" {
		cfg.Engine.Interpreter = splitArgs(*interpreter)
	}
	if set["pty"] {
		cfg.Engine.PTY = *usePTY
	}
	if set["readonly"] {
		cfg.ReadOnly = *readOnly
	}
	overrideString(&cfg.History.Path, *historyPath)
	if set["log-json"] {
		cfg.Log.JSON = *logJSON
	}
	overrideString(&cfg.Log.Level, *logLevel)
	overrideString(&cfg.Log.File, *logFile)
	if set["log-journal"] {
		cfg.Log.Journal = *logJournal
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		JSON:    cfg.Log.JSON,
		File:    cfg.Log.File,
		Journal: cfg.Log.Journal,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "livecon-server: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	applyEnvFallback(natsURL, "LIVECON_NATS_URL")
	applyEnvFallback(natsUser, "LIVECON_NATS_USER")
	applyEnvFallback(natsPass, "LIVECON_NATS_PASS")

	histOpts := &history.Options{Logger: logger, Path: cfg.History.Path}
	js := cfg.JetStream
	if *enableJetStream {
		if js == nil {
			js = &cliconfig.JetStreamConfig{}
		}
		overrideString(&js.URL, *natsURL)
		overrideString(&js.User, *natsUser)
		overrideString(&js.Password, *natsPass)
		overrideString(&js.EventsPrefix, *natsEventsPref)
		overrideString(&js.RunsStream, *natsRunsStream)
		overrideString(&js.OutputStream, *natsOutStream)
		if js.URL == "" {
			logger.Error("enable-jetstream requires --nats-url or LIVECON_NATS_URL")
			os.Exit(1)
		}
	}
	if js != nil {
		histOpts.JetStream = &history.JetStreamOptions{
			URL:          js.URL,
			User:         js.User,
			Password:     js.Password,
			EventsPrefix: js.EventsPrefix,
			RunsStream:   js.RunsStream,
			OutputStream: js.OutputStream,
		}
	}
	hist, err := history.New(ctx, histOpts)
	if err != nil {
		logger.Error("history init", "err", err)
		os.Exit(1)
	}
	defer hist.Close()

	runner := &worker.Runner{
		DefaultEngine: cfg.Engine.Default,
		Interpreter:   cfg.Engine.Interpreter,
		PTY:           cfg.Engine.PTY,
		WorkspaceRoot: cfg.Engine.WorkspaceRoot,
		Logger:        logger,
	}
	svc := dispatch.NewService(
		scripts.Catalog{Root: cfg.CatalogRoot},
		scripts.NewOverrides(),
		runner,
		hist,
		dispatch.Config{DefaultEnvironment: cfg.DefaultEnvironment, Environment: cfg.Environment},
		logger,
	)
	server := dispatch.NewServer(svc, dispatch.ServerOptions{Logger: logger, ReadOnly: cfg.ReadOnly})
	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		logger.Error("listen", "err", err)
		os.Exit(1)
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		logger.Info("shutting down", "running", len(svc.Running()))
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(stopCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
		server.Close()
	}()

	logger.Info("livecon server ready",
		"addr", lis.Addr().String(),
		"catalog", cfg.CatalogRoot,
		"engine", cfg.Engine.Default,
		"environment", cfg.DefaultEnvironment,
		"readonly", cfg.ReadOnly,
	)
	if err := httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http serve", "err", err)
		os.Exit(1)
	}
	<-shutdownDone
}
