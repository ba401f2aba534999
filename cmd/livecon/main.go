package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cliconfig "github.com/antonkrylov/livecon/internal/cli/config"
	"github.com/antonkrylov/livecon/internal/client"
	"github.com/antonkrylov/livecon/internal/logging"
)

type rootOptions struct {
	serverURL   string
	timeout     time.Duration
	configPath  string
	contextName string
	logLevel    string

	scope       string
	environment string
	reconnect   bool
	config      *cliconfig.Config
	logger      *slog.Logger
	logCloser   io.Closer
}

func (r *rootOptions) prepare() error {
	resolved, err := client.ResolveConnection(r.configPath, r.contextName, r.serverURL, r.timeout)
	if err != nil {
		return err
	}
	r.serverURL = resolved.ServerURL
	r.timeout = resolved.Timeout
	r.scope = resolved.Scope
	r.environment = resolved.Environment
	r.reconnect = resolved.Reconnect
	r.config = resolved.Config

	logger, closer, err := logging.New(logging.Options{Level: r.logLevel})
	if err != nil {
		return err
	}
	r.logger = logger
	r.logCloser = closer
	return nil
}

func (r *rootOptions) close() {
	if r.logCloser != nil {
		_ = r.logCloser.Close()
	}
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "livecon",
		Short:         "Client for the livecon script console",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultConfig := os.Getenv("LIVECON_CONFIG")
	if defaultConfig == "" {
		defaultConfig = cliconfig.DefaultConfigPath()
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "path to livecon config file (default $HOME/.livecon/config)")
	rootCmd.PersistentFlags().StringVar(&opts.contextName, "context", "", "context name within the config (overrides currentContext)")
	rootCmd.PersistentFlags().StringVar(&opts.serverURL, "server", "", "dispatcher websocket URL (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "wait for the first response; defaults to config or 15s")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "client log level (debug|info|warn|error)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// config commands edit the file that prepare would read
		for c := cmd; c != nil; c = c.Parent() {
			if c.Name() == "config" || c.Name() == "doctor" {
				return nil
			}
		}
		return opts.prepare()
	}

	rootCmd.AddCommand(newViewCmd(opts))
	rootCmd.AddCommand(newExecCmd(opts))
	rootCmd.AddCommand(newWatchCmd(opts))
	rootCmd.AddCommand(newCollectionsCmd(opts))
	rootCmd.AddCommand(newRunsCmd(opts))
	rootCmd.AddCommand(newOverridesCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	rootCmd.AddCommand(newDoctorCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	opts.close()
	if err != nil {
		log.Fatal(err)
	}
}

// pick returns the flag value when set, else the context default.
func pick(flag, fallback string) string {
	if strings.TrimSpace(flag) != "" {
		return flag
	}
	return fallback
}
