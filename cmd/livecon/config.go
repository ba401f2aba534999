package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	cliconfig "github.com/antonkrylov/livecon/internal/cli/config"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Edit the contexts file",
	}
	configCmd.AddCommand(newSetContextCmd(root))
	configCmd.AddCommand(&cobra.Command{
		Use:   "use-context <name>",
		Short: "Switch the current context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cliconfig.Load(root.configPath)
			if err != nil {
				return err
			}
			if cfg == nil {
				return fmt.Errorf("%w: %s", cliconfig.ErrContextNotFound, args[0])
			}
			if err := cfg.UseContext(args[0]); err != nil {
				return err
			}
			return cfg.Save(root.configPath)
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "get-contexts",
		Short: "List configured contexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cliconfig.Load(root.configPath)
			if err != nil {
				return err
			}
			printContexts(os.Stdout, cfg)
			return nil
		},
	})
	return configCmd
}

type contextFlags struct {
	server      string
	timeout     int
	scope       string
	environment string
	reconnect   bool
	use         bool
}

func newSetContextCmd(root *rootOptions) *cobra.Command {
	flags := &contextFlags{}
	cmd := &cobra.Command{
		Use:   "set-context <name>",
		Short: "Create or update a named context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cliconfig.Load(root.configPath)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = &cliconfig.Config{}
			}
			existing, _, err := cfg.Resolve(args[0])
			if err != nil && !errors.Is(err, cliconfig.ErrContextNotFound) {
				return err
			}
			if err := cfg.SetContext(args[0], flags.apply(cmd, existing)); err != nil {
				return err
			}
			if flags.use {
				if err := cfg.UseContext(args[0]); err != nil {
					return err
				}
			}
			return cfg.Save(root.configPath)
		},
	}
	cmd.Flags().StringVar(&flags.server, "server", "", "dispatcher websocket URL")
	cmd.Flags().IntVar(&flags.timeout, "timeout-seconds", 0, "default response timeout")
	cmd.Flags().StringVar(&flags.scope, "scope", "", "default scope (config or temp)")
	cmd.Flags().StringVar(&flags.environment, "env", "", "default environment")
	cmd.Flags().BoolVar(&flags.reconnect, "reconnect", false, "reconnect automatically in watch mode")
	cmd.Flags().BoolVar(&flags.use, "use", false, "also make this the current context")
	return cmd
}

// apply merges the flags that were set on the command line into base.
func (f *contextFlags) apply(cmd *cobra.Command, base *cliconfig.Context) *cliconfig.Context {
	out := &cliconfig.Context{}
	if base != nil {
		*out = *base
	}
	changed := cmd.Flags().Changed
	if changed("server") {
		out.Server = strings.TrimSpace(f.server)
	}
	if changed("timeout-seconds") {
		out.TimeoutSeconds = f.timeout
	}
	if changed("scope") {
		out.Scope = f.scope
	}
	if changed("env") {
		out.Environment = f.environment
	}
	if changed("reconnect") {
		out.Reconnect = f.reconnect
	}
	return out
}

func printContexts(w io.Writer, cfg *cliconfig.Config) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CURRENT\tNAME\tSERVER\tSCOPE\tENVIRONMENT\tTIMEOUT")
	for _, name := range cfg.Names() {
		c := cfg.Contexts[name]
		mark := ""
		if name == cfg.CurrentContext {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", mark, name, c.Server, c.Scope, c.Environment, c.TimeoutSeconds)
	}
	_ = tw.Flush()
}
