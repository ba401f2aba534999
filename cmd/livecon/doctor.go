package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	cliconfig "github.com/antonkrylov/livecon/internal/cli/config"
	"github.com/antonkrylov/livecon/internal/client"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Print local diagnostic information for troubleshooting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := os.Stdout
			exe, _ := os.Executable()
			exe = strings.TrimSpace(exe)
			look, _ := exec.LookPath("livecon")
			look = strings.TrimSpace(look)

			fmt.Fprintf(out, "livecon_executable=%s\n", exe)
			if look != "" {
				fmt.Fprintf(out, "livecon_on_path=%s\n", look)
			}
			if exe != "" && look != "" {
				absExe, _ := filepath.EvalSymlinks(exe)
				absLook, _ := filepath.EvalSymlinks(look)
				if absExe != "" && absLook != "" && absExe != absLook {
					fmt.Fprintln(out, "warning=you_are_not_running_the_same_livecon_as_on_PATH")
				}
			}
			fmt.Fprintf(out, "stdout_is_terminal=%t\n", isTerminal(os.Stdout))

			cfgPath, _ := cmd.Flags().GetString("config")
			fmt.Fprintf(out, "config_path=%s\n", cfgPath)
			cfg, err := cliconfig.Load(cfgPath)
			if err != nil {
				fmt.Fprintf(out, "config_error=%s\n", err.Error())
				return nil
			}
			if cfg == nil {
				fmt.Fprintln(out, "config_present=false")
			} else {
				fmt.Fprintln(out, "config_present=true")
				fmt.Fprintf(out, "current_context=%s\n", strings.TrimSpace(cfg.CurrentContext))
				names := make([]string, 0, len(cfg.Contexts))
				for k := range cfg.Contexts {
					names = append(names, k)
				}
				sort.Strings(names)
				for _, name := range names {
					c := cfg.Contexts[name]
					if c == nil {
						continue
					}
					fmt.Fprintf(out, "context=%s server=%s scope=%s env=%s timeout=%d\n",
						name, strings.TrimSpace(c.Server), c.Scope, c.Environment, c.TimeoutSeconds)
				}
			}

			ctxName, _ := cmd.Flags().GetString("context")
			server, _ := cmd.Flags().GetString("server")
			resolved, err := client.ResolveConnection(cfgPath, ctxName, server, 0)
			if err != nil {
				fmt.Fprintf(out, "resolve_error=%s\n", err.Error())
				return nil
			}
			fmt.Fprintf(out, "server=%s\n", resolved.ServerURL)
			checkHealth(cmd.Context(), out, resolved.ServerURL)
			return nil
		},
	}
	return cmd
}

func checkHealth(ctx context.Context, out io.Writer, serverURL string) {
	base, err := apiBase(serverURL)
	if err != nil {
		fmt.Fprintf(out, "server_error=%s\n", err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
	if err != nil {
		fmt.Fprintf(out, "server_error=%s\n", err.Error())
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(out, "server_reachable=false error=%s\n", err.Error())
		return
	}
	resp.Body.Close()
	fmt.Fprintf(out, "server_reachable=%t status=%d\n", resp.StatusCode == http.StatusOK, resp.StatusCode)
}
