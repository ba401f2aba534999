package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/livecon/internal/history"
	"github.com/antonkrylov/livecon/internal/scripts"
)

// apiBase maps the dispatcher websocket URL onto its HTTP API root.
func apiBase(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("server url: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/ws")
	u.RawQuery = ""
	return u.String(), nil
}

type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(root *rootOptions) (*apiClient, error) {
	base, err := apiBase(root.serverURL)
	if err != nil {
		return nil, err
	}
	return &apiClient{base: base, http: &http.Client{Timeout: root.timeout}}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func newCollectionsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List script collections known to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := newAPIClient(root)
			if err != nil {
				return err
			}
			var resp struct {
				Collections []scripts.Summary `json:"collections"`
				Errors      map[string]string `json:"errors"`
			}
			if err := api.do(cmd.Context(), http.MethodGet, "/api/collections", nil, &resp); err != nil {
				return err
			}
			printCollections(os.Stdout, resp.Collections, resp.Errors)
			return nil
		},
	}
}

func printCollections(w io.Writer, list []scripts.Summary, bad map[string]string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tTITLE\tREQUESTS")
	for _, c := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Path, c.Title, strings.Join(c.Requests, ", "))
	}
	_ = tw.Flush()
	paths := make([]string, 0, len(bad))
	for p := range bad {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(w, "invalid %s: %s\n", p, bad[p])
	}
}

func newRunsCmd(root *rootOptions) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded requests",
	}
	runsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := newAPIClient(root)
			if err != nil {
				return err
			}
			var runs []history.Run
			if err := api.do(cmd.Context(), http.MethodGet, "/api/runs", nil, &runs); err != nil {
				return err
			}
			printRuns(os.Stdout, runs)
			return nil
		},
	})
	runsCmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show one run and the fragments it emitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := newAPIClient(root)
			if err != nil {
				return err
			}
			var resp struct {
				Run    history.Run `json:"run"`
				Output []string    `json:"output"`
			}
			if err := api.do(cmd.Context(), http.MethodGet, "/api/runs/"+url.PathEscape(args[0]), nil, &resp); err != nil {
				return err
			}
			printRun(os.Stdout, resp.Run)
			for _, frag := range resp.Output {
				_, _ = io.WriteString(os.Stdout, frag)
			}
			return nil
		},
	})
	var all bool
	cancelCmd := &cobra.Command{
		Use:   "cancel [<id>...]",
		Short: "Stop running execs by run ID, or every running exec with --all",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := newAPIClient(root)
			if err != nil {
				return err
			}
			canceled, err := cancelRuns(cmd.Context(), api, args, all)
			for _, id := range canceled {
				fmt.Fprintf(os.Stdout, "canceled %s\n", id)
			}
			if err == nil && len(canceled) == 0 {
				fmt.Fprintln(os.Stdout, "nothing running")
			}
			return err
		},
	}
	cancelCmd.Flags().BoolVar(&all, "all", false, "cancel every running exec")
	runsCmd.AddCommand(cancelCmd)
	return runsCmd
}

// cancelRuns stops the given runs, or all of them. It returns what the
// server reported as canceled before any failure.
func cancelRuns(ctx context.Context, api *apiClient, ids []string, all bool) ([]string, error) {
	switch {
	case all && len(ids) > 0:
		return nil, fmt.Errorf("--all takes no run IDs")
	case !all && len(ids) == 0:
		return nil, fmt.Errorf("name at least one run ID, or pass --all")
	}
	var resp struct {
		Canceled []string `json:"canceled"`
	}
	if all {
		if err := api.do(ctx, http.MethodPost, "/api/cancel", nil, &resp); err != nil {
			return nil, err
		}
		return resp.Canceled, nil
	}
	var canceled []string
	for _, id := range ids {
		resp.Canceled = nil
		if err := api.do(ctx, http.MethodPost, "/api/runs/"+url.PathEscape(id)+"/cancel", nil, &resp); err != nil {
			return canceled, err
		}
		canceled = append(canceled, resp.Canceled...)
	}
	return canceled, nil
}

func printRuns(w io.Writer, runs []history.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tCOMMAND\tPATH\tTITLE\tSTATUS\tEXIT\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Command, r.Path, r.Title, r.Status, r.ExitCode, formatTime(r.Started))
	}
	_ = tw.Flush()
}

func printRun(w io.Writer, r history.Run) {
	fmt.Fprintf(w, "Run %s (%s %s %q)\n", r.ID, r.Command, r.Path, r.Title)
	fmt.Fprintf(w, "  Status: %s\n", r.Status)
	fmt.Fprintf(w, "  Exit: %d\n", r.ExitCode)
	if r.Environment != "" || r.Scope != "" {
		fmt.Fprintf(w, "  Context: scope=%s environment=%s\n", r.Scope, r.Environment)
	}
	fmt.Fprintf(w, "  Started: %s\n", formatTime(r.Started))
	fmt.Fprintf(w, "  Finished: %s\n", formatTime(r.Finished))
	fmt.Fprintf(w, "  Output: %d fragments, %d bytes\n", r.Fragments, r.Bytes)
	if r.Message != "" {
		fmt.Fprintf(w, "  Message: %s\n", r.Message)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "<unknown>"
	}
	return t.Format(time.RFC3339)
}

func newOverridesCmd(root *rootOptions) *cobra.Command {
	overridesCmd := &cobra.Command{
		Use:   "overrides",
		Short: "Manage temp-scope environment overrides",
	}
	overridesCmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print saved overrides for every environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := newAPIClient(root)
			if err != nil {
				return err
			}
			var all map[string]map[string]string
			if err := api.do(cmd.Context(), http.MethodGet, "/api/overrides", nil, &all); err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(all)
		},
	})
	overridesCmd.AddCommand(&cobra.Command{
		Use:   "set <environment> KEY=VALUE...",
		Short: "Replace the overrides used by temp scope for one environment",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseEnv(args[1:])
			if err != nil {
				return err
			}
			api, err := newAPIClient(root)
			if err != nil {
				return err
			}
			return api.do(cmd.Context(), http.MethodPut, "/api/overrides/"+url.PathEscape(args[0]), values, nil)
		},
	})
	return overridesCmd
}

func parseEnv(items []string) (map[string]string, error) {
	out := make(map[string]string, len(items))
	for _, item := range items {
		k, v, ok := strings.Cut(item, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid value %q (want KEY=VALUE)", item)
		}
		out[k] = v
	}
	return out, nil
}
