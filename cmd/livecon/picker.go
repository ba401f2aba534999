package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/ktr0731/go-fuzzyfinder"
	"github.com/spf13/cobra"

	"github.com/antonkrylov/livecon/internal/scripts"
)

// requestArgs accepts either nothing, which opens the picker, or a path
// followed by a title.
func requestArgs(_ *cobra.Command, args []string) error {
	if len(args) == 1 {
		return fmt.Errorf("%s: a title must follow the path, or give no arguments to pick a request", args[0])
	}
	return nil
}

type pickItem struct {
	path  string
	title string
	label string
}

func pickItems(list []scripts.Summary) []pickItem {
	var items []pickItem
	for _, c := range list {
		name := c.Title
		if name == "" {
			name = c.Path
		}
		for _, title := range c.Requests {
			items = append(items, pickItem{
				path:  c.Path,
				title: title,
				label: name + " / " + title,
			})
		}
	}
	return items
}

// finder returns the index of the chosen label.
type finder func(ctx context.Context, labels []string) (int, error)

func fuzzyFind(ctx context.Context, labels []string) (int, error) {
	return fuzzyfinder.Find(labels,
		func(i int) string { return labels[i] },
		fuzzyfinder.WithContext(ctx),
		fuzzyfinder.WithPromptString("request> "),
	)
}

// pickRequest lists the server's collections and lets the user choose one
// request from them.
func pickRequest(ctx context.Context, root *rootOptions, find finder) (string, string, error) {
	api, err := newAPIClient(root)
	if err != nil {
		return "", "", err
	}
	var resp struct {
		Collections []scripts.Summary `json:"collections"`
	}
	if err := api.do(ctx, http.MethodGet, "/api/collections", nil, &resp); err != nil {
		return "", "", err
	}
	items := pickItems(resp.Collections)
	if len(items) == 0 {
		return "", "", errors.New("the server has no requests to pick from")
	}
	labels := make([]string, len(items))
	for i, it := range items {
		labels[i] = it.label
	}
	idx, err := find(ctx, labels)
	if errors.Is(err, fuzzyfinder.ErrAbort) {
		return "", "", errors.New("no request picked")
	}
	if err != nil {
		return "", "", err
	}
	if idx < 0 || idx >= len(items) {
		return "", "", fmt.Errorf("picked index %d out of range", idx)
	}
	return items[idx].path, items[idx].title, nil
}

// resolveTarget returns the path and title named on the command line, or
// asks for one when none were given.
func resolveTarget(ctx context.Context, root *rootOptions, args []string, find finder) (string, string, error) {
	if len(args) >= 2 {
		return args[0], joinTitle(args[1:]), nil
	}
	if find == nil {
		if !isTerminal(os.Stdin) || !isTerminal(os.Stdout) {
			return "", "", errors.New("no request given and the terminal is not interactive")
		}
		find = fuzzyFind
	}
	return pickRequest(ctx, root, find)
}
