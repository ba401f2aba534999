// Package scripts loads script collections from disk and prepares their
// requests for viewing or execution.
package scripts

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ErrNotFound reports a missing collection, request or environment.
var ErrNotFound = errors.New("not found")

// Collection is one YAML file holding related requests and the
// environments they can run against.
type Collection struct {
	Title       string                       `yaml:"title" json:"title"`
	Environment map[string]map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`
	Requests    []Request                    `yaml:"requests" json:"requests"`

	// Path is the catalog-relative location the collection was loaded from.
	Path string `yaml:"-" json:"path"`
}

// Request is a titled script inside a collection.
type Request struct {
	Title string `yaml:"title" json:"title"`
	// Engine overrides the server's default engine for this request.
	Engine string `yaml:"engine,omitempty" json:"engine,omitempty"`
	Script string `yaml:"script" json:"script"`
}

// ParseCollection decodes collection YAML.
func ParseCollection(data []byte) (*Collection, error) {
	var c Collection
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse collection: %w", err)
	}
	if c.Environment == nil {
		c.Environment = map[string]map[string]string{}
	}
	seen := make(map[string]struct{}, len(c.Requests))
	for i, r := range c.Requests {
		if r.Title == "" {
			return nil, fmt.Errorf("parse collection: request %d has no title", i)
		}
		if _, dup := seen[r.Title]; dup {
			return nil, fmt.Errorf("parse collection: duplicate request %q", r.Title)
		}
		seen[r.Title] = struct{}{}
	}
	return &c, nil
}

// Request returns the request with the given title.
func (c *Collection) Request(title string) (Request, error) {
	for _, r := range c.Requests {
		if r.Title == title {
			return r, nil
		}
	}
	return Request{}, fmt.Errorf("request %q in %s: %w", title, c.Path, ErrNotFound)
}

// Titles lists request titles in file order.
func (c *Collection) Titles() []string {
	out := make([]string, 0, len(c.Requests))
	for _, r := range c.Requests {
		out = append(out, r.Title)
	}
	return out
}
