package scripts

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ErrOutsideRoot is returned for paths that resolve outside the catalog.
var ErrOutsideRoot = errors.New("path escapes catalog root")

// Catalog serves collections stored under a root directory. Files are read
// on every call so edits show up without a restart.
type Catalog struct {
	Root string
}

// Summary describes one collection for listings.
type Summary struct {
	Path     string   `json:"path"`
	Title    string   `json:"title"`
	Requests []string `json:"requests"`
}

// Resolve maps a request path (possibly URL-escaped, slash separated) to a
// file under Root.
func (c Catalog) Resolve(escaped string) (string, string, error) {
	rel, err := url.PathUnescape(escaped)
	if err != nil {
		return "", "", fmt.Errorf("path %q: %w", escaped, err)
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if seg == ".." {
			return "", "", fmt.Errorf("path %q: %w", escaped, ErrOutsideRoot)
		}
	}
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	if rel == "" {
		return "", "", fmt.Errorf("path %q: empty", escaped)
	}
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return "", "", err
	}
	full := filepath.Join(root, filepath.FromSlash(rel))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", "", fmt.Errorf("path %q: %w", escaped, ErrOutsideRoot)
	}
	return full, rel, nil
}

// Load reads the collection at the given request path.
func (c Catalog) Load(escaped string) (*Collection, error) {
	full, rel, err := c.Resolve(escaped)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("collection %s: %w", rel, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	coll, err := ParseCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rel, err)
	}
	coll.Path = rel
	return coll, nil
}

// List walks Root for *.yaml and *.yml collections. Files that fail to
// parse are skipped and reported in the second return value.
func (c Catalog) List() ([]Summary, map[string]error, error) {
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return nil, nil, err
	}
	var out []Summary
	bad := map[string]error{}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		coll, err := c.Load(rel)
		if err != nil {
			bad[rel] = err
			return nil
		}
		out = append(out, Summary{Path: rel, Title: coll.Title, Requests: coll.Titles()})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, bad, nil
}
