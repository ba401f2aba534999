package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the client file listing the consoles a user attaches to. Each
// context names one dispatcher and the scope and environment its requests
// carry; currentContext picks the one used when no --context is given.
type Config struct {
	CurrentContext string              `yaml:"currentContext"`
	Contexts       map[string]*Context `yaml:"contexts"`
}

// Context is one console: where to dial, how long to wait for a first
// reply, and the defaults stamped on every view and exec request.
type Context struct {
	Server         string `yaml:"server"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	Scope          string `yaml:"scope,omitempty"`
	Environment    string `yaml:"environment,omitempty"`
	Reconnect      bool   `yaml:"reconnect,omitempty"`
}

// Timeout converts TimeoutSeconds; zero means the caller's default.
func (c *Context) Timeout() time.Duration {
	if c == nil || c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ErrContextNotFound is returned when a context name has no entry.
var ErrContextNotFound = errors.New("context not found")

// Load reads the console list at path. A blank path or a missing file
// yields (nil, nil) so callers fall back to flags and defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	file, err := expandPath(strings.TrimSpace(path))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", file, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("config %s: %w", file, err)
	}
	return cfg, nil
}

// normalize fills contexts written as a bare name and rejects values no
// console can use.
func (c *Config) normalize() error {
	for _, name := range c.Names() {
		ctx := c.Contexts[name]
		if ctx == nil {
			ctx = &Context{}
			c.Contexts[name] = ctx
		}
		if ctx.TimeoutSeconds < 0 {
			return fmt.Errorf("context %s: negative timeoutSeconds %d", name, ctx.TimeoutSeconds)
		}
	}
	return nil
}

// Save writes c to path through a temp file in the same directory, so a
// crash never leaves a half-written console list behind.
func (c *Config) Save(path string) error {
	if c == nil {
		return errors.New("save config: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return errors.New("save config: path is required")
	}
	file, err := expandPath(strings.TrimSpace(path))
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), file)
}

// Names returns the context names, sorted.
func (c *Config) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the console named name, or the current one when name is
// blank. With neither set it returns no context and no error.
func (c *Config) Resolve(name string) (*Context, string, error) {
	if c == nil {
		return nil, "", nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = c.CurrentContext
	}
	if name == "" {
		return nil, "", nil
	}
	ctx, err := c.lookup(name)
	return ctx, name, err
}

// SetContext stores ctx under name. The first context saved becomes the
// current one.
func (c *Config) SetContext(name string, ctx *Context) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return errors.New("set context: name is required")
	case ctx == nil:
		return fmt.Errorf("set context %s: nil context", name)
	case ctx.TimeoutSeconds < 0:
		return fmt.Errorf("set context %s: negative timeout", name)
	}
	if c.Contexts == nil {
		c.Contexts = map[string]*Context{}
	}
	c.Contexts[name] = ctx
	if c.CurrentContext == "" {
		c.CurrentContext = name
	}
	return nil
}

// UseContext makes name the current console.
func (c *Config) UseContext(name string) error {
	name = strings.TrimSpace(name)
	if _, err := c.lookup(name); err != nil {
		return err
	}
	c.CurrentContext = name
	return nil
}

func (c *Config) lookup(name string) (*Context, error) {
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContextNotFound, name)
	}
	return ctx, nil
}

// expandPath resolves a leading ~ and makes path absolute.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/")), nil
	}
	return filepath.Abs(path)
}
