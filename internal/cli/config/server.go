package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the optional YAML file read by livecon-server. Flags
// override whatever it sets.
type ServerConfig struct {
	Listen             string                       `yaml:"listen"`
	CatalogRoot        string                       `yaml:"catalogRoot"`
	DefaultEnvironment string                       `yaml:"defaultEnvironment"`
	Environment        map[string]map[string]string `yaml:"environment"`
	ReadOnly           bool                         `yaml:"readonly"`
	Engine             EngineConfig                 `yaml:"engine"`
	History            HistoryConfig                `yaml:"history"`
	JetStream          *JetStreamConfig             `yaml:"jetstream,omitempty"`
	Log                LogConfig                    `yaml:"log"`
}

// EngineConfig selects how exec requests are run.
type EngineConfig struct {
	Default       string   `yaml:"default"`
	Interpreter   []string `yaml:"interpreter"`
	PTY           bool     `yaml:"pty"`
	WorkspaceRoot string   `yaml:"workspaceRoot"`
}

// HistoryConfig points at the bbolt file used to persist runs.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// JetStreamConfig enables mirroring runs and output to NATS JetStream.
type JetStreamConfig struct {
	URL          string `yaml:"url"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	EventsPrefix string `yaml:"eventsPrefix"`
	RunsStream   string `yaml:"runsStream"`
	OutputStream string `yaml:"outputStream"`
}

// LogConfig controls the daemon's log sinks.
type LogConfig struct {
	Level   string `yaml:"level"`
	JSON    bool   `yaml:"json"`
	File    string `yaml:"file"`
	Journal bool   `yaml:"journal"`
}

// LoadServer reads a server config file. A missing file yields defaults.
func LoadServer(path string) (*ServerConfig, error) {
	cfg := &ServerConfig{}
	trimmed := strings.TrimSpace(path)
	if trimmed != "" {
		expanded, err := expandPath(trimmed)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(expanded)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse server config: %w", err)
			}
		}
	}
	cfg.setDefaults()
	return cfg, nil
}

func (c *ServerConfig) setDefaults() {
	if c.Listen == "" {
		c.Listen = "localhost:5309"
	}
	if c.CatalogRoot == "" {
		c.CatalogRoot = "."
	}
	if c.DefaultEnvironment == "" {
		c.DefaultEnvironment = "staging"
	}
	if c.Environment == nil {
		c.Environment = map[string]map[string]string{}
	}
	if c.Engine.Default == "" {
		c.Engine.Default = "starlark"
	}
	if len(c.Engine.Interpreter) == 0 {
		c.Engine.Interpreter = []string{"sh", "-s"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
