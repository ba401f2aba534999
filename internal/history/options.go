package history

import (
	"log/slog"
	"time"
)

// Options configure the store.
type Options struct {
	Logger *slog.Logger
	// Path enables bbolt persistence of finished runs.
	Path string
	// MaxRuns bounds the runs kept in memory; the oldest finished runs are
	// evicted first.
	MaxRuns   int
	JetStream *JetStreamOptions
}

func (o *Options) setDefaults() {
	if o.MaxRuns == 0 {
		o.MaxRuns = 1000
	}
}

// JetStreamOptions describe how to mirror history into NATS JetStream.
type JetStreamOptions struct {
	URL            string
	User           string
	Password       string
	EventsPrefix   string
	RunsStream     string
	OutputStream   string
	RunsMaxBytes   int64
	OutputMaxBytes int64
	DupeWindow     time.Duration
}

func (o *JetStreamOptions) setDefaults() {
	if o.EventsPrefix == "" {
		o.EventsPrefix = "livecon"
	}
	if o.RunsStream == "" {
		o.RunsStream = "livecon_runs"
	}
	if o.OutputStream == "" {
		o.OutputStream = "livecon_output"
	}
	if o.RunsMaxBytes == 0 {
		o.RunsMaxBytes = 1024 * 1024 * 1024 // 1GB
	}
	if o.OutputMaxBytes == 0 {
		o.OutputMaxBytes = 20 * 1024 * 1024 * 1024 // 20GB
	}
	if o.DupeWindow == 0 {
		o.DupeWindow = 2 * time.Minute
	}
}
