// Package history records what the dispatcher emitted for each request.
package history

import "time"

// Status of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// RunSpec describes the request a run belongs to.
type RunSpec struct {
	Conn        string `json:"conn"`
	Command     string `json:"command"`
	Path        string `json:"path"`
	Title       string `json:"title"`
	Scope       string `json:"scope,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// Run is a snapshot of one request's handling.
type Run struct {
	ID string `json:"id"`
	RunSpec
	Status    Status    `json:"status"`
	ExitCode  int       `json:"exitCode"`
	Message   string    `json:"message,omitempty"`
	Fragments int       `json:"fragments"`
	Bytes     int64     `json:"bytes"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished,omitzero"`
	Version   uint64    `json:"version"`
}

// Done reports whether the run has finished.
func (r Run) Done() bool {
	return r.Status != StatusRunning
}
