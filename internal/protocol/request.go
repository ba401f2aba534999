package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RequestCommand is the intent carried by a client envelope.
type RequestCommand string

const (
	RequestView RequestCommand = "view"
	RequestExec RequestCommand = "exec"
)

// RequestPayload identifies a script and the execution context it runs in.
// Scope and Environment are opaque to the client.
type RequestPayload struct {
	Path        string `json:"path"`
	Title       string `json:"title"`
	Scope       string `json:"scope"`
	Environment string `json:"environment"`
}

// RequestEnvelope is a client-to-server message. Envelopes carry no
// identifier: responses are correlated only by arrival order.
type RequestEnvelope struct {
	Command RequestCommand `json:"command"`
	Payload RequestPayload `json:"payload"`
}

// NewView builds a view envelope.
func NewView(path, title, scope, environment string) RequestEnvelope {
	return RequestEnvelope{
		Command: RequestView,
		Payload: RequestPayload{Path: path, Title: title, Scope: scope, Environment: environment},
	}
}

// NewExec builds an exec envelope.
func NewExec(path, title, scope, environment string) RequestEnvelope {
	return RequestEnvelope{
		Command: RequestExec,
		Payload: RequestPayload{Path: path, Title: title, Scope: scope, Environment: environment},
	}
}

// Validate checks the fields the dispatcher needs to locate a script.
func (e RequestEnvelope) Validate() error {
	switch e.Command {
	case RequestView, RequestExec:
	case "":
		return &FrameError{Err: ErrMalformedFrame, Detail: "command is required"}
	default:
		return &FrameError{Err: ErrUnknownCommand, Tag: string(e.Command)}
	}
	if strings.TrimSpace(e.Payload.Path) == "" {
		return &FrameError{Err: ErrMalformedFrame, Tag: string(e.Command), Detail: "payload.path is required"}
	}
	if strings.TrimSpace(e.Payload.Title) == "" {
		return &FrameError{Err: ErrMalformedFrame, Tag: string(e.Command), Detail: "payload.title is required"}
	}
	return nil
}

// EncodeRequest serializes a validated envelope into one text frame.
func EncodeRequest(e RequestEnvelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return b, nil
}

// DecodeRequest parses and validates one inbound request frame.
func DecodeRequest(frame []byte) (RequestEnvelope, error) {
	var raw struct {
		Command *string          `json:"command"`
		Payload *json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return RequestEnvelope{}, &FrameError{Err: ErrMalformedFrame, Detail: err.Error()}
	}
	if raw.Command == nil {
		return RequestEnvelope{}, &FrameError{Err: ErrMalformedFrame, Detail: "command is required"}
	}
	env := RequestEnvelope{Command: RequestCommand(*raw.Command)}
	if env.Command != RequestView && env.Command != RequestExec {
		return RequestEnvelope{}, &FrameError{Err: ErrUnknownCommand, Tag: *raw.Command}
	}
	if raw.Payload == nil {
		return RequestEnvelope{}, &FrameError{Err: ErrMalformedFrame, Tag: *raw.Command, Detail: "payload is required"}
	}
	if err := json.Unmarshal(*raw.Payload, &env.Payload); err != nil {
		return RequestEnvelope{}, &FrameError{Err: ErrMalformedFrame, Tag: *raw.Command, Detail: err.Error()}
	}
	if err := env.Validate(); err != nil {
		return RequestEnvelope{}, err
	}
	return env, nil
}
