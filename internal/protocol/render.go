package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire tags of server-to-client render commands. TagAppend shares its
// spelling with RequestExec but denotes an append instruction.
const (
	TagClear    = "clear"
	TagReplaced = "replaced"
	TagAppend   = "exec"
)

// RenderKind discriminates the RenderCommand union.
type RenderKind int

const (
	KindClear RenderKind = iota + 1
	KindReplace
	KindAppend
)

func (k RenderKind) String() string {
	switch k {
	case KindClear:
		return "clear"
	case KindReplace:
		return "replace"
	case KindAppend:
		return "append"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// RenderCommand is one instruction mutating the client surface. Script is
// set for KindReplace, Fragment for KindAppend. Both are opaque markup.
type RenderCommand struct {
	Kind     RenderKind
	Script   string
	Fragment string
}

func Clear() RenderCommand { return RenderCommand{Kind: KindClear} }

func Replace(script string) RenderCommand {
	return RenderCommand{Kind: KindReplace, Script: script}
}

func AppendFragment(fragment string) RenderCommand {
	return RenderCommand{Kind: KindAppend, Fragment: fragment}
}

// Apply folds the command over the given surface content.
func (c RenderCommand) Apply(content string) string {
	switch c.Kind {
	case KindClear:
		return ""
	case KindReplace:
		return c.Script
	case KindAppend:
		return content + c.Fragment
	default:
		return content
	}
}

// Tag returns the wire tag for the command.
func (c RenderCommand) Tag() string {
	switch c.Kind {
	case KindClear:
		return TagClear
	case KindReplace:
		return TagReplaced
	case KindAppend:
		return TagAppend
	default:
		return ""
	}
}

var (
	// ErrMalformedFrame marks frames that are not valid JSON or lack a
	// required field.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownCommand marks frames whose command tag is not recognized.
	ErrUnknownCommand = errors.New("unknown command")
)

// FrameError describes why a frame was rejected.
type FrameError struct {
	Err    error
	Tag    string
	Detail string
}

func (e *FrameError) Error() string {
	msg := e.Err.Error()
	if e.Tag != "" {
		msg += fmt.Sprintf(" %q", e.Tag)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *FrameError) Unwrap() error { return e.Err }

type renderFrame struct {
	Command string `json:"command"`
	Payload any    `json:"payload,omitempty"`
}

type replacedPayload struct {
	Script string `json:"script"`
}

type appendPayload struct {
	Fragment string `json:"fragment"`
}

// EncodeRender serializes a render command into one text frame.
func EncodeRender(c RenderCommand) ([]byte, error) {
	frame := renderFrame{Command: c.Tag()}
	switch c.Kind {
	case KindClear:
	case KindReplace:
		frame.Payload = replacedPayload{Script: c.Script}
	case KindAppend:
		frame.Payload = appendPayload{Fragment: c.Fragment}
	default:
		return nil, fmt.Errorf("encode render: %w", &FrameError{Err: ErrUnknownCommand, Detail: c.Kind.String()})
	}
	return json.Marshal(frame)
}

// DecodeRender parses one inbound frame. Rejected frames yield a
// *FrameError wrapping ErrMalformedFrame or ErrUnknownCommand.
func DecodeRender(frame []byte) (RenderCommand, error) {
	var raw struct {
		Command *string          `json:"command"`
		Payload *json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		return RenderCommand{}, &FrameError{Err: ErrMalformedFrame, Detail: err.Error()}
	}
	if raw.Command == nil {
		return RenderCommand{}, &FrameError{Err: ErrMalformedFrame, Detail: "command is required"}
	}
	tag := *raw.Command
	switch tag {
	case TagClear:
		return Clear(), nil
	case TagReplaced:
		var p struct {
			Script *string `json:"script"`
		}
		if err := decodePayload(tag, raw.Payload, &p); err != nil {
			return RenderCommand{}, err
		}
		if p.Script == nil {
			return RenderCommand{}, &FrameError{Err: ErrMalformedFrame, Tag: tag, Detail: "payload.script is required"}
		}
		return Replace(*p.Script), nil
	case TagAppend:
		var p struct {
			Fragment *string `json:"fragment"`
		}
		if err := decodePayload(tag, raw.Payload, &p); err != nil {
			return RenderCommand{}, err
		}
		if p.Fragment == nil {
			return RenderCommand{}, &FrameError{Err: ErrMalformedFrame, Tag: tag, Detail: "payload.fragment is required"}
		}
		return AppendFragment(*p.Fragment), nil
	default:
		return RenderCommand{}, &FrameError{Err: ErrUnknownCommand, Tag: tag}
	}
}

func decodePayload(tag string, payload *json.RawMessage, dst any) error {
	if payload == nil {
		return &FrameError{Err: ErrMalformedFrame, Tag: tag, Detail: "payload is required"}
	}
	if err := json.Unmarshal(*payload, dst); err != nil {
		return &FrameError{Err: ErrMalformedFrame, Tag: tag, Detail: err.Error()}
	}
	return nil
}
