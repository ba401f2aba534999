package console

import (
	"errors"
	"fmt"
	"strings"

	"github.com/antonkrylov/livecon/internal/protocol"
)

// LineContext holds the scope and environment applied to typed requests.
// Lines have the form
//
//	view <path> <title...>
//	exec <path> <title...>
//	scope <config|temp>
//	env <environment>
type LineContext struct {
	Scope       string
	Environment string
}

// Parse turns one line into a request. A nil envelope with a nil error
// means the line was blank, a comment, or only changed the context.
func (lc *LineContext) Parse(line string) (*protocol.RequestEnvelope, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil, nil
	}
	switch fields[0] {
	case "scope":
		if len(fields) != 2 {
			return nil, errors.New("usage: scope <config|temp>")
		}
		lc.Scope = fields[1]
		return nil, nil
	case "env":
		if len(fields) != 2 {
			return nil, errors.New("usage: env <environment>")
		}
		lc.Environment = fields[1]
		return nil, nil
	case string(protocol.RequestView), string(protocol.RequestExec):
		if len(fields) < 3 {
			return nil, fmt.Errorf("usage: %s <path> <title>", fields[0])
		}
		env := protocol.RequestEnvelope{
			Command: protocol.RequestCommand(fields[0]),
			Payload: protocol.RequestPayload{
				Path:        fields[1],
				Title:       strings.Join(fields[2:], " "),
				Scope:       lc.Scope,
				Environment: lc.Environment,
			},
		}
		return &env, nil
	default:
		return nil, fmt.Errorf("unknown command %q", fields[0])
	}
}

// Request sends an already built envelope through the matching request
// method.
func (c *Controller) Request(env protocol.RequestEnvelope) error {
	p := env.Payload
	switch env.Command {
	case protocol.RequestView:
		return c.RequestView(p.Path, p.Title, p.Scope, p.Environment)
	case protocol.RequestExec:
		return c.RequestExec(p.Path, p.Title, p.Scope, p.Environment)
	default:
		return &protocol.FrameError{Err: protocol.ErrUnknownCommand, Tag: string(env.Command)}
	}
}
