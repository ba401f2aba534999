package console

import (
	"strings"

	"github.com/antonkrylov/livecon/internal/protocol"
)

// Surface is the single accumulated output region of a connection. It is
// not safe for concurrent use; the Controller serializes access.
type Surface struct {
	b strings.Builder
}

// Apply mutates the surface according to one render command. Appends
// extend the buffer in place; everything else goes through
// RenderCommand.Apply.
func (s *Surface) Apply(cmd protocol.RenderCommand) {
	if cmd.Kind == protocol.KindAppend {
		s.b.WriteString(cmd.Fragment)
		return
	}
	next := cmd.Apply(s.b.String())
	s.b.Reset()
	s.b.WriteString(next)
}

// Reset discards all content.
func (s *Surface) Reset() { s.b.Reset() }

// Content returns the current surface markup.
func (s *Surface) Content() string { return s.b.String() }
