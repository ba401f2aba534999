package main

import (
	"io"
	"strings"

	"github.com/antonkrylov/livecon/internal/protocol"
)

const clearScreen = "\033[H\033[2J"

// surfacePrinter mirrors render commands onto a terminal or a plain stream.
// On a terminal clear and replace redraw the screen; on a plain stream the
// new content simply starts on a fresh line.
type surfacePrinter struct {
	out         io.Writer
	interactive bool

	wrote  bool
	lastNL bool
}

func newSurfacePrinter(out io.Writer, interactive bool) *surfacePrinter {
	return &surfacePrinter{out: out, interactive: interactive}
}

func (p *surfacePrinter) Apply(cmd protocol.RenderCommand) {
	switch cmd.Kind {
	case protocol.KindClear:
		p.restart()
	case protocol.KindReplace:
		p.restart()
		p.write(cmd.Script)
	case protocol.KindAppend:
		p.write(cmd.Fragment)
	}
}

// Finish terminates a dangling last line.
func (p *surfacePrinter) Finish() {
	if p.wrote && !p.lastNL {
		_, _ = io.WriteString(p.out, "\n")
		p.lastNL = true
	}
}

func (p *surfacePrinter) restart() {
	if p.interactive {
		_, _ = io.WriteString(p.out, clearScreen)
		p.wrote = false
		return
	}
	p.Finish()
}

func (p *surfacePrinter) write(s string) {
	if s == "" {
		return
	}
	_, _ = io.WriteString(p.out, s)
	p.wrote = true
	p.lastNL = strings.HasSuffix(s, "\n")
}
