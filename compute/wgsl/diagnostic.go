package wgsl

import (
	"fmt"
	"strings"
)

// Pos is a 1-based source position. The zero Pos means the message is not
// tied to a location, which is the case for checks made on lowered IR.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Col) }

func (p Pos) valid() bool { return p.Line > 0 }

// Diagnostic is one compiler message.
type Diagnostic struct {
	Pos Pos
	Msg string
}

// DiagnosticList is returned by Reflect and Compile. Its Error text is the
// build log surfaced to users, one diagnostic per line.
type DiagnosticList struct {
	Source string
	Diags  []Diagnostic
}

func (l *DiagnosticList) Error() string {
	name := l.Source
	if name == "" {
		name = "<kernel>"
	}
	lines := make([]string, 0, len(l.Diags))
	for _, d := range l.Diags {
		if d.Pos.valid() {
			lines = append(lines, fmt.Sprintf("%s:%s: error: %s", name, d.Pos, d.Msg))
		} else {
			lines = append(lines, fmt.Sprintf("%s: error: %s", name, d.Msg))
		}
	}
	return strings.Join(lines, "\n")
}

func (l *DiagnosticList) add(pos Pos, format string, args ...any) {
	l.Diags = append(l.Diags, Diagnostic{Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

func (l *DiagnosticList) err() error {
	if len(l.Diags) == 0 {
		return nil
	}
	return l
}
