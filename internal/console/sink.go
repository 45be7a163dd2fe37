// Package console is the headless front end: a line-oriented transcript
// pane on a terminal and a keyboard loop that drives the controller.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"livetalk/internal/domain"
	"livetalk/internal/transcript"
)

const clearLine = "\r\033[K"

// Printer renders backend events as terminal lines. The in-progress turn is
// redrawn in place on the last line.
type Printer struct {
	mu      sync.Mutex
	out     io.Writer
	partial bool
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	p.line(fmt.Sprintf("* %s (%s)", state, reason))
}

func (p *Printer) PartialTranscript(partials domain.Partials) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if partials.Empty() {
		if p.partial {
			fmt.Fprint(p.out, clearLine)
			p.partial = false
		}
		return
	}
	var parts []string
	if partials.User != "" {
		parts = append(parts, "You: "+partials.User)
	}
	if partials.Remote != "" {
		parts = append(parts, "AI: "+partials.Remote)
	}
	fmt.Fprint(p.out, clearLine+"... "+strings.Join(parts, " | "))
	p.partial = true
}

func (p *Printer) TurnCommitted(turn domain.Turn) {
	p.line(transcript.Render([]domain.Turn{turn}) + "\n")
}

func (p *Printer) SessionError(code domain.ErrorCode, detail string) {
	p.line(fmt.Sprintf("! %s: %s", code, detail))
}

// Println writes a plain status line.
func (p *Printer) Println(text string) {
	p.line(text)
}

func (p *Printer) line(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.partial {
		fmt.Fprint(p.out, clearLine)
		p.partial = false
	}
	fmt.Fprintln(p.out, text)
}
