package console

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNoClipboard is returned when none of the candidate commands exist.
var ErrNoClipboard = errors.New("no clipboard command available")

// DefaultClipboardCommands are tried in order.
var DefaultClipboardCommands = [][]string{
	{"wl-copy"},
	{"xclip", "-selection", "clipboard"},
	{"xsel", "--clipboard", "--input"},
	{"pbcopy"},
}

// CommandClipboard writes text to the stdin of the first available
// clipboard command.
type CommandClipboard struct {
	commands [][]string
}

func NewCommandClipboard(commands [][]string) *CommandClipboard {
	if len(commands) == 0 {
		commands = DefaultClipboardCommands
	}
	return &CommandClipboard{commands: commands}
}

func (c *CommandClipboard) SetText(ctx context.Context, text string) error {
	for _, command := range c.commands {
		path, err := exec.LookPath(command[0])
		if err != nil {
			continue
		}
		cmd := exec.CommandContext(ctx, path, command[1:]...)
		cmd.Stdin = strings.NewReader(text)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("%s: %w: %s", command[0], err, strings.TrimSpace(string(out)))
		}
		return nil
	}
	return ErrNoClipboard
}
