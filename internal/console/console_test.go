package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"livetalk/internal/domain"
	"livetalk/internal/usecase"
)

func TestPrinterRedrawsPartialsInPlace(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	printer := NewPrinter(&out)
	printer.SessionStateChanged(domain.SessionStateActive, domain.SessionReasonListening)
	printer.PartialTranscript(domain.Partials{User: "hel"})
	printer.PartialTranscript(domain.Partials{User: "hello", Remote: "hi"})
	printer.PartialTranscript(domain.Partials{})
	printer.TurnCommitted(domain.Turn{User: "hello", Remote: "hi"})
	printer.SessionError(domain.ErrorCodeTransport, "connection reset")

	got := out.String()
	for _, want := range []string{
		"* active (listening)\n",
		clearLine + "... You: hel",
		clearLine + "... You: hello | AI: hi",
		"You: hello\nAI: hi\n",
		"! transport: connection reset\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output %q", want, got)
		}
	}
}

func TestPrinterClearsPartialBeforeLine(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	printer := NewPrinter(&out)
	printer.PartialTranscript(domain.Partials{Remote: "thinking"})
	printer.Println("status")

	if got := out.String(); !strings.HasSuffix(got, clearLine+"status\n") {
		t.Fatalf("expected cleared line before status, got %q", got)
	}
}

func TestRunDispatchesCommands(t *testing.T) {
	t.Parallel()

	controller := &fakeController{result: domain.ExportResult{Text: "You: hi", Turns: 1, Copied: true}}
	var out bytes.Buffer
	input := strings.NewReader("\nc\ns\nx\nwhat\nq\n\n")

	if err := Run(context.Background(), input, controller, NewPrinter(&out)); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	toggles, exports, clears := controller.counts()
	if toggles != 1 || exports != 1 || clears != 1 {
		t.Fatalf("unexpected calls: toggles=%d exports=%d clears=%d", toggles, exports, clears)
	}
	got := out.String()
	for _, want := range []string{"copied 1 turns", "state: closed", "history cleared", help} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output %q", want, got)
		}
	}
}

func TestRunReportsEmptyTranscriptAndEndsOnEOF(t *testing.T) {
	t.Parallel()

	controller := &fakeController{exportErr: usecase.ErrEmptyTranscript}
	var out bytes.Buffer

	if err := Run(context.Background(), strings.NewReader("c\n"), controller, NewPrinter(&out)); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out.String(), "nothing to copy yet") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestRunPrintsTextWhenClipboardFails(t *testing.T) {
	t.Parallel()

	controller := &fakeController{result: domain.ExportResult{Text: "You: hi\nAI: hello", Turns: 1}}
	var out bytes.Buffer

	if err := Run(context.Background(), strings.NewReader("c\nq\n"), controller, NewPrinter(&out)); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out.String(), "You: hi\nAI: hello") {
		t.Fatalf("expected transcript text, got %q", out.String())
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reader, writer := io.Pipe()
	defer writer.Close()

	if err := Run(ctx, reader, &fakeController{}, NewPrinter(&bytes.Buffer{})); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

func TestCommandClipboardUsesFirstAvailableCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "clip.txt")
	script := filepath.Join(dir, "fake-copy")
	if err := os.WriteFile(script, []byte("#!/bin/sh\ncat > \"$1\"\n"), 0o700); err != nil {
		t.Fatalf("write script: %v", err)
	}

	clipboard := NewCommandClipboard([][]string{
		{filepath.Join(dir, "missing-command")},
		{script, target},
	})
	if err := clipboard.SetText(context.Background(), "You: hi"); err != nil {
		t.Fatalf("set text failed: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(data) != "You: hi" {
		t.Fatalf("unexpected clipboard contents: %q", data)
	}
}

func TestCommandClipboardReportsMissingCommands(t *testing.T) {
	t.Parallel()

	clipboard := NewCommandClipboard([][]string{{filepath.Join(t.TempDir(), "nope")}})
	if err := clipboard.SetText(context.Background(), "x"); !errors.Is(err, ErrNoClipboard) {
		t.Fatalf("expected ErrNoClipboard, got %v", err)
	}
}

type fakeController struct {
	result    domain.ExportResult
	exportErr error

	mu      sync.Mutex
	toggles int
	exports int
	clears  int
}

func (f *fakeController) Toggle(context.Context) (domain.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles++
	return domain.Status{State: domain.SessionStateActive, Active: true}, nil
}

func (f *fakeController) Status() domain.Status {
	return domain.Status{State: domain.SessionStateClosed}
}

func (f *fakeController) ExportTranscript(context.Context) (domain.ExportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exports++
	return f.result, f.exportErr
}

func (f *fakeController) ClearHistory() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
}

func (f *fakeController) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.toggles, f.exports, f.clears
}
