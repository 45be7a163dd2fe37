package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"livetalk/internal/domain"
	"livetalk/internal/usecase"
)

// Controller is the part of the session controller the loop drives.
type Controller interface {
	Toggle(ctx context.Context) (domain.Status, error)
	Status() domain.Status
	ExportTranscript(ctx context.Context) (domain.ExportResult, error)
	ClearHistory()
}

const help = "Enter: start/stop  c: copy transcript  x: clear history  s: status  q: quit"

// Run reads commands line by line until q, end of input or ctx is done.
// Toggles run in the background so a second Enter can cancel a session that
// is still opening. Sessions started here end when Run returns.
func Run(ctx context.Context, in io.Reader, controller Controller, printer *Printer) error {
	ctx, cancel := context.WithCancel(ctx)
	var toggles sync.WaitGroup
	defer toggles.Wait()
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	printer.Println(help)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "":
				toggles.Add(1)
				go func() {
					defer toggles.Done()
					if _, err := controller.Toggle(ctx); err != nil && !errors.Is(err, usecase.ErrControllerClosed) {
						printer.Println("toggle failed: " + err.Error())
					}
				}()
			case "c":
				export(ctx, controller, printer)
			case "x":
				controller.ClearHistory()
				printer.Println("history cleared")
			case "s":
				status := controller.Status()
				printer.Println(fmt.Sprintf("state: %s", status.State))
			case "q":
				return nil
			default:
				printer.Println(help)
			}
		}
	}
}

func export(ctx context.Context, controller Controller, printer *Printer) {
	result, err := controller.ExportTranscript(ctx)
	switch {
	case errors.Is(err, usecase.ErrEmptyTranscript):
		printer.Println("nothing to copy yet")
	case err != nil:
		printer.Println("export failed: " + err.Error())
	case result.Copied:
		printer.Println(fmt.Sprintf("copied %d turns to the clipboard", result.Turns))
	default:
		printer.Println(result.Text)
	}
}
