package usecase

import (
	"context"
	"errors"
	"fmt"

	"livetalk/internal/domain"
	"livetalk/internal/ports"
	"livetalk/internal/transcript"
)

var ErrEmptyTranscript = errors.New("no transcript to export")

type transcriptExporter struct {
	rules     ports.RulesEngine
	clipboard ports.Clipboard
	events    ports.EventSink
}

func newTranscriptExporter(rules ports.RulesEngine, clipboard ports.Clipboard, events ports.EventSink) transcriptExporter {
	return transcriptExporter{rules: rules, clipboard: clipboard, events: events}
}

// Export rewrites every turn, renders the transcript and copies it. A
// clipboard failure is reported but still returns the text.
func (e transcriptExporter) Export(ctx context.Context, history []domain.Turn) (domain.ExportResult, error) {
	if len(history) == 0 {
		return domain.ExportResult{}, ErrEmptyTranscript
	}

	rewritten := make([]domain.Turn, 0, len(history))
	for _, turn := range history {
		out, err := e.rules.ApplyTurn(turn)
		if err != nil {
			e.events.SessionError(domain.ErrorCodeRules, err.Error())
			return domain.ExportResult{}, fmt.Errorf("apply rewrite rules: %w", err)
		}
		rewritten = append(rewritten, out)
	}

	result := domain.ExportResult{
		Text:   transcript.Render(rewritten),
		Turns:  len(history),
		Copied: true,
	}
	if err := e.clipboard.SetText(ctx, result.Text); err != nil {
		result.Copied = false
		e.events.SessionError(domain.ErrorCodeClipboard, "transcript ready but clipboard write failed")
	}
	return result, nil
}
