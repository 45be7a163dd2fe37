package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"livetalk/internal/bootstrap"
	"livetalk/internal/config"
	"livetalk/internal/domain"
	"livetalk/internal/usecase"
)

const (
	eventSession = "livetalk:session"
	eventPartial = "livetalk:partial"
	eventTurn    = "livetalk:turn"
	eventError   = "livetalk:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services   *bootstrap.Services
	controller *usecase.SessionController
	cfg        config.Config
	bootErr    error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(ctx, a, &wailsClipboard{})
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.cfg = services.Config
	a.controller = services.Controller
	a.SessionStateChanged(domain.SessionStateClosed, domain.SessionReasonIdle)
}

func (a *App) shutdown(_ context.Context) {
	if a.services == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.services.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown finished with errors")
	}
}

// Toggle starts a conversation when closed and ends it otherwise.
func (a *App) Toggle() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Toggle(a.ctx)
}

// Start opens a conversation and returns once it is listening.
func (a *App) Start() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Start(a.ctx); err != nil && !errors.Is(err, usecase.ErrStartAborted) {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// Stop ends the current conversation.
func (a *App) Stop() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Stop(); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		status := domain.Status{State: domain.SessionStateClosed}
		if a.bootErr != nil {
			status.Message = a.bootErr.Error()
		}
		return status
	}
	return a.controller.Status()
}

// GetHistory returns the committed turns for the transcript pane.
func (a *App) GetHistory() []domain.Turn {
	if a.controller == nil {
		return nil
	}
	return a.controller.History()
}

// GetPartials returns the in-progress turn.
func (a *App) GetPartials() domain.Partials {
	if a.controller == nil {
		return domain.Partials{}
	}
	return a.controller.Partials()
}

// ExportTranscript copies the rewritten transcript to the clipboard.
func (a *App) ExportTranscript() (domain.ExportResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.ExportResult{}, err
	}
	return a.controller.ExportTranscript(a.ctx)
}

// ClearHistory empties the transcript pane.
func (a *App) ClearHistory() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.controller.ClearHistory()
	return nil
}

// ReloadRules re-reads the rewrite rules file.
func (a *App) ReloadRules() (int, error) {
	if err := a.requireReady(); err != nil {
		return 0, err
	}
	if err := a.services.Rules.Reload(); err != nil {
		a.SessionError(domain.ErrorCodeRules, err.Error())
		return a.services.Rules.Len(), err
	}
	return a.services.Rules.Len(), nil
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"provider":     "Gemini Live",
		"model":        a.cfg.Gemini.Model,
		"voice":        a.cfg.Gemini.Voice,
		"rulesFile":    a.cfg.Rules.Path,
		"audioBackend": a.cfg.Audio.Backend,
		"inputRate":    strconv.Itoa(a.cfg.Audio.InputSampleRate),
		"outputRate":   strconv.Itoa(a.cfg.Audio.OutputSampleRate),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// PartialTranscript emits the in-progress turn for both sides.
func (a *App) PartialTranscript(partials domain.Partials) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventPartial, partials)
}

// TurnCommitted emits a completed turn for the transcript pane.
func (a *App) TurnCommitted(turn domain.Turn) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTurn, turn)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonIdle:
		return "Ready"
	case domain.SessionReasonConnecting:
		return "Connecting..."
	case domain.SessionReasonListening:
		return "Listening"
	case domain.SessionReasonStopped:
		return "Conversation ended"
	case domain.SessionReasonRemoteClosed:
		return "Conversation closed by the server"
	case domain.SessionReasonTransportFailed:
		return "Connection lost"
	case domain.SessionReasonDeviceFailed:
		return "Audio device unavailable"
	case domain.SessionReasonPermissionDenied:
		return "Microphone access denied"
	case domain.SessionReasonCancelled:
		return "Conversation cancelled"
	case domain.SessionReasonShutdown:
		return "Shutting down"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodePermission:
		return "Microphone access denied"
	case domain.ErrorCodeDevice:
		return "Audio device error"
	case domain.ErrorCodeTransport:
		return "Connection error"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	case domain.ErrorCodeRules:
		return "Rules processing failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
