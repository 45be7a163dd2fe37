package usecase

import (
	"context"
	"errors"
	"fmt"

	"livetalk/internal/domain"
	"livetalk/internal/pcm"
	"livetalk/internal/playback"
	"livetalk/internal/ports"
)

// dispatch is the only consumer of the transport's events for s, and the
// only writer to its scheduler and to the aggregator while s is live. The
// close of the event channel ends the session.
func (c *SessionController) dispatch(ctx context.Context, s *liveSession, live ports.LiveSession) {
	var fault error
	for event := range live.Events() {
		if s.isReleased() {
			continue
		}
		switch event.Kind {
		case domain.ServerEventReady:
			s.markReady()
			s.span.AddEvent("ready")
		case domain.ServerEventAudio:
			c.playFragment(s, event.Audio)
		case domain.ServerEventTranscript:
			c.appendPartial(ctx, s, event.Side, event.Text)
		case domain.ServerEventTurnComplete:
			c.completeTurn(ctx, s)
		case domain.ServerEventError:
			fault = event.Err
			c.teardown(s, domain.ReasonFor(fault), fault)
		default:
			c.logger.Warn().Str("kind", string(event.Kind)).Msg("ignoring unknown server event")
		}
	}

	if fault == nil {
		fault = live.Wait()
	}
	if fault == nil && !s.isReady() {
		fault = fmt.Errorf("%w: session closed before setup completed", domain.ErrTransport)
	}
	c.teardown(s, domain.ReasonFor(fault), fault)
}

func (c *SessionController) playFragment(s *liveSession, fragment domain.AudioFragment) {
	scheduler := s.playback()
	if scheduler == nil {
		return
	}
	if _, err := scheduler.Schedule(fragment); err != nil {
		// Decode failures and backlog drops are logged by the scheduler.
		// A closed scheduler means release won the race.
		if errors.Is(err, domain.ErrDecode) || errors.Is(err, playback.ErrBacklogFull) ||
			errors.Is(err, playback.ErrSchedulerClosed) {
			return
		}
		s.logger.Warn().Err(err).Msg("failed to schedule audio fragment")
	}
}

func (c *SessionController) appendPartial(ctx context.Context, s *liveSession, side domain.Side, text string) {
	partials, err := c.aggregator.OnPartial(side, text)
	if err != nil {
		c.metrics.RecordProtocolViolation()
		s.logger.Warn().Err(err).Str("side", string(side)).Msg("dropping transcript fragment")
		return
	}
	c.metrics.RecordTranscriptDelta(string(side))
	c.events.PartialTranscript(partials)
	if err := c.publisher.PublishPartial(ctx, s.id, partials); err != nil {
		s.logger.Debug().Err(err).Msg("partial not published")
	}
}

func (c *SessionController) completeTurn(ctx context.Context, s *liveSession) {
	turn, committed := c.commitTurn(s)
	c.events.PartialTranscript(domain.Partials{})
	if !committed {
		return
	}
	c.metrics.RecordTurnCommitted()
	c.events.TurnCommitted(turn)

	published, err := c.rules.ApplyTurn(turn)
	if err != nil {
		s.logger.Warn().Err(err).Msg("rewrite rules failed, publishing raw turn")
		published = turn
	}
	if err := c.publisher.PublishTurn(ctx, s.id, published); err != nil {
		s.logger.Warn().Err(err).Msg("turn not published")
	}
}

// commitTurn closes the current turn and stores it unrewritten.
func (c *SessionController) commitTurn(s *liveSession) (domain.Turn, bool) {
	c.historyMu.Lock()
	defer c.historyMu.Unlock()

	turn, committed := c.aggregator.OnTurnComplete()
	if !committed {
		return turn, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := c.history.SaveTurn(ctx, s.id, turn); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist turn")
	}
	return turn, true
}

// forwardBlock runs on the capture goroutine, one block at a time.
func (c *SessionController) forwardBlock(s *liveSession, live ports.LiveSession, block []float32) {
	frame := pcm.NewFrame(block, c.cfg.Capture.SampleRate)
	if err := live.SendAudio(frame); err != nil {
		s.logger.Debug().Err(err).Msg("capture frame not sent")
		return
	}
	c.metrics.RecordFrameSent(len(frame.Data))
}
