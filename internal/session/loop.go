package session

import (
	"context"
	"errors"

	"github.com/chadiek/homesync-voice/internal/codec"
	"github.com/chadiek/homesync-voice/internal/command"
	"github.com/chadiek/homesync-voice/internal/live"
)

// run consumes backend events for s until its context is cancelled or the
// backend goes away. Only this goroutine touches the assembler and turns.
func (m *Manager) run(s *session) {
	defer close(s.done)
	events := s.channel.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.drained:
			if s.turnDone {
				m.setVoice(VoiceIdle)
			}
		case ev, ok := <-events:
			if !ok {
				go m.end(s, "channel closed")
				return
			}
			if reason, stop := m.handle(s, ev); stop {
				go m.end(s, reason)
				return
			}
		}
	}
}

func (m *Manager) handle(s *session, ev live.Event) (reason string, stop bool) {
	switch ev.Kind {
	case live.EventOpen:
		if s.opened {
			return "", false
		}
		s.opened = true
		m.deps.Metrics.SessionsOpen.Inc()
		s.capture.Attach(s.channel)
		m.setVoice(VoiceListening)
		m.setState(StateOpen)
		s.log.Info().Msg("session open")

	case live.EventInputTranscript:
		s.assembler.AppendInput(ev.Text)
		m.publish(Update{Kind: UpdateTranscript, Session: s.id, Role: "user", Text: ev.Text})
		if ev.Finished {
			m.setVoice(VoiceThinking)
		} else {
			m.setVoice(VoiceListening)
		}

	case live.EventOutputTranscript:
		s.assembler.AppendOutput(ev.Text)
		s.turnDone = false
		m.publish(Update{Kind: UpdateTranscript, Session: s.id, Role: "model", Text: ev.Text})

	case live.EventAudio:
		samples, err := codec.Decode(ev.Audio)
		if err != nil {
			m.deps.Metrics.CodecErrors.Inc()
			s.log.Warn().Err(err).Int("bytes", len(ev.Audio)).Msg("dropping undecodable audio")
			return "", false
		}
		if _, ok := s.scheduler.Enqueue(samples, codec.ParseRate(ev.MIMEType)); ok {
			s.turnDone = false
			m.setVoice(VoiceSpeaking)
		}

	case live.EventInterrupted:
		s.scheduler.Halt()
		m.setVoice(VoiceListening)
		s.log.Debug().Msg("playback interrupted")

	case live.EventTurnComplete:
		m.completeTurn(s)

	case live.EventError:
		s.log.Error().Err(ev.Err).Msg("backend error")
		if ev.Err != nil {
			m.publish(Update{Kind: UpdateError, Session: s.id, Error: ev.Err.Error()})
		}
		return "backend error", true

	case live.EventClose:
		return "backend closed", true
	}
	return "", false
}

func (m *Manager) completeTurn(s *session) {
	t, cmd, err := s.assembler.Complete()
	if !t.Empty() {
		s.turns = append(s.turns, t)
		m.publish(Update{Kind: UpdateTurn, Session: s.id, Turn: &t})
	}

	var perr *command.ParseError
	switch {
	case errors.As(err, &perr):
		m.deps.Metrics.Commands.WithLabelValues("unknown", "parse_error").Inc()
		s.log.Warn().Err(err).Str("block", perr.Block).Msg("ignoring malformed command")
	case err != nil:
		s.log.Warn().Err(err).Msg("command extraction")
	case cmd != nil:
		m.deps.Metrics.Commands.WithLabelValues(string(cmd.Action()), "parsed").Inc()
		m.publish(Update{Kind: UpdateCommand, Session: s.id, Command: viewOf(cmd)})
		m.dispatch(s, cmd)
	}

	s.turnDone = true
	if s.scheduler.Active() == 0 {
		m.setVoice(VoiceIdle)
	}
}

// dispatch runs cmd in the background so the loop keeps draining audio.
func (m *Manager) dispatch(s *session, cmd command.Command) {
	if m.deps.Dispatcher == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.DispatchTimeout)
		defer cancel()

		out, err := m.deps.Dispatcher.Dispatch(ctx, cmd)
		if err != nil {
			m.deps.Metrics.Dispatches.WithLabelValues(string(out.Mode), "error").Inc()
			s.log.Error().Err(err).Str("action", string(cmd.Action())).Str("contact", cmd.Recipient()).Msg("dispatch failed")
			m.publish(Update{Kind: UpdateError, Session: s.id, Command: viewOf(cmd), Error: err.Error()})
			return
		}
		m.deps.Metrics.Dispatches.WithLabelValues(string(out.Mode), "ok").Inc()
		s.log.Info().Str("action", string(out.Action)).Str("contact", out.Contact).Str("sid", out.SID).Msg("dispatched")
		m.publish(Update{Kind: UpdateDispatch, Session: s.id, Outcome: &out})
	}()
}
