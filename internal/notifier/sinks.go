package notifier

import "log/slog"

// LogSink writes every event as a structured slog line, the teacher's
// default logging idiom applied to notifier events instead of a direct
// logger.Info call at the publish site.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink builds a sink that logs at Info for every event kind except
// Risk and CircuitBreakerReset, which log at Warn.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "notifier")}
}

func (s *LogSink) Notify(evt Event) bool {
	attrs := []any{"kind", evt.Kind, "market", evt.MarketID, "message", evt.Message}
	switch evt.Kind {
	case EventRisk, EventCircuitBreakerReset:
		s.logger.Warn("domain event", attrs...)
	default:
		s.logger.Info("domain event", attrs...)
	}
	return true
}

// ChanSink forwards events to a bounded channel, used by the control
// surface's WebSocket hub to push live updates to connected clients. A full
// channel means the sink is falling behind; the event is dropped rather
// than blocking the publisher.
type ChanSink struct {
	ch chan Event
}

// NewChanSink builds a ChanSink with the given buffer capacity.
func NewChanSink(capacity int) *ChanSink {
	return &ChanSink{ch: make(chan Event, capacity)}
}

// Events returns the read-only channel events are delivered on.
func (s *ChanSink) Events() <-chan Event { return s.ch }

func (s *ChanSink) Notify(evt Event) bool {
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

// TelegramSink is the wire-up point for the external Telegram bot collaborator
// (spec.md §1 Non-goals: command parsing/message formatting live outside the
// core). It only needs to accept events here; a real deployment supplies a
// Send function that posts to the bot's chat.
type TelegramSink struct {
	send func(evt Event) error
}

// NewTelegramSink wraps a send function satisfying the Sink interface. A nil
// send function makes the sink a no-op that always reports dropped, useful
// as a default when Telegram isn't configured.
func NewTelegramSink(send func(evt Event) error) *TelegramSink {
	return &TelegramSink{send: send}
}

func (s *TelegramSink) Notify(evt Event) bool {
	if s.send == nil {
		return false
	}
	return s.send(evt) == nil
}
