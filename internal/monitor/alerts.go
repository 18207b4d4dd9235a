package monitor

import (
	"github.com/rs/zerolog"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the logger at error level.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Send(message string) error {
	s.Logger.Error().Str("component", "alerts").Msg(message)
	return nil
}
