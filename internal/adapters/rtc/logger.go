package rtc

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// loggerFactory routes pion's internal logging into the global zerolog
// logger. pion's info level is chatty, so it lands on debug.
type loggerFactory struct{}

func NewLoggerFactory() logging.LoggerFactory { return loggerFactory{} }

func (loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return scopedLogger{l: log.Logger.With().Str("module", "pion").Str("scope", scope).Logger()}
}

type scopedLogger struct{ l zerolog.Logger }

func (s scopedLogger) Trace(msg string)                  { s.l.Trace().Msg(msg) }
func (s scopedLogger) Tracef(format string, args ...any) { s.l.Trace().Msgf(format, args...) }
func (s scopedLogger) Debug(msg string)                  { s.l.Trace().Msg(msg) }
func (s scopedLogger) Debugf(format string, args ...any) { s.l.Trace().Msgf(format, args...) }
func (s scopedLogger) Info(msg string)                   { s.l.Debug().Msg(msg) }
func (s scopedLogger) Infof(format string, args ...any)  { s.l.Debug().Msgf(format, args...) }
func (s scopedLogger) Warn(msg string)                   { s.l.Warn().Msg(msg) }
func (s scopedLogger) Warnf(format string, args ...any)  { s.l.Warn().Msgf(format, args...) }
func (s scopedLogger) Error(msg string)                  { s.l.Error().Msg(msg) }
func (s scopedLogger) Errorf(format string, args ...any) { s.l.Error().Msgf(format, args...) }
