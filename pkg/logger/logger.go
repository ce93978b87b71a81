package logx

import (
	"context"

	"github.com/chative-core/workflow/internal/core"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var DefaultLoggerOpts = &LoggerOpts{
	Environment: core.Development,
}

type LoggerOpts struct {
	Environment core.Environment
}

func safe(otps ...LoggerOpts) *LoggerOpts {
	if len(otps) == 0 {
		return DefaultLoggerOpts
	}
	return &otps[0]
}

func Init(otps ...LoggerOpts) {
	if safe(otps...).Environment == core.Production {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	} else {
		log.Logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Caller().Logger()
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}
}

// RunFields identifies a workflow run in log lines.
type RunFields struct {
	RunID          string
	CorrelationID  string
	ConversationID string
	UserID         string
}

// WithRun returns a context carrying a child logger tagged with the run fields.
func WithRun(ctx context.Context, f RunFields) context.Context {
	l := log.Logger.With().
		Str("run_id", f.RunID).
		Str("correlation_id", f.CorrelationID).
		Str("conversation_id", f.ConversationID).
		Str("user_id", f.UserID).
		Logger()
	return l.WithContext(ctx)
}

// Ctx returns the run logger stored in ctx, or the global logger.
func Ctx(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}

func Panic() *zerolog.Event {
	return log.Panic()
}

func Fatal() *zerolog.Event {
	return log.Fatal()
}
