package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var logger = newLogger(os.Stderr)

func newLogger(w io.Writer) zerolog.Logger {
	cw := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    true,
	}
	return zerolog.New(cw).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// Configure sets the minimum level that is written. Accepted values are the
// zerolog level names ("debug", "info", "warn", "error", "fatal").
func Configure(level string) error {
	if level == "" {
		return nil
	}
	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger = logger.Level(l)
	return nil
}

// SetOutput redirects log output, mostly useful in tests.
func SetOutput(w io.Writer) {
	level := logger.GetLevel()
	logger = newLogger(w).Level(level)
}

func fmtErr(err error) string {
	code := status.Code(err)
	if code == codes.Unknown {
		return err.Error()
	}
	return code.String()
}

// FormatDuration renders durations the way they show up in migration and
// report summaries.
func FormatDuration(dur time.Duration) string {
	switch {
	case dur < time.Millisecond:
		return fmt.Sprintf("%d us", dur.Microseconds())
	case dur < time.Second:
		return fmt.Sprintf("%d ms", dur.Milliseconds())
	case dur < time.Minute:
		return fmt.Sprintf("%2.2f s", dur.Seconds())
	default:
		return dur.Round(time.Second).String()
	}
}

// LogOperation records the outcome of one per-database operation.
func LogOperation(ctx context.Context, op, target string, dur time.Duration, err error) {
	if err != nil {
		CtxWarningf(ctx, "%s %s %s [%s]", op, target, fmtErr(err), FormatDuration(dur))
		return
	}
	CtxInfof(ctx, "%s %s OK [%s]", op, target, FormatDuration(dur))
}

func Debug(msg string) {
	logger.Debug().Msg(msg)
}

func Debugf(format string, args ...interface{}) {
	logger.Debug().Msgf(format, args...)
}

func Info(msg string) {
	logger.Info().Msg(msg)
}

func Infof(format string, args ...interface{}) {
	logger.Info().Msgf(format, args...)
}

func Printf(format string, args ...interface{}) {
	logger.Info().Msgf(format, args...)
}

func Warning(msg string) {
	logger.Warn().Msg(msg)
}

func Warningf(format string, args ...interface{}) {
	logger.Warn().Msgf(format, args...)
}

func Error(msg string) {
	logger.Error().Msg(msg)
}

func Errorf(format string, args ...interface{}) {
	logger.Error().Msgf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatal().Msgf(format, args...)
}

// ctxLogger attaches the database label carried by ctx, if any.
func ctxLogger(ctx context.Context) *zerolog.Logger {
	l := logger
	if db, ok := ctx.Value(dbKey{}).(string); ok {
		l = l.With().Str("db", db).Logger()
	}
	return &l
}

type dbKey struct{}

// WithDatabase returns a context whose log lines are tagged with the given
// database label, e.g. "db3".
func WithDatabase(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, dbKey{}, label)
}

func CtxDebugf(ctx context.Context, format string, args ...interface{}) {
	ctxLogger(ctx).Debug().Msgf(format, args...)
}

func CtxInfof(ctx context.Context, format string, args ...interface{}) {
	ctxLogger(ctx).Info().Msgf(format, args...)
}

func CtxWarningf(ctx context.Context, format string, args ...interface{}) {
	ctxLogger(ctx).Warn().Msgf(format, args...)
}

func CtxErrorf(ctx context.Context, format string, args ...interface{}) {
	ctxLogger(ctx).Error().Msgf(format, args...)
}
