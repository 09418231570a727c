package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
)

const FormatConsole = "console"

type Options struct {
	ServiceName string
	Level       zerolog.Level
	// Format is "json" (default) or "console" for local runs.
	Format    string
	WarnStack bool
	Output    io.Writer
	// Static fields are stamped on every entry, e.g. env and instance.
	Static map[string]any
}

// Logger carries request-scoped fields through context.Context. Services
// enrich the context once (owner, job, request id) and every later entry in
// that call path inherits the fields.
type Logger struct {
	base      zerolog.Logger
	warnStack bool
}

type ctxKey struct{}

func New(opts Options) *Logger {
	if opts.Level == zerolog.NoLevel {
		opts.Level = zerolog.InfoLevel
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(opts.Format, FormatConsole) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	b := zerolog.New(out).With().Timestamp().Str("service", opts.ServiceName)
	for k, v := range opts.Static {
		b = b.Interface(k, v)
	}
	return &Logger{base: b.Logger().Level(opts.Level), warnStack: opts.WarnStack}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// ParseLevel maps config strings to zerolog levels, defaulting to info.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) from(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if entry, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
			return entry
		}
	}
	return &l.base
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	entry := l.from(ctx).With().Interface(key, value).Logger()
	return context.WithValue(orBackground(ctx), ctxKey{}, &entry)
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	b := l.from(ctx).With()
	for k, v := range fields {
		b = b.Interface(k, v)
	}
	entry := b.Logger()
	return context.WithValue(orBackground(ctx), ctxKey{}, &entry)
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.WithField(ctx, "request_id", requestID)
}

// WithOwner tags entries with the owner whose balance or resources are touched.
func (l *Logger) WithOwner(ctx context.Context, kind, id string) context.Context {
	return l.WithFields(ctx, map[string]any{"owner_kind": kind, "owner_id": id})
}

func (l *Logger) WithJob(ctx context.Context, job string) context.Context {
	return l.WithField(ctx, "job", job)
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.from(ctx).Debug().Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.from(ctx).Info().Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	event := l.from(ctx).Warn()
	if l.warnStack {
		event = event.Str("stack", stackTrace())
	}
	event.Msg(msg)
}

// Error logs err with its code. Stacks are attached only to uncoded or
// internal failures; a coded domain rejection already says where it came from.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	event := l.from(ctx).Error()
	code := pkgerrors.CodeInternal
	if err != nil {
		event = event.Err(err)
		if typed := pkgerrors.As(err); typed != nil {
			code = typed.Code()
			event = event.Str("error_code", string(code))
		}
	}
	if code == pkgerrors.CodeInternal {
		event = event.Str("stack", stackTrace())
	}
	event.Msg(msg)
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func stackTrace() string {
	return strings.TrimSpace(string(debug.Stack()))
}
