package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

var level = log.InfoLevel

// SetLevel changes the level used by every logger created afterwards.
// Unknown names fall back to info.
func SetLevel(name string) {
	l, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		l = log.InfoLevel
	}
	level = l
}

func NewHandler(name string) slog.Handler {
	return NewHandlerWriter(os.Stderr, name)
}

func NewHandlerWriter(w io.Writer, name string) slog.Handler {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          name,
		Level:           level,
	})
}

func New(name string) *slog.Logger {
	return slog.New(NewHandler(name))
}

// Discard is a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(NewHandlerWriter(io.Discard, ""))
}

type ctxKey struct{}

// IntoContext attaches l to ctx for FromContext.
func IntoContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or the slog default when
// there is none.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// SubLogger returns a logger whose prefix is the prefix of base followed by
// "/" and suffix. It writes wherever base writes; a base without a
// charmbracelet handler yields a stderr logger.
func SubLogger(base *slog.Logger, suffix string) *slog.Logger {
	cl, ok := base.Handler().(*log.Logger)
	if !ok {
		return slog.New(NewHandler(suffix))
	}
	prefix := suffix
	if cl.GetPrefix() != "" {
		prefix = cl.GetPrefix() + "/" + suffix
	}
	return slog.New(cl.WithPrefix(prefix))
}
