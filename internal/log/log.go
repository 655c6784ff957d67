package log

import (
	"context"
	"log/slog"
	"os"

	"github.com/lightangel1412/reconness/internal/model"
)

type slogKeyT struct{}

var slogKey slogKeyT

// ContextHandler injects attributes stored in the context into every
// record, so a run's log lines carry its key without threading a
// logger through each layer.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{
		Handler: handler,
	}
}

func (h ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if a, ok := ctx.Value(slogKey).([]slog.Attr); ok {
		r.AddAttrs(a...)
	}

	return h.Handler.Handle(ctx, r)
}

// ContextAttrs returns a context carrying attrs in addition to any
// already present.
func ContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	a, ok := ctx.Value(slogKey).([]slog.Attr)
	if !ok || a == nil {
		a = make([]slog.Attr, 0, len(attrs))
	}
	a = append(a, attrs...)
	return context.WithValue(ctx, slogKey, a)
}

// RunAttrs attaches the run key scope to the context.
func RunAttrs(ctx context.Context, key model.RunKey) context.Context {
	attrs := []slog.Attr{
		slog.String("target", key.Target),
		slog.String("agent", key.Agent),
	}
	if key.Subdomain != "" {
		attrs = append(attrs, slog.String("subdomain", key.Subdomain))
	}
	return ContextAttrs(ctx, slog.Attr{Key: "run", Value: slog.GroupValue(attrs...)})
}

// New builds the default JSON logger writing to stderr.
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	base := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	})
	return slog.New(NewContextHandler(base))
}
