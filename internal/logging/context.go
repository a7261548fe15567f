// Package logging carries workflow correlation fields on a context and
// stamps them onto slog records.
package logging

import (
	"context"
	"log/slog"
)

// field is a context key that doubles as the log attribute name.
type field string

const (
	instanceField field = "instance_id"
	stepField     field = "step_id"
	actorField    field = "actor_id"
	entityField   field = "entity"
)

// Attribute order in log output.
var fields = [...]field{entityField, instanceField, stepField, actorField}

func with(ctx context.Context, f field, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, f, v)
}

func get(ctx context.Context, f field) string {
	v, _ := ctx.Value(f).(string)
	return v
}

func WithInstanceID(ctx context.Context, id string) context.Context {
	return with(ctx, instanceField, id)
}

func WithStepID(ctx context.Context, id string) context.Context {
	return with(ctx, stepField, id)
}

func WithActorID(ctx context.Context, id string) context.Context {
	return with(ctx, actorField, id)
}

// WithEntity tags ctx with the record being progressed, as "Type/ID".
func WithEntity(ctx context.Context, entityType, entityID string) context.Context {
	if entityType == "" && entityID == "" {
		return ctx
	}
	return with(ctx, entityField, entityType+"/"+entityID)
}

// WithIDs sets instance, step and actor in one call. Empty values leave any
// existing value in place.
func WithIDs(ctx context.Context, instanceID, stepID, actorID string) context.Context {
	return WithActorID(WithStepID(WithInstanceID(ctx, instanceID), stepID), actorID)
}

func InstanceID(ctx context.Context) string { return get(ctx, instanceField) }
func StepID(ctx context.Context) string     { return get(ctx, stepField) }
func ActorID(ctx context.Context) string    { return get(ctx, actorField) }
func Entity(ctx context.Context) string     { return get(ctx, entityField) }

// Attrs returns the correlation fields set on ctx.
func Attrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, f := range fields {
		if v := get(ctx, f); v != "" {
			attrs = append(attrs, slog.String(string(f), v))
		}
	}
	return attrs
}

// LogWith binds ctx's correlation fields to logger, for code that logs
// without passing a context.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	attrs := Attrs(ctx)
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return logger.With(args...)
}

// CorrelationHandler adds the context's correlation fields to every record,
// so logger.InfoContext(ctx, ...) needs no explicit IDs.
type CorrelationHandler struct {
	inner slog.Handler
}

func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(Attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
