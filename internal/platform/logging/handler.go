package logging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
)

// FanoutHandler is an slog.Handler that writes every record to several
// handlers, such as the terminal and the rolling JSON file.
type FanoutHandler struct {
	handlers []slog.Handler
}

// NewFanoutHandler creates a handler that writes to all of handlers.
func NewFanoutHandler(handlers ...slog.Handler) *FanoutHandler {
	return &FanoutHandler{handlers: handlers}
}

// Enabled reports whether any handler accepts level.
func (h *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

// Handle passes a clone of r to every handler that accepts its level and
// joins their errors.
func (h *FanoutHandler) Handle(ctx context.Context, r slog.Record) error { //nolint:gocritic // slog.Handler interface requires value
	var errs []error

	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}

		if err := handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// WithAttrs implements slog.Handler.
func (h *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.each(func(handler slog.Handler) slog.Handler { return handler.WithAttrs(attrs) })
}

// WithGroup implements slog.Handler.
func (h *FanoutHandler) WithGroup(name string) slog.Handler {
	return h.each(func(handler slog.Handler) slog.Handler { return handler.WithGroup(name) })
}

func (h *FanoutHandler) each(fn func(slog.Handler) slog.Handler) *FanoutHandler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = fn(handler)
	}

	return NewFanoutHandler(handlers...)
}

// Recorder receives log records kept for a single request.
// domain.DiagnosticContext implements it.
type Recorder interface {
	Record(message string, attrs ...slog.Attr)
}

// RecorderLookup returns the recorder of the request whose flow ctx
// belongs to. It must not log.
type RecorderLookup func(ctx context.Context) (Recorder, bool)

// RecordingHandler wraps a handler and also records every record at or
// above its level on the diagnostic context of the request being logged
// for. Attributes are redacted before they are recorded, since display
// mode returns them to the client.
type RecordingHandler struct {
	next    slog.Handler
	lookup  RecorderLookup
	level   slog.Leveler
	replace func(groups []string, a slog.Attr) slog.Attr

	// groups opened with WithGroup; recorded keys are prefixed with them.
	groups []string
	prefix string
}

// NewRecordingHandler wraps next. A nil level records info and above.
func NewRecordingHandler(next slog.Handler, lookup RecorderLookup, level slog.Leveler) *RecordingHandler {
	if level == nil {
		level = slog.LevelInfo
	}

	return &RecordingHandler{
		next:    next,
		lookup:  lookup,
		level:   level,
		replace: NewReplaceAttr(),
	}
}

// Enabled implements slog.Handler.
func (h *RecordingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level) || h.records(level)
}

// Handle records r on the request's diagnostic context, then passes it on.
func (h *RecordingHandler) Handle(ctx context.Context, r slog.Record) error { //nolint:gocritic // slog.Handler interface requires value
	if h.records(r.Level) && h.lookup != nil {
		if rec, ok := h.lookup(ctx); ok {
			attrs := make([]slog.Attr, 0, r.NumAttrs()+1)
			attrs = append(attrs, slog.String("level", r.Level.String()))

			r.Attrs(func(a slog.Attr) bool {
				a = h.replace(h.groups, a)
				a.Key = h.prefix + a.Key
				attrs = append(attrs, a)

				return true
			})

			rec.Record(r.Message, attrs...)
		}
	}

	if !h.next.Enabled(ctx, r.Level) {
		return nil
	}

	return h.next.Handle(ctx, r)
}

// WithAttrs implements slog.Handler. Handler attributes are not recorded.
func (h *RecordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)

	return &c
}

// WithGroup implements slog.Handler. Recorded keys are qualified with the
// open groups, joined by dots.
func (h *RecordingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	c := *h
	c.next = h.next.WithGroup(name)
	c.groups = append(slices.Clip(h.groups), name)
	c.prefix = strings.Join(c.groups, ".") + "."

	return &c
}

func (h *RecordingHandler) records(level slog.Level) bool {
	return level >= h.level.Level()
}
