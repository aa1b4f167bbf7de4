package logger

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const timeFormat = "2006-01-02 15:04:05"

// Handler writes one line per record:
//
//	2006-01-02 15:04:05 - message key=value (Connection ID: 3)
//
// The level only decides whether a record is written; it is not printed.
// Handlers derived through WithAttrs and WithGroup share the writer lock, so
// concurrent connections never interleave partial lines.
type Handler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	attrs  []byte
	group  string
	connID string
}

// NewHandler returns a Handler writing to w at the given minimum level.
func NewHandler(w io.Writer, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	buf := make([]byte, 0, 256)
	buf = t.AppendFormat(buf, timeFormat)
	buf = append(buf, " - "...)
	buf = append(buf, r.Message...)
	buf = append(buf, h.attrs...)

	connID := h.connID
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == ConnIDKey && h.group == "" {
			connID = a.Value.String()
			return true
		}
		buf = appendAttr(buf, h.group, a)
		return true
	})

	if connID != "" {
		buf = append(buf, " (Connection ID: "...)
		buf = append(buf, connID...)
		buf = append(buf, ')')
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := h.clone()
	for _, a := range attrs {
		if a.Key == ConnIDKey && h.group == "" {
			h2.connID = a.Value.String()
			continue
		}
		h2.attrs = appendAttr(h2.attrs, h.group, a)
	}
	return h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.group = h.group + name + "."
	return h2
}

func (h *Handler) clone() *Handler {
	h2 := *h
	h2.attrs = append([]byte(nil), h.attrs...)
	return &h2
}

func appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		if len(attrs) == 0 {
			return buf
		}
		if a.Key != "" {
			prefix = prefix + a.Key + "."
		}
		for _, ga := range attrs {
			buf = appendAttr(buf, prefix, ga)
		}
		return buf
	}

	buf = append(buf, ' ')
	buf = append(buf, prefix...)
	buf = append(buf, a.Key...)
	buf = append(buf, '=')

	var s string
	if a.Value.Kind() == slog.KindTime {
		s = a.Value.Time().Format(time.RFC3339)
	} else {
		s = a.Value.String()
	}
	if needsQuoting(s) {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	return strings.ContainsAny(s, " \t\r\n\"=")
}
