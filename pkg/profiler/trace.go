package profiler

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Tracer wraps a Profiler and logs every frame and scope event at trace level.
type Tracer struct {
	inner  Profiler
	logger *logrus.Logger
}

// NewTracer creates a tracing decorator around inner.
func NewTracer(inner Profiler, logger *logrus.Logger) *Tracer {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Tracer{inner: inner, logger: logger}
}

// EnableCapture forwards to the wrapped profiler.
func (t *Tracer) EnableCapture() {
	t.logger.Trace("profiler capture enabled")
	t.inner.EnableCapture()
}

// BeginFrame forwards to the wrapped profiler.
func (t *Tracer) BeginFrame() {
	t.logger.Trace("frame boundary")
	t.inner.BeginFrame()
}

// BeginScope forwards to the wrapped profiler and traces both ends of the scope.
func (t *Tracer) BeginScope(ctx context.Context, name, data string) (context.Context, Scope) {
	entry := t.logger.WithFields(logrus.Fields{
		"scope":  name,
		"thread": ThreadName(ctx),
	})
	if data != "" {
		entry = entry.WithField("data", data)
	}
	entry.Trace("scope begin")

	ctx, inner := t.inner.BeginScope(ctx, name, data)
	return ctx, tracedScope{inner: inner, entry: entry}
}

type tracedScope struct {
	inner Scope
	entry *logrus.Entry
}

func (s tracedScope) End() {
	s.inner.End()
	s.entry.Trace("scope end")
}
