// Package profiler provides the frame/scope instrumentation consumed by the
// simulation: an interface the simulation calls into, an in-process Recorder
// that groups finished scopes into frames, and a tracing decorator.
package profiler

import "context"

// Profiler is the instrumentation surface used by the simulation.
// Frames are finalized only when the next frame boundary opens.
type Profiler interface {
	// EnableCapture turns scope recording on. Scopes begun before capture is
	// enabled are not recorded.
	EnableCapture()

	// BeginFrame closes the current frame and opens the next one.
	BeginFrame()

	// BeginScope opens a named scope nested under any scope carried by ctx.
	// The returned context carries the new scope for further nesting.
	BeginScope(ctx context.Context, name, data string) (context.Context, Scope)
}

// Scope is an open profiling scope.
type Scope interface {
	End()
}

// DefaultThread is the thread name reported for scopes on contexts that were
// not tagged with WithThread.
const DefaultThread = "main"

type threadKey struct{}

type parentKey struct{}

// parentInfo is what a child scope needs from its enclosing scope.
type parentInfo struct {
	path  string
	depth int
}

// WithThread tags ctx so that scopes begun from it report the given thread name.
func WithThread(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, threadKey{}, name)
}

// ThreadName returns the thread name carried by ctx.
func ThreadName(ctx context.Context) string {
	if name, ok := ctx.Value(threadKey{}).(string); ok && name != "" {
		return name
	}
	return DefaultThread
}

func parentFrom(ctx context.Context) (parentInfo, bool) {
	p, ok := ctx.Value(parentKey{}).(parentInfo)
	return p, ok
}

type nopScope struct{}

func (nopScope) End() {}

// Nop is a Profiler that records nothing.
type Nop struct{}

func (Nop) EnableCapture() {}

func (Nop) BeginFrame() {}

func (Nop) BeginScope(ctx context.Context, _, _ string) (context.Context, Scope) {
	return ctx, nopScope{}
}
