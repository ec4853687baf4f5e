package profiler

import (
	"context"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

// DefaultMaxFrames is the number of finished frames a Recorder retains.
const DefaultMaxFrames = 256

// ScopeRecord is a finished scope.
type ScopeRecord struct {
	ID       uint64        `json:"id"`
	Name     string        `json:"name"`
	Data     string        `json:"data,omitempty"`
	Thread   string        `json:"thread"`
	Path     string        `json:"path"`
	Depth    int           `json:"depth"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration_ns"`
}

// Frame groups the scopes that finished between two frame boundaries.
type Frame struct {
	Index    uint64        `json:"index"`
	Session  string        `json:"session,omitempty"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration_ns"`
	Scopes   []ScopeRecord `json:"scopes"`
}

// Options configures a Recorder.
type Options struct {
	MaxFrames int
	Session   string
	Now       func() time.Time
}

// Recorder is a Profiler that keeps finished frames in memory and fans them
// out to subscribers. It is safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	enabled   bool
	session   string
	maxFrames int
	now       func() time.Time
	nextIndex uint64
	current   *Frame
	frames    []Frame
	subs      map[chan Frame]struct{}
}

// NewRecorder creates a Recorder with capture disabled.
func NewRecorder(opts Options) *Recorder {
	if opts.MaxFrames < 1 {
		opts.MaxFrames = DefaultMaxFrames
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Recorder{
		session:   opts.Session,
		maxFrames: opts.MaxFrames,
		now:       opts.Now,
		subs:      make(map[chan Frame]struct{}),
	}
}

// EnableCapture turns recording on and opens the first frame.
func (r *Recorder) EnableCapture() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enabled {
		return
	}
	r.enabled = true
	r.openFrameLocked(r.now())
}

// Enabled reports whether capture is on.
func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// BeginFrame finalizes the open frame and opens the next one.
func (r *Recorder) BeginFrame() {
	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		return
	}
	now := r.now()
	finished := *r.current
	finished.Duration = now.Sub(finished.Start)
	r.frames = append(r.frames, finished)
	if len(r.frames) > r.maxFrames {
		r.frames = r.frames[len(r.frames)-r.maxFrames:]
	}
	r.openFrameLocked(now)

	// cancel closes channels under r.mu, so sends here must not block
	for ch := range r.subs {
		select {
		case ch <- finished:
		default:
			// slow subscriber, drop
		}
	}
	r.mu.Unlock()
}

// BeginScope opens a scope. With capture disabled the scope is a no-op.
func (r *Recorder) BeginScope(ctx context.Context, name, data string) (context.Context, Scope) {
	if !r.Enabled() {
		return ctx, nopScope{}
	}

	path := name
	depth := 0
	if parent, ok := parentFrom(ctx); ok {
		path = parent.path + ";" + name
		depth = parent.depth + 1
	}

	s := &recordedScope{
		rec: r,
		record: ScopeRecord{
			ID:     xxh3.HashString(name),
			Name:   name,
			Data:   data,
			Thread: ThreadName(ctx),
			Path:   path,
			Depth:  depth,
			Start:  r.now(),
		},
	}
	return context.WithValue(ctx, parentKey{}, parentInfo{path: path, depth: depth}), s
}

// Frames returns a copy of the retained finished frames, oldest first.
func (r *Recorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

// Latest returns the newest finished frame.
func (r *Recorder) Latest() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return Frame{}, false
	}
	return r.frames[len(r.frames)-1], true
}

// Subscribe registers for newly finished frames. Frames are dropped for a
// subscriber whose buffer is full. The returned func unsubscribes and closes
// the channel.
func (r *Recorder) Subscribe(buffer int) (<-chan Frame, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Frame, buffer)

	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subs, ch)
			close(ch)
		})
	}
	return ch, cancel
}

func (r *Recorder) openFrameLocked(now time.Time) {
	r.current = &Frame{
		Index:   r.nextIndex,
		Session: r.session,
		Start:   now,
	}
	r.nextIndex++
}

func (r *Recorder) finishScope(rec ScopeRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}
	rec.Duration = r.now().Sub(rec.Start)
	r.current.Scopes = append(r.current.Scopes, rec)
}

type recordedScope struct {
	rec    *Recorder
	record ScopeRecord
	once   sync.Once
}

func (s *recordedScope) End() {
	s.once.Do(func() {
		s.rec.finishScope(s.record)
	})
}
