package simulation

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gwen-lg/puffin-test-app/pkg/behavior"
	"github.com/gwen-lg/puffin-test-app/pkg/profiler"
	"github.com/gwen-lg/puffin-test-app/pkg/workload"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	syncLoading     = 500 * time.Millisecond
	threadedLoading = 700 * time.Millisecond
)

// timeline records the order of loading runs and iterations.
type timeline struct {
	mu     sync.Mutex
	events []string
}

func (tl *timeline) add(ev string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.events = append(tl.events, ev)
}

func (tl *timeline) all() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]string(nil), tl.events...)
}

func (tl *timeline) count(ev string) int {
	n := 0
	for _, e := range tl.all() {
		if e == ev {
			n++
		}
	}
	return n
}

type harness struct {
	sim      *Simulation
	rec      *profiler.Recorder
	hook     *test.Hook
	timeline *timeline
	release  chan struct{}
}

// newHarness builds a simulation whose sleeps do not block. The background
// loading task blocks until release is closed when blockThreaded is set.
func newHarness(t *testing.T, nbLoop int32, loading behavior.LoadingBehavior, blockThreaded bool) *harness {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := &harness{
		rec:      profiler.NewRecorder(profiler.Options{}),
		hook:     hook,
		timeline: &timeline{},
		release:  make(chan struct{}),
	}
	if !blockThreaded {
		close(h.release)
	}

	loader := workload.NewSimulator(workload.Options{
		Duration: syncLoading,
		Profiler: h.rec,
		Logger:   logger,
		Sleep:    func(time.Duration) { h.timeline.add("loading") },
	})
	coordinator := workload.NewCoordinator(workload.Options{
		Duration: threadedLoading,
		Profiler: h.rec,
		Logger:   logger,
		Sleep: func(time.Duration) {
			h.timeline.add("threaded-start")
			<-h.release
			h.timeline.add("threaded-end")
		},
	})

	h.sim = New(Options{
		NbLoop:      nbLoop,
		Loading:     loading,
		Profiler:    h.rec,
		Logger:      logger,
		Sampler:     workload.NewSampler(workload.MinDuration, workload.MaxDuration, rand.NewPCG(1, 1)),
		Loader:      loader,
		Coordinator: coordinator,
		Sleep:       func(time.Duration) {},
		OnIteration: func(it Iteration) {
			h.timeline.add("iteration")
		},
	})
	return h
}

func TestRun_NoLoading(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3, behavior.LoadingNone, false)
	res, err := h.sim.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint32(3), res.Iterations)
	assert.Equal(t, []string{"iteration", "iteration", "iteration"}, h.timeline.all())
	assert.Zero(t, res.LoadingWait)
	assert.NoError(t, res.LoadingErr)
	assert.Equal(t, StateDone, h.sim.State())

	for _, e := range h.hook.AllEntries() {
		assert.NotContains(t, e.Message, "loading")
	}
}

func TestRun_FrameBoundaries(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3, behavior.LoadingNone, false)
	_, err := h.sim.Run(context.Background())
	require.NoError(t, err)

	// frame 0 opens with capture, each iteration opens one, plus the trailing one
	frames := h.rec.Frames()
	require.Len(t, frames, 4)
	assert.Empty(t, frames[0].Scopes)

	for i, f := range frames[1:] {
		require.Len(t, f.Scopes, 2, "frame %d", f.Index)
		assert.Equal(t, "main_loop;sleep", f.Scopes[0].Path)
		assert.Equal(t, "main_loop", f.Scopes[1].Name)
		assert.Equal(t, "loop num : "+string(rune('1'+i)), f.Scopes[1].Data)
	}
}

func TestRun_LogsSampledDurations(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3, behavior.LoadingNone, false)
	_, err := h.sim.Run(context.Background())
	require.NoError(t, err)

	var durations int
	for _, e := range h.hook.AllEntries() {
		if !strings.Contains(e.Message, "duration") {
			continue
		}
		durations++
		ms, ok := e.Data["sampled_ms"].(int64)
		require.True(t, ok)
		assert.GreaterOrEqual(t, ms, int64(10))
		assert.Less(t, ms, int64(55))
	}
	assert.Equal(t, 3, durations)
}

func TestRun_LogsSamplerRange(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, behavior.LoadingNone, false)
	_, err := h.sim.Run(context.Background())
	require.NoError(t, err)

	for _, e := range h.hook.AllEntries() {
		if e.Message != "main loop starting" {
			continue
		}
		assert.Equal(t, uint64(workload.MinDuration), e.Data["min_ms"])
		assert.Equal(t, uint64(workload.MaxDuration), e.Data["max_ms"])
		assert.Equal(t, "limited(1)", e.Data["loop"])
		return
	}
	t.Fatal("main loop starting not logged")
}

func TestRun_ZeroIterations(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 0, behavior.LoadingNone, false)
	res, err := h.sim.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.Iterations)
	assert.Empty(t, h.timeline.all())
	require.Len(t, h.rec.Frames(), 1, "trailing boundary still emitted")
}

func TestRun_PreLoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3, behavior.LoadingPreLoop, false)
	_, err := h.sim.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"loading", "iteration", "iteration", "iteration"}, h.timeline.all())

	frames := h.rec.Frames()
	require.NotEmpty(t, frames)
	require.Len(t, frames[0].Scopes, 1)
	assert.Equal(t, "loading", frames[0].Scopes[0].Path)
}

func TestRun_PreLoopWithZeroIterations(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 0, behavior.LoadingPreLoop, false)
	res, err := h.sim.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.Iterations)
	assert.Equal(t, []string{"loading"}, h.timeline.all())
	assert.Equal(t, StateDone, h.sim.State())
}

func TestRun_FirstLoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3, behavior.LoadingFirstLoop, false)
	_, err := h.sim.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, h.timeline.count("loading"))
	assert.Equal(t, []string{"loading", "iteration", "iteration", "iteration"}, h.timeline.all())

	frames := h.rec.Frames()
	require.Len(t, frames, 4)
	assert.Empty(t, frames[0].Scopes, "no loading before the loop")

	var paths []string
	for _, s := range frames[1].Scopes {
		paths = append(paths, s.Path)
	}
	assert.Contains(t, paths, "main_loop;loading")
	for _, f := range frames[2:] {
		for _, s := range f.Scopes {
			assert.NotEqual(t, "loading", s.Name, "frame %d", f.Index)
		}
	}
}

func TestRun_FirstLoopWithZeroIterations(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 0, behavior.LoadingFirstLoop, false)
	_, err := h.sim.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.timeline.all())
}

func TestRun_ThreadedJoinsAfterLoop(t *testing.T) {
	t.Parallel()

	for _, nbLoop := range []int32{0, 2} {
		h := newHarness(t, nbLoop, behavior.LoadingThreaded, true)

		done := make(chan Result, 1)
		go func() {
			res, err := h.sim.Run(context.Background())
			assert.NoError(t, err)
			done <- res
		}()

		require.Eventually(t, func() bool {
			return h.sim.State() == StateDraining
		}, 2*time.Second, time.Millisecond, "nb_loop=%d", nbLoop)

		select {
		case <-done:
			t.Fatalf("nb_loop=%d: run finished before the background task", nbLoop)
		case <-time.After(30 * time.Millisecond):
		}

		close(h.release)
		var res Result
		select {
		case res = <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("nb_loop=%d: run did not finish", nbLoop)
		}

		assert.Equal(t, uint32(nbLoop), res.Iterations)
		assert.Positive(t, res.LoadingWait)
		assert.NoError(t, res.LoadingErr)
		assert.Equal(t, StateDone, h.sim.State())

		events := h.timeline.all()
		assert.Equal(t, 1, h.timeline.count("threaded-start"))
		assert.Equal(t, "threaded-end", events[len(events)-1])
		assert.Equal(t, 0, h.timeline.count("loading"))
	}
}

func TestRun_ThreadedPanicIsNotFatal(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	coordinator := workload.NewCoordinator(workload.Options{
		Logger: logger,
		Sleep:  func(time.Duration) { panic("boom") },
	})
	sim := New(Options{
		NbLoop:      1,
		Loading:     behavior.LoadingThreaded,
		Logger:      logger,
		Coordinator: coordinator,
		Sleep:       func(time.Duration) {},
	})

	res, err := sim.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), res.Iterations)

	var panicErr *workload.TaskPanicError
	assert.True(t, errors.As(res.LoadingErr, &panicErr))
	assert.Equal(t, StateDone, sim.State())

	var sawError bool
	for _, e := range hook.AllEntries() {
		sawError = sawError || e.Level == logrus.ErrorLevel
	}
	assert.True(t, sawError)
}

func TestRun_OnlyOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 0, behavior.LoadingNone, false)
	_, err := h.sim.Run(context.Background())
	require.NoError(t, err)

	_, err = h.sim.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestRun_RealClock(t *testing.T) {
	t.Parallel()

	var iterations []Iteration
	sim := New(Options{
		NbLoop:      3,
		OnIteration: func(it Iteration) { iterations = append(iterations, it) },
	})
	res, err := sim.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(3), res.Iterations)

	require.Len(t, iterations, 3)
	for i, it := range iterations {
		assert.Equal(t, uint32(i+1), it.Number)
		assert.GreaterOrEqual(t, it.Sampled, 10*time.Millisecond)
		assert.Less(t, it.Sampled, 55*time.Millisecond)
		assert.GreaterOrEqual(t, it.Elapsed, it.Sampled)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "init", StateInit.String())
	assert.Equal(t, "pre-loading", StatePreLoading.String())
	assert.Equal(t, "iterating", StateIterating.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "done", StateDone.String())
}
