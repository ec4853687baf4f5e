// Package simulation drives the synthetic application: an optional loading
// phase, the main loop emitting one profiler frame per iteration, and the
// teardown of the background loading task.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gwen-lg/puffin-test-app/pkg/behavior"
	"github.com/gwen-lg/puffin-test-app/pkg/profiler"
	"github.com/gwen-lg/puffin-test-app/pkg/workload"
	"github.com/sirupsen/logrus"
)

// ErrAlreadyRun is returned by Run on a Simulation that has already run.
var ErrAlreadyRun = errors.New("simulation already run")

// State is a phase of the simulation.
type State int

const (
	StateInit State = iota
	StatePreLoading
	StateIterating
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePreLoading:
		return "pre-loading"
	case StateIterating:
		return "iterating"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Iteration describes one finished main loop iteration.
type Iteration struct {
	Number  uint32
	Sampled time.Duration
	Elapsed time.Duration
}

// Result summarizes a run.
type Result struct {
	Loop        behavior.LoopBehavior
	Loading     behavior.LoadingBehavior
	Iterations  uint32
	LoadingWait time.Duration
	LoadingErr  error
	Elapsed     time.Duration
}

// Options configures a Simulation. Nil collaborators get defaults.
type Options struct {
	NbLoop      int32
	Loading     behavior.LoadingBehavior
	Profiler    profiler.Profiler
	Logger      *logrus.Logger
	Sampler     *workload.Sampler
	Loader      *workload.Simulator
	Coordinator *workload.Coordinator
	Sleep       workload.Sleeper

	// OnIteration, if set, is called on the simulation goroutine after each
	// iteration.
	OnIteration func(Iteration)
}

// Simulation is the main state machine. It runs once.
type Simulation struct {
	nbLoop      int32
	loading     behavior.LoadingBehavior
	prof        profiler.Profiler
	logger      *logrus.Logger
	sampler     *workload.Sampler
	loader      *workload.Simulator
	coordinator *workload.Coordinator
	sleep       workload.Sleeper
	onIteration func(Iteration)

	mu      sync.Mutex
	state   State
	started bool
}

// New creates a Simulation in StateInit.
func New(opts Options) *Simulation {
	if opts.Profiler == nil {
		opts.Profiler = profiler.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetLevel(logrus.WarnLevel)
	}
	if opts.Sampler == nil {
		opts.Sampler = workload.DefaultSampler()
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.Loader == nil {
		opts.Loader = workload.NewSimulator(workload.Options{
			Profiler: opts.Profiler,
			Logger:   opts.Logger,
			Sleep:    opts.Sleep,
		})
	}
	if opts.Coordinator == nil {
		opts.Coordinator = workload.NewCoordinator(workload.Options{
			Profiler: opts.Profiler,
			Logger:   opts.Logger,
			Sleep:    opts.Sleep,
		})
	}
	return &Simulation{
		nbLoop:      opts.NbLoop,
		loading:     opts.Loading,
		prof:        opts.Profiler,
		logger:      opts.Logger,
		sampler:     opts.Sampler,
		loader:      opts.Loader,
		coordinator: opts.Coordinator,
		sleep:       opts.Sleep,
		onIteration: opts.OnIteration,
	}
}

// State returns the current phase.
func (s *Simulation) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Simulation) enter(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"from": prev.String(),
		"to":   state.String(),
	}).Debug("simulation state")
}

// Run executes the whole sequence and blocks until StateDone. With an
// unlimited loop it never returns. ctx only carries profiler scopes; the run
// is not cancellable.
func (s *Simulation) Run(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return Result{}, ErrAlreadyRun
	}
	s.started = true
	s.mu.Unlock()

	start := time.Now()
	result := Result{Loading: s.loading}

	// Init
	s.prof.EnableCapture()

	s.enter(StatePreLoading)
	s.loader.RunTrigger(ctx, s.loading, behavior.LoadingPreLoop)
	handle := s.coordinator.MaybeSpawn(ctx, s.loading)

	s.enter(StateIterating)
	result.Loop = behavior.Compute(s.nbLoop)
	minMs, maxMs := s.sampler.Range()
	s.logger.WithFields(logrus.Fields{
		"loop":    result.Loop.String(),
		"loading": s.loading.String(),
		"min_ms":  minMs,
		"max_ms":  maxMs,
	}).Debug("main loop starting")

	var count uint32
	for result.Loop.Continue(count) {
		count++
		s.iterate(ctx, count)
	}
	result.Iterations = count

	s.enter(StateDraining)
	result.LoadingWait, result.LoadingErr = s.coordinator.Join(handle)

	// finalizes the last iteration's frame
	s.prof.BeginFrame()
	result.Elapsed = time.Since(start)
	s.enter(StateDone)

	return result, nil
}

func (s *Simulation) iterate(ctx context.Context, count uint32) {
	s.prof.BeginFrame()
	loopCtx, scope := s.prof.BeginScope(ctx, "main_loop", fmt.Sprintf("loop num : %d", count))
	defer scope.End()

	start := time.Now()
	entry := s.logger.WithField("loop", count)
	entry.Infof("loop %d ... start", count)

	if count == 1 {
		s.loader.RunTrigger(loopCtx, s.loading, behavior.LoadingFirstLoop)
	}

	sampled := s.sampler.Duration()
	_, sleepScope := s.prof.BeginScope(loopCtx, "sleep", "")
	s.sleep(sampled)
	sleepScope.End()

	elapsed := time.Since(start)
	entry.WithField("sampled_ms", sampled.Milliseconds()).
		Infof("loop %d duration %dms", count, elapsed.Milliseconds())

	if s.onIteration != nil {
		s.onIteration(Iteration{Number: count, Sampled: sampled, Elapsed: elapsed})
	}
}
