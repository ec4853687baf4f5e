// Package workload implements the synthetic work of the simulation: the
// per-iteration duration sampler, the blocking loading step and the optional
// background loading task.
package workload

import (
	"context"
	"time"

	"github.com/gwen-lg/puffin-test-app/pkg/behavior"
	"github.com/gwen-lg/puffin-test-app/pkg/profiler"
	"github.com/sirupsen/logrus"
)

// Loading durations. The background routine intentionally runs longer than
// the synchronous one; both are overridable through configuration.
const (
	DefaultLoadingDuration         = 5 * time.Second
	DefaultThreadedLoadingDuration = 7 * time.Second
)

// Sleeper blocks the caller for d.
type Sleeper func(d time.Duration)

// Options configures a Simulator or a Coordinator.
type Options struct {
	Duration time.Duration
	Profiler profiler.Profiler
	Logger   *logrus.Logger
	Sleep    Sleeper
}

func (o Options) withDefaults(duration time.Duration) Options {
	if o.Duration <= 0 {
		o.Duration = duration
	}
	if o.Profiler == nil {
		o.Profiler = profiler.Nop{}
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
		o.Logger.SetLevel(logrus.WarnLevel)
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	return o
}

// Simulator runs the synchronous loading step.
type Simulator struct {
	duration time.Duration
	prof     profiler.Profiler
	logger   *logrus.Logger
	sleep    Sleeper
}

// NewSimulator creates a loading simulator. Zero options fall back to
// DefaultLoadingDuration, a no-op profiler and time.Sleep.
func NewSimulator(opts Options) *Simulator {
	opts = opts.withDefaults(DefaultLoadingDuration)
	return &Simulator{
		duration: opts.Duration,
		prof:     opts.Profiler,
		logger:   opts.Logger,
		sleep:    opts.Sleep,
	}
}

// Duration returns the loading duration.
func (s *Simulator) Duration() time.Duration {
	return s.duration
}

// Run blocks for the loading duration inside a "loading" scope.
func (s *Simulator) Run(ctx context.Context) {
	_, scope := s.prof.BeginScope(ctx, "loading", "")
	defer scope.End()

	entry := s.logger.WithField("trigger", "sync")
	entry.WithField("duration", s.duration).Info("loading started")

	start := time.Now()
	s.sleep(s.duration)
	elapsed := time.Since(start)

	entry.WithField("elapsed", elapsed).Infof("loading duration %s", s.duration.Round(time.Millisecond))
}

// RunTrigger runs the loading step when point is the configured trigger.
// Only PreLoop and FirstLoop are synchronous trigger points; it reports
// whether loading ran.
func (s *Simulator) RunTrigger(ctx context.Context, configured, point behavior.LoadingBehavior) bool {
	switch point {
	case behavior.LoadingPreLoop, behavior.LoadingFirstLoop:
		if configured != point {
			return false
		}
		s.Run(ctx)
		return true
	default:
		return false
	}
}
