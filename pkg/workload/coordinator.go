package workload

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gwen-lg/puffin-test-app/pkg/behavior"
	"github.com/gwen-lg/puffin-test-app/pkg/profiler"
	"github.com/sirupsen/logrus"
)

// LoadingThread is the profiler thread name of the background task.
const LoadingThread = "Loading"

// TaskPanicError reports a background task that terminated by panicking.
type TaskPanicError struct {
	Value any
	Stack []byte
}

func (e *TaskPanicError) Error() string {
	return fmt.Sprintf("loading task panicked: %v", e.Value)
}

// Handle owns a running background loading task.
type Handle struct {
	done chan struct{}
	err  error
	once sync.Once
}

// Coordinator starts and joins the background loading task.
type Coordinator struct {
	duration time.Duration
	prof     profiler.Profiler
	logger   *logrus.Logger
	sleep    Sleeper
}

// NewCoordinator creates a coordinator. Zero options fall back to
// DefaultThreadedLoadingDuration, a no-op profiler and time.Sleep.
func NewCoordinator(opts Options) *Coordinator {
	opts = opts.withDefaults(DefaultThreadedLoadingDuration)
	return &Coordinator{
		duration: opts.Duration,
		prof:     opts.Profiler,
		logger:   opts.Logger,
		sleep:    opts.Sleep,
	}
}

// Duration returns the background loading duration.
func (c *Coordinator) Duration() time.Duration {
	return c.duration
}

// MaybeSpawn starts the background task when configured is Threaded and
// returns its handle, or nil otherwise.
func (c *Coordinator) MaybeSpawn(ctx context.Context, configured behavior.LoadingBehavior) *Handle {
	if configured != behavior.LoadingThreaded {
		return nil
	}

	h := &Handle{done: make(chan struct{})}
	taskCtx := profiler.WithThread(ctx, LoadingThread)
	go func() {
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				h.err = &TaskPanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		c.load(taskCtx)
	}()
	return h
}

func (c *Coordinator) load(ctx context.Context) {
	_, scope := c.prof.BeginScope(ctx, "Threaded loading", "")
	defer scope.End()

	entry := c.logger.WithField("trigger", "threaded")
	entry.WithField("duration", c.duration).Info("loading started")
	c.sleep(c.duration)
	entry.Infof("loading duration %s", c.duration.Round(time.Millisecond))
}

// Join waits for the task behind h and returns how long the caller waited.
// A nil or already joined handle returns immediately. A panic in the task is
// logged and returned as a *TaskPanicError.
func (c *Coordinator) Join(h *Handle) (time.Duration, error) {
	if h == nil {
		return 0, nil
	}

	var (
		waited time.Duration
		err    error
		joined bool
	)
	h.once.Do(func() {
		joined = true
		start := time.Now()
		<-h.done
		waited = time.Since(start)
		err = h.err
	})
	if !joined {
		return 0, nil
	}

	if err != nil {
		c.logger.WithError(err).Error("Loading thread error")
	}
	c.logger.WithField("waited", waited).Infof("loading thread waited %dms", waited.Milliseconds())
	return waited, err
}
