package workload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gwen-lg/puffin-test-app/pkg/behavior"
	"github.com/gwen-lg/puffin-test-app/pkg/profiler"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_NoSpawnUnlessThreaded(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	c := NewCoordinator(Options{Sleep: sleeper.Sleep})
	for _, b := range []behavior.LoadingBehavior{behavior.LoadingNone, behavior.LoadingPreLoop, behavior.LoadingFirstLoop} {
		assert.Nil(t, c.MaybeSpawn(context.Background(), b), b.String())
	}
	assert.Empty(t, sleeper.Calls())
}

func TestCoordinator_JoinNilIsNoop(t *testing.T) {
	t.Parallel()

	logger, hook := newTestLogger()
	c := NewCoordinator(Options{Logger: logger})
	waited, err := c.Join(nil)
	assert.NoError(t, err)
	assert.Zero(t, waited)
	assert.Empty(t, hook.AllEntries())
}

func TestCoordinator_SpawnAndJoin(t *testing.T) {
	t.Parallel()

	logger, hook := newTestLogger()
	rec := profiler.NewRecorder(profiler.Options{})
	rec.EnableCapture()

	release := make(chan struct{})
	c := NewCoordinator(Options{
		Profiler: rec,
		Logger:   logger,
		Sleep:    func(time.Duration) { <-release },
	})
	assert.Equal(t, DefaultThreadedLoadingDuration, c.Duration())

	h := c.MaybeSpawn(context.Background(), behavior.LoadingThreaded)
	require.NotNil(t, h)

	select {
	case <-h.done:
		t.Fatal("task finished before release")
	case <-time.After(20 * time.Millisecond):
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(release)
	}()

	waited, err := c.Join(h)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, waited, 20*time.Millisecond)

	var msgs []string
	for _, e := range hook.AllEntries() {
		msgs = append(msgs, e.Message)
	}
	assert.Contains(t, msgs, "loading started")
	assert.Contains(t, msgs, "loading duration 7s")
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "loading thread waited")

	rec.BeginFrame()
	latest, _ := rec.Latest()
	require.Len(t, latest.Scopes, 1)
	assert.Equal(t, "Threaded loading", latest.Scopes[0].Name)
	assert.Equal(t, LoadingThread, latest.Scopes[0].Thread)

	// consumed: a second join returns at once
	waited, err = c.Join(h)
	assert.NoError(t, err)
	assert.Zero(t, waited)
}

func TestCoordinator_SubSecondDurationLogged(t *testing.T) {
	t.Parallel()

	logger, hook := newTestLogger()
	c := NewCoordinator(Options{Duration: 250 * time.Millisecond, Logger: logger, Sleep: func(time.Duration) {}})

	_, err := c.Join(c.MaybeSpawn(context.Background(), behavior.LoadingThreaded))
	require.NoError(t, err)

	var msgs []string
	for _, e := range hook.AllEntries() {
		msgs = append(msgs, e.Message)
	}
	assert.Contains(t, msgs, "loading duration 250ms")
}

func TestCoordinator_JoinReportsPanic(t *testing.T) {
	t.Parallel()

	logger, hook := newTestLogger()
	c := NewCoordinator(Options{
		Logger: logger,
		Sleep:  func(time.Duration) { panic("disk on fire") },
	})

	h := c.MaybeSpawn(context.Background(), behavior.LoadingThreaded)
	require.NotNil(t, h)

	_, err := c.Join(h)
	require.Error(t, err)

	var panicErr *TaskPanicError
	require.True(t, errors.As(err, &panicErr))
	assert.Equal(t, "disk on fire", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)

	var sawError bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			sawError = true
			assert.Equal(t, "Loading thread error", e.Message)
		}
	}
	assert.True(t, sawError)
}
