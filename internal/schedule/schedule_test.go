package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)), gocron.WithLocation(time.UTC))
	require.NoError(t, err)
	return s
}

func TestAddRejectsBadCrontab(t *testing.T) {
	s := newScheduler(t)
	defer func() { _ = s.Stop() }()

	_, err := s.Add(context.Background(), "export", "every morning", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every morning")
}

func TestDefaultCronNextRun(t *testing.T) {
	s := newScheduler(t)
	job, err := s.Add(context.Background(), "export", DefaultCron, func(context.Context) error { return nil })
	require.NoError(t, err)

	s.Start()
	defer func() { _ = s.Stop() }()

	next, err := job.NextRun()
	require.NoError(t, err)
	assert.Equal(t, 6, next.Hour())
	assert.Equal(t, 0, next.Minute())
	assert.True(t, next.After(time.Now()))
}

func TestFailedRunIsCountedAndNextStillScheduled(t *testing.T) {
	s := newScheduler(t)
	ran := make(chan struct{}, 2)
	job, err := s.Add(context.Background(), "export", DefaultCron, func(context.Context) error {
		ran <- struct{}{}
		return errors.New("login failed")
	})
	require.NoError(t, err)

	s.Start()
	defer func() { _ = s.Stop() }()

	require.NoError(t, job.RunNow())
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}

	assert.Eventually(t, func() bool { return s.Failures() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), s.Runs())

	_, err = job.NextRun()
	assert.NoError(t, err)
}
