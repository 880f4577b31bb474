package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestSchedulerRunsJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewScheduler(ctx, quietLogger())
	runs := atomic.NewInt32(0)
	require.NoError(t, s.Every(time.Second, "count", func(jobCtx context.Context) {
		assert.NoError(t, jobCtx.Err())
		runs.Inc()
	}))
	s.Start()

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 20*time.Millisecond)

	stopCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	s.Stop(stopCtx)
}

func TestRegisterRegistryJobs(t *testing.T) {
	r := NewRegistry(newMemStore(), nil, quietLogger())

	t.Run("WithEvents", func(t *testing.T) {
		s := NewScheduler(context.Background(), quietLogger())
		require.NoError(t, s.RegisterRegistryJobs(r, NewEventRecorder(newMemStore(), quietLogger())))
		assert.Len(t, s.c.Entries(), 4)
	})

	t.Run("WithoutEvents", func(t *testing.T) {
		s := NewScheduler(context.Background(), quietLogger())
		require.NoError(t, s.RegisterRegistryJobs(r, nil))
		assert.Len(t, s.c.Entries(), 3)
	})
}
