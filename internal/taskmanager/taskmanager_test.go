package taskmanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gast-project/gast-orchestrator/internal/config"
)

type fakeSweeper struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSweeper) Sweep(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeSweeper) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestStartRunsRetentionSweepOnSchedule(t *testing.T) {
	sweeper := &fakeSweeper{}
	cfg := config.RetentionConfig{SweepInterval: "20ms"}

	require.NoError(t, Start(context.Background(), sweeper, cfg))
	defer Shutdown()

	require.Eventually(t, func() bool {
		return sweeper.Calls() > 0
	}, time.Second, 10*time.Millisecond, "retention sweep should have run at least once")
}

type fakeResumer struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeResumer) Run(ctx context.Context, jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, jobID)
}

func TestResumeBaktaJobsReentersEveryRunningJob(t *testing.T) {
	resumer := &fakeResumer{}
	ResumeBaktaJobs(context.Background(), []string{"job1", "job2"}, resumer)

	require.Eventually(t, func() bool {
		resumer.mu.Lock()
		defer resumer.mu.Unlock()
		return len(resumer.ids) == 2
	}, time.Second, 10*time.Millisecond)

	assert.ElementsMatch(t, []string{"job1", "job2"}, resumer.ids)
}
