package core_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cherryfeed/cherry/internal/worker/core"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTest(t *testing.T) (*core.Monitor, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
		DisableRetry: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return core.NewMonitor(client, zap.NewNop()), mr
}

func TestReportAndList(t *testing.T) {
	t.Parallel()

	monitor, mr := setupTest(t)

	require.NoError(t, monitor.ReportStatus(t.Context(), core.Status{WorkerID: "a", WorkerType: "jobs", IsHealthy: true}))
	require.NoError(t, monitor.ReportStatus(t.Context(), core.Status{WorkerID: "b", WorkerType: "jobs", Processed: 4}))

	assert.Equal(t, core.HeartbeatTTL, mr.TTL("worker:jobs:a"))

	statuses, err := monitor.GetAllStatuses(t.Context())
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	for _, status := range statuses {
		assert.False(t, status.IsStale(time.Now()))
		assert.True(t, status.IsStale(time.Now().Add(2*core.StaleThreshold)))
	}

	require.NoError(t, monitor.ClearStatus(t.Context(), "jobs", "a"))
	assert.False(t, mr.Exists("worker:jobs:a"))
}

func TestReporterLifecycle(t *testing.T) {
	t.Parallel()

	monitor, mr := setupTest(t)
	reporter := core.NewStatusReporter(monitor, "jobs", zap.NewNop())
	key := "worker:jobs:" + reporter.GetWorkerID()

	reporter.Start(t.Context())
	require.Eventually(t, func() bool { return mr.Exists(key) }, time.Second, 10*time.Millisecond)

	reporter.UpdateTask("digest_generation")
	reporter.RecordOutcome(false)
	reporter.RecordOutcome(true)
	snapshot := reporter.Snapshot()
	assert.Equal(t, "digest_generation", snapshot.CurrentTask)
	assert.Equal(t, int64(1), snapshot.Processed)
	assert.Equal(t, int64(1), snapshot.Failed)

	reporter.Stop()
	reporter.Stop()
	assert.False(t, mr.Exists(key))
}

func TestMonitorWithoutClient(t *testing.T) {
	t.Parallel()

	monitor := core.NewMonitor(nil, zap.NewNop())
	require.NoError(t, monitor.ReportStatus(t.Context(), core.Status{WorkerID: "a"}))

	statuses, err := monitor.GetAllStatuses(t.Context())
	require.NoError(t, err)
	assert.Empty(t, statuses)
}
