package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/relayforge/dispatch/internal/core"
	"github.com/relayforge/dispatch/internal/logsink"
	"github.com/relayforge/dispatch/internal/storage"
	"github.com/relayforge/dispatch/internal/streaming"
)

func newTestPreprocessor(t *testing.T) (*Preprocessor, core.Storage) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := storage.New(db)
	require.NoError(t, store.Migrate(context.Background()))

	sink := logsink.New(store)
	mgr := streaming.NewManager(store, sink, nil)
	return NewPreprocessor(store, mgr, nil), store
}

func activeAgent(t *testing.T, store core.Storage, orgID, host string) *core.Agent {
	t.Helper()
	agent, _, err := store.UpsertAgent(context.Background(), orgID, host, 9000, nil, "hash")
	require.NoError(t, err)
	return agent
}

func TestPreprocessor_InactiveAgentReturnsEmpty(t *testing.T) {
	p, store := newTestPreprocessor(t)
	ip := "10.0.0.1"
	agent, _, err := store.UpsertAgent(context.Background(), "org-1", "host-a", 9000, &ip, "hash")
	require.NoError(t, err)
	require.NoError(t, store.SetAgentStatus(context.Background(), agent.ID, core.AgentOffline))

	result, err := p.Run(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.False(t, result.Claimed())
}

func TestPreprocessor_ClaimsFromBacklogInOrder(t *testing.T) {
	p, store := newTestPreprocessor(t)
	agent := activeAgent(t, store, "org-1", "host-a")

	var ids []string
	for i := 0; i < 3; i++ {
		j := &core.Job{OrgID: "org-1", Status: core.StatusQueued, QueueType: core.QueueBacklog, OrderInQueue: i}
		require.NoError(t, store.CreateJob(context.Background(), j))
		ids = append(ids, j.ID)
	}

	for _, want := range ids {
		result, err := p.Run(context.Background(), agent.ID)
		require.NoError(t, err)
		require.True(t, result.Claimed())
		assert.Equal(t, want, result.JobID)
		assert.Equal(t, core.QueueBacklog, result.QueueType)

		// Simulate the Job-Execution workflow completing so the next
		// Preprocess firing isn't blocked by step 3.
		job, err := store.LatestJob(context.Background(), "org-1", result.JobID)
		require.NoError(t, err)
		job.Status = core.StatusCompleted
		job.AgentID = nil
		require.NoError(t, store.SaveJob(context.Background(), job))
	}
}

// TestPreprocessor_ReworkPreemption exercises scenario 2 (§8): rework has
// strict priority over backlog.
func TestPreprocessor_ReworkPreemption(t *testing.T) {
	p, store := newTestPreprocessor(t)
	agent := activeAgent(t, store, "org-1", "host-a")

	backlog := &core.Job{OrgID: "org-1", Status: core.StatusQueued, QueueType: core.QueueBacklog, OrderInQueue: 0}
	require.NoError(t, store.CreateJob(context.Background(), backlog))

	rework := &core.Job{OrgID: "org-1", Status: core.StatusQueued, QueueType: core.QueueRework, OrderInQueue: 0}
	require.NoError(t, store.CreateJob(context.Background(), rework))

	result, err := p.Run(context.Background(), agent.ID)
	require.NoError(t, err)
	require.True(t, result.Claimed())
	assert.Equal(t, rework.ID, result.JobID)
	assert.Equal(t, core.QueueRework, result.QueueType)
}

func TestPreprocessor_SingleDispatchPerAgent(t *testing.T) {
	p, store := newTestPreprocessor(t)
	agent := activeAgent(t, store, "org-1", "host-a")

	j1 := &core.Job{OrgID: "org-1", Status: core.StatusQueued, QueueType: core.QueueBacklog, OrderInQueue: 0}
	j2 := &core.Job{OrgID: "org-1", Status: core.StatusQueued, QueueType: core.QueueBacklog, OrderInQueue: 1}
	require.NoError(t, store.CreateJob(context.Background(), j1))
	require.NoError(t, store.CreateJob(context.Background(), j2))

	first, err := p.Run(context.Background(), agent.ID)
	require.NoError(t, err)
	require.True(t, first.Claimed())

	// Second firing: step 2 requeues the agent's own in-progress job and
	// step 4 claims that same job again from its preserved position, so
	// the agent never holds j2 alongside j1 (§4.4).
	second, err := p.Run(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, first.JobID, second.JobID)
}

// TestPreprocessor_OrphanRecovery exercises scenario 3 (§8) and P6: a stale
// in-progress job returns to queued with its original queue/position intact,
// and the recovering agent's firing claims it again from that position.
func TestPreprocessor_OrphanRecovery(t *testing.T) {
	p, store := newTestPreprocessor(t)
	agent := activeAgent(t, store, "org-1", "host-a")

	j := &core.Job{OrgID: "org-1", Status: core.StatusQueued, QueueType: core.QueueBacklog, OrderInQueue: 0}
	require.NoError(t, store.CreateJob(context.Background(), j))

	claimed, err := p.Run(context.Background(), agent.ID)
	require.NoError(t, err)
	require.True(t, claimed.Claimed())

	gs := store.(*storage.GormStore)
	stale := time.Now().Add(-10 * time.Minute)
	latest, err := store.LatestJob(context.Background(), "org-1", claimed.JobID)
	require.NoError(t, err)
	require.NoError(t, gs.DB().Model(&core.Job{}).
		Where("id = ? AND version = ?", latest.ID, latest.Version).
		Update("updated_at", stale).Error)

	// A different agent's Preprocess firing recovers the orphan.
	other := activeAgent(t, store, "org-1", "host-b")
	result, err := p.Run(context.Background(), other.ID)
	require.NoError(t, err)

	// Step 2 of that firing requeues the orphan in its original slot, and
	// step 4 of the same Run claims it again from there.
	require.True(t, result.Claimed())
	assert.Equal(t, claimed.JobID, result.JobID)

	recovered, err := store.LatestJob(context.Background(), "org-1", claimed.JobID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusInProgress, recovered.Status)
	assert.Equal(t, core.QueueBacklog, recovered.QueueType)
	assert.Equal(t, 0, recovered.OrderInQueue)
}

func TestPreprocessor_PausedQueueSkipped(t *testing.T) {
	p, store := newTestPreprocessor(t)
	agent := activeAgent(t, store, "org-1", "host-a")

	j := &core.Job{OrgID: "org-1", Status: core.StatusQueued, QueueType: core.QueueBacklog, OrderInQueue: 0}
	require.NoError(t, store.CreateJob(context.Background(), j))
	require.NoError(t, store.SetQueuePaused(context.Background(), "org-1", core.QueueBacklog, true, "user-1"))

	result, err := p.Run(context.Background(), agent.ID)
	require.NoError(t, err)
	assert.False(t, result.Claimed())
}
