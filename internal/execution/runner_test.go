package execution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
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

type testHarness struct {
	store   *storage.GormStore
	sink    *logsink.Sink
	mgr     *streaming.Manager
	conn    *websocket.Conn
	agentID string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := storage.New(db)
	require.NoError(t, store.Migrate(context.Background()))
	sink := logsink.New(store)
	mgr := streaming.NewManager(store, sink, nil)

	ip := "10.0.0.5"
	agent, _, err := store.UpsertAgent(context.Background(), "org-1", "host-a", 9100, &ip, "hash")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(mgr.HandleAgentStream))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	frame, err := jsonFrame(streaming.FrameInit, streaming.InitPayload{AgentID: agent.ID, OrgID: "org-1"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame))
	require.Eventually(t, func() bool { return mgr.Get(agent.ID) != nil }, time.Second, 10*time.Millisecond)

	return &testHarness{store: store, sink: sink, mgr: mgr, conn: conn, agentID: agent.ID}
}

func jsonFrame(kind streaming.FrameKind, payload any) (streaming.Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return streaming.Frame{}, err
	}
	return streaming.Frame{Kind: kind, Payload: raw}, nil
}

func newQueuedJob(t *testing.T, h *testHarness, repoID *string) *core.Job {
	t.Helper()
	job := &core.Job{
		ID:                "job-" + h.agentID,
		Version:           1,
		OrgID:             "org-1",
		Status:            core.StatusInProgress,
		QueueType:         core.QueueNone,
		AgentID:           &h.agentID,
		UserInputPrompt:   "generate a thing",
		RepoID:            repoID,
	}
	require.NoError(t, h.store.CreateJob(context.Background(), job))
	return job
}

// respondOnce reads frames from conn until one of kind want arrives, then
// writes back a canned response; frames of any other kind that it reads
// are discarded.
func respondOnce(t *testing.T, conn *websocket.Conn, want streaming.FrameKind, respond func() streaming.Frame) {
	t.Helper()
	go func() {
		for {
			var frame streaming.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Kind != want {
				continue
			}
			_ = conn.WriteJSON(respond())
			return
		}
	}()
}

func TestRun_HappyPath_ExecuteVerifyCleanup(t *testing.T) {
	h := newHarness(t)
	job := newQueuedJob(t, h, nil)

	respondOnce(t, h.conn, streaming.FrameTaskAssignment, func() streaming.Frame {
		f, _ := jsonFrame(streaming.FrameExecuteResult, streaming.ExecuteResultPayload{JobID: job.ID, Success: true})
		return f
	})
	respondOnce(t, h.conn, streaming.FrameRunVerification, func() streaming.Frame {
		score := 0.9
		f, _ := jsonFrame(streaming.FrameVerificationResult, streaming.VerificationResultPayload{
			JobID: job.ID, Success: true, ConfidenceScore: &score,
		})
		return f
	})
	respondOnce(t, h.conn, streaming.FrameCleanupWorkspace, func() streaming.Frame {
		f, _ := jsonFrame(streaming.FrameCleanupResult, streaming.CleanupResultPayload{JobID: job.ID})
		return f
	})

	runner := NewRunner(h.store, h.sink, h.mgr, nil)
	runner.Run(context.Background(), job.ID, job.OrgID, core.QueueNone, h.agentID)

	latest, err := h.store.LatestJob(context.Background(), job.OrgID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, latest.Status)
	assert.Nil(t, latest.AgentID)
	assert.Contains(t, latest.Updates, "completed")

	phase, err := h.store.LoadCheckpoint(context.Background(), job.ID, job.Version)
	require.NoError(t, err)
	assert.Equal(t, core.PhaseDone, phase)

	activities, err := h.store.ListActivities(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, core.ActivityJobCompleted, activities[0].Name)
}

func TestRun_WithRepo_CreatesPR(t *testing.T) {
	h := newHarness(t)
	repoID := "repo-1"
	job := newQueuedJob(t, h, &repoID)

	respondOnce(t, h.conn, streaming.FrameTaskAssignment, func() streaming.Frame {
		f, _ := jsonFrame(streaming.FrameExecuteResult, streaming.ExecuteResultPayload{JobID: job.ID, Success: true})
		return f
	})
	respondOnce(t, h.conn, streaming.FrameRunVerification, func() streaming.Frame {
		f, _ := jsonFrame(streaming.FrameVerificationResult, streaming.VerificationResultPayload{JobID: job.ID, Success: true})
		return f
	})
	respondOnce(t, h.conn, streaming.FrameCreatePR, func() streaming.Frame {
		f, _ := jsonFrame(streaming.FramePRResult, streaming.PRResultPayload{
			JobID: job.ID, PRLink: "https://example.com/pr/42",
		})
		return f
	})
	respondOnce(t, h.conn, streaming.FrameCleanupWorkspace, func() streaming.Frame {
		f, _ := jsonFrame(streaming.FrameCleanupResult, streaming.CleanupResultPayload{JobID: job.ID})
		return f
	})

	runner := NewRunner(h.store, h.sink, h.mgr, nil)
	runner.Run(context.Background(), job.ID, job.OrgID, core.QueueNone, h.agentID)

	latest, err := h.store.LatestJob(context.Background(), job.OrgID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, latest.Status)
	assert.Equal(t, "https://example.com/pr/42", latest.PRLink)
}

func TestRun_VerificationFails_MarksFailedAndStillCleansUp(t *testing.T) {
	h := newHarness(t)
	job := newQueuedJob(t, h, nil)

	respondOnce(t, h.conn, streaming.FrameTaskAssignment, func() streaming.Frame {
		f, _ := jsonFrame(streaming.FrameExecuteResult, streaming.ExecuteResultPayload{JobID: job.ID, Success: true})
		return f
	})
	respondOnce(t, h.conn, streaming.FrameRunVerification, func() streaming.Frame {
		f, _ := jsonFrame(streaming.FrameVerificationResult, streaming.VerificationResultPayload{
			JobID: job.ID, Success: false, Error: "confidence too low",
		})
		return f
	})
	respondOnce(t, h.conn, streaming.FrameCleanupWorkspace, func() streaming.Frame {
		f, _ := jsonFrame(streaming.FrameCleanupResult, streaming.CleanupResultPayload{JobID: job.ID})
		return f
	})

	runner := NewRunner(h.store, h.sink, h.mgr, nil)
	runner.retry = RetryConfig{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxAttempts: 1, Multiplier: 2.0}
	runner.Run(context.Background(), job.ID, job.OrgID, core.QueueNone, h.agentID)

	latest, err := h.store.LatestJob(context.Background(), job.OrgID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, latest.Status)
	assert.Contains(t, latest.Updates, "confidence too low")

	activities, err := h.store.ListActivities(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, core.ActivityJobFailed, activities[0].Name)
}

func TestCancel_SendsCancelJobAndMarksFailedWithMarker(t *testing.T) {
	h := newHarness(t)
	job := newQueuedJob(t, h, nil)

	taskAssigned := make(chan struct{})
	go func() {
		for {
			var frame streaming.Frame
			if err := h.conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Kind == streaming.FrameTaskAssignment {
				close(taskAssigned)
				return
			}
		}
	}()

	respondOnce(t, h.conn, streaming.FrameCancelJob, func() streaming.Frame {
		f, _ := jsonFrame(streaming.FrameCancelResult, streaming.CancelResultPayload{JobID: job.ID})
		return f
	})
	respondOnce(t, h.conn, streaming.FrameCleanupWorkspace, func() streaming.Frame {
		f, _ := jsonFrame(streaming.FrameCleanupResult, streaming.CleanupResultPayload{JobID: job.ID})
		return f
	})

	runner := NewRunner(h.store, h.sink, h.mgr, nil)
	runner.retry = RetryConfig{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxAttempts: 1, Multiplier: 2.0}

	done := make(chan struct{})
	go func() {
		runner.Run(context.Background(), job.ID, job.OrgID, core.QueueNone, h.agentID)
		close(done)
	}()

	<-taskAssigned
	require.NoError(t, runner.Cancel(context.Background(), job.ID))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not complete after cancellation")
	}

	latest, err := h.store.LatestJob(context.Background(), job.OrgID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, latest.Status)
	assert.Contains(t, latest.Updates, "cancelled")
	assert.Nil(t, latest.AgentID)

	activities, err := h.store.ListActivities(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, core.ActivityJobCancelled, activities[0].Name)
}

func TestCancel_NotRunningReturnsErrJobNotRunning(t *testing.T) {
	h := newHarness(t)
	runner := NewRunner(h.store, h.sink, h.mgr, nil)

	err := runner.Cancel(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, core.ErrJobNotRunning)
}

func TestInnermostCause_UnwrapsToDeepest(t *testing.T) {
	base := assert.AnError
	wrapped := &wrapErr{msg: "run_verification", cause: &wrapErr{msg: "agentclient: verification failed: bad", cause: base}}
	assert.Equal(t, base.Error(), innermostCause(wrapped))
}

type wrapErr struct {
	msg   string
	cause error
}

func (e *wrapErr) Error() string { return e.msg + ": " + e.cause.Error() }
func (e *wrapErr) Unwrap() error { return e.cause }
