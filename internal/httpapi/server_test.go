package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/relayforge/dispatch/internal/core"
	"github.com/relayforge/dispatch/internal/dispatch"
	"github.com/relayforge/dispatch/internal/jobs"
	"github.com/relayforge/dispatch/internal/logsink"
	"github.com/relayforge/dispatch/internal/registry"
	"github.com/relayforge/dispatch/internal/storage"
	"github.com/relayforge/dispatch/internal/streaming"
)

func newTestServer(t *testing.T) (http.Handler, core.Storage, *registry.Registry) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := storage.New(db)
	require.NoError(t, store.Migrate(context.Background()))

	sink := logsink.New(store)
	mgr := streaming.NewManager(store, sink, nil)
	pre := dispatch.NewPreprocessor(store, mgr, nil)
	scheduler := dispatch.NewScheduler(store, pre, nil, nil, nil)
	health := dispatch.NewHealthCheckRunner(store, mgr, scheduler, nil)
	reg := registry.New(store, scheduler, health, nil)
	jobSvc := jobs.NewService(store, scheduler, nil, nil)

	srv := NewServer(store, jobSvc, reg, scheduler, health, nil)
	return srv.Routes(), store, reg
}

func doRequest(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_MissingBearerTokenRejected(t *testing.T) {
	h, _, _ := newTestServer(t)
	rec := doRequest(t, h, "GET", "/jobs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndGetJob(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := doRequest(t, h, "POST", "/jobs", "org-1:user-1", createJobRequest{Prompt: "build a widget"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created core.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, core.StatusQueued, created.Status)
	assert.Equal(t, core.QueueBacklog, created.QueueType)

	rec = doRequest(t, h, "GET", "/jobs/"+created.ID, "org-1:user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched core.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)
}

func TestUpdateJob_ForbiddenTransitionReturns400(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := doRequest(t, h, "POST", "/jobs", "org-1:user-1", createJobRequest{Prompt: "x"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created core.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	inProgress := core.StatusInProgress
	rec = doRequest(t, h, "PUT", "/jobs/"+created.ID, "org-1:user-1", updateJobRequest{Status: &inProgress})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArchiveJob_TwiceReturns400(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := doRequest(t, h, "POST", "/jobs", "org-1:user-1", createJobRequest{Prompt: "x"})
	var created core.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doRequest(t, h, "DELETE", "/jobs/"+created.ID, "org-1:user-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, "DELETE", "/jobs/"+created.ID, "org-1:user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueuePauseResumeStatus(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := doRequest(t, h, "POST", "/queues/backlog/pause", "org-1:user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, "GET", "/queues/backlog/status", "org-1:user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status["is_paused"])

	rec = doRequest(t, h, "POST", "/queues/backlog/resume", "org-1:user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, "GET", "/queues/backlog/status", "org-1:user-1", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status["is_paused"])
}

func TestQueueStatus_InvalidQueueReturns400(t *testing.T) {
	h, _, _ := newTestServer(t)
	rec := doRequest(t, h, "GET", "/queues/bogus/status", "org-1:user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterAgentAndList(t *testing.T) {
	h, _, reg := newTestServer(t)
	require.NoError(t, reg.ProvisionKey(context.Background(), "org-1", "agent-key", "ci"))

	rec := doRequest(t, h, "POST", "/agents/register", "", registerAgentRequest{
		APIKey:   "agent-key",
		Hostname: "host-a",
		Port:     9000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp registerAgentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "org-1", resp.OrgID)

	rec = doRequest(t, h, "GET", "/agents", "org-1:user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var agents []*core.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	require.Len(t, agents, 1)
	assert.Equal(t, resp.AgentID, agents[0].ID)
}

func TestRegisterAgent_UnknownKeyReturns401(t *testing.T) {
	h, _, _ := newTestServer(t)
	rec := doRequest(t, h, "POST", "/agents/register", "", registerAgentRequest{APIKey: "nope", Hostname: "h", Port: 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReconnectAgent_NoOpenStreamFails(t *testing.T) {
	h, _, reg := newTestServer(t)
	require.NoError(t, reg.ProvisionKey(context.Background(), "org-1", "agent-key", "ci"))

	rec := doRequest(t, h, "POST", "/agents/register", "", registerAgentRequest{
		APIKey: "agent-key", Hostname: "host-a", Port: 9000,
	})
	var resp registerAgentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	rec = doRequest(t, h, "POST", "/agents/"+resp.AgentID+"/reconnect", "org-1:user-1", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
