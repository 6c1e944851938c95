package agentclient

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

	"github.com/relayforge/dispatch/internal/logsink"
	"github.com/relayforge/dispatch/internal/storage"
	"github.com/relayforge/dispatch/internal/streaming"
)

type testHarness struct {
	mgr     *streaming.Manager
	conn    *websocket.Conn
	agentID string
}

func newHarness(t *testing.T, agentID string) *testHarness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := storage.New(db)
	require.NoError(t, store.Migrate(context.Background()))
	sink := logsink.New(store)
	mgr := streaming.NewManager(store, sink, nil)

	ip := "10.0.0.9"
	agent, _, err := store.UpsertAgent(context.Background(), "org-1", "host-x", 9000, &ip, "hash")
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

	return &testHarness{mgr: mgr, conn: conn, agentID: agent.ID}
}

// jsonFrame mirrors the unexported streaming.encode helper for test setup.
func jsonFrame(kind streaming.FrameKind, payload any) (streaming.Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return streaming.Frame{}, err
	}
	return streaming.Frame{Kind: kind, Payload: raw}, nil
}

func TestRunVerification_RoundTrip(t *testing.T) {
	h := newHarness(t, "agent-1")
	client := New(h.mgr, h.agentID)

	go func() {
		var frame streaming.Frame
		if err := h.conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Kind != streaming.FrameRunVerification {
			return
		}
		resp, _ := jsonFrame(streaming.FrameVerificationResult, streaming.VerificationResultPayload{
			JobID: "job-1", Success: true,
		})
		_ = h.conn.WriteJSON(resp)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := client.RunVerification(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestRunVerification_TimesOutWithoutResponse(t *testing.T) {
	h := newHarness(t, "agent-2")
	client := New(h.mgr, h.agentID)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.RunVerification(ctx, "job-2")
	assert.Error(t, err)
}

func TestCreatePR_RoundTrip(t *testing.T) {
	h := newHarness(t, "agent-3")
	client := New(h.mgr, h.agentID)

	go func() {
		var frame streaming.Frame
		if err := h.conn.ReadJSON(&frame); err != nil {
			return
		}
		resp, _ := jsonFrame(streaming.FramePRResult, streaming.PRResultPayload{
			JobID: "job-3", PRLink: "https://example.com/pr/1",
		})
		_ = h.conn.WriteJSON(resp)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := client.CreatePR(ctx, "job-3", "repo-1", "branch", "title", "body")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/pr/1", result.PRLink)
}
