package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Agents are backend-initiated connections from trusted hosts, not
	// browsers; origin checking is not a meaningful boundary here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleAgentStream upgrades r to a WebSocket and runs the read loop for
// one agent's stream session until the connection closes, implementing
// the Backend gRPC surface's AgentStream bidirectional exchange (§6) over
// WebSocket framing per the Design Notes' streaming-transport strategy.
func (m *Manager) HandleAgentStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := newSession(conn)
	defer func() {
		if agentID := sess.AgentID(); agentID != "" {
			m.Unregister(agentID)
		} else {
			sess.close()
		}
	}()

	ctx := r.Context()
	initialized := false

	for {
		frame, err := sess.readFrame()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				m.log.Debug("stream read ended", "agent_id", sess.AgentID(), "error", err)
			}
			return
		}

		if !initialized {
			if frame.Kind != FrameInit {
				m.log.Warn("first frame was not INIT, dropping connection", "kind", frame.Kind)
				return
			}
			var p InitPayload
			if err := json.Unmarshal(frame.Payload, &p); err != nil || p.AgentID == "" {
				m.log.Warn("malformed INIT frame, dropping connection")
				return
			}
			m.onInit(ctx, sess, p)
			initialized = true
			continue
		}

		m.dispatchFrame(ctx, sess, frame)
	}
}

func (m *Manager) dispatchFrame(ctx context.Context, sess *StreamSession, frame Frame) {
	switch frame.Kind {
	case FrameHeartbeat:
		m.onHeartbeat(ctx, sess)

	case FrameLogMessage:
		var p LogMessagePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			m.log.Debug("malformed LOG_MESSAGE frame dropped", "error", err)
			return
		}
		m.onLogMessage(ctx, sess, p)

	case FrameInit:
		// A second INIT on an already-bound session is a no-op; the agent
		// identity is fixed for the lifetime of the connection.

	case FrameExecuteResult, FrameCancelResult, FrameVerificationResult,
		FramePRResult, FrameCleanupResult, FrameHealthResult:
		m.dispatchResult(frame)

	default:
		m.log.Debug("unknown inbound frame kind dropped", "kind", frame.Kind)
	}
}

// resultKey is the minimal shape most *_RESULT payloads share, enough to
// recover the correlation key without a per-kind switch. HEALTH_RESULT is
// correlated by agent_id instead, since it isn't job-scoped.
type resultKey struct {
	JobID   string `json:"job_id"`
	AgentID string `json:"agent_id"`
}

func (m *Manager) dispatchResult(frame Frame) {
	var id resultKey
	if err := json.Unmarshal(frame.Payload, &id); err != nil {
		m.log.Debug("malformed result frame dropped", "kind", frame.Kind, "error", err)
		return
	}
	key := id.JobID
	if frame.Kind == FrameHealthResult {
		key = id.AgentID
	}
	m.waiters.resolve(key, frame.Kind, frame.Payload)
}
