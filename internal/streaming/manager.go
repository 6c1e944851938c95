package streaming

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relayforge/dispatch/internal/core"
	"github.com/relayforge/dispatch/internal/logsink"
)

// Manager is the process-local mapping of agent_id to StreamSession the
// Design Notes call for: a sharded-in-spirit concurrent map (a single
// RWMutex is enough at this scale) with per-entry write locking for
// outbound frames, drop/close semantics on unregister (§4.3).
//
// The mapping lives only for the process lifetime; on restart agents must
// reconnect — there is no persistence layer for live sessions.
type Manager struct {
	store core.Storage
	sink  *logsink.Sink
	log   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*StreamSession

	waiters *waiters
}

// NewManager constructs a Manager backed by store for agent/job lookups and
// sink for routing LOG_MESSAGE frames into the durable log series.
func NewManager(store core.Storage, sink *logsink.Sink, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:    store,
		sink:     sink,
		log:      log,
		sessions: make(map[string]*StreamSession),
		waiters:  newWaiters(),
	}
}

// register inserts sess under agentID; if a prior session already existed
// for this agent, its channel is closed first (§4.3 register()).
func (m *Manager) register(agentID string, sess *StreamSession) {
	m.mu.Lock()
	prior := m.sessions[agentID]
	m.sessions[agentID] = sess
	m.mu.Unlock()

	if prior != nil {
		prior.close()
	}
}

// Unregister removes and closes the session for agentID, if any.
func (m *Manager) Unregister(agentID string) {
	m.mu.Lock()
	sess, ok := m.sessions[agentID]
	delete(m.sessions, agentID)
	m.mu.Unlock()

	if ok {
		sess.close()
	}
}

// Get returns the live session for agentID, or nil if the agent has no
// open stream.
func (m *Manager) Get(agentID string) *StreamSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[agentID]
}

// WriteHealthCheckPing sends a HEALTH_CHECK_PING to agentID's session,
// returning core.ErrStreamClosed if the agent has no open stream.
func (m *Manager) WriteHealthCheckPing(agentID, nonce string) error {
	sess := m.Get(agentID)
	if sess == nil {
		return core.ErrStreamClosed
	}
	return sess.WriteHealthCheckPing(nonce)
}

// WriteTaskAssignment sends a TASK_ASSIGNMENT to agentID's session.
func (m *Manager) WriteTaskAssignment(agentID string, p TaskAssignmentPayload) error {
	sess := m.Get(agentID)
	if sess == nil {
		return core.ErrStreamClosed
	}
	return sess.WriteTaskAssignment(p)
}

// HasSubscribers delegates job-level fan-out queries to the log sink;
// sessions here are per agent, subscribers are per job (§4.3).
func (m *Manager) HasSubscribers(jobID string, version int) bool {
	return m.sink.HasSubscribers(jobID, version)
}

// onHeartbeat implements the HEARTBEAT inbound-frame effect (§4.3 table):
// update agents.last_active and reset consecutive_failures.
func (m *Manager) onHeartbeat(ctx context.Context, sess *StreamSession) {
	agentID := sess.AgentID()
	if agentID == "" {
		return
	}
	if err := m.store.MarkAgentPingSuccess(ctx, agentID); err != nil {
		m.log.Warn("heartbeat update failed", "agent_id", agentID, "error", err)
	}
}

// onLogMessage implements the LOG_MESSAGE inbound-frame effect: look up the
// job by its latest version, verify the org matches the session, append to
// the log sink, and drop silently on any mismatch (§4.3 table).
func (m *Manager) onLogMessage(ctx context.Context, sess *StreamSession, p LogMessagePayload) {
	orgID := sess.OrgID()
	if orgID == "" {
		return
	}

	job, err := m.store.LatestJob(ctx, orgID, p.JobID)
	if err != nil {
		m.log.Debug("log message for unknown job dropped", "job_id", p.JobID, "error", err)
		return
	}
	if job.OrgID != orgID {
		m.log.Warn("log message org mismatch dropped", "job_id", p.JobID, "session_org", orgID, "job_org", job.OrgID)
		return
	}

	entry := &core.LogEntry{
		JobID:      p.JobID,
		JobVersion: p.JobVersion,
		OrgID:      orgID,
		Level:      p.Level,
		Stage:      p.Stage,
		Message:    p.Message,
		Timestamp:  p.Timestamp,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if err := m.sink.Append(ctx, entry); err != nil {
		m.log.Warn("failed to append log entry", "job_id", p.JobID, "error", err)
	}
}

// onInit implements the INIT inbound-frame effect: bind the session and
// touch last_stream_connected_at (§4.3 table).
func (m *Manager) onInit(ctx context.Context, sess *StreamSession, p InitPayload) {
	sess.bind(p.AgentID, p.OrgID)
	m.register(p.AgentID, sess)
	if err := m.store.TouchStreamConnected(ctx, p.AgentID); err != nil {
		m.log.Warn("failed to touch stream-connected timestamp", "agent_id", p.AgentID, "error", err)
	}
}
