package streaming

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relayforge/dispatch/internal/core"
)

// sessionState is the explicit state machine the Design Notes call for in
// place of the source's callback-based bidirectional stream: unbound while
// the socket is open but no INIT has arrived, bound once an agent identity
// is attached, closing while a drain is in flight, closed once the
// underlying connection is gone.
type sessionState int

const (
	stateUnbound sessionState = iota
	stateBound
	stateClosing
	stateClosed
)

// StreamSession wraps one agent's live WebSocket connection: the socket
// itself, its bound identity, connect timestamp, and a write lock so
// concurrent outbound frames (a health-check ping racing a task assignment)
// serialize instead of corrupting the wire (§4.3).
type StreamSession struct {
	conn      *websocket.Conn
	agentID   string
	orgID     string
	connectAt time.Time

	mu    sync.Mutex
	state sessionState
}

func newSession(conn *websocket.Conn) *StreamSession {
	return &StreamSession{
		conn:      conn,
		connectAt: time.Now(),
		state:     stateUnbound,
	}
}

// bind attaches an agent identity to the session on its first INIT frame.
func (s *StreamSession) bind(agentID, orgID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentID = agentID
	s.orgID = orgID
	s.state = stateBound
}

// AgentID returns the bound agent ID, or "" if the session is still unbound.
func (s *StreamSession) AgentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentID
}

// OrgID returns the bound org ID, or "" if the session is still unbound.
func (s *StreamSession) OrgID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orgID
}

// ConnectedAt returns when the underlying socket was accepted.
func (s *StreamSession) ConnectedAt() time.Time {
	return s.connectAt
}

// Write serializes frame under the session's write lock and sends it,
// returning core.ErrStreamClosed if the session has already been closed.
func (s *StreamSession) Write(frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed || s.state == stateClosing {
		return core.ErrStreamClosed
	}
	return s.conn.WriteJSON(frame)
}

// WriteHealthCheckPing sends a HEALTH_CHECK_PING frame carrying nonce.
func (s *StreamSession) WriteHealthCheckPing(nonce string) error {
	frame, err := encode(FrameHealthCheckPing, HealthCheckPingPayload{Nonce: nonce})
	if err != nil {
		return err
	}
	return s.Write(frame)
}

// WriteTaskAssignment sends a TASK_ASSIGNMENT frame for a claimed job.
func (s *StreamSession) WriteTaskAssignment(p TaskAssignmentPayload) error {
	frame, err := encode(FrameTaskAssignment, p)
	if err != nil {
		return err
	}
	return s.Write(frame)
}

// close transitions the session to closed and closes the underlying
// connection. Idempotent.
func (s *StreamSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return
	}
	s.state = stateClosed
	_ = s.conn.Close()
}

// readFrame blocks for the next inbound frame. Not safe to call
// concurrently with itself — one reader goroutine per session, matching
// gorilla/websocket's single-reader requirement.
func (s *StreamSession) readFrame() (Frame, error) {
	var frame Frame
	err := s.conn.ReadJSON(&frame)
	return frame, err
}
