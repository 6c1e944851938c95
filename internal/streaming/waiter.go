package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/relayforge/dispatch/internal/core"
)

// waitKey correlates an outbound activity request with its inbound
// response frame. The wire protocol has one stream per agent and one
// in-flight job-execution activity at a time, so (jobID, responseKind) is
// a sufficient correlation key without a separate request-ID field —
// grounded on the Design Notes' call for "a single stable interface...
// fail at compile time on contract drift" rather than a loosely-typed
// generic request/response bus.
type waitKey struct {
	jobID string
	kind  FrameKind
}

type waiters struct {
	mu      sync.Mutex
	pending map[waitKey]chan json.RawMessage
}

func newWaiters() *waiters {
	return &waiters{pending: make(map[waitKey]chan json.RawMessage)}
}

// register creates the channel a caller will block on for (jobID, kind).
func (w *waiters) register(jobID string, kind FrameKind) chan json.RawMessage {
	ch := make(chan json.RawMessage, 1)
	w.mu.Lock()
	w.pending[waitKey{jobID, kind}] = ch
	w.mu.Unlock()
	return ch
}

// resolve delivers payload to the waiter for (jobID, kind), if any is
// registered, and removes it. A response with no matching waiter (e.g. one
// that arrived after the caller's context timed out) is dropped.
func (w *waiters) resolve(jobID string, kind FrameKind, payload json.RawMessage) {
	key := waitKey{jobID, kind}
	w.mu.Lock()
	ch, ok := w.pending[key]
	if ok {
		delete(w.pending, key)
	}
	w.mu.Unlock()
	if ok {
		ch <- payload
	}
}

// cancel removes a waiter without delivering to it, used when the caller
// gives up (context deadline exceeded).
func (w *waiters) cancel(jobID string, kind FrameKind) {
	w.mu.Lock()
	delete(w.pending, waitKey{jobID, kind})
	w.mu.Unlock()
}

// Request sends an outbound frame to agentID and blocks for the matching
// response kind correlated by jobID, or until ctx is done. It is the
// primitive every AgentClient method (ExecuteJob's terminal result,
// CancelJob, RunVerification, CreatePR, CleanupWorkspace, HealthCheck)
// builds on.
func (m *Manager) Request(ctx context.Context, agentID, jobID string, outKind FrameKind, outPayload any, respKind FrameKind) (json.RawMessage, error) {
	sess := m.Get(agentID)
	if sess == nil {
		return nil, core.ErrStreamClosed
	}

	ch := m.waiters.register(jobID, respKind)
	frame, err := encode(outKind, outPayload)
	if err != nil {
		m.waiters.cancel(jobID, respKind)
		return nil, err
	}
	if err := sess.Write(frame); err != nil {
		m.waiters.cancel(jobID, respKind)
		return nil, err
	}

	select {
	case payload := <-ch:
		return payload, nil
	case <-ctx.Done():
		m.waiters.cancel(jobID, respKind)
		return nil, fmt.Errorf("streaming: waiting for %s: %w", respKind, ctx.Err())
	}
}
