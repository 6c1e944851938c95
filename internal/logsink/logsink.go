// Package logsink implements the Log Sink & Notifier (C9): durable,
// append-only per-job log storage plus a best-effort in-memory fan-out to
// live subscribers (the REST façade's SSE/websocket log tail).
//
// Persistence to core.Storage is authoritative and at-least-once; the
// fan-out to subscribers is at-most-once and non-blocking — a slow reader
// drops frames rather than backpressuring the agent stream, per §4.9.
package logsink

import (
	"context"
	"sync"

	"github.com/relayforge/dispatch/internal/core"
)

const subscriberBuffer = 64

// jobKey identifies one log series. A new job version starts a fresh
// series, per §4.9's "writes are keyed by (job_id, job_version, org_id)".
type jobKey struct {
	jobID   string
	version int
}

// Sink appends log entries to durable storage and fans them out to any
// live subscribers for the entry's job.
type Sink struct {
	store core.Storage

	mu   sync.Mutex
	subs map[jobKey]map[chan core.LogEntry]struct{}
}

// New returns a Sink backed by store.
func New(store core.Storage) *Sink {
	return &Sink{
		store: store,
		subs:  make(map[jobKey]map[chan core.LogEntry]struct{}),
	}
}

// Append persists entry and broadcasts it to any subscribers of its job.
func (s *Sink) Append(ctx context.Context, entry *core.LogEntry) error {
	if err := s.store.AppendLog(ctx, entry); err != nil {
		return err
	}
	s.broadcast(*entry)
	return nil
}

// Subscribe registers a channel that receives future log entries for
// (jobID, version). The returned func unsubscribes and closes the channel.
func (s *Sink) Subscribe(jobID string, version int) (<-chan core.LogEntry, func()) {
	key := jobKey{jobID: jobID, version: version}
	ch := make(chan core.LogEntry, subscriberBuffer)

	s.mu.Lock()
	if s.subs[key] == nil {
		s.subs[key] = make(map[chan core.LogEntry]struct{})
	}
	s.subs[key][ch] = struct{}{}
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if set, ok := s.subs[key]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(s.subs, key)
			}
		}
		close(ch)
	}
	return ch, unsubscribe
}

// HasSubscribers reports whether any subscriber is currently listening for
// (jobID, version), letting a caller skip building a broadcast payload
// nobody will see.
func (s *Sink) HasSubscribers(jobID string, version int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[jobKey{jobID: jobID, version: version}]) > 0
}

// broadcast delivers entry to every live subscriber of its job, dropping
// the frame for any subscriber whose channel is full instead of blocking.
func (s *Sink) broadcast(entry core.LogEntry) {
	key := jobKey{jobID: entry.JobID, version: entry.JobVersion}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs[key] {
		select {
		case ch <- entry:
		default:
			// Slow subscriber; persistence already happened, so drop.
		}
	}
}

// History replays the durable log for (jobID, version), for a subscriber
// that connects after some lines were already written.
func (s *Sink) History(ctx context.Context, jobID string, version int) ([]*core.LogEntry, error) {
	return s.store.ListLogs(ctx, jobID, version)
}
