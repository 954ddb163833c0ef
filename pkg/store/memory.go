package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a thread-safe in-memory implementation of Store.
//
// Use cases:
//   - The default backend for the decision core
//   - Unit testing (no disk I/O, fast cleanup)
//   - Replaying event batches for offline analysis
//
// Features:
//   - Thread-safe: all operations use an RWMutex
//   - Insert-atomic: the duplicate check and the insert happen under one
//     write lock, so concurrent recorders cannot race a duplicate past it
//   - Indexed: edges are indexed by both endpoint event ids
//   - Deep copies: returns copies to prevent external mutation
//
// Performance characteristics:
//   - RecordEvent / GetEvent / GetEdge: O(1)
//   - GetEdgesForEvent: O(degree)
//   - GetEventsInRange: O(n log n) over stored events (sorted on demand;
//     the range scan is restartable because no cursor state is kept)
//
// Thread safety: all public methods are safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[EventID]*Event
	edges  map[EdgeID]*Edge

	// Edges indexed by endpoint, in either direction
	edgesByEvent map[EventID]map[EdgeID]struct{}

	closed bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store ready for concurrent use.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:       make(map[EventID]*Event),
		edges:        make(map[EdgeID]*Edge),
		edgesByEvent: make(map[EventID]map[EdgeID]struct{}),
	}
}

// RecordEvent stores a new immutable event.
//
// The duplicate check and insert run under a single write lock, which gives
// the compare-and-insert semantics the concurrency model requires: of two
// concurrent recorders using the same id, exactly one wins and the other
// receives ErrAlreadyExists with no state change.
//
// Returns:
//   - nil on success
//   - ErrInvalidData if event is nil
//   - ErrInvalidID if the id is blank
//   - ErrAlreadyExists if the id was recorded before
//   - ErrStorageClosed after Close
func (m *MemoryStore) RecordEvent(ctx context.Context, event *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event == nil {
		return ErrInvalidData
	}
	if event.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.events[event.ID]; exists {
		return ErrAlreadyExists
	}

	m.events[event.ID] = CopyEvent(event)
	return nil
}

// GetEvent retrieves an event by id. Absent ids return (nil, nil).
func (m *MemoryStore) GetEvent(ctx context.Context, id EventID) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	return CopyEvent(m.events[id]), nil
}

// GetEventsInRange returns events with start <= Timestamp <= end, ordered
// by ascending timestamp. Equal timestamps are ordered by id so repeated
// calls over the same data always produce the same sequence.
func (m *MemoryStore) GetEventsInRange(ctx context.Context, start, end time.Time) ([]*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	var out []*Event
	for _, e := range m.events {
		if e.Timestamp.Before(start) || e.Timestamp.After(end) {
			continue
		}
		out = append(out, CopyEvent(e))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// CreateEdge stores a new accepted edge.
//
// Both endpoint events must already exist; an edge referring to an unknown
// event is ErrInvalidData. Duplicate edge ids fail with ErrAlreadyExists
// under the same compare-and-insert lock as RecordEvent.
func (m *MemoryStore) CreateEdge(ctx context.Context, edge *Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if edge == nil {
		return ErrInvalidData
	}
	if edge.ID == "" || edge.SourceEventID == "" || edge.TargetEventID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.edges[edge.ID]; exists {
		return ErrAlreadyExists
	}
	if _, ok := m.events[edge.SourceEventID]; !ok {
		return ErrInvalidData
	}
	if _, ok := m.events[edge.TargetEventID]; !ok {
		return ErrInvalidData
	}

	m.edges[edge.ID] = CopyEdge(edge)
	m.indexEdge(edge.SourceEventID, edge.ID)
	m.indexEdge(edge.TargetEventID, edge.ID)
	return nil
}

func (m *MemoryStore) indexEdge(eventID EventID, edgeID EdgeID) {
	if m.edgesByEvent[eventID] == nil {
		m.edgesByEvent[eventID] = make(map[EdgeID]struct{})
	}
	m.edgesByEvent[eventID][edgeID] = struct{}{}
}

// GetEdge retrieves an edge by id. Absent ids return (nil, nil).
func (m *MemoryStore) GetEdge(ctx context.Context, id EdgeID) (*Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	return CopyEdge(m.edges[id]), nil
}

// GetEdgesForEvent returns all edges touching the event, in either
// direction, ordered by ascending CreatedAt.
func (m *MemoryStore) GetEdgesForEvent(ctx context.Context, id EventID) ([]*Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	var out []*Edge
	for edgeID := range m.edgesByEvent[id] {
		out = append(out, CopyEdge(m.edges[edgeID]))
	}
	sortEdgesByCreatedAt(out)
	return out, nil
}

// EventCount returns the number of stored events.
func (m *MemoryStore) EventCount(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.events)), nil
}

// EdgeCount returns the number of stored edges.
func (m *MemoryStore) EdgeCount(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.edges)), nil
}

// Close marks the store closed. Further operations fail with
// ErrStorageClosed. Close is idempotent.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
