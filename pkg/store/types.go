// Package store provides the event/edge storage ports and implementations
// for the Temporal Decision Core.
//
// The store owns the two append-only record types the gate reasons over:
//   - Event: an immutable temporal observation reported by an agent
//   - Edge: an accepted causal link between two events
//
// Both are write-once. There is no update or delete surface: an event or
// edge, once recorded, is ground truth for every later decision, and the
// audit trail refers to it by id forever.
//
// Design principles:
//   - Interface-per-capability: the Store port is satisfiable by any backend
//   - Atomic insert-or-fail: duplicate ids are rejected, never overwritten
//   - Thread-safe implementations
//
// Example usage:
//
//	s := store.NewMemoryStore()
//	defer s.Close()
//
//	event := &store.Event{
//		ID:            store.EventID("evt-001"),
//		Timestamp:     time.Now(),
//		Salience:      0.9,
//		SourceAgentID: "agent-7",
//		Context:       map[string]string{"task": "deploy", "env": "prod"},
//	}
//	if err := s.RecordEvent(ctx, event); err != nil {
//		log.Fatal(err)
//	}
//
//	// Lookups treat "no data yet" as normal: absent returns (nil, nil).
//	got, _ := s.GetEvent(ctx, "evt-001")
//	fmt.Println(got.SourceAgentID) // agent-7
package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidID     = errors.New("invalid id")
	ErrInvalidData   = errors.New("invalid data")
	ErrStorageClosed = errors.New("storage closed")
)

// EventID is a strongly-typed unique identifier for temporal events.
//
// Using a custom type keeps event and edge ids from being confused at
// call sites; both are plain strings on the wire.
type EventID string

// EdgeID is a strongly-typed unique identifier for temporal edges.
type EdgeID string

// Event is an immutable temporal observation.
//
// Events are the ground truth the dual-circuit gate reasons over. They are
// recorded once by RecordEvent and never mutated or deleted afterwards.
//
// Fields:
//   - ID: unique identifier; recording a duplicate fails with ErrAlreadyExists
//   - Timestamp: when the observation occurred
//   - Salience: how noteworthy the source considers the event, in [0, 1]
//   - SourceAgentID: the reporting agent
//   - Context: key/value situation tags compared by the similarity scorer
//
// Example:
//
//	event := &store.Event{
//		ID:            store.EventID("evt-alert-311"),
//		Timestamp:     time.Now(),
//		Salience:      0.75,
//		SourceAgentID: "ingest-gateway",
//		Context: map[string]string{
//			"tenant":  "acme",
//			"channel": "alerts",
//		},
//	}
//
// Thread safety: Event values are not thread-safe; the store hands out
// copies so callers can never mutate stored state.
type Event struct {
	ID            EventID           `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Salience      float64           `json:"salience"`
	SourceAgentID string            `json:"sourceAgentId"`
	Context       map[string]string `json:"context,omitempty"`
}

// Edge is an accepted causal link between two events.
//
// Edges exist only for evaluations the gate accepted: they carry the full
// decision evidence (both circuit scores, the derived confidence, the
// window size in force, and the canonical rationale string) so an auditor
// can reconstruct the decision without replaying it.
//
// Edges are immutable once created.
type Edge struct {
	ID            EdgeID    `json:"id"`
	SourceEventID EventID   `json:"sourceEventId"`
	TargetEventID EventID   `json:"targetEventId"`
	Confidence    float64   `json:"confidence"`
	Rationale     string    `json:"rationale"`
	CreatedAt     time.Time `json:"createdAt"`

	// Decision evidence
	PromoterScore   float64 `json:"promoterScore"`
	SuppressorScore float64 `json:"suppressorScore"`
	WindowSizeMs    float64 `json:"windowSizeMs"`
}

// Store is the storage port for events and edges.
//
// All implementations MUST be:
//   - Thread-safe: safe for concurrent use from multiple goroutines
//   - Insert-atomic: RecordEvent/CreateEdge fail on duplicate id without
//     touching existing state (compare-and-insert, never check-then-write
//     across lock boundaries)
//   - Absent-tolerant: GetEvent/GetEdge return (nil, nil) for missing ids
//     so callers can treat "no data yet" as a normal condition
//
// Implementations:
//   - MemoryStore: in-memory maps, the default for this core
//   - BadgerStore: persistent BadgerDB backend for deployments that opt in
type Store interface {
	// Event operations
	RecordEvent(ctx context.Context, event *Event) error
	GetEvent(ctx context.Context, id EventID) (*Event, error)
	GetEventsInRange(ctx context.Context, start, end time.Time) ([]*Event, error)

	// Edge operations
	CreateEdge(ctx context.Context, edge *Edge) error
	GetEdge(ctx context.Context, id EdgeID) (*Edge, error)
	GetEdgesForEvent(ctx context.Context, id EventID) ([]*Edge, error)

	// Stats
	EventCount(ctx context.Context) (int64, error)
	EdgeCount(ctx context.Context) (int64, error)

	// Lifecycle
	Close() error
}

// CopyEvent returns a deep copy of an event, or nil for nil input.
func CopyEvent(e *Event) *Event {
	if e == nil {
		return nil
	}
	out := *e
	if e.Context != nil {
		out.Context = make(map[string]string, len(e.Context))
		for k, v := range e.Context {
			out.Context[k] = v
		}
	}
	return &out
}

// CopyEdge returns a copy of an edge, or nil for nil input.
func CopyEdge(e *Edge) *Edge {
	if e == nil {
		return nil
	}
	out := *e
	return &out
}

// sortEdgesByCreatedAt orders edges by ascending CreatedAt, breaking ties
// by id for deterministic output.
func sortEdgesByCreatedAt(edges []*Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].CreatedAt.Equal(edges[j].CreatedAt) {
			return edges[i].ID < edges[j].ID
		}
		return edges[i].CreatedAt.Before(edges[j].CreatedAt)
	})
}
