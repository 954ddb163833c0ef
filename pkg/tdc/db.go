// Package tdc provides the main API for embedded Temporal Decision Core
// usage.
//
// The TDC decides, for pairs of time-separated events, whether a causal
// association should be recorded — and keeps a full, queryable account of
// every decision it makes. This package wires the pieces together behind
// one handle:
//
//   - Storage: event and edge persistence (in-memory or Badger)
//   - Gate: the dual-circuit promoter/suppressor evaluation
//   - Window: the adaptive temporal window, adjusted per threat and load
//   - Graph: bounded traversal queries over accepted edges
//   - Audit: the append-only decision trail, written before results are
//     reported
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	db, err := tdc.Open(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	_ = db.RecordEvent(ctx, &store.Event{
//		ID:        "evt-1",
//		Timestamp: time.Now(),
//		Salience:  0.9,
//		Context:   map[string]string{"env": "prod"},
//	})
//	_ = db.RecordEvent(ctx, &store.Event{
//		ID:        "evt-2",
//		Timestamp: time.Now().Add(2 * time.Second),
//		Salience:  0.8,
//		Context:   map[string]string{"env": "prod"},
//	})
//
//	result, err := db.EvaluateEdge(ctx, "evt-1", "evt-2", "agent-7")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if result.Decision.ShouldLink {
//		fmt.Printf("edge %s created: %s\n", result.Edge.ID, result.Decision.Rationale)
//	}
//
// Decision Flow:
//  1. Both events are loaded; an unknown id fails the evaluation.
//  2. The gate scores the pair under the current window snapshot.
//  3. An accepted pair materializes an edge carrying the scores.
//  4. The audit entry is written. Only then is the result returned —
//     a failed audit write fails the whole evaluation, accepted or not.
//
// Thread Safety:
//
//	All DB methods are safe for concurrent use. The window is a value
//	snapshot per evaluation: concurrent AdjustWindow calls never corrupt
//	an in-flight decision.
package tdc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cortexa-labs/tdcore/pkg/audit"
	"github.com/cortexa-labs/tdcore/pkg/config"
	"github.com/cortexa-labs/tdcore/pkg/gate"
	"github.com/cortexa-labs/tdcore/pkg/graph"
	"github.com/cortexa-labs/tdcore/pkg/store"
)

// EvaluationResult is what one EvaluateEdge call produces.
type EvaluationResult struct {
	// Decision holds the gate's scores and rationale.
	Decision gate.Decision

	// Edge is the materialized edge for accepted decisions, nil for
	// rejections.
	Edge *store.Edge

	// AuditID is the id of the trail entry recording this decision.
	AuditID string
}

// DBStats is a snapshot of gating activity since Open.
type DBStats struct {
	Evaluations    int64   `json:"evaluations"`
	EdgesCreated   int64   `json:"edgesCreated"`
	Rejections     int64   `json:"rejections"`
	WindowVetoes   int64   `json:"windowVetoes"`
	MeanConfidence float64 `json:"meanConfidence"`
	Window         gate.Window
}

// DB is the embedded Temporal Decision Core handle.
type DB struct {
	store  store.Store
	engine *graph.Engine
	sink   audit.Sink
	load   *gate.LoadMonitor

	maxQueryDepth int

	mu     sync.RWMutex
	window gate.Window

	statsMu       sync.Mutex
	evaluations   int64
	created       int64
	rejected      int64
	vetoes        int64
	confidenceSum float64

	closeOnce sync.Once
	closeErr  error
}

// Open creates a DB from configuration.
//
// The storage backend, audit sink, and initial window all come from cfg;
// pass config.LoadFromEnv() for environment-driven setup. The returned DB
// must be closed to release the store and flush the audit sink.
func Open(cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.LoadFromEnv()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var s store.Store
	var err error
	switch cfg.Storage.Backend {
	case config.BackendBadger:
		s, err = store.NewBadgerStoreWithOptions(store.BadgerOptions{
			DataDir:    cfg.Storage.DataDir,
			SyncWrites: cfg.Storage.SyncWrites,
		})
		if err != nil {
			return nil, fmt.Errorf("opening badger store: %w", err)
		}
	default:
		s = store.NewMemoryStore()
	}

	var sink audit.Sink
	logger, err := audit.NewLogger(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		LogPath:    cfg.Audit.LogPath,
		SyncWrites: cfg.Audit.SyncWrites,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	sink = logger
	if cfg.Audit.Async {
		sink = audit.NewAsyncSink(logger, cfg.Audit.AsyncQueueSize)
	}

	db := New(s, sink)
	db.maxQueryDepth = cfg.Query.MaxDepth
	db.load = gate.NewLoadMonitor(cfg.Gate.LoadCapacityPerSec)
	if cfg.Gate.ThreatLevel > 0 {
		db.window = gate.Adjust(db.window, cfg.Gate.ThreatLevel, 0)
	}
	return db, nil
}

// New assembles a DB from explicit components, for callers who construct
// their own store or sink (tests, embedders with custom sinks). The
// window starts at its neutral default.
func New(s store.Store, sink audit.Sink) *DB {
	return &DB{
		store:         s,
		engine:        graph.NewEngine(s),
		sink:          sink,
		load:          gate.NewLoadMonitor(0),
		window:        gate.DefaultWindow(),
		maxQueryDepth: 10,
	}
}

// RecordEvent stores a new event.
//
// Events are immutable once recorded: a duplicate id fails with
// store.ErrAlreadyExists and leaves the original untouched.
func (db *DB) RecordEvent(ctx context.Context, event *store.Event) error {
	return db.store.RecordEvent(ctx, event)
}

// GetEvent looks up an event by id. Absent ids return (nil, nil).
func (db *DB) GetEvent(ctx context.Context, id store.EventID) (*store.Event, error) {
	return db.store.GetEvent(ctx, id)
}

// GetEventsInRange returns events with timestamps in [start, end],
// ordered by timestamp.
func (db *DB) GetEventsInRange(ctx context.Context, start, end time.Time) ([]*store.Event, error) {
	return db.store.GetEventsInRange(ctx, start, end)
}

// EvaluateEdge runs the gate over a recorded event pair and, when the
// decision is positive, creates the edge.
//
// The audit entry — accepted or rejected — is written before the result
// is returned; an audit failure fails the evaluation even if the edge was
// already persisted. actorAgentID attributes the decision in the trail
// and may be empty.
func (db *DB) EvaluateEdge(ctx context.Context, sourceID, targetID store.EventID, actorAgentID string) (*EvaluationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	source, err := db.store.GetEvent(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("source event %s: %w", sourceID, store.ErrNotFound)
	}
	target, err := db.store.GetEvent(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("target event %s: %w", targetID, store.ErrNotFound)
	}

	db.mu.RLock()
	window := db.window
	db.mu.RUnlock()

	decision := gate.Evaluate(source, target, window)
	db.load.RecordEvaluation()

	result := &EvaluationResult{Decision: decision}

	if decision.ShouldLink {
		edge := &store.Edge{
			ID:              store.EdgeID("edge-" + uuid.NewString()),
			SourceEventID:   sourceID,
			TargetEventID:   targetID,
			Confidence:      decision.Confidence,
			Rationale:       decision.Rationale,
			CreatedAt:       time.Now().UTC(),
			PromoterScore:   decision.PromoterScore,
			SuppressorScore: decision.SuppressorScore,
			WindowSizeMs:    window.MaxGapMs,
		}
		if err := db.store.CreateEdge(ctx, edge); err != nil {
			return nil, fmt.Errorf("creating edge: %w", err)
		}
		result.Edge = edge
	}

	entry := &audit.EdgeLog{
		Action:        audit.ActionRejected,
		Rationale:     decision.Rationale,
		Confidence:    decision.Confidence,
		SourceEventID: string(sourceID),
		TargetEventID: string(targetID),
		ActorAgentID:  actorAgentID,
	}
	if result.Edge != nil {
		entry.Action = audit.ActionCreated
		entry.EdgeID = string(result.Edge.ID)
	}
	if err := db.sink.LogEdgeAction(ctx, entry); err != nil {
		return nil, fmt.Errorf("writing audit entry: %w", err)
	}
	result.AuditID = entry.ID

	db.recordStats(decision)
	return result, nil
}

func (db *DB) recordStats(decision gate.Decision) {
	db.statsMu.Lock()
	defer db.statsMu.Unlock()

	db.evaluations++
	db.confidenceSum += decision.Confidence
	if decision.ShouldLink {
		db.created++
		return
	}
	db.rejected++
	if decision.PromoterScore == 0 && decision.SuppressorScore == 1 {
		db.vetoes++
	}
}

// AdjustWindow recomputes the adaptive window from a threat level and an
// explicit load factor, installs it, and returns the new state.
func (db *DB) AdjustWindow(threatLevel, loadFactor float64) gate.Window {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.window = gate.Adjust(db.window, threatLevel, loadFactor)
	return db.window
}

// AdjustWindowFromLoad is AdjustWindow with the load factor taken from
// the built-in evaluation load monitor.
func (db *DB) AdjustWindowFromLoad(threatLevel float64) gate.Window {
	return db.AdjustWindow(threatLevel, db.load.LoadFactor())
}

// Window returns the current window snapshot.
func (db *DB) Window() gate.Window {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.window
}

// QueryTemporalGraph runs a bounded traversal from a start event.
//
// Requested depths above the configured maximum are clamped rather than
// rejected.
func (db *DB) QueryTemporalGraph(ctx context.Context, q graph.Query) (*graph.Result, error) {
	if q.MaxDepth > db.maxQueryDepth {
		q.MaxDepth = db.maxQueryDepth
	}
	return db.engine.Query(ctx, q)
}

// GetEdge looks up an edge by id. Absent ids return (nil, nil).
func (db *DB) GetEdge(ctx context.Context, id store.EdgeID) (*store.Edge, error) {
	return db.store.GetEdge(ctx, id)
}

// GetEdgesForEvent returns all edges touching an event, ordered by
// creation time.
func (db *DB) GetEdgesForEvent(ctx context.Context, id store.EventID) ([]*store.Edge, error) {
	return db.store.GetEdgesForEvent(ctx, id)
}

// LoadStats returns the evaluation throughput snapshot feeding
// AdjustWindowFromLoad.
func (db *DB) LoadStats() gate.LoadStats {
	return db.load.Stats()
}

// Stats returns gating counters since Open.
func (db *DB) Stats() DBStats {
	db.statsMu.Lock()
	stats := DBStats{
		Evaluations:  db.evaluations,
		EdgesCreated: db.created,
		Rejections:   db.rejected,
		WindowVetoes: db.vetoes,
	}
	if db.evaluations > 0 {
		stats.MeanConfidence = db.confidenceSum / float64(db.evaluations)
	}
	db.statsMu.Unlock()

	stats.Window = db.Window()
	return stats
}

// Close flushes the audit sink and closes the store. Safe to call more
// than once.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		sinkErr := db.sink.Close()
		storeErr := db.store.Close()
		if sinkErr != nil {
			db.closeErr = fmt.Errorf("closing audit sink: %w", sinkErr)
			return
		}
		if storeErr != nil {
			db.closeErr = fmt.Errorf("closing store: %w", storeErr)
		}
	})
	return db.closeErr
}
