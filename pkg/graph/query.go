// Package graph provides the bounded traversal query engine over the
// temporal edge store.
//
// The engine answers "what is causally reachable from this event?" with a
// breadth-first walk that is bounded in depth, filtered by confidence and
// creation time, and deterministic in its output ordering. It never
// mutates the graph; accepted edges come from the gate, and the engine
// only reads them back.
//
// Example usage:
//
//	engine := graph.NewEngine(s)
//	result, err := engine.Query(ctx, graph.Query{
//		StartEventID:  "evt-001",
//		MaxDepth:      3,
//		MinConfidence: 0.5,
//	})
//	if err != nil {
//		return err
//	}
//	fmt.Printf("%d edges across %d nodes in %.1fms\n",
//		result.EdgeCount, result.NodeCount, result.QueryDurationMs)
package graph

import (
	"context"
	"sort"
	"time"

	"github.com/cortexa-labs/tdcore/pkg/store"
)

// Query describes a bounded traversal of the causal graph.
type Query struct {
	// StartEventID is the traversal root. It must refer to a recorded
	// event; querying an unknown event fails with store.ErrNotFound.
	StartEventID store.EventID

	// MaxDepth bounds the traversal in hops from the start event. Zero
	// visits only the start event itself.
	MaxDepth int

	// MinConfidence filters out edges below this confidence.
	MinConfidence float64

	// CreatedAfter / CreatedBefore optionally restrict edges to a
	// creation time range (inclusive). Zero values disable the bound.
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// Result is the outcome of one traversal.
type Result struct {
	// Edges matching the query, deduplicated by id and ordered by
	// ascending CreatedAt.
	Edges []*store.Edge

	// NodeCount is the number of distinct events visited, including the
	// start event.
	NodeCount int

	// EdgeCount is len(Edges).
	EdgeCount int

	// QueryDurationMs is wall-clock traversal time.
	QueryDurationMs float64
}

// Engine runs traversal queries over a Store.
type Engine struct {
	store store.Store
}

// NewEngine creates a query engine over the given store.
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// Query runs a bounded breadth-first traversal from q.StartEventID.
//
// At each frontier event the engine collects every edge touching it that
// passes the confidence and time filters, deduplicates edges by id, and
// enqueues the unvisited far endpoint one hop deeper — up to q.MaxDepth
// hops from the start. No event is ever visited twice.
//
// Cancellation is observed at call entry only: a traversal that has
// started runs to completion, so callers needing bounded latency must keep
// MaxDepth modest or wrap the call externally.
//
// Errors:
//   - store.ErrInvalidID for a blank start id
//   - store.ErrInvalidData for a negative MaxDepth
//   - store.ErrNotFound when the start event does not exist
func (e *Engine) Query(ctx context.Context, q Query) (*Result, error) {
	started := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.StartEventID == "" {
		return nil, store.ErrInvalidID
	}
	if q.MaxDepth < 0 {
		return nil, store.ErrInvalidData
	}

	startEvent, err := e.store.GetEvent(ctx, q.StartEventID)
	if err != nil {
		return nil, err
	}
	if startEvent == nil {
		return nil, store.ErrNotFound
	}

	type frontier struct {
		id    store.EventID
		depth int
	}

	visited := map[store.EventID]struct{}{q.StartEventID: {}}
	seenEdges := make(map[store.EdgeID]struct{})
	var collected []*store.Edge

	queue := []frontier{{id: q.StartEventID, depth: 0}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		edges, err := e.store.GetEdgesForEvent(ctx, current.id)
		if err != nil {
			return nil, err
		}

		for _, edge := range edges {
			if !e.matches(edge, q) {
				continue
			}
			if _, dup := seenEdges[edge.ID]; !dup {
				seenEdges[edge.ID] = struct{}{}
				collected = append(collected, edge)
			}

			if current.depth+1 > q.MaxDepth {
				continue
			}
			next := edge.TargetEventID
			if next == current.id {
				next = edge.SourceEventID
			}
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, frontier{id: next, depth: current.depth + 1})
		}
	}

	sort.Slice(collected, func(i, j int) bool {
		if collected[i].CreatedAt.Equal(collected[j].CreatedAt) {
			return collected[i].ID < collected[j].ID
		}
		return collected[i].CreatedAt.Before(collected[j].CreatedAt)
	})

	return &Result{
		Edges:           collected,
		NodeCount:       len(visited),
		EdgeCount:       len(collected),
		QueryDurationMs: float64(time.Since(started).Microseconds()) / 1000,
	}, nil
}

// matches applies the query's edge filters.
func (e *Engine) matches(edge *store.Edge, q Query) bool {
	if edge.Confidence < q.MinConfidence {
		return false
	}
	if !q.CreatedAfter.IsZero() && edge.CreatedAt.Before(q.CreatedAfter) {
		return false
	}
	if !q.CreatedBefore.IsZero() && edge.CreatedAt.After(q.CreatedBefore) {
		return false
	}
	return true
}

// GetEdge looks up a single edge by id, no traversal. Absent returns
// (nil, nil).
func (e *Engine) GetEdge(ctx context.Context, id store.EdgeID) (*store.Edge, error) {
	return e.store.GetEdge(ctx, id)
}

// GetEdgesForEvent returns all edges touching an event, no traversal.
func (e *Engine) GetEdgesForEvent(ctx context.Context, id store.EventID) ([]*store.Edge, error) {
	return e.store.GetEdgesForEvent(ctx, id)
}
