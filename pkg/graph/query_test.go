package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexa-labs/tdcore/pkg/store"
)

var testTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// buildChain stores events e0..eN and links each consecutive pair, with
// edge creation times ascending along the chain.
func buildChain(t *testing.T, ids []string, confidences []float64) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	for i, id := range ids {
		require.NoError(t, s.RecordEvent(ctx, &store.Event{
			ID:        store.EventID(id),
			Timestamp: testTime.Add(time.Duration(i) * time.Second),
			Salience:  0.8,
		}))
	}
	for i := 0; i+1 < len(ids); i++ {
		require.NoError(t, s.CreateEdge(ctx, &store.Edge{
			ID:            store.EdgeID("edge-" + ids[i] + "-" + ids[i+1]),
			SourceEventID: store.EventID(ids[i]),
			TargetEventID: store.EventID(ids[i+1]),
			Confidence:    confidences[i],
			CreatedAt:     testTime.Add(time.Duration(i) * time.Minute),
		}))
	}
	return s
}

func TestEngine_Query(t *testing.T) {
	ctx := context.Background()

	t.Run("isolated_event_yields_single_node", func(t *testing.T) {
		s := store.NewMemoryStore()
		defer s.Close()
		require.NoError(t, s.RecordEvent(ctx, &store.Event{ID: "lonely", Timestamp: testTime}))

		result, err := NewEngine(s).Query(ctx, Query{StartEventID: "lonely", MaxDepth: 5})
		require.NoError(t, err)

		assert.Equal(t, 1, result.NodeCount)
		assert.Equal(t, 0, result.EdgeCount)
		assert.Empty(t, result.Edges)
	})

	t.Run("traverses_chain_up_to_depth", func(t *testing.T) {
		s := buildChain(t, []string{"a", "b", "c", "d", "e"}, []float64{0.9, 0.9, 0.9, 0.9})
		engine := NewEngine(s)

		result, err := engine.Query(ctx, Query{StartEventID: "a", MaxDepth: 2})
		require.NoError(t, err)

		// a, b, c visited; edges a-b, b-c collected plus c's outgoing
		// edge seen while expanding c.
		assert.Equal(t, 3, result.NodeCount)
		assert.Equal(t, 3, result.EdgeCount)
	})

	t.Run("full_depth_covers_whole_chain", func(t *testing.T) {
		s := buildChain(t, []string{"a", "b", "c", "d"}, []float64{0.9, 0.9, 0.9})
		engine := NewEngine(s)

		result, err := engine.Query(ctx, Query{StartEventID: "a", MaxDepth: 10})
		require.NoError(t, err)

		assert.Equal(t, 4, result.NodeCount)
		assert.Equal(t, 3, result.EdgeCount)
	})

	t.Run("depth_zero_visits_only_start", func(t *testing.T) {
		s := buildChain(t, []string{"a", "b"}, []float64{0.9})
		engine := NewEngine(s)

		result, err := engine.Query(ctx, Query{StartEventID: "a", MaxDepth: 0})
		require.NoError(t, err)

		assert.Equal(t, 1, result.NodeCount)
	})

	t.Run("traversal_is_undirected", func(t *testing.T) {
		s := buildChain(t, []string{"a", "b", "c"}, []float64{0.9, 0.9})
		engine := NewEngine(s)

		// Starting from the tail walks the edges backwards too.
		result, err := engine.Query(ctx, Query{StartEventID: "c", MaxDepth: 5})
		require.NoError(t, err)

		assert.Equal(t, 3, result.NodeCount)
		assert.Equal(t, 2, result.EdgeCount)
	})

	t.Run("cycles_do_not_revisit_or_duplicate", func(t *testing.T) {
		s := store.NewMemoryStore()
		defer s.Close()

		for i, id := range []string{"a", "b", "c"} {
			require.NoError(t, s.RecordEvent(ctx, &store.Event{
				ID:        store.EventID(id),
				Timestamp: testTime.Add(time.Duration(i) * time.Second),
			}))
		}
		// Triangle: a-b, b-c, c-a.
		for i, pair := range [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}} {
			require.NoError(t, s.CreateEdge(ctx, &store.Edge{
				ID:            store.EdgeID("edge-" + pair[0] + pair[1]),
				SourceEventID: store.EventID(pair[0]),
				TargetEventID: store.EventID(pair[1]),
				Confidence:    0.9,
				CreatedAt:     testTime.Add(time.Duration(i) * time.Minute),
			}))
		}

		result, err := NewEngine(s).Query(ctx, Query{StartEventID: "a", MaxDepth: 10})
		require.NoError(t, err)

		assert.Equal(t, 3, result.NodeCount)
		assert.Equal(t, 3, result.EdgeCount)

		seen := make(map[store.EdgeID]bool)
		for _, edge := range result.Edges {
			assert.False(t, seen[edge.ID], "edge %s appeared twice", edge.ID)
			seen[edge.ID] = true
		}
	})

	t.Run("filters_by_confidence", func(t *testing.T) {
		s := buildChain(t, []string{"a", "b", "c"}, []float64{0.9, 0.2})
		engine := NewEngine(s)

		result, err := engine.Query(ctx, Query{
			StartEventID:  "a",
			MaxDepth:      10,
			MinConfidence: 0.5,
		})
		require.NoError(t, err)

		// The weak b-c edge is filtered, so c is never reached.
		assert.Equal(t, 2, result.NodeCount)
		assert.Equal(t, 1, result.EdgeCount)
	})

	t.Run("filters_by_creation_time", func(t *testing.T) {
		s := buildChain(t, []string{"a", "b", "c"}, []float64{0.9, 0.9})
		engine := NewEngine(s)

		// Edge a-b created at testTime, b-c a minute later.
		result, err := engine.Query(ctx, Query{
			StartEventID:  "a",
			MaxDepth:      10,
			CreatedBefore: testTime.Add(30 * time.Second),
		})
		require.NoError(t, err)

		assert.Equal(t, 1, result.EdgeCount)
		assert.Equal(t, store.EdgeID("edge-a-b"), result.Edges[0].ID)
	})

	t.Run("edges_ordered_by_created_at", func(t *testing.T) {
		s := buildChain(t, []string{"a", "b", "c", "d"}, []float64{0.9, 0.9, 0.9})
		engine := NewEngine(s)

		result, err := engine.Query(ctx, Query{StartEventID: "d", MaxDepth: 10})
		require.NoError(t, err)

		require.Len(t, result.Edges, 3)
		for i := 1; i < len(result.Edges); i++ {
			assert.False(t, result.Edges[i].CreatedAt.Before(result.Edges[i-1].CreatedAt))
		}
	})

	t.Run("missing_start_event_is_not_found", func(t *testing.T) {
		s := store.NewMemoryStore()
		defer s.Close()

		_, err := NewEngine(s).Query(ctx, Query{StartEventID: "ghost", MaxDepth: 3})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("blank_start_is_invalid", func(t *testing.T) {
		s := store.NewMemoryStore()
		defer s.Close()

		_, err := NewEngine(s).Query(ctx, Query{MaxDepth: 3})
		assert.ErrorIs(t, err, store.ErrInvalidID)
	})

	t.Run("negative_depth_is_invalid", func(t *testing.T) {
		s := store.NewMemoryStore()
		defer s.Close()
		require.NoError(t, s.RecordEvent(ctx, &store.Event{ID: "a", Timestamp: testTime}))

		_, err := NewEngine(s).Query(ctx, Query{StartEventID: "a", MaxDepth: -1})
		assert.ErrorIs(t, err, store.ErrInvalidData)
	})

	t.Run("canceled_context_is_observed_at_entry", func(t *testing.T) {
		s := buildChain(t, []string{"a", "b"}, []float64{0.9})

		canceled, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewEngine(s).Query(canceled, Query{StartEventID: "a", MaxDepth: 3})
		assert.Error(t, err)
	})
}
