package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStoreInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadgerStore_Events(t *testing.T) {
	ctx := context.Background()

	t.Run("records_and_retrieves_with_nanosecond_precision", func(t *testing.T) {
		s := newTestBadgerStore(t)

		event := testEvent("e1", 0)
		event.Timestamp = testTime.Add(1500 * time.Microsecond)
		require.NoError(t, s.RecordEvent(ctx, event))

		got, err := s.GetEvent(ctx, "e1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, got.Timestamp.Equal(event.Timestamp))
		assert.Equal(t, event.Salience, got.Salience)
		assert.Equal(t, event.Context, got.Context)
	})

	t.Run("duplicate_id_fails_atomically", func(t *testing.T) {
		s := newTestBadgerStore(t)

		require.NoError(t, s.RecordEvent(ctx, testEvent("e1", 0)))
		assert.ErrorIs(t, s.RecordEvent(ctx, testEvent("e1", time.Second)), ErrAlreadyExists)

		count, err := s.EventCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("absent_id_returns_nil_nil", func(t *testing.T) {
		s := newTestBadgerStore(t)

		got, err := s.GetEvent(ctx, "missing")
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("range_scan_is_chronological_and_inclusive", func(t *testing.T) {
		s := newTestBadgerStore(t)

		require.NoError(t, s.RecordEvent(ctx, testEvent("late", 10*time.Second)))
		require.NoError(t, s.RecordEvent(ctx, testEvent("early", 0)))
		require.NoError(t, s.RecordEvent(ctx, testEvent("mid", 5*time.Second)))
		require.NoError(t, s.RecordEvent(ctx, testEvent("outside", time.Hour)))

		events, err := s.GetEventsInRange(ctx, testTime, testTime.Add(10*time.Second))
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, EventID("early"), events[0].ID)
		assert.Equal(t, EventID("mid"), events[1].ID)
		assert.Equal(t, EventID("late"), events[2].ID)
	})
}

func TestBadgerStore_Edges(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) *BadgerStore {
		s := newTestBadgerStore(t)
		require.NoError(t, s.RecordEvent(ctx, testEvent("e1", 0)))
		require.NoError(t, s.RecordEvent(ctx, testEvent("e2", time.Second)))
		require.NoError(t, s.RecordEvent(ctx, testEvent("e3", 2*time.Second)))
		return s
	}

	t.Run("roundtrips_edge_scores", func(t *testing.T) {
		s := seed(t)

		edge := testEdge("edge-1", "e1", "e2", testTime)
		edge.PromoterScore = 0.91
		edge.SuppressorScore = 0.12
		edge.WindowSizeMs = 10000
		require.NoError(t, s.CreateEdge(ctx, edge))

		got, err := s.GetEdge(ctx, "edge-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 0.91, got.PromoterScore)
		assert.Equal(t, 0.12, got.SuppressorScore)
		assert.Equal(t, 10000.0, got.WindowSizeMs)
		assert.True(t, got.CreatedAt.Equal(testTime))
	})

	t.Run("duplicate_edge_fails", func(t *testing.T) {
		s := seed(t)

		require.NoError(t, s.CreateEdge(ctx, testEdge("edge-1", "e1", "e2", testTime)))
		assert.ErrorIs(t, s.CreateEdge(ctx, testEdge("edge-1", "e2", "e3", testTime)), ErrAlreadyExists)
	})

	t.Run("unknown_endpoint_is_invalid", func(t *testing.T) {
		s := seed(t)

		err := s.CreateEdge(ctx, testEdge("edge-1", "e1", "ghost", testTime))
		assert.ErrorIs(t, err, ErrInvalidData)
	})

	t.Run("edges_indexed_by_both_endpoints", func(t *testing.T) {
		s := seed(t)

		require.NoError(t, s.CreateEdge(ctx, testEdge("edge-b", "e2", "e3", testTime.Add(2*time.Second))))
		require.NoError(t, s.CreateEdge(ctx, testEdge("edge-a", "e1", "e2", testTime.Add(time.Second))))

		edges, err := s.GetEdgesForEvent(ctx, "e2")
		require.NoError(t, err)
		require.Len(t, edges, 2)
		assert.Equal(t, EdgeID("edge-a"), edges[0].ID)
		assert.Equal(t, EdgeID("edge-b"), edges[1].ID)

		edges, err = s.GetEdgesForEvent(ctx, "e1")
		require.NoError(t, err)
		require.Len(t, edges, 1)

		count, err := s.EdgeCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})
}

func TestBadgerStore_Persistence(t *testing.T) {
	ctx := context.Background()

	t.Run("data_survives_reopen", func(t *testing.T) {
		dir := t.TempDir()

		s, err := NewBadgerStore(dir)
		require.NoError(t, err)
		require.NoError(t, s.RecordEvent(ctx, testEvent("e1", 0)))
		require.NoError(t, s.RecordEvent(ctx, testEvent("e2", time.Second)))
		require.NoError(t, s.CreateEdge(ctx, testEdge("edge-1", "e1", "e2", testTime)))
		require.NoError(t, s.Close())

		reopened, err := NewBadgerStore(dir)
		require.NoError(t, err)
		defer reopened.Close()

		event, err := reopened.GetEvent(ctx, "e1")
		require.NoError(t, err)
		require.NotNil(t, event)

		edge, err := reopened.GetEdge(ctx, "edge-1")
		require.NoError(t, err)
		require.NotNil(t, edge)
		assert.Equal(t, EventID("e2"), edge.TargetEventID)
	})
}
