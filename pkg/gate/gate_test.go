package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexa-labs/tdcore/pkg/store"
)

func makeEvent(id string, ts time.Time, salience float64, ctx map[string]string) *store.Event {
	return &store.Event{
		ID:        store.EventID(id),
		Timestamp: ts,
		Salience:  salience,
		Context:   ctx,
	}
}

var baseTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// =============================================================================
// Evaluate Tests
// =============================================================================

func TestEvaluate(t *testing.T) {
	t.Run("links_close_salient_similar_events", func(t *testing.T) {
		ctx := map[string]string{"env": "prod"}
		source := makeEvent("e1", baseTime, 0.9, ctx)
		target := makeEvent("e2", baseTime.Add(500*time.Millisecond), 0.9, ctx)

		d := Evaluate(source, target, DefaultWindow())

		// avgSalience=0.9, proximity=0.95, similarity=1.0
		assert.InDelta(t, 0.9475, d.PromoterScore, 0.0001)
		// coincidence=0.1, no load, no conflict
		assert.InDelta(t, 0.04, d.SuppressorScore, 0.0001)
		assert.InDelta(t, (0.9475-0.04)/1.04, d.Confidence, 0.0001)
		assert.True(t, d.ShouldLink)
		assert.InDelta(t, 500, d.GapMs, 0.001)
		assert.Contains(t, d.Rationale, "linked e1 -> e2")
	})

	t.Run("vetoes_pairs_outside_window", func(t *testing.T) {
		ctx := map[string]string{"env": "prod"}
		source := makeEvent("e1", baseTime, 0.9, ctx)
		target := makeEvent("e2", baseTime.Add(25*time.Second), 0.9, ctx)

		d := Evaluate(source, target, DefaultWindow())

		assert.False(t, d.ShouldLink)
		assert.Equal(t, 0.0, d.PromoterScore)
		assert.Equal(t, 1.0, d.SuppressorScore)
		assert.Equal(t, 0.0, d.Confidence)
		assert.Contains(t, d.Rationale, "exceeds window")
	})

	t.Run("gap_equal_to_window_is_not_vetoed", func(t *testing.T) {
		source := makeEvent("e1", baseTime, 0.9, nil)
		target := makeEvent("e2", baseTime.Add(10*time.Second), 0.9, nil)

		d := Evaluate(source, target, DefaultWindow())

		// Veto is strictly greater-than; at exactly the boundary the
		// circuits still run, with proximity at zero.
		assert.NotEqual(t, 1.0, d.SuppressorScore)
		assert.Contains(t, d.Rationale, "within window")
	})

	t.Run("gap_is_symmetric", func(t *testing.T) {
		ctx := map[string]string{"env": "prod"}
		a := makeEvent("e1", baseTime, 0.9, ctx)
		b := makeEvent("e2", baseTime.Add(2*time.Second), 0.9, ctx)

		forward := Evaluate(a, b, DefaultWindow())
		backward := Evaluate(b, a, DefaultWindow())

		assert.Equal(t, forward.GapMs, backward.GapMs)
		assert.Equal(t, forward.PromoterScore, backward.PromoterScore)
		assert.Equal(t, forward.SuppressorScore, backward.SuppressorScore)
	})

	t.Run("rejects_dim_conflicting_events", func(t *testing.T) {
		source := makeEvent("e1", baseTime, 0.1, map[string]string{"a": "x"})
		target := makeEvent("e2", baseTime.Add(500*time.Millisecond), 0.1, map[string]string{"b": "y"})

		d := Evaluate(source, target, DefaultWindow())

		assert.False(t, d.ShouldLink)
		assert.Less(t, d.PromoterScore, PromoterThreshold)
		assert.Greater(t, d.SuppressorScore, SuppressorMaxThreshold)
	})

	t.Run("load_raises_suppressor", func(t *testing.T) {
		ctx := map[string]string{"env": "prod"}
		source := makeEvent("e1", baseTime, 0.9, ctx)
		target := makeEvent("e2", baseTime.Add(500*time.Millisecond), 0.9, ctx)

		idle := Evaluate(source, target, DefaultWindow())

		loaded := DefaultWindow()
		loaded.LoadFactor = 1.0
		busy := Evaluate(source, target, loaded)

		// Full load adds 0.25*0.5 to the suppressor.
		assert.InDelta(t, idle.SuppressorScore+0.125, busy.SuppressorScore, 0.0001)
	})

	t.Run("is_deterministic", func(t *testing.T) {
		source := makeEvent("e1", baseTime, 0.7, map[string]string{"k": "v"})
		target := makeEvent("e2", baseTime.Add(3*time.Second), 0.4, map[string]string{"k": "w"})
		w := Window{MaxGapMs: 8000, ThreatMultiplier: 1.2, LoadFactor: 0.3}

		first := Evaluate(source, target, w)
		second := Evaluate(source, target, w)

		assert.Equal(t, first.ShouldLink, second.ShouldLink)
		assert.Equal(t, first.PromoterScore, second.PromoterScore)
		assert.Equal(t, first.SuppressorScore, second.SuppressorScore)
		assert.Equal(t, first.Confidence, second.Confidence)
		assert.Equal(t, first.Rationale, second.Rationale)
	})

	t.Run("outputs_stay_bounded", func(t *testing.T) {
		saliences := []float64{-2, 0, 0.5, 1, 7}
		gaps := []time.Duration{0, 500 * time.Millisecond, 9 * time.Second, time.Minute}
		loads := []float64{-1, 0, 0.5, 1, 3}

		for _, ss := range saliences {
			for _, ts := range saliences {
				for _, gap := range gaps {
					for _, load := range loads {
						source := makeEvent("e1", baseTime, ss, nil)
						target := makeEvent("e2", baseTime.Add(gap), ts, map[string]string{"k": "v"})
						w := DefaultWindow()
						w.LoadFactor = load

						d := Evaluate(source, target, w)

						require.GreaterOrEqual(t, d.PromoterScore, 0.0)
						require.LessOrEqual(t, d.PromoterScore, 1.0)
						require.GreaterOrEqual(t, d.SuppressorScore, 0.0)
						require.LessOrEqual(t, d.SuppressorScore, 1.0)
						require.GreaterOrEqual(t, d.Confidence, 0.0)
						require.LessOrEqual(t, d.Confidence, 1.0)
					}
				}
			}
		}
	})

	t.Run("zero_window_vetoes_nothing_simultaneous", func(t *testing.T) {
		source := makeEvent("e1", baseTime, 0.9, nil)
		target := makeEvent("e2", baseTime, 0.9, nil)
		w := Window{MaxGapMs: 0, ThreatMultiplier: 1, LoadFactor: 0}

		d := Evaluate(source, target, w)

		// gap 0 is not greater than a zero window, so the circuits run;
		// proximity contributes nothing.
		assert.Equal(t, 0.0, d.GapMs)
		assert.Contains(t, d.Rationale, "within window")
	})
}

// =============================================================================
// Window Adjust Tests
// =============================================================================

func TestAdjust(t *testing.T) {
	t.Run("full_threat_widens_to_max", func(t *testing.T) {
		w := Adjust(DefaultWindow(), 1.0, 0.0)

		assert.Equal(t, 20000.0, w.MaxGapMs)
		assert.Equal(t, 2.0, w.ThreatMultiplier)
		assert.Equal(t, 0.0, w.LoadFactor)
	})

	t.Run("full_load_halves_base", func(t *testing.T) {
		w := Adjust(DefaultWindow(), 0.0, 1.0)

		assert.Equal(t, 5000.0, w.MaxGapMs)
		assert.Equal(t, 1.0, w.ThreatMultiplier)
		assert.Equal(t, 1.0, w.LoadFactor)
	})

	t.Run("threat_and_load_compose", func(t *testing.T) {
		w := Adjust(DefaultWindow(), 0.5, 0.5)

		// 10000 * 1.5 * 0.75
		assert.InDelta(t, 11250.0, w.MaxGapMs, 0.0001)
	})

	t.Run("load_is_clamped", func(t *testing.T) {
		over := Adjust(DefaultWindow(), 0.0, 5.0)
		assert.Equal(t, 5000.0, over.MaxGapMs)
		assert.Equal(t, 1.0, over.LoadFactor)

		under := Adjust(DefaultWindow(), 0.0, -3.0)
		assert.Equal(t, 10000.0, under.MaxGapMs)
		assert.Equal(t, 0.0, under.LoadFactor)
	})

	t.Run("result_is_always_clamped", func(t *testing.T) {
		threats := []float64{-2, 0, 0.5, 1, 10}
		loads := []float64{-1, 0, 0.5, 1, 4}

		for _, threat := range threats {
			for _, load := range loads {
				w := Adjust(DefaultWindow(), threat, load)
				require.GreaterOrEqual(t, w.MaxGapMs, MinWindowMs)
				require.LessOrEqual(t, w.MaxGapMs, MaxWindowMs)
			}
		}
	})

	t.Run("does_not_mutate_input", func(t *testing.T) {
		original := Window{MaxGapMs: 1234, ThreatMultiplier: 9, LoadFactor: 0.9}

		adjusted := Adjust(original, 0.0, 0.0)

		assert.Equal(t, 1234.0, original.MaxGapMs)
		assert.Equal(t, 10000.0, adjusted.MaxGapMs)
	})

	t.Run("derives_from_base_not_current_gap", func(t *testing.T) {
		// Two adjusts in a row with the same inputs land on the same
		// window; there is no compounding.
		first := Adjust(DefaultWindow(), 0.3, 0.2)
		second := Adjust(first, 0.3, 0.2)

		assert.Equal(t, first, second)
	})
}

// =============================================================================
// Context Similarity Tests
// =============================================================================

func TestContextSimilarity(t *testing.T) {
	t.Run("both_empty_is_neutral", func(t *testing.T) {
		assert.Equal(t, 0.5, ContextSimilarity(nil, nil))
		assert.Equal(t, 0.5, ContextSimilarity(map[string]string{}, nil))
	})

	t.Run("identical_contexts_score_one", func(t *testing.T) {
		ctx := map[string]string{"env": "prod", "region": "eu-west"}
		assert.Equal(t, 1.0, ContextSimilarity(ctx, ctx))
	})

	t.Run("disjoint_contexts_score_zero", func(t *testing.T) {
		a := map[string]string{"a": "1"}
		b := map[string]string{"b": "2"}
		assert.Equal(t, 0.0, ContextSimilarity(a, b))
	})

	t.Run("one_empty_scores_zero", func(t *testing.T) {
		a := map[string]string{"env": "prod"}
		assert.Equal(t, 0.0, ContextSimilarity(a, nil))
	})

	t.Run("shared_key_different_value", func(t *testing.T) {
		a := map[string]string{"env": "prod"}
		b := map[string]string{"env": "dev"}
		// keyOverlap 1.0 * 0.4, valueMatch 0
		assert.InDelta(t, 0.4, ContextSimilarity(a, b), 0.0001)
	})

	t.Run("partial_key_overlap", func(t *testing.T) {
		a := map[string]string{"env": "prod", "region": "us"}
		b := map[string]string{"env": "prod"}
		// union 2, shared 1, matching values 1: 0.4*0.5 + 0.6*0.5
		assert.InDelta(t, 0.5, ContextSimilarity(a, b), 0.0001)
	})

	t.Run("value_match_is_case_insensitive", func(t *testing.T) {
		a := map[string]string{"env": "Prod"}
		b := map[string]string{"env": "prod"}
		assert.Equal(t, 1.0, ContextSimilarity(a, b))
	})

	t.Run("is_symmetric", func(t *testing.T) {
		a := map[string]string{"env": "prod", "svc": "api"}
		b := map[string]string{"env": "dev", "svc": "api", "zone": "b"}
		assert.Equal(t, ContextSimilarity(a, b), ContextSimilarity(b, a))
	})
}

// =============================================================================
// Load Monitor Tests
// =============================================================================

func TestLoadMonitor(t *testing.T) {
	t.Run("idle_monitor_reports_zero", func(t *testing.T) {
		m := NewLoadMonitor(100)
		assert.Equal(t, 0.0, m.LoadFactor())
	})

	t.Run("non_positive_capacity_falls_back", func(t *testing.T) {
		m := NewLoadMonitor(0)
		// Falls back to capacity 100; still idle.
		assert.Equal(t, 0.0, m.LoadFactor())
	})

	t.Run("derives_load_from_throughput", func(t *testing.T) {
		m := NewLoadMonitor(100)
		base := time.Now().Add(time.Hour).Truncate(time.Second)

		for i := 0; i < 50; i++ {
			m.RecordEvaluationAt(base)
		}
		// Next second flushes the 50-wide bucket into the average.
		m.RecordEvaluationAt(base.Add(time.Second))

		assert.InDelta(t, 0.5, m.LoadFactor(), 0.0001)
	})

	t.Run("load_factor_is_capped_at_one", func(t *testing.T) {
		m := NewLoadMonitor(10)
		base := time.Now().Add(time.Hour).Truncate(time.Second)

		for i := 0; i < 500; i++ {
			m.RecordEvaluationAt(base)
		}
		m.RecordEvaluationAt(base.Add(time.Second))

		assert.Equal(t, 1.0, m.LoadFactor())
	})

	t.Run("silent_seconds_decay_the_rate", func(t *testing.T) {
		m := NewLoadMonitor(100)
		base := time.Now().Add(time.Hour).Truncate(time.Second)

		for i := 0; i < 80; i++ {
			m.RecordEvaluationAt(base)
		}
		m.RecordEvaluationAt(base.Add(time.Second))
		busy := m.LoadFactor()

		m.RecordEvaluationAt(base.Add(30 * time.Second))
		assert.Less(t, m.LoadFactor(), busy)
	})

	t.Run("stats_and_reset", func(t *testing.T) {
		m := NewLoadMonitor(100)
		base := time.Now().Add(time.Hour).Truncate(time.Second)

		m.RecordEvaluationAt(base)
		m.RecordEvaluationAt(base)
		m.RecordEvaluationAt(base.Add(time.Second))

		stats := m.Stats()
		assert.Equal(t, int64(3), stats.TotalEvaluations)
		assert.Greater(t, stats.SmoothedPerSec, 0.0)

		m.Reset()
		stats = m.Stats()
		assert.Equal(t, int64(0), stats.TotalEvaluations)
		assert.Equal(t, 0.0, stats.LoadFactor)
	})
}
