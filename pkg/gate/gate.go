// Package gate implements the dual-circuit temporal gating system of the
// Temporal Decision Core.
//
// For any two time-separated events the gate answers one question: is this
// a genuine causal/temporal association worth recording as a graph edge, or
// a spurious coincidence to suppress? Two competing circuits score the
// pair, a confidence value is derived from their difference, and fixed
// thresholds decide the outcome:
//
//   - Promoter circuit (CA1): accumulates evidence FOR a link — how salient
//     both events are, how close in time they landed, and how similar their
//     contexts look.
//   - Suppressor circuit (L2): accumulates evidence AGAINST a link — how
//     likely a random co-occurrence is, how loaded the system currently is,
//     and how much the contexts conflict.
//
// The maximum temporal gap the gate will even consider is set by an
// adaptive Window, widened under threat and narrowed under load (see
// Adjust).
//
// Example usage:
//
//	w := gate.DefaultWindow()
//	decision := gate.Evaluate(sourceEvent, targetEvent, w)
//	if decision.ShouldLink {
//		fmt.Printf("link accepted: %s\n", decision.Rationale)
//	}
//
// ELI12 (Explain Like I'm 12):
//
// Imagine two doormen deciding together whether two visitors are friends:
//
//	🟢 The first doorman looks for reasons to SAY YES: "they arrived right
//	   after each other, they both look important, they wear the same team
//	   jersey."
//	🔴 The second doorman looks for reasons to SAY NO: "lots of people walk
//	   in around now, the lobby is packed, their jerseys don't match at all."
//
// Only when the YES doorman is convinced enough (promoter >= 0.4) AND the
// NO doorman isn't shouting (suppressor <= 0.6) do the visitors get written
// into the guest book as friends. And if the second visitor shows up too
// long after the first one — outside the window — nobody even asks the
// doormen; the answer is no.
//
// Thread safety: Evaluate is a pure function; all inputs are read-only and
// the same inputs always produce the same Decision.
package gate

import (
	"fmt"
	"time"

	"github.com/cortexa-labs/tdcore/pkg/store"
)

// Gating thresholds and window bounds. These are fixed design constants,
// not configuration: tuning them is a product decision, not a deployment
// one.
const (
	// PromoterThreshold is the minimum promoter score for a link.
	PromoterThreshold = 0.4

	// SuppressorMaxThreshold is the maximum suppressor score tolerated
	// for a link.
	SuppressorMaxThreshold = 0.6

	// MinWindowMs / MaxWindowMs bound the adaptive window.
	MinWindowMs = 0.0
	MaxWindowMs = 20000.0

	// BaseWindowMs is the neutral window before threat/load adjustment.
	BaseWindowMs = 10000.0
)

// Promoter circuit weights. Terms: average salience, temporal proximity,
// context similarity.
const (
	promoterSalienceWeight  = 0.35
	promoterProximityWeight = 0.35
	promoterContextWeight   = 0.30
)

// Suppressor circuit weights. Terms: random co-occurrence risk, load
// penalty, context conflict.
const (
	suppressorCoincidenceWeight = 0.40
	suppressorLoadWeight        = 0.25
	suppressorConflictWeight    = 0.35
)

// Decision is the outcome of one edge evaluation.
//
// A Decision is ephemeral: it is produced per call and never stored. When
// ShouldLink is true the caller materializes a store.Edge carrying the same
// scores; either way the rationale string is the canonical explanation
// surfaced to auditors.
type Decision struct {
	ShouldLink      bool    `json:"shouldLink"`
	PromoterScore   float64 `json:"promoterScore"`
	SuppressorScore float64 `json:"suppressorScore"`
	Confidence      float64 `json:"confidence"`
	Rationale       string  `json:"rationale"`

	// GapMs is the absolute timestamp distance between the two events.
	GapMs float64 `json:"gapMs"`

	// EvaluationDurationMs is wall-clock time spent scoring.
	EvaluationDurationMs float64 `json:"evaluationDurationMs"`
}

// Evaluate runs both circuits over a candidate (source, target) pair under
// the given window and returns the gating decision.
//
// The decision procedure:
//
//  1. gap = |target.Timestamp - source.Timestamp| in milliseconds.
//  2. Window veto: gap > w.MaxGapMs rejects immediately with
//     promoter=0, suppressor=1, confidence=0 — salience and context are
//     never consulted for pairs outside the window.
//  3. Promoter = 0.35*avgSalience + 0.35*proximity + 0.30*similarity,
//     each term clamped to [0, 1]; proximity = 1 - gap/window, floored
//     at 0.
//  4. Suppressor = 0.40*(1-avgSalience) + 0.25*(loadFactor*0.5) +
//     0.35*(1-similarity).
//  5. confidence = clamp01(max(0, (promoter-suppressor)/(1+suppressor))).
//  6. ShouldLink = promoter >= PromoterThreshold AND
//     suppressor <= SuppressorMaxThreshold.
//
// Evaluate is deterministic: there is no hidden randomness, so a fixed
// (source, target, window) triple always yields the same scores. It does
// not touch storage or the audit trail; that orchestration belongs to the
// facade so the scoring core stays a pure function.
func Evaluate(source, target *store.Event, w Window) Decision {
	started := time.Now()

	gapMs := target.Timestamp.Sub(source.Timestamp).Abs().Seconds() * 1000

	if gapMs > w.MaxGapMs {
		return Decision{
			ShouldLink:      false,
			PromoterScore:   0,
			SuppressorScore: 1,
			Confidence:      0,
			GapMs:           gapMs,
			Rationale: fmt.Sprintf(
				"rejected %s -> %s: gap %.0fms exceeds window %.0fms (promoter=0.00 suppressor=1.00 confidence=0.00; thresholds promoter>=%.2f suppressor<=%.2f)",
				source.ID, target.ID, gapMs, w.MaxGapMs,
				PromoterThreshold, SuppressorMaxThreshold),
			EvaluationDurationMs: float64(time.Since(started).Microseconds()) / 1000,
		}
	}

	avgSalience := clamp01((source.Salience + target.Salience) / 2)

	proximity := 0.0
	if w.MaxGapMs > 0 {
		proximity = clamp01(1 - gapMs/w.MaxGapMs)
	}

	similarity := ContextSimilarity(source.Context, target.Context)

	promoter := clamp01(promoterSalienceWeight*avgSalience +
		promoterProximityWeight*proximity +
		promoterContextWeight*similarity)

	coincidenceRisk := clamp01(1 - avgSalience)
	loadPenalty := clamp01(w.LoadFactor * 0.5)
	contextConflict := clamp01(1 - similarity)

	suppressor := clamp01(suppressorCoincidenceWeight*coincidenceRisk +
		suppressorLoadWeight*loadPenalty +
		suppressorConflictWeight*contextConflict)

	confidence := clamp01(max0((promoter - suppressor) / (1 + suppressor)))

	shouldLink := promoter >= PromoterThreshold && suppressor <= SuppressorMaxThreshold

	action := "rejected"
	if shouldLink {
		action = "linked"
	}
	rationale := fmt.Sprintf(
		"%s %s -> %s: gap %.0fms within window %.0fms; promoter=%.2f suppressor=%.2f confidence=%.2f; thresholds promoter>=%.2f suppressor<=%.2f",
		action, source.ID, target.ID, gapMs, w.MaxGapMs,
		promoter, suppressor, confidence,
		PromoterThreshold, SuppressorMaxThreshold)

	return Decision{
		ShouldLink:           shouldLink,
		PromoterScore:        promoter,
		SuppressorScore:      suppressor,
		Confidence:           confidence,
		GapMs:                gapMs,
		Rationale:            rationale,
		EvaluationDurationMs: float64(time.Since(started).Microseconds()) / 1000,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
