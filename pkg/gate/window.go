package gate

// Window is the adaptive temporal window: the maximum gap, in
// milliseconds, between two events the gate will still consider for
// linking.
//
// A Window is a plain value owned by one calling context (typically one
// causal-reasoning session). It is never shared between goroutines and
// never mutated in place: Adjust returns the next window state, and
// callers thread the returned value forward.
type Window struct {
	// MaxGapMs is the current maximum linkable gap, always within
	// [MinWindowMs, MaxWindowMs].
	MaxGapMs float64 `json:"currentMaxGapMs"`

	// ThreatMultiplier is the widening factor applied by the last Adjust.
	ThreatMultiplier float64 `json:"threatMultiplier"`

	// LoadFactor is the [0, 1] load in force, fed into the suppressor's
	// load penalty.
	LoadFactor float64 `json:"loadFactor"`
}

// DefaultWindow returns the neutral window: base gap, no threat widening,
// no load.
func DefaultWindow() Window {
	return Window{
		MaxGapMs:         BaseWindowMs,
		ThreatMultiplier: 1.0,
		LoadFactor:       0,
	}
}

// Adjust computes the next window state from the current threat level and
// cognitive/system load.
//
// Semantics:
//   - threatMultiplier = 1 + threatLevel. Threat widens the window: under
//     attack, causally distant events deserve consideration. threatLevel
//     is expected in [0, 1] and is deliberately NOT clamped — the final
//     MaxGapMs clamp bounds the result regardless, and out-of-range threat
//     inputs are a caller contract violation worth surfacing in the
//     multiplier rather than papering over.
//   - loadFactor is clamped to [0, 1]. Load narrows the window: a loaded
//     system should associate less, not more. loadDampening = load * 0.5,
//     so even full load only halves the window.
//   - MaxGapMs = BaseWindowMs * threatMultiplier * (1 - loadDampening),
//     clamped to [MinWindowMs, MaxWindowMs].
//
// Adjust is pure: it returns a new Window and never mutates its input, so
// a window can never be raced by two adjusting goroutines.
//
// Example:
//
//	w := gate.DefaultWindow()
//	w = gate.Adjust(w, 1.0, 0.0) // full threat, idle: 20000ms
//	w = gate.Adjust(w, 0.0, 1.0) // no threat, saturated: 5000ms
func Adjust(_ Window, threatLevel, loadFactor float64) Window {
	load := clamp01(loadFactor)
	threatMultiplier := 1.0 + threatLevel
	loadDampening := load * 0.5

	gap := BaseWindowMs * threatMultiplier * (1 - loadDampening)
	if gap < MinWindowMs {
		gap = MinWindowMs
	}
	if gap > MaxWindowMs {
		gap = MaxWindowMs
	}

	return Window{
		MaxGapMs:         gap,
		ThreatMultiplier: threatMultiplier,
		LoadFactor:       load,
	}
}
