// Package cadence implements the duty-cycled key-density sampler.
//
// Key identifiers are consumed in fixed windows of WindowSize events.
// Windows alternate between Collecting, where pattern counts accumulate and
// are evaluated at the window boundary, and Skipping, where keys only
// advance the window. The first pattern (in configured order) whose density
// reaches its threshold moves the detector to the terminal Triggered state.
package cadence

import "fmt"

// WindowSize is the number of key identifiers in one sampling window.
const WindowSize = 50

// Reason is the block reason reported when a pattern matches.
const Reason = "Game like activity auto detected"

// State is the detector phase.
type State int

const (
	StateCollecting State = iota
	StateSkipping
	StateTriggered
)

func (s State) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateSkipping:
		return "skipping"
	case StateTriggered:
		return "triggered"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Match describes the pattern that triggered the detector.
type Match struct {
	PatternID string
	Count     int
	Ratio     float64
	Threshold float64
}

// Window summarizes a completed, non-triggering window.
type Window struct {
	Phase  State // phase the window was sampled in
	Counts map[string]int
}

// Detector is the cadence state machine. It is not safe for concurrent use;
// the owning session serializes access.
type Detector struct {
	patterns    []Pattern
	counts      map[string]int
	windowCount int
	state       State

	// OnWindow, when set, is called after each completed window that did
	// not trigger, before counts are cleared.
	OnWindow func(Window)
}

// NewDetector returns a detector in the Collecting state with zeroed counts.
func NewDetector(patterns []Pattern) *Detector {
	d := &Detector{
		patterns: append([]Pattern(nil), patterns...),
		counts:   make(map[string]int, len(patterns)),
	}
	d.Reset()
	return d
}

// Reset returns the detector to its initial state.
func (d *Detector) Reset() {
	d.windowCount = 0
	d.state = StateCollecting
	d.clearCounts()
}

func (d *Detector) clearCounts() {
	for _, p := range d.patterns {
		d.counts[p.ID()] = 0
	}
}

// Observe consumes one key identifier. It returns the match and true
// exactly once, on the key that completes a qualifying Collecting window.
// Keys observed after that are ignored.
func (d *Detector) Observe(key string) (Match, bool) {
	if d.state == StateTriggered {
		return Match{}, false
	}

	d.windowCount++

	if d.state == StateCollecting {
		for _, p := range d.patterns {
			if p.Watches(key) {
				d.counts[p.ID()]++
			}
		}
	}

	if d.windowCount < WindowSize {
		return Match{}, false
	}

	if d.state == StateCollecting {
		if m, ok := d.evaluate(); ok {
			d.state = StateTriggered
			return m, true
		}
	}

	if d.OnWindow != nil {
		d.OnWindow(Window{Phase: d.state, Counts: d.Counts()})
	}

	d.windowCount = 0
	d.clearCounts()
	if d.state == StateCollecting {
		d.state = StateSkipping
	} else {
		d.state = StateCollecting
	}
	return Match{}, false
}

// evaluate checks patterns in configured order and returns the first match.
func (d *Detector) evaluate() (Match, bool) {
	for _, p := range d.patterns {
		if p.Empty() {
			continue
		}
		count := d.counts[p.ID()]
		ratio := float64(count) / float64(WindowSize)
		if ratio >= p.Threshold() {
			return Match{
				PatternID: p.ID(),
				Count:     count,
				Ratio:     ratio,
				Threshold: p.Threshold(),
			}, true
		}
	}
	return Match{}, false
}

// State returns the current phase.
func (d *Detector) State() State { return d.state }

// WindowCount returns the number of keys consumed in the current window.
func (d *Detector) WindowCount() int { return d.windowCount }

// Counts returns a copy of the per-pattern counts for the current window.
func (d *Detector) Counts() map[string]int {
	out := make(map[string]int, len(d.counts))
	for k, v := range d.counts {
		out[k] = v
	}
	return out
}

// Patterns returns the number of loaded patterns.
func (d *Detector) Patterns() int { return len(d.patterns) }
