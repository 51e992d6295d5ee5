// Package monitor turns raw UI snapshots into typed actions and keeps the
// rolling window of actions awaiting pattern analysis.
package monitor

import (
	"fmt"

	"github.com/smkim0508/Portable-Brain/core"
)

// Classify compares two snapshots.
// The package check wins over content, so an app switch is reported even when
// the text happens to match.
func Classify(before, after core.UIState) core.StateChangeType {
	if before.Package != after.Package {
		return core.ChangeAppSwitch
	}
	if before.FormattedText == after.FormattedText {
		return core.ChangeNone
	}
	return core.ChangeChanged
}

// Detect returns the change from prev to next, or false when there is nothing
// to forward: no previous snapshot or identical content.
func Detect(prev *core.UIState, next core.UIState, source core.ChangeSource) (*core.UIStateChange, bool) {
	if prev == nil {
		return nil, false
	}
	kind := Classify(*prev, next)
	if kind == core.ChangeNone {
		return nil, false
	}

	var desc string
	if kind == core.ChangeAppSwitch {
		desc = fmt.Sprintf("APP SWITCH: from %s to %s", prev.Package, next.Package)
	} else {
		desc = fmt.Sprintf("UI changed within %s", next.Package)
	}

	return &core.UIStateChange{
		Before:      *prev,
		After:       next,
		Type:        kind,
		Source:      source,
		Timestamp:   next.Timestamp,
		Description: desc,
	}, true
}

// Detector remembers the last snapshot between ticks.
// It is owned by a single tracking loop and is not safe for concurrent use.
type Detector struct {
	last   *core.UIState
	source core.ChangeSource
}

// NewDetector creates a detector attributing changes to source.
func NewDetector(source core.ChangeSource) *Detector {
	if source == "" {
		source = core.SourceObservation
	}
	return &Detector{source: source}
}

// Observe feeds the next snapshot and reports the change from the previous one.
// The first snapshot only primes the detector.
func (d *Detector) Observe(next core.UIState) (*core.UIStateChange, bool) {
	change, ok := Detect(d.last, next, d.source)
	d.last = &next
	return change, ok
}

// Reset forgets the last snapshot.
func (d *Detector) Reset() {
	d.last = nil
}
