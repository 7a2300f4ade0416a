// Package rules defines the anomaly rule model. A Rule is a closed sum of
// ZScore and PctChange; callers switch on the concrete type.
package rules

import "fmt"

// Direction restricts which deviations a rule reports. Anomalies carry Up or
// Down only.
type Direction string

const (
	Both Direction = "both"
	Up   Direction = "up"
	Down Direction = "down"
)

// Matches reports whether a signed deviation passes the filter. Zero never
// passes Up or Down.
func (d Direction) Matches(delta float64) bool {
	switch d {
	case Up:
		return delta > 0
	case Down:
		return delta < 0
	default:
		return true
	}
}

// Of classifies a deviation; zero counts as Up.
func Of(delta float64) Direction {
	if delta >= 0 {
		return Up
	}
	return Down
}

// Severity is attached to every anomaly a rule produces.
type Severity string

const (
	Info Severity = "info"
	Warn Severity = "warn"
	Crit Severity = "crit"
)

// Base holds the fields shared by every rule variant.
type Base struct {
	ID        string
	Window    int
	Direction Direction
	Severity  Severity
	// Notify is only read by the notification side.
	Notify bool
}

// Rule is implemented by ZScore and PctChange only.
type Rule interface {
	Common() Base
	Kind() Kind
	sealed()
}

// Kind is the wire tag of a rule variant.
type Kind string

const (
	KindZScore    Kind = "zscore"
	KindPctChange Kind = "pct_change"
)

// ZScore flags values lying Threshold or more rolling standard deviations
// from the rolling mean.
type ZScore struct {
	Base
	Threshold float64
}

// PctChange flags values that moved ThresholdPct percent or more against the
// value Window periods earlier.
type PctChange struct {
	Base
	ThresholdPct float64
}

func (r ZScore) Common() Base    { return r.Base.withDefaults() }
func (r ZScore) Kind() Kind      { return KindZScore }
func (ZScore) sealed()           {}
func (r PctChange) Common() Base { return r.Base.withDefaults() }
func (r PctChange) Kind() Kind   { return KindPctChange }
func (PctChange) sealed()        {}

func (b Base) withDefaults() Base {
	if b.Direction == "" {
		b.Direction = Both
	}
	if b.Severity == "" {
		b.Severity = Warn
	}
	return b
}

// Label renders the human-readable description stored on anomalies.
func Label(r Rule) string {
	switch v := r.(type) {
	case ZScore:
		return fmt.Sprintf("±%.1fσ over %d-period rolling", v.Threshold, v.Window)
	case PctChange:
		return fmt.Sprintf("±%s%% change vs %d periods ago", formatFloat(v.ThresholdPct), v.Window)
	default:
		return ""
	}
}
