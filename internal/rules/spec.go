package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnknownType is returned for a rule tag other than zscore or pct_change.
	ErrUnknownType = errors.New("rules: unknown rule type")
	// ErrInvalid wraps validation failures of a single rule.
	ErrInvalid = errors.New("rules: invalid rule")
)

// Spec is the serialised form of a rule used by config and rule files.
type Spec struct {
	ID           string  `mapstructure:"id" yaml:"id"`
	Type         string  `mapstructure:"type" yaml:"type"`
	Window       int     `mapstructure:"window" yaml:"window"`
	Threshold    float64 `mapstructure:"threshold" yaml:"threshold,omitempty"`
	ThresholdPct float64 `mapstructure:"threshold_pct" yaml:"threshold_pct,omitempty"`
	Direction    string  `mapstructure:"direction" yaml:"direction,omitempty"`
	Severity     string  `mapstructure:"severity" yaml:"severity,omitempty"`
	Notify       bool    `mapstructure:"notify" yaml:"notify"`
}

// Rule validates the spec and builds the matching variant.
func (s Spec) Rule() (Rule, error) {
	if strings.TrimSpace(s.ID) == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if s.Window < 2 {
		return nil, fmt.Errorf("%w: rule %s: window must be >= 2, got %d", ErrInvalid, s.ID, s.Window)
	}

	dir, err := parseDirection(s.Direction)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalid, s.ID, err)
	}
	sev, err := parseSeverity(s.Severity)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalid, s.ID, err)
	}

	base := Base{ID: s.ID, Window: s.Window, Direction: dir, Severity: sev, Notify: s.Notify}

	switch Kind(strings.ToLower(strings.TrimSpace(s.Type))) {
	case KindZScore:
		if s.Threshold <= 0 {
			return nil, fmt.Errorf("%w: rule %s: threshold must be positive", ErrInvalid, s.ID)
		}
		return ZScore{Base: base, Threshold: s.Threshold}, nil
	case KindPctChange:
		if s.ThresholdPct <= 0 {
			return nil, fmt.Errorf("%w: rule %s: threshold_pct must be positive", ErrInvalid, s.ID)
		}
		return PctChange{Base: base, ThresholdPct: s.ThresholdPct}, nil
	default:
		return nil, fmt.Errorf("%w %q (rule %s)", ErrUnknownType, s.Type, s.ID)
	}
}

// SpecOf is the inverse of Spec.Rule.
func SpecOf(r Rule) Spec {
	b := r.Common()
	spec := Spec{
		ID:        b.ID,
		Type:      string(r.Kind()),
		Window:    b.Window,
		Direction: string(b.Direction),
		Severity:  string(b.Severity),
		Notify:    b.Notify,
	}
	switch v := r.(type) {
	case ZScore:
		spec.Threshold = v.Threshold
	case PctChange:
		spec.ThresholdPct = v.ThresholdPct
	}
	return spec
}

// FromSpecs converts specs one by one. Invalid specs are skipped and their
// errors returned alongside the valid rules, so one bad entry never drops the
// whole set.
func FromSpecs(specs []Spec) ([]Rule, []error) {
	out := make([]Rule, 0, len(specs))
	var errs []error
	for _, s := range specs {
		r, err := s.Rule()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, r)
	}
	return out, errs
}

func parseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return Both, nil
	case Both, Up, Down:
		return d, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

func parseSeverity(s string) (Severity, error) {
	switch v := Severity(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return Warn, nil
	case Info, Warn, Crit:
		return v, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
