package rules

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrDuplicateID is returned when adding a rule whose id already exists.
	ErrDuplicateID = errors.New("rules: duplicate rule id")
	// ErrNotFound is returned when updating or removing a missing id.
	ErrNotFound = errors.New("rules: rule not found")
)

// Set is an ordered, immutable rule collection. Add, Update and Remove
// return a new Set and leave the receiver untouched.
type Set struct {
	rules []Rule
}

// NewSet builds a Set, rejecting duplicate ids.
func NewSet(rs ...Rule) (Set, error) {
	var s Set
	for _, r := range rs {
		next, err := s.Add(r)
		if err != nil {
			return Set{}, err
		}
		s = next
	}
	return s, nil
}

// Rules returns a copy of the rules in order.
func (s Set) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Len returns the number of rules.
func (s Set) Len() int { return len(s.rules) }

// Get looks a rule up by id.
func (s Set) Get(id string) (Rule, bool) {
	i := s.index(id)
	if i < 0 {
		return nil, false
	}
	return s.rules[i], true
}

// Notifiable reports whether anomalies of rule id are forwarded to notifiers.
func (s Set) Notifiable(id string) bool {
	r, ok := s.Get(id)
	return ok && r.Common().Notify
}

// Add appends r.
func (s Set) Add(r Rule) (Set, error) {
	if r == nil {
		return s, fmt.Errorf("%w: nil rule", ErrInvalid)
	}
	id := r.Common().ID
	if s.index(id) >= 0 {
		return s, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	next := make([]Rule, len(s.rules), len(s.rules)+1)
	copy(next, s.rules)
	return Set{rules: append(next, r)}, nil
}

// Update replaces the rule sharing r's id, keeping its position.
func (s Set) Update(r Rule) (Set, error) {
	if r == nil {
		return s, fmt.Errorf("%w: nil rule", ErrInvalid)
	}
	i := s.index(r.Common().ID)
	if i < 0 {
		return s, fmt.Errorf("%w: %s", ErrNotFound, r.Common().ID)
	}
	next := s.Rules()
	next[i] = r
	return Set{rules: next}, nil
}

// Remove drops the rule with id.
func (s Set) Remove(id string) (Set, error) {
	i := s.index(id)
	if i < 0 {
		return s, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := make([]Rule, 0, len(s.rules)-1)
	next = append(next, s.rules[:i]...)
	next = append(next, s.rules[i+1:]...)
	return Set{rules: next}, nil
}

// NextID proposes an unused id of the form r<N>, starting at Len()+1.
func (s Set) NextID() string {
	for n := len(s.rules) + 1; ; n++ {
		id := "r" + strconv.Itoa(n)
		if s.index(id) < 0 {
			return id
		}
	}
}

// Specs serialises the set.
func (s Set) Specs() []Spec {
	out := make([]Spec, len(s.rules))
	for i, r := range s.rules {
		out[i] = SpecOf(r)
	}
	return out
}

func (s Set) index(id string) int {
	for i, r := range s.rules {
		if r.Common().ID == id {
			return i
		}
	}
	return -1
}

// Defaults returns the starter rules: a 7-period 2σ z-score that notifies
// and a 7-period 20% change that does not.
func Defaults() []Spec {
	return []Spec{
		{ID: "r1", Type: string(KindZScore), Window: 7, Threshold: 2, Direction: string(Both), Severity: string(Warn), Notify: true},
		{ID: "r2", Type: string(KindPctChange), Window: 7, ThresholdPct: 20, Direction: string(Both), Severity: string(Info), Notify: false},
	}
}
