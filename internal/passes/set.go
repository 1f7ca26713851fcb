package passes

import (
	"sort"
	"time"
)

// Set is an immutable collection of predictors keyed by NORAD id.
// A refresh builds a new Set and publishes it whole.
type Set struct {
	predictors map[int]*Predictor
	builtAt    time.Time
}

// NewSet indexes predictors by NORAD id. A later predictor for the same id
// replaces an earlier one.
func NewSet(predictors []*Predictor, builtAt time.Time) *Set {
	m := make(map[int]*Predictor, len(predictors))
	for _, p := range predictors {
		m[p.noradID] = p
	}
	return &Set{predictors: m, builtAt: builtAt}
}

// Get returns the predictor for a satellite.
func (s *Set) Get(noradID int) (*Predictor, bool) {
	p, ok := s.predictors[noradID]
	return p, ok
}

// Len returns the number of predictors in the set.
func (s *Set) Len() int { return len(s.predictors) }

// BuiltAt returns the instant whose nearest element sets the predictors use.
func (s *Set) BuiltAt() time.Time { return s.builtAt }

// Predictors returns every predictor ordered by NORAD id.
func (s *Set) Predictors() []*Predictor {
	out := make([]*Predictor, 0, len(s.predictors))
	for _, p := range s.predictors {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].noradID < out[j].noradID })
	return out
}
