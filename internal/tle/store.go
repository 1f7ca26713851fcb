package tle

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// satRecords holds every element set known for one satellite, ordered by epoch.
type satRecords struct {
	alias   string
	records []Record
}

// ElementStore is an in-memory multi-epoch element store keyed by NORAD id.
// Records accumulate across refreshes and are never removed.
// Safe for concurrent use.
type ElementStore struct {
	mu   sync.RWMutex
	sats map[int]*satRecords
	seq  uint64
}

// NewElementStore creates an empty ElementStore.
func NewElementStore() *ElementStore {
	return &ElementStore{sats: make(map[int]*satRecords)}
}

// Add inserts an element set for a satellite and reports whether it was new.
// A repeated (epoch, elements) pair is a no-op. A non-empty alias replaces the
// stored one; an empty alias never clears it.
func (s *ElementStore) Add(noradID int, elements Elements, epoch time.Time, alias string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sat, ok := s.sats[noradID]
	if !ok {
		sat = &satRecords{}
		s.sats[noradID] = sat
	}
	if alias != "" {
		sat.alias = alias
	}

	// First index whose epoch is after the new one; equal epochs stay in insertion order.
	idx := sort.Search(len(sat.records), func(i int) bool {
		return sat.records[i].Epoch.After(epoch)
	})
	for i := idx - 1; i >= 0 && sat.records[i].Epoch.Equal(epoch); i-- {
		if sat.records[i].Elements == elements {
			return false
		}
	}

	s.seq++
	rec := Record{Epoch: epoch, Elements: elements, seq: s.seq}
	sat.records = append(sat.records, Record{})
	copy(sat.records[idx+1:], sat.records[idx:])
	sat.records[idx] = rec
	return true
}

// AddEntries inserts parsed entries and returns how many were new.
func (s *ElementStore) AddEntries(entries []TLEEntry) int {
	added := 0
	for _, e := range entries {
		if s.Add(e.NORADID, e.Elements(), e.Epoch, e.Name) {
			added++
		}
	}
	return added
}

// Nearest returns the record whose epoch is closest to at. Equal distances go
// to the record inserted first. Returns ErrDataUnavailable if the satellite
// has no records.
func (s *ElementStore) Nearest(noradID int, at time.Time) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sat, ok := s.sats[noradID]
	if !ok || len(sat.records) == 0 {
		return Record{}, fmt.Errorf("%w: NORAD %d", ErrDataUnavailable, noradID)
	}
	recs := sat.records

	// Candidates are the epoch groups immediately before and at/after at.
	idx := sort.Search(len(recs), func(i int) bool {
		return !recs[i].Epoch.Before(at)
	})
	lo, hi := idx, idx
	if lo > 0 {
		lo--
		for lo > 0 && recs[lo-1].Epoch.Equal(recs[idx-1].Epoch) {
			lo--
		}
	}
	if hi < len(recs) {
		for hi+1 < len(recs) && recs[hi+1].Epoch.Equal(recs[idx].Epoch) {
			hi++
		}
	} else {
		hi = len(recs) - 1
	}

	best := recs[lo]
	bestDist := absDuration(best.Epoch.Sub(at))
	for _, r := range recs[lo : hi+1] {
		d := absDuration(r.Epoch.Sub(at))
		if d < bestDist || (d == bestDist && r.seq < best.seq) {
			best, bestDist = r, d
		}
	}
	return best, nil
}

// Name returns the satellite's alias, or "" if unknown.
func (s *ElementStore) Name(noradID int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sat, ok := s.sats[noradID]; ok {
		return sat.alias
	}
	return ""
}

// Count returns the number of stored records for a satellite.
func (s *ElementStore) Count(noradID int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sat, ok := s.sats[noradID]; ok {
		return len(sat.records)
	}
	return 0
}

// Satellites returns the number of satellites with at least one record.
func (s *ElementStore) Satellites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sats)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
