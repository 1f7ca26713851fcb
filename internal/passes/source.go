package passes

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/config"
	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/metrics"
	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/propagation"
)

// SatPass is one upcoming pass of a tracked satellite, carrying everything a
// worker needs to act on it.
type SatPass struct {
	NORADID      int
	Name         string
	AOS          time.Time
	LOS          time.Time
	MaxElevation float64
	Frequency    float64 // MHz
	Command      string
}

// Query selects the next pass among tracked satellites.
type Query struct {
	From time.Time
	// Busy satellites have an active worker and are not candidates.
	Busy map[int]bool
	// Resume holds, per satellite, the earliest instant its next pass may end.
	Resume map[int]time.Time
}

func (q Query) start(noradID int) time.Time {
	if r, ok := q.Resume[noradID]; ok && r.After(q.From) {
		return r
	}
	return q.From
}

// PassSource yields the earliest upcoming pass among non-busy tracked satellites.
type PassSource interface {
	NextPass(ctx context.Context, q Query) (SatPass, bool)
}

// Namer resolves display names for satellites.
type Namer interface {
	Name(noradID int) string
}

// SourceConfig holds the observer geometry for pass prediction.
type SourceConfig struct {
	Observer     propagation.Observer
	MinElevation float64 // degrees
	Horizon      time.Duration
}

type memoEntry struct {
	set  *Set
	from time.Time
	pass Pass
}

// PredictorSource answers pass queries from the currently published Set.
// Publish swaps the Set atomically; a query in flight keeps using the Set it loaded.
type PredictorSource struct {
	set     atomic.Pointer[Set]
	tracked []config.TrackedSatellite
	names   Namer
	config  SourceConfig
	logger  *slog.Logger

	memoMu sync.Mutex
	memo   map[int]memoEntry
}

// NewPredictorSource creates a source for the tracked satellites. It answers
// no passes until a Set is published.
func NewPredictorSource(tracked []config.TrackedSatellite, names Namer, cfg SourceConfig, logger *slog.Logger) *PredictorSource {
	sorted := make([]config.TrackedSatellite, len(tracked))
	copy(sorted, tracked)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].NORADID < sorted[j].NORADID })

	return &PredictorSource{
		tracked: sorted,
		names:   names,
		config:  cfg,
		logger:  logger,
		memo:    make(map[int]memoEntry),
	}
}

// Publish makes set the one used by subsequent queries.
func (s *PredictorSource) Publish(set *Set) {
	s.set.Store(set)
	metrics.SetPredictorCount(set.Len())
}

// Set returns the currently published Set, or nil.
func (s *PredictorSource) Set() *Set {
	return s.set.Load()
}

type candidate struct {
	pass Pass
	ok   bool
}

// NextPass returns the pass with the earliest AOS among non-busy tracked
// satellites that have a predictor. Equal AOS goes to the lower NORAD id.
func (s *PredictorSource) NextPass(ctx context.Context, q Query) (SatPass, bool) {
	set := s.set.Load()
	if set == nil {
		return SatPass{}, false
	}

	results := make([]candidate, len(s.tracked))
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	for i, sat := range s.tracked {
		if q.Busy[sat.NORADID] {
			continue
		}
		pred, ok := set.Get(sat.NORADID)
		if !ok {
			continue
		}

		wg.Add(1)
		go func(idx int, p *Predictor, from time.Time) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			pass, ok := s.nextFor(ctx, set, p, from)
			results[idx] = candidate{pass: pass, ok: ok}
		}(i, pred, q.start(sat.NORADID))
	}
	wg.Wait()

	best := -1
	for i, c := range results {
		if !c.ok {
			continue
		}
		if best < 0 || c.pass.AOS.Before(results[best].pass.AOS) {
			best = i
		}
	}
	if best < 0 {
		return SatPass{}, false
	}

	sat := s.tracked[best]
	p := results[best].pass
	name := ""
	if s.names != nil {
		name = s.names.Name(sat.NORADID)
	}
	return SatPass{
		NORADID:      sat.NORADID,
		Name:         name,
		AOS:          p.AOS,
		LOS:          p.LOS,
		MaxElevation: p.MaxElevation,
		Frequency:    sat.Frequency,
		Command:      sat.Command,
	}, true
}

// nextFor reuses a memoized pass while it is still the answer for from:
// same Set, from not earlier than the memoized query, pass not yet over.
func (s *PredictorSource) nextFor(ctx context.Context, set *Set, p *Predictor, from time.Time) (Pass, bool) {
	s.memoMu.Lock()
	m, ok := s.memo[p.noradID]
	s.memoMu.Unlock()
	if ok && m.set == set && !from.Before(m.from) && m.pass.LOS.After(from) {
		return m.pass, true
	}

	pass, err := p.NextPass(ctx, s.config.Observer, from, s.config.MinElevation, s.config.Horizon)
	if err != nil {
		if errors.Is(err, ErrNoPass) || errors.Is(err, context.Canceled) {
			s.logger.Debug("no pass", "norad_id", p.noradID, "error", err)
		} else {
			s.logger.Warn("pass prediction failed", "norad_id", p.noradID, "error", err)
		}
		return Pass{}, false
	}

	s.memoMu.Lock()
	s.memo[p.noradID] = memoEntry{set: set, from: from, pass: pass}
	s.memoMu.Unlock()
	return pass, true
}
