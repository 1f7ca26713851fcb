package passes

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/config"
)

// SyntheticSource produces deterministic passes for testing the scheduler
// without element data. Satellite i (ordered by NORAD id) rises at
// From + Offset + i*Spacing and stays up for Duration.
type SyntheticSource struct {
	tracked  []config.TrackedSatellite
	Offset   time.Duration
	Spacing  time.Duration
	Duration time.Duration
}

// NewSyntheticSource creates a synthetic source with short default timings.
func NewSyntheticSource(tracked []config.TrackedSatellite) *SyntheticSource {
	sorted := make([]config.TrackedSatellite, len(tracked))
	copy(sorted, tracked)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].NORADID < sorted[j].NORADID })

	return &SyntheticSource{
		tracked:  sorted,
		Offset:   15 * time.Second,
		Spacing:  5 * time.Second,
		Duration: 30 * time.Second,
	}
}

// NextPass returns the earliest synthetic pass among non-busy satellites.
// A satellite with a resume point rises Offset after it.
func (s *SyntheticSource) NextPass(_ context.Context, q Query) (SatPass, bool) {
	var (
		best  SatPass
		found bool
	)
	for i, sat := range s.tracked {
		if q.Busy[sat.NORADID] {
			continue
		}
		aos := q.From.Add(s.Offset + time.Duration(i)*s.Spacing)
		if r, ok := q.Resume[sat.NORADID]; ok && !r.Add(s.Offset).Before(aos) {
			aos = r.Add(s.Offset)
		}
		if found && !aos.Before(best.AOS) {
			continue
		}
		best = SatPass{
			NORADID:      sat.NORADID,
			Name:         fmt.Sprintf("SYNTH-%d", sat.NORADID),
			AOS:          aos,
			LOS:          aos.Add(s.Duration),
			MaxElevation: 45,
			Frequency:    sat.Frequency,
			Command:      sat.Command,
		}
		found = true
	}
	return best, found
}
