package passes

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/propagation"
	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/tle"
)

// ErrNoPass is returned when no qualifying pass starts inside the search horizon.
var ErrNoPass = errors.New("no qualifying pass in search horizon")

const (
	coarseStep  = 30 * time.Second
	fineStep    = time.Second
	maxLookback = 30 * time.Minute // how far back a pass in progress is traced to its AOS
	maxPassLen  = 24 * time.Hour   // caps passes of satellites that never set
	minPassDur  = 10 * time.Second
)

// Pass is one horizon-to-horizon pass over an observer.
type Pass struct {
	AOS              time.Time `json:"aos"`
	LOS              time.Time `json:"los"`
	MaxElevation     float64   `json:"max_elevation"`
	MaxElevationTime time.Time `json:"max_elevation_time"`
	AOSAzimuth       float64   `json:"aos_azimuth"`
	LOSAzimuth       float64   `json:"los_azimuth"`
}

// Duration returns LOS - AOS.
func (p Pass) Duration() time.Duration {
	return p.LOS.Sub(p.AOS)
}

// Predictor computes passes for one satellite from a fixed element set.
// Immutable after construction; safe for concurrent use.
type Predictor struct {
	noradID int
	epoch   time.Time
	prop    *propagation.SGP4Propagator
}

// NewPredictor binds a predictor to one stored element record.
func NewPredictor(noradID int, rec tle.Record) (*Predictor, error) {
	prop, err := propagation.NewSGP4Propagator(rec.Elements.Line1, rec.Elements.Line2, noradID)
	if err != nil {
		return nil, fmt.Errorf("sgp4 init: %w", err)
	}
	return &Predictor{noradID: noradID, epoch: rec.Epoch, prop: prop}, nil
}

// NORADID returns the satellite the predictor was built for.
func (p *Predictor) NORADID() int { return p.noradID }

// Epoch returns the epoch of the bound element set.
func (p *Predictor) Epoch() time.Time { return p.epoch }

// NextPass returns the first pass that is still in progress or starts at or
// after from, starts before from+horizon, and peaks at minElev degrees or more.
// A pass already in progress at from is returned with its AOS in the past.
func (p *Predictor) NextPass(ctx context.Context, obs propagation.Observer, from time.Time, minElev float64, horizon time.Duration) (Pass, error) {
	end := from.Add(horizon)
	floor := from.Add(-maxLookback)

	t := from
	for t.Before(end) {
		if err := ctx.Err(); err != nil {
			return Pass{}, err
		}

		el, err := p.elevation(obs, t)
		if err != nil || el <= 0 {
			t = t.Add(coarseStep)
			continue
		}

		rise := p.findRise(obs, t, floor)
		pass, ok := p.trace(obs, rise)
		if ok && pass.LOS.After(from) && pass.Duration() >= minPassDur && pass.MaxElevation >= minElev {
			return pass, nil
		}
		if next := pass.LOS.Add(coarseStep); next.After(t) {
			t = next
		} else {
			t = t.Add(coarseStep)
		}
	}

	return Pass{}, fmt.Errorf("%w: NORAD %d within %s of %s", ErrNoPass, p.noradID, horizon, from.UTC().Format(time.RFC3339))
}

// findRise walks back from an above-horizon sample (no further than floor)
// and returns the first whole second above the horizon.
func (p *Predictor) findRise(obs propagation.Observer, hit, floor time.Time) time.Time {
	t := hit
	for t.After(floor) {
		prev := t.Add(-coarseStep)
		if prev.Before(floor) {
			prev = floor
		}
		if el, err := p.elevation(obs, prev); err == nil && el > 0 {
			t = prev
			continue
		}
		for s := prev.Add(fineStep); s.Before(t); s = s.Add(fineStep) {
			if el, err := p.elevation(obs, s); err == nil && el > 0 {
				return s
			}
		}
		return t
	}
	return t
}

// trace follows a pass from its rise to the first second below the horizon.
// Coarse steps bracket the set and the peak; fine steps refine both.
func (p *Predictor) trace(obs propagation.Observer, rise time.Time) (Pass, bool) {
	la, err := p.prop.Look(obs, rise)
	if err != nil {
		return Pass{AOS: rise, LOS: rise}, false
	}
	pass := Pass{
		AOS:              rise,
		AOSAzimuth:       la.AzimuthDeg,
		MaxElevation:     la.ElevationDeg,
		MaxElevationTime: rise,
	}

	limit := rise.Add(maxPassLen)
	t := rise
	for {
		next := t.Add(coarseStep)
		if !next.Before(limit) {
			pass.LOS = limit
			break
		}
		la, err := p.prop.Look(obs, next)
		if err != nil || la.ElevationDeg <= 0 {
			pass.LOS, pass.LOSAzimuth = p.findSet(obs, t, next)
			break
		}
		if la.ElevationDeg > pass.MaxElevation {
			pass.MaxElevation = la.ElevationDeg
			pass.MaxElevationTime = next
		}
		t = next
	}

	p.refinePeak(obs, &pass)
	return pass, true
}

// findSet returns the first whole second in (above, below] that is not above the horizon.
func (p *Predictor) findSet(obs propagation.Observer, above, below time.Time) (time.Time, float64) {
	for s := above.Add(fineStep); s.Before(below); s = s.Add(fineStep) {
		la, err := p.prop.Look(obs, s)
		if err != nil || la.ElevationDeg <= 0 {
			return s, la.AzimuthDeg
		}
	}
	la, _ := p.prop.Look(obs, below)
	return below, la.AzimuthDeg
}

func (p *Predictor) refinePeak(obs propagation.Observer, pass *Pass) {
	lo := pass.MaxElevationTime.Add(-coarseStep)
	if lo.Before(pass.AOS) {
		lo = pass.AOS
	}
	hi := pass.MaxElevationTime.Add(coarseStep)
	if hi.After(pass.LOS) {
		hi = pass.LOS
	}
	for s := lo; !s.After(hi); s = s.Add(fineStep) {
		if el, err := p.elevation(obs, s); err == nil && el > pass.MaxElevation {
			pass.MaxElevation = el
			pass.MaxElevationTime = s
		}
	}
}

func (p *Predictor) elevation(obs propagation.Observer, t time.Time) (float64, error) {
	la, err := p.prop.Look(obs, t)
	if err != nil {
		return 0, err
	}
	return la.ElevationDeg, nil
}

// SatellitePasses holds the predicted passes for one satellite.
type SatellitePasses struct {
	NORADID int    `json:"norad_id"`
	Passes  []Pass `json:"passes"`
	Error   string `json:"error,omitempty"`
}

// Request holds the parameters for a batch pass listing.
type Request struct {
	Observer     propagation.Observer
	Predictors   []*Predictor
	Start        time.Time
	Horizon      time.Duration
	MinElevation float64 // degrees
	MaxPasses    int
}

// Predict lists up to MaxPasses passes per predictor within the horizon.
// Each satellite is processed in its own goroutine, bounded by a semaphore.
func Predict(ctx context.Context, req Request) []SatellitePasses {
	results := make([]SatellitePasses, len(req.Predictors))
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	for i, pred := range req.Predictors {
		wg.Add(1)
		go func(idx int, p *Predictor) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = SatellitePasses{NORADID: p.noradID, Error: "cancelled"}
				return
			}

			results[idx] = listPasses(ctx, req, p)
		}(i, pred)
	}

	wg.Wait()
	return results
}

func listPasses(ctx context.Context, req Request, p *Predictor) SatellitePasses {
	out := SatellitePasses{NORADID: p.noradID}
	end := req.Start.Add(req.Horizon)
	from := req.Start

	for len(out.Passes) < req.MaxPasses && from.Before(end) {
		pass, err := p.NextPass(ctx, req.Observer, from, req.MinElevation, end.Sub(from))
		if errors.Is(err, ErrNoPass) {
			break
		}
		if err != nil {
			out.Error = err.Error()
			break
		}
		out.Passes = append(out.Passes, pass)
		from = pass.LOS.Add(fineStep)
	}
	return out
}
