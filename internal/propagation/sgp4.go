// Package propagation wraps the SGP4 model from go-satellite and turns
// propagated positions into observer look angles.
package propagation

import (
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// Note: go-satellite's Propagate takes Satellite by value, so SGP4 error codes
// are not visible to the caller. Failures are detected by checking the output
// for NaN/Inf and unreasonable position magnitudes.

const rad2deg = 180.0 / math.Pi

// SGP4Propagator wraps the go-satellite library for a single satellite.
type SGP4Propagator struct {
	sat     satellite.Satellite
	noradID int
}

// Observer is a ground location in the form go-satellite expects.
type Observer struct {
	coords satellite.LatLong // radians
	altKm  float64
}

// NewObserver creates an Observer from degrees and meters above the ellipsoid.
func NewObserver(latDeg, lonDeg, altM float64) Observer {
	return Observer{
		coords: satellite.LatLong{
			Latitude:  latDeg / rad2deg,
			Longitude: lonDeg / rad2deg,
		},
		altKm: altM / 1000.0,
	}
}

// LookAngles holds azimuth, elevation and range from an observer to a satellite.
type LookAngles struct {
	AzimuthDeg   float64 // 0 = North, clockwise
	ElevationDeg float64 // 0 = horizon, 90 = zenith
	RangeKm      float64
}

// NewSGP4Propagator creates an SGP4 propagator from TLE lines.
//
// Lines are pre-validated because go-satellite calls log.Fatal on malformed
// input, which would kill the process.
func NewSGP4Propagator(line1, line2 string, noradID int) (*SGP4Propagator, error) {
	if err := validateTLELines(line1, line2); err != nil {
		return nil, fmt.Errorf("invalid TLE for NORAD %d: %w", noradID, err)
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", noradID, sat.Error, sat.ErrorStr)
	}
	return &SGP4Propagator{sat: sat, noradID: noradID}, nil
}

func validateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	// go-satellite reads the catalog field as a plain integer, so alpha-5
	// numbers (above 99999) cannot be propagated.
	for _, line := range []string{line1, line2} {
		if strings.Trim(line[2:7], " 0123456789") != "" {
			return fmt.Errorf("catalog number %q is not numeric", line[2:7])
		}
	}
	return nil
}

// NORADID returns the catalog number the propagator was built for.
func (p *SGP4Propagator) NORADID() int {
	return p.noradID
}

// Propagate returns the ECI position (km) at t, truncated to whole seconds.
func (p *SGP4Propagator) Propagate(t time.Time) (satellite.Vector3, error) {
	t = t.UTC()
	pos, _ := satellite.Propagate(p.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) ||
		math.IsInf(pos.X, 0) || math.IsInf(pos.Y, 0) || math.IsInf(pos.Z, 0) {
		return satellite.Vector3{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: output is NaN/Inf", p.noradID)
	}

	// Anything below ~6200 km or above ~50000 km is a decayed or diverged solution.
	mag := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if mag < 6200.0 || mag > 50000.0 {
		return satellite.Vector3{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: unreasonable position magnitude %.1f km", p.noradID, mag)
	}
	return pos, nil
}

// Look computes the look angles from obs to the satellite at t.
func (p *SGP4Propagator) Look(obs Observer, t time.Time) (LookAngles, error) {
	t = t.UTC()
	pos, err := p.Propagate(t)
	if err != nil {
		return LookAngles{}, err
	}

	jday := satellite.JDay(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	la := satellite.ECIToLookAngles(pos, obs.coords, obs.altKm, jday)

	az := math.Mod(la.Az*rad2deg, 360)
	if az < 0 {
		az += 360
	}
	return LookAngles{
		AzimuthDeg:   az,
		ElevationDeg: la.El * rad2deg,
		RangeKm:      la.Rg,
	}, nil
}
