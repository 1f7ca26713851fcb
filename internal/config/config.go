// Package config loads the tracking configuration: the observer location, the
// minimum pass elevation and the list of tracked satellites.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrConfig marks a missing or malformed tracking configuration.
var ErrConfig = errors.New("invalid tracking configuration")

const maxConfigBytes = 1 << 20

// Location is the fixed ground observer.
type Location struct {
	LatitudeDeg     float64
	LongitudeDeg    float64
	ElevationM      float64
	MinElevationDeg float64 // minimum peak elevation for a pass to qualify
}

// TrackedSatellite is one satellite the tracker schedules passes for.
type TrackedSatellite struct {
	NORADID   int
	Command   string  // absolute path of the program launched for each pass
	Frequency float64 // MHz, informational
}

// Config is the validated tracking configuration.
type Config struct {
	Location   Location
	Satellites []TrackedSatellite
}

// Tracked returns the tracked satellite with the given id.
func (c *Config) Tracked(noradID int) (TrackedSatellite, bool) {
	for _, s := range c.Satellites {
		if s.NORADID == noradID {
			return s, true
		}
	}
	return TrackedSatellite{}, false
}

type fileConfig struct {
	GlobalParams *globalParams    `json:"global-params" validate:"required"`
	TrackedSats  []json.RawMessage `json:"tracked-sats"`
}

type globalParams struct {
	MinElev *float64 `json:"min-elev" validate:"required,gte=0,lte=90"`
	LocLat  *float64 `json:"loc-lat" validate:"required,gte=-90,lte=90"`
	LocLong *float64 `json:"loc-long" validate:"required,gte=-180,lte=180"`
	LocElev *float64 `json:"loc-elev" validate:"required"`
}

type trackedSat struct {
	Catnum catnum  `json:"catnum" validate:"min=1,max=999999998"`
	Freq   float64 `json:"freq"`
	Script string  `json:"script" validate:"required"`
}

// catnum accepts the catalog number as a JSON string or number.
type catnum int

func (c *catnum) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("catnum %s: %w", b, err)
	}
	*c = catnum(n)
	return nil
}

// defaultFile is written when no configuration exists yet (NOAA 19).
const defaultFile = `{
    "global-params": {
        "min-elev": 40,
        "loc-lat": 0,
        "loc-long": 0,
        "loc-elev": 0
    },
    "tracked-sats": [
        {
            "catnum": "33591",
            "script": ""
        }
    ]
}
`

var validate = validator.New()

// Load reads the configuration at path, writing a default file first if none
// exists. Invalid global parameters are an error wrapping ErrConfig; invalid
// tracked-sats entries are dropped.
func Load(path string, logger *slog.Logger) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(path, []byte(defaultFile), 0644); err != nil {
			return nil, fmt.Errorf("%w: writing default config %s: %v", ErrConfig, path, err)
		}
		logger.Info("wrote default tracking config", "path", path)
		f, err = os.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxConfigBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfig, path, err)
	}
	return Parse(data, logger)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte, logger *slog.Logger) (*Config, error) {
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("%w: root must be a JSON object: %v", ErrConfig, err)
	}
	if err := validate.Struct(fc); err != nil {
		return nil, fmt.Errorf("%w: global-params: %v", ErrConfig, err)
	}

	gp := fc.GlobalParams
	cfg := &Config{
		Location: Location{
			LatitudeDeg:     *gp.LocLat,
			LongitudeDeg:    *gp.LocLong,
			ElevationM:      float64(int(*gp.LocElev)),
			MinElevationDeg: float64(int(*gp.MinElev)),
		},
	}

	seen := make(map[int]bool, len(fc.TrackedSats))
	for i, raw := range fc.TrackedSats {
		sat, err := parseTracked(raw)
		if err != nil {
			logger.Debug("dropping tracked-sats entry", "index", i, "error", err)
			continue
		}
		if seen[sat.NORADID] {
			logger.Debug("dropping duplicate tracked-sats entry", "index", i, "norad_id", sat.NORADID)
			continue
		}
		seen[sat.NORADID] = true
		cfg.Satellites = append(cfg.Satellites, sat)
	}

	return cfg, nil
}

func parseTracked(raw json.RawMessage) (TrackedSatellite, error) {
	var ts trackedSat
	if err := json.Unmarshal(raw, &ts); err != nil {
		return TrackedSatellite{}, err
	}
	if err := validate.Struct(ts); err != nil {
		return TrackedSatellite{}, err
	}
	script, err := expandPath(ts.Script)
	if err != nil {
		return TrackedSatellite{}, err
	}
	return TrackedSatellite{
		NORADID:   int(ts.Catnum),
		Command:   script,
		Frequency: math.Abs(ts.Freq),
	}, nil
}

func expandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding %s: %w", p, err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Abs(p)
}
