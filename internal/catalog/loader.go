// Package catalog turns cached element files into the predictor set the
// scheduler queries.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/config"
	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/metrics"
	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/passes"
	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/tle"
)

// PathSource yields local element files, one per usable source.
type PathSource interface {
	FetchAll(ctx context.Context) ([]string, error)
}

// Publisher receives each rebuilt predictor set.
type Publisher interface {
	Publish(set *passes.Set)
}

// Loader runs the refresh path: fetch sources, parse them into the element
// store, rebuild the predictor set and publish it.
type Loader struct {
	sources   PathSource
	store     *tle.ElementStore
	tracked   []config.TrackedSatellite
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	// incomplete is set until a refresh publishes a predictor for every
	// propagatable tracked satellite.
	incomplete atomic.Bool
}

// NewLoader creates a Loader for the tracked satellites. Catalog numbers above
// tle.MaxPropagatableID are logged once and left out: the SGP4 library cannot
// read them.
func NewLoader(sources PathSource, store *tle.ElementStore, tracked []config.TrackedSatellite, publisher Publisher, logger *slog.Logger) *Loader {
	usable := make([]config.TrackedSatellite, 0, len(tracked))
	for _, sat := range tracked {
		if sat.NORADID > tle.MaxPropagatableID {
			logger.Warn("tracked satellite cannot be propagated, catalog number exceeds 5 digits",
				"norad_id", sat.NORADID,
				"max_norad_id", tle.MaxPropagatableID,
			)
			continue
		}
		usable = append(usable, sat)
	}

	l := &Loader{
		sources:   sources,
		store:     store,
		tracked:   usable,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	l.incomplete.Store(true)
	return l
}

// Incomplete reports whether the last refresh failed or left a propagatable
// tracked satellite without a predictor.
func (l *Loader) Incomplete() bool {
	return l.incomplete.Load()
}

// Refresh loads every usable source file and publishes a new predictor set.
// On error the previously published set stays in place.
func (l *Loader) Refresh(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { metrics.RecordRefresh(time.Since(start), err) }()

	paths, err := l.sources.FetchAll(ctx)
	if err != nil {
		l.incomplete.Store(true)
		return fmt.Errorf("fetching element sources: %w", err)
	}

	added := 0
	for _, path := range paths {
		n, err := l.loadFile(path)
		if err != nil {
			l.logger.Warn("skipping element file", "path", path, "error", err)
			continue
		}
		added += n
	}

	set := l.Build(l.now())
	l.publisher.Publish(set)
	l.incomplete.Store(set.Len() < len(l.tracked))

	l.logger.Info("predictor set refreshed",
		"files", len(paths),
		"new_records", added,
		"satellites_known", l.store.Satellites(),
		"predictors", set.Len(),
		"tracked", len(l.tracked),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (l *Loader) loadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening element file: %w", err)
	}
	defer f.Close()

	entries, err := tle.Parse(f, l.logger)
	if err != nil {
		return 0, err
	}
	return l.store.AddEntries(entries), nil
}

// Build creates a predictor for every tracked satellite from the record
// nearest to at. Satellites without usable elements are left out.
func (l *Loader) Build(at time.Time) *passes.Set {
	preds := make([]*passes.Predictor, 0, len(l.tracked))
	for _, sat := range l.tracked {
		rec, err := l.store.Nearest(sat.NORADID, at)
		if errors.Is(err, tle.ErrDataUnavailable) {
			l.logger.Warn("no element data for tracked satellite", "norad_id", sat.NORADID)
			continue
		}
		if err != nil {
			l.logger.Warn("element lookup failed", "norad_id", sat.NORADID, "error", err)
			continue
		}

		p, err := passes.NewPredictor(sat.NORADID, rec)
		if err != nil {
			l.logger.Warn("building predictor failed", "norad_id", sat.NORADID, "error", err)
			continue
		}
		l.logger.Debug("predictor built",
			"norad_id", sat.NORADID,
			"name", l.store.Name(sat.NORADID),
			"epoch", rec.Epoch.UTC().Format(time.RFC3339),
		)
		preds = append(preds, p)
	}
	return passes.NewSet(preds, at)
}
