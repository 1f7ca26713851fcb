package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/catalog"
	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/config"
	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/metrics"
	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/passes"
	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/propagation"
	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/tle"
	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/tracker"
)

const metricsInterval = 15 * time.Second

// app holds the components shared by every command.
type app struct {
	logger   *slog.Logger
	settings settings
	config   *config.Config
	cache    *tle.SourceCache
	store    *tle.ElementStore
	source   *passes.PredictorSource
	loader   *catalog.Loader
}

func newApp(logger *slog.Logger, s settings) (*app, error) {
	cfg, err := config.Load(s.ConfigFile, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("tracking config loaded",
		"path", s.ConfigFile,
		"tracked", len(cfg.Satellites),
		"min_elevation", cfg.Location.MinElevationDeg,
	)

	cache := tle.NewSourceCache(s.Cache, tle.NewFetcher(s.Fetch, logger), logger)
	if err := cache.Init(); err != nil {
		return nil, err
	}

	store := tle.NewElementStore()
	obs := propagation.NewObserver(cfg.Location.LatitudeDeg, cfg.Location.LongitudeDeg, cfg.Location.ElevationM)
	source := passes.NewPredictorSource(cfg.Satellites, store, passes.SourceConfig{
		Observer:     obs,
		MinElevation: cfg.Location.MinElevationDeg,
		Horizon:      s.Horizon,
	}, logger)

	return &app{
		logger:   logger,
		settings: s,
		config:   cfg,
		cache:    cache,
		store:    store,
		source:   source,
		loader:   catalog.NewLoader(cache, store, cfg.Satellites, source, logger),
	}, nil
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "satpass",
		Short: "Satellite pass tracker",
		Long: `satpass keeps orbital elements for a list of tracked satellites up to date,
predicts their passes over a fixed ground location and launches the configured
program for each pass.`,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "tracking config file (overrides SATPASS_CONFIG_FILE)")

	bootstrap := func() (*app, error) {
		s := loadSettings(logger)
		if configFile != "" {
			s.ConfigFile = configFile
		}
		return newApp(logger, s)
	}

	root.AddCommand(newRunCmd(bootstrap), newPassesCmd(bootstrap), newFetchCmd(bootstrap))
	return root
}

func newRunCmd(bootstrap func() (*app, error)) *cobra.Command {
	var synthetic bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pass scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), synthetic)
		},
	}
	cmd.Flags().BoolVar(&synthetic, "synthetic", false, "schedule deterministic synthetic passes instead of predicted ones")
	return cmd
}

func (a *app) run(ctx context.Context, synthetic bool) error {
	var (
		source    passes.PassSource = a.source
		refresher tracker.Refresher = a.loader
	)
	if synthetic {
		a.logger.Info("using synthetic pass source")
		source = passes.NewSyntheticSource(a.config.Satellites)
		refresher = nil
	} else if err := a.loader.Refresh(ctx); err != nil {
		a.logger.Warn("initial refresh failed", "error", err)
	}

	var passLog *tracker.PassLog
	if a.settings.PassLog != "" {
		pl, err := tracker.OpenPassLog(a.settings.PassLog, a.settings.Scheduler.Timing.Lead)
		if err != nil {
			return err
		}
		defer pl.Close()
		passLog = pl
	}

	if a.settings.MetricsFile != "" {
		go a.writeMetrics(ctx)
	}

	s := tracker.NewScheduler(source, refresher, tracker.NewExecLauncher(a.logger), passLog, a.settings.Scheduler, a.logger)
	return s.Run(ctx)
}

func (a *app) writeMetrics(ctx context.Context) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()
	for {
		if err := metrics.WriteTextfile(a.settings.MetricsFile); err != nil {
			a.logger.Warn("writing metrics file failed", "path", a.settings.MetricsFile, "error", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func newPassesCmd(bootstrap func() (*app, error)) *cobra.Command {
	var (
		count      int
		hours      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "passes",
		Short: "List upcoming passes for every tracked satellite",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 || hours < 1 {
				return fmt.Errorf("--count and --hours must be positive")
			}
			a, err := bootstrap()
			if err != nil {
				return err
			}
			if err := a.loader.Refresh(cmd.Context()); err != nil {
				return err
			}

			loc := a.config.Location
			results := passes.Predict(cmd.Context(), passes.Request{
				Observer:     propagation.NewObserver(loc.LatitudeDeg, loc.LongitudeDeg, loc.ElevationM),
				Predictors:   a.source.Set().Predictors(),
				Start:        time.Now(),
				Horizon:      time.Duration(hours) * time.Hour,
				MinElevation: loc.MinElevationDeg,
				MaxPasses:    count,
			})

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			return printPasses(cmd.OutOrStdout(), a.store, results)
		},
	}
	cmd.Flags().IntVar(&count, "count", 5, "passes per satellite")
	cmd.Flags().IntVar(&hours, "hours", 24, "search window in hours")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "output JSON")
	return cmd
}

func printPasses(w io.Writer, names passes.Namer, results []passes.SatellitePasses) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tAOS (LOCAL)\tLOS (LOCAL)\tDURATION\tMAX-EL")
	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(tw, "%d\t%s\terror: %s\t\t\t\n", r.NORADID, names.Name(r.NORADID), r.Error)
			continue
		}
		for _, p := range r.Passes {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%.1f\n",
				r.NORADID,
				names.Name(r.NORADID),
				p.AOS.Local().Format(time.DateTime),
				p.LOS.Local().Format(time.DateTime),
				p.Duration().Round(time.Second),
				p.MaxElevation,
			)
		}
	}
	return tw.Flush()
}

func newFetchCmd(bootstrap func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Refresh stale element sources and print the cached file paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			paths, err := a.cache.FetchAll(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}
