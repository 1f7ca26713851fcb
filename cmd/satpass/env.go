package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/tle"
	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/tracker"
)

const (
	defaultConfigFile = "cfg.json"
	defaultWorkDir    = "/tmp/satpass/fetchs"
	defaultHorizon    = 72 * time.Hour
)

// settings are the runtime knobs read from the environment.
type settings struct {
	ConfigFile  string
	PassLog     string
	MetricsFile string
	Cache       tle.CacheConfig
	Fetch       time.Duration
	Horizon     time.Duration
	Scheduler   tracker.Config
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if v := os.Getenv("SATPASS_LOG_LEVEL"); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			level = slog.LevelInfo
		}
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func loadSettings(logger *slog.Logger) settings {
	s := settings{
		ConfigFile: defaultConfigFile,
		Fetch:      tle.DefaultFetchTimeout,
		Horizon:    defaultHorizon,
		Scheduler:  tracker.DefaultConfig(),
	}
	if v := os.Getenv("SATPASS_CONFIG_FILE"); v != "" {
		s.ConfigFile = v
	}
	s.PassLog = os.Getenv("SATPASS_PASS_LOG")
	s.MetricsFile = os.Getenv("SATPASS_METRICS_FILE")

	s.Cache = loadCacheConfig(logger)
	s.Fetch = envDuration(logger, "SATPASS_FETCH_TIMEOUT", s.Fetch)
	s.Horizon = envDuration(logger, "SATPASS_SEARCH_HORIZON", s.Horizon)
	s.Scheduler = loadSchedulerConfig(logger)

	logger.Info("runtime config",
		"config_file", s.ConfigFile,
		"fetch_timeout_seconds", s.Fetch.Seconds(),
		"search_horizon_hours", s.Horizon.Hours(),
		"pass_log", s.PassLog,
		"metrics_file", s.MetricsFile,
	)
	return s
}

func loadCacheConfig(logger *slog.Logger) tle.CacheConfig {
	cfg := tle.CacheConfig{
		Dir:    defaultWorkDir,
		MaxAge: tle.DefaultMaxAge,
	}

	if v := os.Getenv("SATPASS_WORKDIR"); v != "" {
		cfg.Dir = v
	}
	cfg.RegistryFile = filepath.Join(cfg.Dir, "tlesrc.json")
	if v := os.Getenv("SATPASS_SOURCES_FILE"); v != "" {
		cfg.RegistryFile = v
	}
	cfg.MaxAge = envDuration(logger, "SATPASS_CACHE_MAX_AGE", cfg.MaxAge)

	logger.Info("source cache config",
		"work_dir", cfg.Dir,
		"registry", cfg.RegistryFile,
		"max_age_hours", cfg.MaxAge.Hours(),
	)
	return cfg
}

func loadSchedulerConfig(logger *slog.Logger) tracker.Config {
	cfg := tracker.DefaultConfig()

	if v := os.Getenv("SATPASS_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid SATPASS_CAPACITY value, using default", "value", v, "default", cfg.Capacity)
		} else {
			cfg.Capacity = n
		}
	}
	cfg.RefreshInterval = envDuration(logger, "SATPASS_REFRESH_INTERVAL", cfg.RefreshInterval)
	cfg.Timing.Lead = envDuration(logger, "SATPASS_LEAD_TIME", cfg.Timing.Lead)
	cfg.Timing.Trail = envDuration(logger, "SATPASS_TRAIL_TIME", cfg.Timing.Trail)

	logger.Info("scheduler config",
		"capacity", cfg.Capacity,
		"refresh_interval_hours", cfg.RefreshInterval.Hours(),
		"lead_seconds", cfg.Timing.Lead.Seconds(),
		"trail_seconds", cfg.Timing.Trail.Seconds(),
	)
	return cfg
}

// envDuration reads a duration such as "90s", "12h" or "7d". Lead and trail
// times may be zero; everything else must be positive.
func envDuration(logger *slog.Logger, key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := parseDuration(v)
	if err != nil || d < 0 || (d == 0 && !allowsZero(key)) {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", def.String())
		return def
	}
	return d
}

func allowsZero(key string) bool {
	return key == "SATPASS_LEAD_TIME" || key == "SATPASS_TRAIL_TIME"
}

func parseDuration(v string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(v)
}
