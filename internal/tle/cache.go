package tle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/metrics"
)

// DefaultMaxAge is how long a cached source file is reused before refetching.
const DefaultMaxAge = 7 * 24 * time.Hour

// CacheConfig locates the cached element files and the source registry.
type CacheConfig struct {
	Dir          string        // working directory holding one file per source
	RegistryFile string        // JSON registry path (default: <Dir>/tlesrc.json)
	MaxAge       time.Duration // freshness window (default: 7 days)
}

// SourceCache keeps one local element file per registered source and
// refreshes each at most once per freshness window.
type SourceCache struct {
	config  CacheConfig
	fetcher *Fetcher
	logger  *slog.Logger
	now     func() time.Time
	mu      sync.Mutex // serializes fetch cycles
}

// NewSourceCache creates a SourceCache. Call Init before the first FetchAll.
func NewSourceCache(config CacheConfig, fetcher *Fetcher, logger *slog.Logger) *SourceCache {
	if config.RegistryFile == "" {
		config.RegistryFile = filepath.Join(config.Dir, "tlesrc.json")
	}
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultMaxAge
	}
	return &SourceCache{
		config:  config,
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}
}

// Init creates the working directory and validates the registry.
// Errors wrap ErrCorruptState and are meant to abort startup.
func (c *SourceCache) Init() error {
	if err := c.ensureDir(); err != nil {
		return err
	}
	sources, err := LoadRegistry(c.config.RegistryFile)
	if err != nil {
		return err
	}
	c.logger.Info("source registry loaded",
		"registry", c.config.RegistryFile,
		"sources", len(sources),
	)
	return nil
}

// Path returns the cached file location for a source name. Names are
// path-escaped, so distinct names never share a file and none leaves Dir.
func (c *SourceCache) Path(name string) string {
	return filepath.Join(c.config.Dir, url.PathEscape(name)+".txt")
}

// FetchAll returns one local path per registered source that has usable data,
// in registry order. Fresh cache files are reused; stale or missing ones are
// fetched. A failed fetch falls back to the previous file when one exists and
// skips the source otherwise. Updated timestamps are persisted at the end of
// the cycle.
func (c *SourceCache) FetchAll(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureDir(); err != nil {
		return nil, err
	}
	sources, err := LoadRegistry(c.config.RegistryFile)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(sources))
	for i := range sources {
		src := &sources[i]
		path := c.Path(src.Name)
		_, statErr := os.Stat(path)
		cached := statErr == nil
		age := c.now().Sub(src.FetchedAt())

		if cached && age < c.config.MaxAge {
			c.logger.Debug("using cached source", "source", src.Name, "age_hours", int(age.Hours()))
			metrics.RecordSourceFetch(src.Name, "fresh")
			paths = append(paths, path)
			continue
		}

		data, err := c.fetcher.Fetch(ctx, src.URL)
		switch {
		case err != nil:
			result := "failed"
			if errors.Is(err, ErrFetchTimeout) {
				result = "timeout"
			}
			c.logger.Warn("source fetch failed", "source", src.Name, "url", src.URL, "stale_fallback", cached, "error", err)
			metrics.RecordSourceFetch(src.Name, result)
		default:
			if err := writeFile(path, data); err != nil {
				c.logger.Warn("writing source cache failed", "source", src.Name, "error", err)
				metrics.RecordSourceFetch(src.Name, "failed")
				break
			}
			src.Timestamp = c.now().Unix()
			cached = true
			c.logger.Info("source fetched", "source", src.Name, "bytes", len(data))
			metrics.RecordSourceFetch(src.Name, "fetched")
		}

		if !cached {
			c.logger.Warn("no usable element file for source this cycle", "source", src.Name)
			continue
		}
		paths = append(paths, path)
	}

	if err := SaveRegistry(c.config.RegistryFile, sources); err != nil {
		c.logger.Warn("persisting source registry failed", "error", err)
	}

	return paths, nil
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}
	return nil
}

func (c *SourceCache) ensureDir() error {
	if err := os.MkdirAll(c.config.Dir, 0755); err != nil {
		return fmt.Errorf("%w: creating work dir %s: %v", ErrCorruptState, c.config.Dir, err)
	}
	return nil
}
