package tle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultSources is written to a fresh registry file.
var DefaultSources = []Source{
	{Name: "NOAA", URL: "https://celestrak.org/NORAD/elements/gp.php?GROUP=noaa&FORMAT=xml"},
}

// LoadRegistry reads the source registry at path, creating it with
// DefaultSources when absent. Entries missing a name or url are dropped and
// duplicate names collapse to their first occurrence.
func LoadRegistry(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		sources := append([]Source(nil), DefaultSources...)
		if err := SaveRegistry(path, sources); err != nil {
			return nil, err
		}
		return sources, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading registry %s: %v", ErrCorruptState, path, err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: registry %s is not a JSON array: %v", ErrCorruptState, path, err)
	}

	sources := make([]Source, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, item := range raw {
		var src Source
		if err := json.Unmarshal(item, &src); err != nil {
			continue
		}
		if src.Name == "" || src.URL == "" || seen[src.Name] {
			continue
		}
		if src.Timestamp < 0 {
			src.Timestamp = 0
		}
		seen[src.Name] = true
		sources = append(sources, src)
	}
	return sources, nil
}

// SaveRegistry writes sources to path, replacing the file atomically.
func SaveRegistry(path string, sources []Source) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: creating registry dir: %v", ErrCorruptState, err)
	}

	data, err := json.MarshalIndent(sources, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing registry: %w", err)
	}
	return nil
}
