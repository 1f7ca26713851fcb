package tle

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// maxSourceBytes caps how much of one element file is read.
const maxSourceBytes = 64 << 20

// Parse reads element sets from r. CCSDS OMM XML documents (CelesTrak
// FORMAT=xml) are detected by their leading '<'; anything else is read as
// NORAD TLE text in the 3-line (name, line 1, line 2) or bare 2-line form.
// Malformed entries are skipped with a warning log.
func Parse(r io.Reader, logger *slog.Logger) ([]TLEEntry, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSourceBytes))
	if err != nil {
		return nil, fmt.Errorf("reading element data: %w", err)
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return parseOMM(bytes.NewReader(trimmed), logger)
	}
	return parseTLE(bytes.NewReader(data), logger)
}

func parseTLE(r io.Reader, logger *slog.Logger) ([]TLEEntry, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var entries []TLEEntry
	for i := 0; i < len(lines); {
		var name, line1, line2 string
		switch {
		case isLine(lines, i, '1') && isLine(lines, i+1, '2'):
			line1, line2 = lines[i], lines[i+1]
			i += 2
		case isLine(lines, i+1, '1') && isLine(lines, i+2, '2'):
			name, line1, line2 = strings.TrimSpace(strings.TrimPrefix(lines[i], "0 ")), lines[i+1], lines[i+2]
			i += 3
		default:
			logger.Warn("skipping malformed TLE line", "line_index", i, "line", lines[i])
			i++
			continue
		}

		entry, err := parseEntry(name, line1, line2)
		if err != nil {
			logger.Warn("skipping TLE entry", "name", name, "error", err)
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func isLine(lines []string, i int, kind byte) bool {
	return i < len(lines) && len(lines[i]) > 2 && lines[i][0] == kind && lines[i][1] == ' '
}

func parseEntry(name, line1, line2 string) (TLEEntry, error) {
	if len(line1) < 32 || len(line2) < 7 {
		return TLEEntry{}, fmt.Errorf("short element lines")
	}

	// Catalog number lives in columns 3-7 of both lines.
	noradStr := strings.TrimSpace(line1[2:7])
	noradID, err := decodeCatalogNumber(noradStr)
	if err != nil {
		return TLEEntry{}, err
	}
	if other := strings.TrimSpace(line2[2:7]); other != noradStr {
		return TLEEntry{}, fmt.Errorf("line catalog numbers differ: %q vs %q", noradStr, other)
	}

	epochStr := strings.TrimSpace(line1[18:32])
	epoch, err := parseEpoch(epochStr)
	if err != nil {
		return TLEEntry{}, fmt.Errorf("invalid epoch %q: %w", epochStr, err)
	}

	return TLEEntry{
		NORADID: noradID,
		Name:    name,
		Epoch:   epoch,
		Line1:   line1,
		Line2:   line2,
	}, nil
}

// parseEpoch converts a TLE epoch string in YYDDD.DDDDDDDD format to time.Time.
// Year 00-56 → 2000s, 57-99 → 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", s[2:], err)
	}

	// dayOfYear is 1-based: day 1.0 is Jan 1 00:00 UTC.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}

// MaxPropagatableID is the largest catalog number the SGP4 library accepts:
// it reads the 5-column field as a plain integer.
const MaxPropagatableID = 99999

// maxAlpha5ID is the largest catalog number the alpha-5 form (Z9999) encodes.
const maxAlpha5ID = 339999

// alpha-5 leading letters; I and O are not used.
const alpha5Letters = "ABCDEFGHJKLMNPQRSTUVWXYZ"

// decodeCatalogNumber reads a 5-column catalog field, either all digits or
// the alpha-5 form where a leading letter stands for 10..33 ten-thousands.
func decodeCatalogNumber(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty catalog number")
	}
	if c := s[0]; c >= 'A' && c <= 'Z' {
		idx := strings.IndexByte(alpha5Letters, c)
		rest, err := strconv.Atoi(s[1:])
		if idx < 0 || err != nil || len(s) != 5 {
			return 0, fmt.Errorf("invalid alpha-5 catalog number %q", s)
		}
		return (idx+10)*10000 + rest, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid NORAD ID %q: %w", s, err)
	}
	return n, nil
}

// encodeCatalogNumber renders id for the 5-column catalog field.
func encodeCatalogNumber(id int) (string, error) {
	switch {
	case id < 0 || id > maxAlpha5ID:
		return "", fmt.Errorf("catalog number %d does not fit the TLE format", id)
	case id <= MaxPropagatableID:
		return fmt.Sprintf("%05d", id), nil
	default:
		return fmt.Sprintf("%c%04d", alpha5Letters[id/10000-10], id%10000), nil
	}
}
