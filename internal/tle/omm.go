package tle

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

// ommEpochLayout is the CCSDS OMM epoch form; fractional seconds are accepted on parse.
const ommEpochLayout = "2006-01-02T15:04:05"

// ommRecord is one <omm> element of a CCSDS OMM XML document. Numeric fields
// are kept as text and converted in elements so a bad value skips only its record.
type ommRecord struct {
	ObjectName string `xml:"body>segment>metadata>OBJECT_NAME"`
	ObjectID   string `xml:"body>segment>metadata>OBJECT_ID"`

	Epoch         string `xml:"body>segment>data>meanElements>EPOCH"`
	MeanMotion    string `xml:"body>segment>data>meanElements>MEAN_MOTION"`
	Eccentricity  string `xml:"body>segment>data>meanElements>ECCENTRICITY"`
	Inclination   string `xml:"body>segment>data>meanElements>INCLINATION"`
	RAAN          string `xml:"body>segment>data>meanElements>RA_OF_ASC_NODE"`
	ArgPericenter string `xml:"body>segment>data>meanElements>ARG_OF_PERICENTER"`
	MeanAnomaly   string `xml:"body>segment>data>meanElements>MEAN_ANOMALY"`

	EphemerisType  string `xml:"body>segment>data>tleParameters>EPHEMERIS_TYPE"`
	Classification string `xml:"body>segment>data>tleParameters>CLASSIFICATION_TYPE"`
	NoradCatID     string `xml:"body>segment>data>tleParameters>NORAD_CAT_ID"`
	ElementSetNo   string `xml:"body>segment>data>tleParameters>ELEMENT_SET_NO"`
	RevAtEpoch     string `xml:"body>segment>data>tleParameters>REV_AT_EPOCH"`
	BStar          string `xml:"body>segment>data>tleParameters>BSTAR"`
	MeanMotionDot  string `xml:"body>segment>data>tleParameters>MEAN_MOTION_DOT"`
	MeanMotionDDot string `xml:"body>segment>data>tleParameters>MEAN_MOTION_DDOT"`
}

// parseOMM decodes every <omm> element in r and renders it as TLE lines so
// OMM and TLE sources feed the propagator the same way. The alias is OBJECT_NAME.
func parseOMM(r io.Reader, logger *slog.Logger) ([]TLEEntry, error) {
	dec := xml.NewDecoder(r)

	var entries []TLEEntry
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return entries, fmt.Errorf("reading OMM data: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(start.Name.Local, "omm") {
			continue
		}

		var rec ommRecord
		if err := dec.DecodeElement(&rec, &start); err != nil {
			return entries, fmt.Errorf("decoding OMM record: %w", err)
		}

		entry, err := rec.entry()
		if err != nil {
			logger.Warn("skipping OMM record", "name", rec.ObjectName, "norad_id", rec.NoradCatID, "error", err)
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (rec ommRecord) entry() (TLEEntry, error) {
	line1, line2, err := rec.lines()
	if err != nil {
		return TLEEntry{}, err
	}
	return parseEntry(strings.TrimSpace(rec.ObjectName), line1, line2)
}

// lines renders the record in the fixed-column TLE layout, checksums included.
func (rec ommRecord) lines() (string, string, error) {
	var p fieldParser

	id := p.integer("NORAD_CAT_ID", rec.NoradCatID)
	epochStr := strings.TrimSuffix(strings.TrimSpace(rec.Epoch), "Z")
	epoch, err := time.Parse(ommEpochLayout, epochStr)
	if err != nil {
		p.fail("EPOCH", rec.Epoch, err)
	}

	meanMotion := p.float("MEAN_MOTION", rec.MeanMotion)
	ecc := p.float("ECCENTRICITY", rec.Eccentricity)
	incl := p.float("INCLINATION", rec.Inclination)
	raan := p.float("RA_OF_ASC_NODE", rec.RAAN)
	argp := p.float("ARG_OF_PERICENTER", rec.ArgPericenter)
	anomaly := p.float("MEAN_ANOMALY", rec.MeanAnomaly)

	ephType := p.optionalInt("EPHEMERIS_TYPE", rec.EphemerisType)
	elset := p.optionalInt("ELEMENT_SET_NO", rec.ElementSetNo)
	rev := p.optionalInt("REV_AT_EPOCH", rec.RevAtEpoch)
	bstar := p.optionalFloat("BSTAR", rec.BStar)
	ndot := p.optionalFloat("MEAN_MOTION_DOT", rec.MeanMotionDot)
	nddot := p.optionalFloat("MEAN_MOTION_DDOT", rec.MeanMotionDDot)
	if p.err != nil {
		return "", "", p.err
	}

	if ecc < 0 || ecc >= 1 {
		return "", "", fmt.Errorf("eccentricity %v out of range", ecc)
	}
	if meanMotion <= 0 || meanMotion >= 100 {
		return "", "", fmt.Errorf("mean motion %v out of range", meanMotion)
	}
	if ephType < 0 || ephType > 9 {
		ephType = 0
	}

	catnum, err := encodeCatalogNumber(id)
	if err != nil {
		return "", "", err
	}

	class := byte('U')
	if c := strings.TrimSpace(rec.Classification); c != "" {
		class = c[0]
	}

	epoch = epoch.UTC()
	dayOfYear := float64(epoch.YearDay()) + float64(epoch.Sub(epoch.Truncate(24*time.Hour)))/float64(24*time.Hour)

	line1 := fmt.Sprintf("1 %s%c %-8s %02d%012.8f %s %s %s %d %4d",
		catnum, class, intlDesignator(rec.ObjectID),
		epoch.Year()%100, dayOfYear,
		formatNdot(ndot), formatExponent(nddot), formatExponent(bstar),
		ephType, elset%10000)
	line2 := fmt.Sprintf("2 %s %8.4f %8.4f %07d %8.4f %8.4f %11.8f%5d",
		catnum, incl, raan, int(math.Round(ecc*1e7)), argp, anomaly, meanMotion, rev%100000)

	return line1 + checksum(line1), line2 + checksum(line2), nil
}

// intlDesignator converts an OMM OBJECT_ID ("2009-005A") to the TLE form ("09005A").
func intlDesignator(objectID string) string {
	id := strings.TrimSpace(objectID)
	if len(id) >= 5 && id[4] == '-' {
		id = id[2:4] + id[5:]
	}
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

// formatNdot renders the first derivative of mean motion as " .NNNNNNNN".
func formatNdot(v float64) string {
	sign := " "
	if v < 0 {
		sign = "-"
	}
	frac := int64(math.Round(math.Abs(v) * 1e8))
	if frac > 99999999 {
		frac = 99999999
	}
	return fmt.Sprintf("%s.%08d", sign, frac)
}

// formatExponent renders v in the TLE assumed-decimal form, e.g. 0.00030099 -> " 30099-3".
func formatExponent(v float64) string {
	if v == 0 {
		return " 00000+0"
	}
	sign := " "
	if v < 0 {
		sign = "-"
	}
	abs := math.Abs(v)
	exp := int(math.Floor(math.Log10(abs))) + 1
	mant := int64(math.Round(abs / math.Pow(10, float64(exp)) * 1e5))
	if mant >= 100000 {
		mant /= 10
		exp++
	}
	if exp < -9 {
		return " 00000+0"
	}
	if exp > 9 {
		exp, mant = 9, 99999
	}
	expSign := "+"
	if exp < 0 {
		expSign = "-"
	}
	return fmt.Sprintf("%s%05d%s%d", sign, mant, expSign, absInt(exp))
}

// checksum is the modulo-10 sum of a TLE line's digits, with '-' counting as 1.
func checksum(line string) string {
	sum := 0
	for _, c := range line {
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return strconv.Itoa(sum % 10)
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// fieldParser collects the first conversion error across a record's fields.
type fieldParser struct {
	err error
}

func (p *fieldParser) fail(field, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
}

func (p *fieldParser) integer(field, raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		p.fail(field, raw, err)
	}
	return n
}

func (p *fieldParser) float(field, raw string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		p.fail(field, raw, err)
	}
	return f
}

func (p *fieldParser) optionalInt(field, raw string) int {
	if strings.TrimSpace(raw) == "" {
		return 0
	}
	return p.integer(field, raw)
}

func (p *fieldParser) optionalFloat(field, raw string) float64 {
	if strings.TrimSpace(raw) == "" {
		return 0
	}
	return p.float(field, raw)
}
