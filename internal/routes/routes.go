// ============================================================================
// epiflight route feed
// ============================================================================
//
// Package: internal/routes
// File: routes.go
// Purpose: Reads route records from CSV and resolves them against the
//          initialized countries.
//
// CSV layout:
//   One header row, then any number of leading columns followed by exactly
//   these five: origin name, destination name, mean period (days),
//   period std (days), seats.
//
// ============================================================================

package routes

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ChuLiYu/epiflight/internal/country"
	"github.com/ChuLiYu/epiflight/internal/travel"
	"github.com/ChuLiYu/epiflight/internal/validation"
)

var (
	// ErrUnknownCountry is returned when a route names no configured country.
	ErrUnknownCountry = errors.New("unknown country")
	// ErrAmbiguousCountry is returned when a route name matches more than one country.
	ErrAmbiguousCountry = errors.New("ambiguous country")
	// ErrMalformedRecord is returned for a CSV row that cannot be parsed.
	ErrMalformedRecord = errors.New("malformed route record")
)

// Record is one route definition before resolution.
type Record struct {
	Origin      string  `yaml:"origin" validate:"required"`
	Destination string  `yaml:"destination" validate:"required,nefield=Origin"`
	PeriodMean  float64 `yaml:"period_mean" validate:"gte=0"`
	PeriodStd   float64 `yaml:"period_std" validate:"gte=0"`
	Seats       int     `yaml:"seats" validate:"gte=0"`
}

// LoadCSV reads route records from a file.
func LoadCSV(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open route feed: %w", err)
	}
	defer f.Close()

	records, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// ReadCSV parses the header row and every record after it.
func ReadCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	var out []Record
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseRow(row []string) (Record, error) {
	if len(row) < 5 {
		return Record{}, fmt.Errorf("%w: want at least 5 columns, got %d", ErrMalformedRecord, len(row))
	}
	tail := row[len(row)-5:]

	mean, err := strconv.ParseFloat(strings.TrimSpace(tail[2]), 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: period mean %q", ErrMalformedRecord, tail[2])
	}
	std, err := strconv.ParseFloat(strings.TrimSpace(tail[3]), 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: period std %q", ErrMalformedRecord, tail[3])
	}
	seats, err := strconv.Atoi(strings.TrimSpace(tail[4]))
	if err != nil {
		return Record{}, fmt.Errorf("%w: seats %q", ErrMalformedRecord, tail[4])
	}

	return Record{
		Origin:      strings.TrimSpace(tail[0]),
		Destination: strings.TrimSpace(tail[1]),
		PeriodMean:  mean,
		PeriodStd:   std,
		Seats:       seats,
	}, nil
}

// Validate checks every record's fields.
func Validate(v *validation.Validator, records []Record) error {
	for i := range records {
		if err := v.Struct(records[i]); err != nil {
			return fmt.Errorf("route %d (%s -> %s): %w", i+1, records[i].Origin, records[i].Destination, err)
		}
	}
	return nil
}

// Resolve binds each record to its countries by name and builds the routes.
// Route IDs are 1-based positions in records.
func Resolve(records []Record, countries []*country.Country) ([]*travel.Route, error) {
	byName := make(map[string][]*country.Country, len(countries))
	for _, c := range countries {
		byName[c.Name()] = append(byName[c.Name()], c)
	}

	lookup := func(name string) (*country.Country, error) {
		matches := byName[name]
		switch len(matches) {
		case 0:
			return nil, fmt.Errorf("%w: %q", ErrUnknownCountry, name)
		case 1:
			return matches[0], nil
		default:
			return nil, fmt.Errorf("%w: %q matches %d countries", ErrAmbiguousCountry, name, len(matches))
		}
	}

	out := make([]*travel.Route, 0, len(records))
	for i, rec := range records {
		origin, err := lookup(rec.Origin)
		if err != nil {
			return nil, fmt.Errorf("route %d origin: %w", i+1, err)
		}
		dest, err := lookup(rec.Destination)
		if err != nil {
			return nil, fmt.Errorf("route %d destination: %w", i+1, err)
		}
		r, err := travel.NewRoute(i+1, origin, dest, rec.PeriodMean, rec.PeriodStd, rec.Seats)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
