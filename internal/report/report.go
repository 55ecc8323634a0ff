// Package report records per-day compartment trajectories and renders them
// as CSV tables and PNG charts.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/ChuLiYu/epiflight/internal/travel"
	"github.com/ChuLiYu/epiflight/pkg/types"
)

// ErrNoData is returned when rendering an empty trajectory.
var ErrNoData = errors.New("no recorded days")

// Header is the column layout written by WriteCSV.
var Header = []string{"day", "country", "S", "E", "I", "H", "F", "R", "population"}

// Row is one country on one day.
type Row struct {
	Day        int
	Country    string
	Counts     types.Counts
	Population int
}

// Recorder keeps the trajectory of every country, one row per country per day.
// It satisfies the simulation observer interface.
type Recorder struct {
	mu      sync.Mutex
	rows    []Row
	totals  []types.Counts // global totals indexed by completed day - 1
	flights int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FlightExecuted counts flights for the run summary.
func (r *Recorder) FlightExecuted(travel.FlightRecord) {
	r.mu.Lock()
	r.flights++
	r.mu.Unlock()
}

// TravelReduced is a no-op; reductions live in the journal.
func (r *Recorder) TravelReduced(types.Reduction) {}

// DayCompleted appends one row per country.
func (r *Recorder) DayCompleted(st types.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range st.Countries {
		r.rows = append(r.rows, Row{
			Day:        st.Day,
			Country:    c.Code,
			Counts:     c.Counts,
			Population: c.Population,
		})
	}
	r.totals = append(r.totals, st.Totals)
}

// Rows returns a copy of the recorded rows.
func (r *Recorder) Rows() []Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Row, len(r.rows))
	copy(out, r.rows)
	return out
}

// Totals returns the global compartment sizes per recorded day.
func (r *Recorder) Totals() []types.Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Counts, len(r.totals))
	copy(out, r.totals)
	return out
}

// Flights returns the number of flights observed.
func (r *Recorder) Flights() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flights
}

// Peak returns the largest global infectious count and the day it was reached.
// ok is false when nothing was recorded.
func (r *Recorder) Peak() (infectious, day int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.totals {
		if !ok || t.I > infectious {
			infectious, day, ok = t.I, i+1, true
		}
	}
	return infectious, day, ok
}

// WriteCSV writes the trajectory table.
func (r *Recorder) WriteCSV(w io.Writer) error {
	rows := r.Rows()

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, row := range rows {
		rec := []string{strconv.Itoa(row.Day), row.Country}
		for _, st := range types.Stages {
			rec = append(rec, strconv.Itoa(row.Counts.Get(st)))
		}
		rec = append(rec, strconv.Itoa(row.Population))
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the trajectory table to path, creating parent directories.
func (r *Recorder) SaveCSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := r.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}

// WriteChart renders the global compartment sizes over time. The image
// format follows the extension of path (.png, .svg, .pdf).
func (r *Recorder) WriteChart(path, title string) error {
	totals := r.Totals()
	if len(totals) == 0 {
		return ErrNoData
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Day"
	p.Y.Label.Text = "People"
	p.Legend.Top = true

	var lines []interface{}
	for _, st := range types.Stages {
		points := make(plotter.XYs, len(totals))
		for i, t := range totals {
			points[i].X = float64(i + 1)
			points[i].Y = float64(t.Get(st))
		}
		lines = append(lines, st.Name(), points)
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return fmt.Errorf("failed to add lines to chart: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create chart dir: %w", err)
	}
	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save chart: %w", err)
	}
	return nil
}
