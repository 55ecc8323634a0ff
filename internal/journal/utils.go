package journal

// ============================================================================
// Journal utilities
// Responsibility: inspection helpers used by the CLI and by Open
// ============================================================================

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"
)

// LastEvent scans a journal file and returns its final event.
// Returns ErrEmptyJournal when the file holds no events.
func LastEvent(path string) (*Event, error) {
	var last *Event
	err := ReplayFile(path, func(e Event) error {
		ev := e
		last = &ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, ErrEmptyJournal
	}
	return last, nil
}

// Verify checks every checksum and that sequence numbers increase by one.
// The first event may start anywhere, since rotation keeps counting.
func Verify(path string) error {
	var prev uint64
	first := true
	return ReplayFile(path, func(e Event) error {
		if !first && e.Seq != prev+1 {
			return fmt.Errorf("%w: seq %d follows %d", ErrSequenceGap, e.Seq, prev)
		}
		first = false
		prev = e.Seq
		return nil
	})
}

// RouteTotals aggregates the flights of one route.
type RouteTotals struct {
	RouteID     int
	Origin      string
	Destination string
	Flights     int
	Exposed     int
	Susceptible int
}

// Summary aggregates a journal file.
type Summary struct {
	TotalEvents int
	EventTypes  map[EventType]int
	FirstSeq    uint64
	LastSeq     uint64
	FirstDay    int
	LastDay     int
	Routes      []RouteTotals   // ordered by route ID
	Reductions  map[string]int  // country code -> times reduced
	LastFactor  map[string]float64
}

// Summarize scans a journal file and aggregates its events.
func Summarize(path string) (*Summary, error) {
	s := &Summary{
		EventTypes: make(map[EventType]int),
		Reductions: make(map[string]int),
		LastFactor: make(map[string]float64),
	}
	routes := make(map[int]*RouteTotals)

	err := ReplayFile(path, func(e Event) error {
		if s.TotalEvents == 0 {
			s.FirstSeq = e.Seq
			s.FirstDay = e.Day
		}
		s.TotalEvents++
		s.EventTypes[e.Type]++
		s.LastSeq = e.Seq
		s.LastDay = e.Day

		switch {
		case e.Flight != nil:
			rt, ok := routes[e.Flight.RouteID]
			if !ok {
				rt = &RouteTotals{
					RouteID:     e.Flight.RouteID,
					Origin:      e.Flight.Origin,
					Destination: e.Flight.Destination,
				}
				routes[e.Flight.RouteID] = rt
			}
			rt.Flights++
			rt.Exposed += e.Flight.Exposed
			rt.Susceptible += e.Flight.Susceptible
		case e.Reduction != nil:
			s.Reductions[e.Reduction.Country]++
			s.LastFactor[e.Reduction.Country] = e.Reduction.Factor
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.TotalEvents == 0 {
		return nil, ErrEmptyJournal
	}

	for _, rt := range routes {
		s.Routes = append(s.Routes, *rt)
	}
	sort.Slice(s.Routes, func(i, k int) bool { return s.Routes[i].RouteID < s.Routes[k].RouteID })
	return s, nil
}

// WriteSummary renders a summary as aligned text.
func WriteSummary(w io.Writer, s *Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "events\t%d (seq %d..%d, days %d..%d)\n", s.TotalEvents, s.FirstSeq, s.LastSeq, s.FirstDay, s.LastDay)
	for _, t := range []EventType{EventFlight, EventReduction, EventDay, EventCheckpoint} {
		fmt.Fprintf(tw, "  %s\t%d\n", t, s.EventTypes[t])
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "route\torigin\tdestination\tflights\texposed\tsusceptible")
	for _, rt := range s.Routes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\n", rt.RouteID, rt.Origin, rt.Destination, rt.Flights, rt.Exposed, rt.Susceptible)
	}
	if len(s.Reductions) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "country\treductions\tlast factor")
		codes := make([]string, 0, len(s.Reductions))
		for code := range s.Reductions {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			fmt.Fprintf(tw, "%s\t%d\t%.4f\n", code, s.Reductions[code], s.LastFactor[code])
		}
	}
	return tw.Flush()
}

// Dump prints every event in a human-readable form. A corrupted record is
// reported after the events that precede it.
func Dump(path string, w io.Writer) error {
	err := ReplayFile(path, func(e Event) error {
		ts := time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339)
		switch {
		case e.Flight != nil:
			f := e.Flight
			fmt.Fprintf(w, "[Seq:%d] day %d %s route %d %s->%s seats=%d exposed=%d susceptible=%d at %s\n",
				e.Seq, e.Day, e.Type, f.RouteID, f.Origin, f.Destination, f.Seats, f.Exposed, f.Susceptible, ts)
		case e.Reduction != nil:
			r := e.Reduction
			fmt.Fprintf(w, "[Seq:%d] day %d %s %s infectious=%d factor=%.4f routes=%d at %s\n",
				e.Seq, e.Day, e.Type, r.Country, r.Infectious, r.Factor, r.Routes, ts)
		case e.Totals != nil:
			c := e.Totals
			fmt.Fprintf(w, "[Seq:%d] day %d %s S=%d E=%d I=%d H=%d F=%d R=%d at %s\n",
				e.Seq, e.Day, e.Type, c.S, c.E, c.I, c.H, c.F, c.R, ts)
		case e.Checkpoint != nil:
			fmt.Fprintf(w, "[Seq:%d] day %d %s %s at %s\n", e.Seq, e.Day, e.Type, e.Checkpoint.Path, ts)
		default:
			fmt.Fprintf(w, "[Seq:%d] day %d %s at %s\n", e.Seq, e.Day, e.Type, ts)
		}
		return nil
	})
	var corrupt *CorruptionError
	if errors.As(err, &corrupt) {
		fmt.Fprintf(w, "!! %v\n", corrupt)
	}
	return err
}
