package journal

import (
	"github.com/ChuLiYu/epiflight/internal/travel"
	"github.com/ChuLiYu/epiflight/pkg/types"
)

// The methods below let a Journal observe a running simulation. Append
// failures are logged and kept for Err.

// FlightExecuted records one flight.
func (j *Journal) FlightExecuted(rec travel.FlightRecord) {
	j.record(Event{Type: EventFlight, Day: rec.Day, Flight: &rec})
}

// TravelReduced records one policy application.
func (j *Journal) TravelReduced(r types.Reduction) {
	j.record(Event{Type: EventReduction, Day: r.Day, Reduction: &r})
}

// DayCompleted records the global compartment totals at the end of a day.
func (j *Journal) DayCompleted(st types.Status) {
	totals := st.Totals
	j.record(Event{Type: EventDay, Day: st.Day - 1, Totals: &totals})
}

// CheckpointWritten records a checkpoint and flushes, so the journal on disk
// is never behind a checkpoint that references it.
func (j *Journal) CheckpointWritten(day int, runID, path string) error {
	_, err := j.Append(Event{
		Type:       EventCheckpoint,
		Day:        day,
		Checkpoint: &CheckpointRef{RunID: runID, Path: path},
	}, true)
	return err
}
