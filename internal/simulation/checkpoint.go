package simulation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/epiflight/internal/randvar"
	"github.com/ChuLiYu/epiflight/pkg/types"
)

// Checkpoint captures everything needed to resume the run.
func (s *Simulation) Checkpoint() (types.SnapshotData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data := types.SnapshotData{
		SchemaVer:    types.SchemaVersion,
		RunID:        s.runID,
		Seed:         s.seed,
		Day:          s.day,
		FlightsFlown: s.flightsFlown,
		Streams:      make(map[string][]byte, len(s.streams)),
		Countries:    make([]types.CountrySnapshot, 0, len(s.countries)),
	}
	for label, stream := range s.streams {
		state, err := stream.MarshalBinary()
		if err != nil {
			return types.SnapshotData{}, fmt.Errorf("failed to capture stream %q: %w", label, err)
		}
		data.Streams[label] = state
	}
	for _, c := range s.countries {
		data.Countries = append(data.Countries, c.Snapshot())
	}
	data.Routes, data.Flights, data.NextSeq = s.sched.Snapshot()
	if s.journal != nil {
		data.JournalSeq = s.journal.LastSeq()
	}
	return data, nil
}

// Restore resumes from data. The simulation must have been built from the
// same scenario; its own run ID and seed are replaced by the checkpoint's.
func (s *Simulation) Restore(data types.SnapshotData) error {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(data.Countries) != len(s.countries) {
		return fmt.Errorf("%w: checkpoint has %d countries, scenario %d",
			ErrScenarioMismatch, len(data.Countries), len(s.countries))
	}
	seen := make(map[string]bool, len(data.Countries))
	for _, cs := range data.Countries {
		if _, ok := s.byCode[cs.Code]; !ok {
			return fmt.Errorf("%w: unknown country %q", ErrScenarioMismatch, cs.Code)
		}
		if seen[cs.Code] {
			return fmt.Errorf("%w: country %q listed twice", ErrScenarioMismatch, cs.Code)
		}
		seen[cs.Code] = true
		for _, st := range types.Stages {
			if cs.Counts.Get(st) < 0 {
				return fmt.Errorf("%w: %s has negative %s", ErrScenarioMismatch, cs.Code, st.Name())
			}
		}
		if cs.Counts.Total() != cs.Population {
			return fmt.Errorf("%w: %s counts sum to %d, population %d",
				ErrScenarioMismatch, cs.Code, cs.Counts.Total(), cs.Population)
		}
	}
	for label := range s.streams {
		state, ok := data.Streams[label]
		if !ok {
			return fmt.Errorf("%w: no state for stream %q", ErrScenarioMismatch, label)
		}
		if err := randvar.CheckState(state); err != nil {
			return fmt.Errorf("%w: stream %q: %v", ErrScenarioMismatch, label, err)
		}
	}

	// scheduler restore validates the whole queue before it mutates anything
	if err := s.sched.Restore(data.Routes, data.Flights, data.NextSeq); err != nil {
		return fmt.Errorf("%w: %v", ErrScenarioMismatch, err)
	}
	for label, stream := range s.streams {
		if err := stream.UnmarshalBinary(data.Streams[label]); err != nil {
			return fmt.Errorf("%w: %v", ErrScenarioMismatch, err)
		}
	}
	total := 0
	for _, cs := range data.Countries {
		if err := s.byCode[cs.Code].Restore(cs); err != nil {
			return err
		}
		total += cs.Population
	}

	s.runID = data.RunID
	s.seed = data.Seed
	s.day = data.Day
	s.flightsFlown = data.FlightsFlown
	s.population = total

	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.SetRecoveryTime(elapsed)
	}
	slog.Info("Checkpoint restored",
		"run_id", s.runID,
		"day", s.day,
		"duration", elapsed)
	return nil
}

// WriteCheckpoint stores a checkpoint through the configured manager and
// records it in the journal. It returns the checkpoint path.
func (s *Simulation) WriteCheckpoint() (string, error) {
	if s.checkpoints == nil {
		return "", fmt.Errorf("no checkpoint manager configured")
	}
	if s.journal != nil {
		if err := s.journal.Flush(); err != nil {
			return "", fmt.Errorf("failed to flush journal: %w", err)
		}
	}

	data, err := s.Checkpoint()
	if err != nil {
		return "", err
	}
	if err := s.checkpoints.Write(data); err != nil {
		return "", err
	}
	path := s.checkpoints.Path()

	if s.journal != nil {
		if err := s.journal.CheckpointWritten(data.Day, data.RunID, path); err != nil {
			return path, fmt.Errorf("failed to journal checkpoint: %w", err)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordCheckpoint()
	}
	slog.Info("Checkpoint written", "day", data.Day, "path", path)
	return path, nil
}
