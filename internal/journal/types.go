package journal

import (
	"github.com/ChuLiYu/epiflight/internal/travel"
	"github.com/ChuLiYu/epiflight/pkg/types"
)

// ============================================================================
// Journal Type Definitions
// Responsibility: Define the records written to the event journal
// ============================================================================

// EventType defines journal event types
type EventType string

const (
	EventFlight     EventType = "FLIGHT"     // A scheduled flight executed
	EventReduction  EventType = "REDUCTION"  // Travel reduction applied to a country
	EventDay        EventType = "DAY"        // A simulated day completed
	EventCheckpoint EventType = "CHECKPOINT" // A checkpoint was written
)

// CheckpointRef points at a checkpoint file.
type CheckpointRef struct {
	RunID string `json:"run_id"`
	Path  string `json:"path"`
}

// Event represents one journal record. Exactly one payload field is set,
// matching Type.
type Event struct {
	Seq       uint64    `json:"seq"`       // Event sequence number (monotonically increasing)
	Type      EventType `json:"type"`      // Event type
	Day       int       `json:"day"`       // Simulated day the event belongs to
	Timestamp int64     `json:"timestamp"` // Unix millisecond timestamp

	Flight     *travel.FlightRecord `json:"flight,omitempty"`
	Reduction  *types.Reduction     `json:"reduction,omitempty"`
	Totals     *types.Counts        `json:"totals,omitempty"`
	Checkpoint *CheckpointRef       `json:"checkpoint,omitempty"`

	Checksum uint32 `json:"checksum"` // CRC32 over every other field
}

// EventHandler processes one replayed event. Returning an error stops Replay.
type EventHandler func(event Event) error
