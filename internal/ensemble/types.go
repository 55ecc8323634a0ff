package ensemble

import (
	"context"
	"time"

	"github.com/ChuLiYu/epiflight/pkg/types"
)

// RunFunc runs one replicate with the given seed. It must honour ctx.
type RunFunc func(ctx context.Context, seed uint64) (Outcome, error)

// Task is one replicate to run.
type Task struct {
	Index   int           // position in the ensemble
	Seed    uint64        // seed handed to RunFunc
	Timeout time.Duration // 0 means no limit
}

// Outcome is what a finished replicate reports.
type Outcome struct {
	PeakInfectious int          `json:"peak_infectious"`
	PeakDay        int          `json:"peak_day"`
	Final          types.Counts `json:"final"`
	FlightsFlown   int          `json:"flights_flown"`
	Days           int          `json:"days"`
}

// Result is a Task together with its outcome.
type Result struct {
	Outcome
	Index    int           `json:"index"`
	Seed     uint64        `json:"seed"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}
