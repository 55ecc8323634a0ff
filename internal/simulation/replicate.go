package simulation

import (
	"context"

	"github.com/ChuLiYu/epiflight/internal/config"
	"github.com/ChuLiYu/epiflight/internal/ensemble"
	"github.com/ChuLiYu/epiflight/internal/report"
	"github.com/ChuLiYu/epiflight/internal/routes"
)

// ReplicateRunner returns an ensemble.RunFunc that runs the scenario for
// days days with the seed it is given. Replicates share nothing but cfg and
// records, which are only read.
func ReplicateRunner(cfg *config.Config, records []routes.Record, days int) ensemble.RunFunc {
	return func(ctx context.Context, seed uint64) (ensemble.Outcome, error) {
		rec := report.NewRecorder()
		sim, err := New(cfg, records, WithSeed(seed), WithObserver(rec))
		if err != nil {
			return ensemble.Outcome{}, err
		}
		if err := sim.Run(ctx, days); err != nil {
			return ensemble.Outcome{}, err
		}

		st := sim.Status()
		out := ensemble.Outcome{
			Final:        st.Totals,
			FlightsFlown: st.FlightsFlown,
			Days:         st.Day,
		}
		if peak, day, ok := rec.Peak(); ok {
			out.PeakInfectious = peak
			out.PeakDay = day
		}
		return out, nil
	}
}
