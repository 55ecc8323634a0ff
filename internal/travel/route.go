package travel

import (
	"errors"
	"fmt"
	"math"

	"github.com/ChuLiYu/epiflight/internal/country"
)

var (
	// ErrInvalidRoute is returned for a route with bad endpoints or parameters.
	ErrInvalidRoute = errors.New("invalid route")
	// ErrDuplicateRoute is returned when two routes share an ID.
	ErrDuplicateRoute = errors.New("duplicate route id")
	// ErrCorruptQueue is returned when restored queue state does not match the routes.
	ErrCorruptQueue = errors.New("flight queue inconsistent with routes")
)

// Route is a directed link between two countries. Origin and Destination are
// borrowed; the simulation owns the countries.
type Route struct {
	ID          int
	Origin      *country.Country
	Destination *country.Country
	PeriodMean  float64
	PeriodStd   float64
	Seats       int
}

// NewRoute validates and builds a route.
func NewRoute(id int, origin, destination *country.Country, mean, std float64, seats int) (*Route, error) {
	switch {
	case origin == nil || destination == nil:
		return nil, fmt.Errorf("route %d: missing endpoint: %w", id, ErrInvalidRoute)
	case origin == destination:
		return nil, fmt.Errorf("route %d: %s flies to itself: %w", id, origin.Code(), ErrInvalidRoute)
	case mean < 0 || math.IsNaN(mean) || math.IsInf(mean, 0):
		return nil, fmt.Errorf("route %d: period mean %v: %w", id, mean, ErrInvalidRoute)
	case std < 0 || math.IsNaN(std) || math.IsInf(std, 0):
		return nil, fmt.Errorf("route %d: period std %v: %w", id, std, ErrInvalidRoute)
	case seats < 0:
		return nil, fmt.Errorf("route %d: seats %d: %w", id, seats, ErrInvalidRoute)
	}
	return &Route{
		ID:          id,
		Origin:      origin,
		Destination: destination,
		PeriodMean:  mean,
		PeriodStd:   std,
		Seats:       seats,
	}, nil
}

// Touches reports whether the route starts or ends in the country with code.
func (r *Route) Touches(code string) bool {
	return r.Origin.Code() == code || r.Destination.Code() == code
}

// ScheduleNext queues this route's next flight on s.
func (r *Route) ScheduleNext(s *Scheduler, day int) {
	s.ScheduleNext(r, day)
}

func (r *Route) String() string {
	return fmt.Sprintf("%d:%s->%s", r.ID, r.Origin.Code(), r.Destination.Code())
}
