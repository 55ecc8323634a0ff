// ============================================================================
// epiflight Metrics - Prometheus instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Exposes the running simulation as Prometheus metrics
//
// Metric families:
//
//   1. State (Gauge) - refreshed at the end of every day:
//      - epiflight_day: completed simulated days
//      - epiflight_compartment_size{country,stage}: people per compartment
//      - epiflight_population{country}: aggregate population
//      - epiflight_pending_flights: queued flights
//      - epiflight_reduction_factor{country}: last travel-reduction factor
//
//   2. Activity (Counter):
//      - epiflight_flights_total{origin,destination}
//      - epiflight_travellers_total{origin,destination,stage}
//      - epiflight_travel_reductions_total{country}
//      - epiflight_checkpoints_total
//
//   3. Performance:
//      - epiflight_step_duration_seconds (Histogram): wall time of one day-step
//      - epiflight_recovery_time_seconds (Gauge): time to restore a checkpoint
//
// Example queries:
//
//   # infectious burden per country
//   epiflight_compartment_size{stage="infectious"}
//
//   # exposed travellers entering France per simulated day
//   sum(rate(epiflight_travellers_total{destination="FRA",stage="exposed"}[5m]))
//
// Registration:
//   Metrics are registered on the Registerer passed to NewCollector, so tests
//   and ensemble replicates can each use a private registry.
//
// ============================================================================

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/epiflight/internal/travel"
	"github.com/ChuLiYu/epiflight/pkg/types"
)

const namespace = "epiflight"

// Collector holds every epiflight metric.
type Collector struct {
	day            prometheus.Gauge
	compartment    *prometheus.GaugeVec
	population     *prometheus.GaugeVec
	pendingFlights prometheus.Gauge
	factor         *prometheus.GaugeVec

	flights     *prometheus.CounterVec
	travellers  *prometheus.CounterVec
	reductions  *prometheus.CounterVec
	checkpoints prometheus.Counter

	stepDuration prometheus.Histogram
	recoveryTime prometheus.Gauge
}

// NewCollector creates the metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		day: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "day",
			Help:      "Number of completed simulated days",
		}),
		compartment: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "compartment_size",
			Help:      "People per disease compartment",
		}, []string{"country", "stage"}),
		population: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "population",
			Help:      "Aggregate population per country",
		}, []string{"country"}),
		pendingFlights: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_flights",
			Help:      "Flights waiting in the scheduler queue",
		}),
		factor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reduction_factor",
			Help:      "Most recent travel-reduction factor applied to a country",
		}, []string{"country"}),
		flights: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flights_total",
			Help:      "Executed flights",
		}, []string{"origin", "destination"}),
		travellers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "travellers_total",
			Help:      "People moved by flights, by disease stage",
		}, []string{"origin", "destination", "stage"}),
		reductions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "travel_reductions_total",
			Help:      "Travel reductions applied to a country",
		}, []string{"country"}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Checkpoints written",
		}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of one simulated day",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		recoveryTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recovery_time_seconds",
			Help:      "Time taken to restore the last checkpoint",
		}),
	}

	reg.MustRegister(
		c.day,
		c.compartment,
		c.population,
		c.pendingFlights,
		c.factor,
		c.flights,
		c.travellers,
		c.reductions,
		c.checkpoints,
		c.stepDuration,
		c.recoveryTime,
	)
	return c
}

// FlightExecuted counts a flight and its travellers.
func (c *Collector) FlightExecuted(rec travel.FlightRecord) {
	c.flights.WithLabelValues(rec.Origin, rec.Destination).Inc()
	if rec.Exposed > 0 {
		c.travellers.WithLabelValues(rec.Origin, rec.Destination, types.Exposed.Name()).Add(float64(rec.Exposed))
	}
	if rec.Susceptible > 0 {
		c.travellers.WithLabelValues(rec.Origin, rec.Destination, types.Susceptible.Name()).Add(float64(rec.Susceptible))
	}
}

// TravelReduced counts a reduction and records its factor.
func (c *Collector) TravelReduced(r types.Reduction) {
	c.reductions.WithLabelValues(r.Country).Inc()
	c.factor.WithLabelValues(r.Country).Set(r.Factor)
}

// DayCompleted refreshes every state gauge.
func (c *Collector) DayCompleted(st types.Status) {
	c.day.Set(float64(st.Day))
	c.pendingFlights.Set(float64(st.PendingFlights))
	for _, cs := range st.Countries {
		c.population.WithLabelValues(cs.Code).Set(float64(cs.Population))
		for _, stage := range types.Stages {
			c.compartment.WithLabelValues(cs.Code, stage.Name()).Set(float64(cs.Counts.Get(stage)))
		}
	}
}

// ObserveStepDuration records how long one day-step took.
func (c *Collector) ObserveStepDuration(d time.Duration) {
	c.stepDuration.Observe(d.Seconds())
}

// RecordCheckpoint counts a written checkpoint.
func (c *Collector) RecordCheckpoint() {
	c.checkpoints.Inc()
}

// SetRecoveryTime records how long a restore took.
func (c *Collector) SetRecoveryTime(d time.Duration) {
	c.recoveryTime.Set(d.Seconds())
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
