// Package metrics holds the prometheus collectors exercised by the stream
// controller and display mirror: captured-fps, ring-publish outcomes,
// page-flip counts, and display state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ring publish outcomes, used as the "outcome" label on RingPublishes.
const (
	OutcomeExposed        = "exposed"
	OutcomeDroppedFailed  = "dropped_failed"
	OutcomeDroppedLate    = "dropped_late"
	OutcomeDroppedFluency = "dropped_fluency"
)

// Display states, used as the display-state gauge's value via SetDisplayState.
const (
	DisplayClosed = iota
	DisplayOpenForDMA
	DisplayOpenForStub
)

// Telemetry bundles the collectors the controller and display mirror
// update. It registers with the registerer passed to New.
type Telemetry struct {
	CapturedFPS    prometheus.Gauge
	RingPublishes  *prometheus.CounterVec
	PageFlips      prometheus.Counter
	DisplayStateGa prometheus.Gauge
}

// New registers a Telemetry bundle against reg and returns it. Pass
// prometheus.DefaultRegisterer in production; tests should pass a fresh
// prometheus.NewRegistry() so repeated calls don't collide.
func New(reg prometheus.Registerer) *Telemetry {
	factory := promauto.With(reg)
	return &Telemetry{
		CapturedFPS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "captured_fps",
			Help: "Frames captured in the most recently completed wall-clock second",
		}),
		RingPublishes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ring_publishes_total",
			Help: "Image ring publish attempts by outcome",
		}, []string{"outcome"}),
		PageFlips: factory.NewCounter(prometheus.CounterOpts{
			Name: "display_page_flips_total",
			Help: "Page-flip requests issued by the display mirror",
		}),
		DisplayStateGa: factory.NewGauge(prometheus.GaugeOpts{
			Name: "display_state",
			Help: "Display runtime state: 0=Closed, 1=OpenForDMA, 2=OpenForStub",
		}),
	}
}

// SetDisplayState records the display runtime's current state.
func (t *Telemetry) SetDisplayState(state int) {
	t.DisplayStateGa.Set(float64(state))
}
