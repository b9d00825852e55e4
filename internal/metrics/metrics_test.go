package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestTelemetryRecordsDisplayState(t *testing.T) {
	tel := New(prometheus.NewRegistry())
	tel.SetDisplayState(DisplayOpenForDMA)

	m := &dto.Metric{}
	require.NoError(t, tel.DisplayStateGa.(prometheus.Metric).Write(m))
	require.Equal(t, float64(DisplayOpenForDMA), m.GetGauge().GetValue())
}

func TestRingPublishesCountsByOutcome(t *testing.T) {
	tel := New(prometheus.NewRegistry())
	tel.RingPublishes.WithLabelValues(OutcomeExposed).Inc()
	tel.RingPublishes.WithLabelValues(OutcomeExposed).Inc()
	tel.RingPublishes.WithLabelValues(OutcomeDroppedLate).Inc()

	m := &dto.Metric{}
	require.NoError(t, tel.RingPublishes.WithLabelValues(OutcomeExposed).(prometheus.Metric).Write(m))
	require.Equal(t, float64(2), m.GetCounter().GetValue())
}
