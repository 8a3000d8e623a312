package testmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	dto "github.com/prometheus/client_model/go"
)

// CounterValue returns the current value of a counter metric.
//
// Note: counter values persist across tests, so be sure to call Reset() on
// the vectors you care about at the start of the test.
func CounterValue(t testing.TB, metric prometheus.Counter) float64 {
	m := &dto.Metric{}
	err := metric.Write(m)
	require.NoError(t, err)
	return m.Counter.GetValue()
}

// CounterVecValue returns the value of the series with the given labels.
func CounterVecValue(t testing.TB, vec *prometheus.CounterVec, labels prometheus.Labels) float64 {
	c, err := vec.GetMetricWith(labels)
	require.NoError(t, err)
	return CounterValue(t, c)
}
