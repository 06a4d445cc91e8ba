package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// series returns the one sample of family name whose labels include want.
func series(t *testing.T, mfs []*dto.MetricFamily, name string, want map[string]string) *dto.Metric {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasLabels(metric, want) {
				return metric
			}
		}
		t.Fatalf("metric %s has no series matching %v", name, want)
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func hasLabels(metric *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		got[pair.GetName()] = pair.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func counterWithLabels(t *testing.T, mfs []*dto.MetricFamily, name string, want map[string]string) float64 {
	t.Helper()
	return series(t, mfs, name, want).GetCounter().GetValue()
}

func histogramSum(t *testing.T, mfs []*dto.MetricFamily, name string, want map[string]string) float64 {
	t.Helper()
	h := series(t, mfs, name, want).GetHistogram()
	require.NotNil(t, h, "metric %s is not a histogram", name)
	return h.GetSampleSum()
}
