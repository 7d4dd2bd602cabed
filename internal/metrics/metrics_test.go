package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"JobsActive", JobsActive},
		{"JobsFinished", JobsFinished},
		{"TranscodeDuration", TranscodeDuration},
		{"OutputBytes", OutputBytes},
		{"CatalogWriteErrors", CatalogWriteErrors},
		{"ObserversConnected", ObserversConnected},
		{"ObserversDropped", ObserversDropped},
		{"MirrorErrors", MirrorErrors},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestJobsFinishedByStatus(t *testing.T) {
	before := testutil.ToFloat64(JobsFinished.WithLabelValues("completed"))
	JobsFinished.WithLabelValues("completed").Inc()
	if got := testutil.ToFloat64(JobsFinished.WithLabelValues("completed")); got != before+1 {
		t.Fatalf("completed counter = %v, want %v", got, before+1)
	}
}

func TestMetricsRegisteredWithDefaultRegistry(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"hls_jobs_active", "hls_catalog_write_errors_total", "hls_observers_connected"} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}
