package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.JobsSubmitted.Inc()
	m.ImagesRemoved.WithLabelValues(ReasonDuplicate).Add(2)
	m.ObserveStage("dedupe", time.Now())

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["dataset_cleaner_jobs_submitted_total"])
	assert.True(t, names["dataset_cleaner_images_removed_total"])
	assert.True(t, names["dataset_cleaner_stage_duration_seconds"])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ImagesRemoved.WithLabelValues(ReasonDuplicate)))
}

func TestNewWithoutRegistry(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.JobsSubmitted.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.JobsSubmitted))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.JobsSubmitted))
}
