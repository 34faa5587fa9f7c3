package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"artifact-ingest/internal/metrics"
)

func TestRecorder(t *testing.T) {
	r := metrics.NewRecorder()

	r.Lines("bodyfile", "parsed", 10)
	r.Lines("bodyfile", "unmatched", 0)
	r.Job("bodyfile", "success", 250*time.Millisecond)
	r.Job("bodyfile", "failure", time.Second)
	r.Uploaded("kafka", 3)

	assert.Equal(t, 10.0, testutil.ToFloat64(r.LinesCounter().WithLabelValues("bodyfile", "parsed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.JobsCounter().WithLabelValues("bodyfile", "failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.UploadedCounter().WithLabelValues("kafka")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.LinesCounter()))

	count, err := testutil.GatherAndCount(r.Registry(), "artifact_ingest_host_job_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}
