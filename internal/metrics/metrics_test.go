package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCounters(t *testing.T) {
	p := NewPrometheus()

	p.RecordIntake(false)
	p.RecordIntake(false)
	p.RecordIntake(true)
	p.RecordPersistFailure()
	p.RecordTargetAttempt(true, false)
	p.RecordTargetAttempt(false, false)
	p.RecordTargetAttempt(true, true)
	p.RecordVerification("verified", 3*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.intake.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.intake.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.persistFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.attempts.WithLabelValues("reproduced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.attempts.WithLabelValues("not_reproduced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.attempts.WithLabelValues("failed")), "failure wins over reproduced")
	assert.Equal(t, 1.0, testutil.ToFloat64(p.runs.WithLabelValues("verified")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	p := NewPrometheus()
	p.RecordIntake(false)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `provify_intake_total{result="created"} 1`)
}

func TestOrNil(t *testing.T) {
	r := Or(nil)
	require.NotNil(t, r)
	r.RecordIntake(true)
	r.RecordVerification("fixed", time.Second)

	p := NewPrometheus()
	assert.Same(t, p, Or(p))
}
