package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordSuccess_IncrementsSuccessCounter(t *testing.T) {
	m := New()
	m.RecordSuccess(100 * time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.settlementsTotal.WithLabelValues("success")))
}

func TestRecordFailure_IncrementsFailureCounter(t *testing.T) {
	m := New()
	m.RecordFailure(time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.settlementsTotal.WithLabelValues("failure")))
}

func TestSetInFlight_UpdatesGauge(t *testing.T) {
	m := New()
	m.SetInFlight(7)

	assert.Equal(t, float64(7), testutil.ToFloat64(m.settlementsInFlight))
}

func TestSetSourceHealthy_TracksBooleanAsGauge(t *testing.T) {
	m := New()

	m.SetSourceHealthy(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sourceChainHealthy))

	m.SetSourceHealthy(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.sourceChainHealthy))
}
