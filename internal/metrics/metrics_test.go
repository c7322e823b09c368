package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zbysir/vscheduler"
)

var welcome = vscheduler.Task{DueAt: 5, TargetType: "User", MethodName: "sendWelcome", TargetID: "123"}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.OnSchedule(welcome)
	c.OnSchedule(welcome)
	c.OnDispatch(welcome, vscheduler.OutcomeDispatched)
	c.OnDispatch(welcome, vscheduler.OutcomeFailed)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.scheduled.WithLabelValues("User", "sendWelcome")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.outcomes.WithLabelValues("User", "sendWelcome", "dispatched")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.outcomes.WithLabelValues("User", "sendWelcome", "failed")))
}

func TestCollectorSweeps(t *testing.T) {
	c := NewCollector(nil)

	c.OnSweep(vscheduler.Sweep{}, time.Millisecond)
	c.OnSweep(vscheduler.Sweep{Admitted: true}, time.Millisecond)
	c.OnSweep(vscheduler.Sweep{Admitted: true, Acquired: true, Due: 3}, 20*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.sweeps.WithLabelValues("throttled")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.sweeps.WithLabelValues("locked")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.sweeps.WithLabelValues("swept")))
	assert.Equal(t, float64(3), testutil.ToFloat64(c.lastDue))
}

func TestCollectorHandler(t *testing.T) {
	c := NewCollector(nil)
	c.OnSchedule(welcome)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `vscheduler_tasks_scheduled_total{method="sendWelcome",target_type="User"} 1`)
}
