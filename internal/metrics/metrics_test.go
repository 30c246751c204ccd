package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordWorkflow("connect", OutcomeEnqueued)
	m.RecordWorkflow("connect", OutcomeEnqueued)
	m.RecordResult("connected")
	m.RecordTask("run_konnector", time.Second, errors.New("boom"))
	m.RecordStep("install", time.Millisecond, nil)
	m.RealtimeConnected(1)
	m.RecordRejectedAction("LAUNCH_TRIGGER")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Workflows.WithLabelValues("connect", OutcomeEnqueued)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionState.WithLabelValues("connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tasks.WithLabelValues("run_konnector", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RealtimeClients))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RejectedActions.WithLabelValues("LAUNCH_TRIGGER")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordWorkflow("connect", OutcomeSuccess)
		m.RecordStep("install", time.Second, nil)
		m.RecordResult("errored")
		m.RecordTask("install_konnector", time.Second, nil)
		m.RealtimeConnected(-1)
		m.RecordRejectedAction("UPDATE_ERROR")
	})
}
