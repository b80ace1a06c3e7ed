package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagesProcessedTotal_IncrementsPerAction(t *testing.T) {
	MessagesProcessedTotal.Reset()
	MessagesProcessedTotal.WithLabelValues("allow").Inc()
	MessagesProcessedTotal.WithLabelValues("allow").Inc()
	MessagesProcessedTotal.WithLabelValues("hard_block").Inc()

	metric := &dto.Metric{}
	require.NoError(t, MessagesProcessedTotal.WithLabelValues("allow").Write(metric))
	assert.Equal(t, float64(2), metric.GetCounter().GetValue())
}

func TestCircuitBreakerState_Gauge(t *testing.T) {
	CircuitBreakerState.Set(1)
	metric := &dto.Metric{}
	require.NoError(t, CircuitBreakerState.Write(metric))
	assert.Equal(t, float64(1), metric.GetGauge().GetValue())
}

func TestRegistry_GathersRegisteredCollectors(t *testing.T) {
	families, err := Registry.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "cis_messages_processed_total" {
			found = true
		}
	}
	assert.True(t, found)
}
