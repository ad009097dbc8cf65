package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestDisabledByDefault(t *testing.T) {
	InitRegistry(nil)
	require.False(t, IsEnabled())
	require.Nil(t, GetRegistry())
	require.Nil(t, NewCollector())
}

func TestNilCollectorMethodsAreNoOps(t *testing.T) {
	var c *Collector
	c.RecordPacketScanned("FILE    ", true)
	c.RecordBlockFound("slide-search")
	c.ObserveEncodeSeconds(0.01)
	c.ObserveDecodeSeconds(0.02)
	c.RecordRepairReconciled("complete")
}

func TestCollectorRecordsAgainstRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	InitRegistry(reg)
	t.Cleanup(func() { InitRegistry(nil) })

	require.True(t, IsEnabled())
	c := NewCollector()
	require.NotNil(t, c)

	c.RecordPacketScanned("FILE    ", true)
	c.RecordBlockFound("slide-search")
	c.RecordRepairReconciled("repairable")

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() == "par3_packets_scanned_total" {
			found = true
			require.Len(t, mf.GetMetric(), 1)
			require.Equal(t, float64(1), mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	require.True(t, found, "expected par3_packets_scanned_total to be registered")
}
