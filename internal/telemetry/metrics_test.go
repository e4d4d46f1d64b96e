package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.ObserveGeneration("assistant", "fallback", 20*time.Millisecond)
	m.ObserveGeneration("assistant", "fallback", 10*time.Millisecond)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.Error("API_ERROR", "medium")
	m.StageTransition("advance")

	require.Equal(t, 2.0, testutil.ToFloat64(m.generations.WithLabelValues("assistant", "fallback")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("API_ERROR", "medium")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.stageTransitions.WithLabelValues("advance")))
}

func TestMetrics_Render(t *testing.T) {
	m := New()
	m.StageTransition("retreat")

	out, err := m.Render()
	require.NoError(t, err)
	require.Contains(t, out, `cbb_stage_transitions_total{direction="retreat"} 1`)
	require.Contains(t, ContentType(), "text/plain")
}

func TestNoop(t *testing.T) {
	var n Noop
	n.ObserveGeneration("host", "cache", time.Second)
	n.CacheLookup(true)
	n.Error("SYSTEM_ERROR", "low")
	n.StageTransition("advance")
}
