package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/progress"
)

func TestPrometheusSinkCountsOutcomes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	batch := []progress.Event{
		{RequestID: "r1", TS: now, Stage: progress.StageRequestQueued},
		{RequestID: "r1", TS: now, Stage: progress.StageFetchDone, Dur: time.Second, Bytes: 2048},
		{RequestID: "r1", TS: now, Stage: progress.StageModuleDone,
			Module: audit.ModuleSEO, ModuleStatus: audit.ModuleCompleted, Dur: 50 * time.Millisecond},
		{RequestID: "r1", TS: now, Stage: progress.StageModuleDone,
			Module: audit.ModuleARIA, ModuleStatus: audit.ModuleTimedOut, Dur: 20 * time.Second},
		{RequestID: "r1", TS: now, Stage: progress.StageRequestDone,
			RequestStatus: audit.StatusPartialFailure, Score: 72, Dur: 30 * time.Second},
		{RequestID: "r2", TS: now, Stage: progress.StageFetchError},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.auditsQueued))
	require.Equal(t, float64(2048), testutil.ToFloat64(sink.fetchBytes))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.fetchErrors))
	require.Equal(t, float64(1),
		testutil.ToFloat64(sink.moduleOutcomes.WithLabelValues("seo", "completed")))
	require.Equal(t, float64(1),
		testutil.ToFloat64(sink.moduleOutcomes.WithLabelValues("aria", "timed_out")))
	require.Equal(t, float64(1),
		testutil.ToFloat64(sink.auditsFinished.WithLabelValues("partial_failure")))
}

func TestPrometheusSinkDoubleRegisterFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
