package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRetryAttempt("timeout")
		m.RecordToolDispatch("echo", "ok", 10*time.Millisecond)
		m.RecordCompaction("success")
		m.RecordThinning("oldest_third")
		m.SetContextUsedTokens(100)
	})
}

func TestMetricsRecordsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordRetryAttempt("rate_limited")
	m.RecordRetryAttempt("rate_limited")
	m.RecordToolDispatch("read_file", "ok", 5*time.Millisecond)
	m.RecordCompaction("success")

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, fam := range families {
		if fam.GetName() != "turnengine_retry_attempts_total" {
			continue
		}
		for _, metric := range fam.Metric {
			if labelValue(metric, "kind") == "rate_limited" {
				found = true
				assert.Equal(t, float64(2), metric.GetCounter().GetValue())
			}
		}
	}
	assert.True(t, found, "expected a rate_limited retry counter sample")
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.Label {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestTracerWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer, shutdown, err := NewTracer("turnengine-test", NewWriterExporter(&buf))
	require.NoError(t, err)
	defer shutdown(context.Background())

	ctx, span := tracer.StartSpan(context.Background(), "turn.iterate")
	_, childSpan := tracer.StartSpan(ctx, "turn.dispatch")
	childSpan.End()
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "turn.iterate")
	assert.Contains(t, buf.String(), "turn.dispatch")
}

func TestNilTracerStartSpanIsNoop(t *testing.T) {
	var tracer *Tracer
	ctx, span := tracer.StartSpan(context.Background(), "turn.iterate")
	assert.Equal(t, context.Background(), ctx)
	assert.NotNil(t, span)
}
