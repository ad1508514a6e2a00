package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/R3DRVM/BlossomV2/pkg/contracts"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "blossom", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	_, done := p.TrackOperation(context.Background(), "noop")
	done(errors.New("ignored"))
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}

func newRecorded(t *testing.T) (*Provider, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	p, err := NewWithProviders(
		sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)),
		sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, rec, reader
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is %T", name, m.Data)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestTrackOperation(t *testing.T) {
	p, rec, reader := newRecorded(t)
	ctx := context.Background()

	_, done := p.TrackOperation(ctx, "execute", AttrTransfer.Bool(false))
	done(nil)
	_, done = p.TrackOperation(ctx, "execute", AttrTransfer.Bool(true))
	done(contracts.DuplicateExecutionError("1"))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "execute", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(2), sumOf(t, rm, "blossom.intents.total"))
	assert.Equal(t, int64(1), sumOf(t, rm, "blossom.intents.rejected"))
	assert.Equal(t, int64(0), sumOf(t, rm, "blossom.intents.active"))
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, string(contracts.CodeNotFound), ErrorCode(contracts.NotFoundError("x")))
	assert.Equal(t, "INTERNAL", ErrorCode(errors.New("io")))
}

func TestAttributes(t *testing.T) {
	i := contracts.Intent{ID: "abc", Actor: "ff", Recipient: "ee"}
	assert.Len(t, IntentAttributes(i), 1)
	assert.Equal(t, "abc", SpanAttributes(i)[0].Value.AsString())
}
