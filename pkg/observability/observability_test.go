package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/genexbench/pkg/observability"
)

func TestDefaultConfig_HasSensibleDefaults(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()

	assert.Equal(t, "genexbench", cfg.ServiceName)
	assert.Equal(t, observability.ModeRun, cfg.Mode)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 5, cfg.ShutdownTimeoutSec)
	assert.Empty(t, cfg.OTLPEndpoint)
	assert.False(t, cfg.Prometheus)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, observability.ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, observability.ParseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, observability.ParseLevel("chatty"))
}

func TestInit_NoopWhenNothingEnabled(t *testing.T) {
	t.Parallel()

	providers, err := observability.Init(observability.DefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Logger)
	assert.Nil(t, providers.MetricsHandler)

	require.NoError(t, providers.Shutdown(context.Background()))
}

func TestInit_LoggerCarriesRunID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.LogJSON = true
	cfg.LogOutput = &buf
	cfg.RunID = "run-1"

	providers, err := observability.Init(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	providers.Logger.Info("hello", slog.String("dataset", "ECG200"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "run-1", record["run_id"])
	assert.Equal(t, "genexbench", record["service"])
	assert.Equal(t, "run", record["mode"])
	assert.Equal(t, "ECG200", record["dataset"])
}

func TestInit_PrometheusServesRunMetrics(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()
	cfg.Prometheus = true
	cfg.LogOutput = io.Discard

	providers, err := observability.Init(cfg)
	require.NoError(t, err)
	require.NotNil(t, providers.MetricsHandler)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	metrics, err := observability.NewRunMetrics(providers.Meter)
	require.NoError(t, err)

	metrics.RecordUnit(context.Background(), "bf", 250*time.Millisecond)

	rec := httptest.NewRecorder()
	providers.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "genexbench_units_total")
}

func TestRunHandler_InjectsTraceContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(observability.NewRunHandler(inner, observability.Config{
		ServiceName: "svc",
		Environment: "test",
		Mode:        observability.ModeDryRun,
		RunID:       "run-7",
	}))

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)

	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	logger.WithGroup("unit").InfoContext(ctx, "grouped", slog.String("distance", "euclidean"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", record["unit"].(map[string]any)["trace_id"])
	assert.Equal(t, "svc", record["service"])
	assert.Equal(t, "test", record["env"])
	assert.Equal(t, "dry-run", record["mode"])
	assert.Equal(t, "run-7", record["run_id"])
}

func TestRunHandler_OmitsEmptyIdentity(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	slog.New(observability.NewRunHandler(inner, observability.Config{ServiceName: "svc", Mode: observability.ModeRun})).
		Info("plain")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "run", record["mode"])
	assert.NotContains(t, record, "env")
	assert.NotContains(t, record, "run_id")
	assert.NotContains(t, record, "trace_id")
}

func setupTestMeter(t *testing.T) (*observability.RunMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := observability.NewRunMetrics(mp.Meter("test"))
	require.NoError(t, err)

	return metrics, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func TestRunMetrics_RecordUnitAndSkip(t *testing.T) {
	t.Parallel()

	metrics, reader := setupTestMeter(t)
	ctx := context.Background()

	metrics.RecordUnit(ctx, "paa", time.Second)
	metrics.RecordUnit(ctx, "paa", 2*time.Second)
	metrics.RecordSkip(ctx, "paa", observability.SkipRecorded)

	units := findMetric(t, reader, "genexbench.units.total")
	require.NotNil(t, units)

	sum, ok := units.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)

	method, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("method"))
	assert.Equal(t, "paa", method.AsString())

	hist := findMetric(t, reader, "genexbench.unit.duration.seconds")
	require.NotNil(t, hist)

	h, ok := hist.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, h.DataPoints, 1)
	assert.Equal(t, uint64(2), h.DataPoints[0].Count)
	assert.InDelta(t, 3.0, h.DataPoints[0].Sum, 1e-9)

	skipped := findMetric(t, reader, "genexbench.units.skipped.total")
	require.NotNil(t, skipped)
}

func TestRunMetrics_NilReceiverIsNoop(t *testing.T) {
	t.Parallel()

	var metrics *observability.RunMetrics

	assert.NotPanics(t, func() {
		metrics.RecordUnit(context.Background(), "bf", time.Second)
		metrics.RecordSkip(context.Background(), "bf", observability.SkipDryRun)
		metrics.RecordDataset(context.Background(), "bf", observability.StatusOK)
		metrics.RecordEngineFailure(context.Background(), "bf")
	})
}

func TestAttributeFilter_KeepsDomainKeysDropsAddresses(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(observability.NewAttributeFilter(sdktrace.NewSimpleSpanProcessor(exporter), nil)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	_, span := tp.Tracer("test").Start(context.Background(), "unit")
	span.SetAttributes(
		attribute.String("dataset", "ECG200"),
		attribute.Float64("threshold", 0.3),
		attribute.String("email", "someone@example.com"),
		attribute.String("random.key", "x"),
	)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	keys := map[string]bool{}
	for _, kv := range spans[0].Attributes {
		keys[string(kv.Key)] = true
	}

	assert.True(t, keys["dataset"])
	assert.True(t, keys["threshold"])
	assert.False(t, keys["email"])
	assert.False(t, keys["random.key"])
}

func TestHTTPMiddleware_RecordsStatus(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	handler := observability.HTTPMiddleware(tp.Tracer("test"), http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusServiceUnavailable)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /metrics", spans[0].Name)
	assert.Equal(t, "Error", spans[0].Status.Code.String())
}
