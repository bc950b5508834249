package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func sampleDecision(s sdktrace.Sampler) sdktrace.SamplingDecision {
	return s.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       oteltrace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		Name:          "telemetry-test",
	}).Decision
}

func TestParseSampler(t *testing.T) {
	assert.Equal(t, sdktrace.Drop, sampleDecision(parseSampler("always_off", "")))
	assert.Equal(t, sdktrace.RecordAndSample, sampleDecision(parseSampler("always_on", "")))
	assert.Equal(t, sdktrace.RecordAndSample, sampleDecision(parseSampler("traceidratio", "2")), "ratio clamps to 1")
	assert.Equal(t, sdktrace.Drop, sampleDecision(parseSampler("traceidratio", "-1")), "ratio clamps to 0")
	assert.Equal(t, sdktrace.Drop, sampleDecision(parseSampler("parentbased_traceidratio", "0")))
	assert.Equal(t, sdktrace.RecordAndSample, sampleDecision(parseSampler("", "")))
}

func TestParseHeaders(t *testing.T) {
	assert.Equal(t, map[string]string{"k1": "v1", "k2": "v2"}, parseHeaders("k1=v1, k2 = v2,broken, =bad"))
	assert.Nil(t, parseHeaders("   "))
}

func TestEnvInt(t *testing.T) {
	t.Setenv("TELEMETRY_TEST_INT", "42")
	assert.Equal(t, 42, envInt("TELEMETRY_TEST_INT", 1))
	t.Setenv("TELEMETRY_TEST_INT", "bad")
	assert.Equal(t, 7, envInt("TELEMETRY_TEST_INT", 7))
}

func TestInitWithoutExporter(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := Init(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(context.Background(), "span")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestHTTPMiddlewareAndClient(t *testing.T) {
	var traceparent string
	srv := httptest.NewServer(HTTPMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("Traceparent")
		w.WriteHeader(http.StatusNoContent)
	})))
	t.Cleanup(srv.Close)

	shutdown, err := Init(context.Background(), "telemetry-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	ctx, span := otel.Tracer("test").Start(context.Background(), "outbound")
	defer span.End()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := InstrumentClient(nil).Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, traceparent, span.SpanContext().TraceID().String())
}
