package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTelemetry wires an in-memory meter and tracer so middleware output can
// be inspected without a collector.
func newTelemetry(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, method, path string, inner http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	handler := mw(inner)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestMiddleware_CorrelationID(t *testing.T) {
	m, _, _ := newTelemetry(t)
	mw := Middleware(m)

	var cid string
	rec := serve(t, mw, "GET", "/api/leads", func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	if cid == "" {
		t.Fatal("handler saw no correlation ID in its context")
	}
	// Trace IDs are 16 bytes hex encoded.
	if len(cid) != 32 {
		t.Errorf("correlation ID length = %d, want 32", len(cid))
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID = %q, want %q", got, cid)
	}
}

func TestMiddleware_SpanPerRequest(t *testing.T) {
	m, _, exp := newTelemetry(t)
	mw := Middleware(m)

	serve(t, mw, "GET", "/api/sessions", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no span recorded")
	}
	if got, want := spans[0].Name, "HTTP GET /api/sessions"; got != want {
		t.Errorf("span name = %q, want %q", got, want)
	}
}

func TestMiddleware_DurationHistogram(t *testing.T) {
	m, reader, _ := newTelemetry(t)
	mw := Middleware(m)

	serve(t, mw, "GET", "/api/todos", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	met := findMetric(rm, "sirine.http.request.duration")
	if met == nil {
		t.Fatal("sirine.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data = %T, want Histogram[float64]", met.Data)
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("histogram has no data points")
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}

	got := map[string]string{}
	for _, kv := range dp.Attributes.ToSlice() {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	if got["method"] != "GET" {
		t.Errorf("method attribute = %q, want GET", got["method"])
	}
	if got["path"] != "/api/todos" {
		t.Errorf("path attribute = %q, want /api/todos", got["path"])
	}
}

func TestMiddleware_StatusCodeOnSpan(t *testing.T) {
	m, _, exp := newTelemetry(t)
	mw := Middleware(m)

	rec := serve(t, mw, "GET", "/api/posters/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no span recorded")
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 404 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code=404")
	}
}

func TestMiddleware_HonorsIncomingTraceparent(t *testing.T) {
	m, _, _ := newTelemetry(t)
	mw := Middleware(m)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	var cid string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/leads", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if cid != traceID {
		t.Errorf("correlation ID = %q, want upstream trace ID %q", cid, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}
