package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestTrace_ContinuesCallerTrace(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer tp.Shutdown(t.Context())

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	var got trace.SpanContext
	handler := Trace(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = trace.SpanContextFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/runs/claim", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.TraceID().String() != traceID {
		t.Errorf("got trace id %s, want %s", got.TraceID(), traceID)
	}
	if got.SpanID().String() == "00f067aa0ba902b7" {
		t.Error("expected a new server span, got the caller's span")
	}
}
