package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingRecordsServerSpanAndTraceID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(t.Context()) })

	router := gin.New()
	router.Use(Tracing(provider), EnrichContext(), RequestID())
	router.GET("/auth/me", func(c *gin.Context) {
		GetRequestContext(c).UserID = "u-1"
		c.String(http.StatusOK, GetTraceID(c))
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "GET /auth/me" {
		t.Fatalf("unexpected span name %q", span.Name())
	}
	if got := rr.Body.String(); got != span.SpanContext().TraceID().String() {
		t.Fatalf("expected trace id %s from span, got %s", span.SpanContext().TraceID(), got)
	}
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}

	var sawUser bool
	for _, attr := range span.Attributes() {
		if string(attr.Key) == "enduser.id" && attr.Value.AsString() == "u-1" {
			sawUser = true
		}
	}
	if !sawUser {
		t.Fatalf("expected enduser.id attribute on span")
	}
}

func TestEnrichContextHonoursInboundTraceHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(EnrichContext())
	router.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetTraceID(c)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceIDHeader, "trace-123")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Body.String() != "trace-123" || rr.Header().Get(TraceIDHeader) != "trace-123" {
		t.Fatalf("expected inbound trace id to be kept, got body %q header %q", rr.Body.String(), rr.Header().Get(TraceIDHeader))
	}
}
