package telemetry

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/unkn0wn-root/restrun/internal/restfile"
)

func newRecorded(t *testing.T) (Instrumenter, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	inst, err := New(Config{ServiceName: "restrun-test", Version: "test"}, WithSpanProcessor(recorder))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst, recorder
}

func TestRequestSpanAttributes(t *testing.T) {
	inst, recorder := newRecorded(t)

	req := &restfile.Request{ID: "r1", Name: "health", Method: "GET", URL: "https://example.com/api/health"}
	httpReq, err := http.NewRequestWithContext(context.Background(), req.Method, req.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	ctx, span := inst.Start(context.Background(), RequestStart{Request: req, HTTPRequest: httpReq})
	if ctx == nil {
		t.Fatalf("expected a context")
	}
	span.End(RequestResult{StatusCode: 200})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	ro := spans[0]
	if ro.Name() != "health" {
		t.Fatalf("unexpected span name %q", ro.Name())
	}
	assertAttribute(t, ro, "http.method", "GET")
	assertAttribute(t, ro, "restrun.request.id", "r1")
	assertAttribute(t, ro, "http.host", "example.com")
	if ro.Status().Code != codes.Ok {
		t.Fatalf("expected ok status, got %v", ro.Status())
	}
}

func TestRequestSpanMarksErrors(t *testing.T) {
	inst, recorder := newRecorded(t)
	httpReq, err := http.NewRequest(http.MethodPost, "https://example.com/x", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	_, span := inst.Start(context.Background(), RequestStart{HTTPRequest: httpReq})
	span.End(RequestResult{Err: errors.New("connection refused")})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	if spans[0].Name() != "POST example.com" {
		t.Fatalf("unexpected span name %q", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", spans[0].Status())
	}
}

func TestRunSpan(t *testing.T) {
	inst, recorder := newRecorded(t)

	_, span := inst.StartRun(context.Background(), RunStart{ProjectID: "p1", ProjectName: "api", Environment: "dev"})
	span.End(RunResult{Requests: 3, Passed: 4, Failed: 1})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	if spans[0].Name() != "run api" {
		t.Fatalf("unexpected span name %q", spans[0].Name())
	}
	assertAttribute(t, spans[0], "restrun.run.tests_failed", int64(1))
	assertAttribute(t, spans[0], "restrun.environment", "dev")
	if spans[0].Status().Code != codes.Error {
		t.Fatalf("expected error status for a run with failures, got %v", spans[0].Status())
	}
}

func TestNoopWhenDisabled(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, span := inst.Start(context.Background(), RequestStart{})
	span.End(RequestResult{})
	_, run := inst.StartRun(context.Background(), RunStart{})
	run.End(RunResult{})
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func assertAttribute(t *testing.T, span sdktrace.ReadOnlySpan, key string, want interface{}) {
	t.Helper()
	for _, attr := range span.Attributes() {
		if string(attr.Key) != key {
			continue
		}
		var got interface{}
		switch want.(type) {
		case string:
			got = attr.Value.AsString()
		case bool:
			got = attr.Value.AsBool()
		case int64:
			got = attr.Value.AsInt64()
		}
		if got != want {
			t.Fatalf("attribute %s: expected %v, got %v", key, want, got)
		}
		return
	}
	t.Fatalf("attribute %s not found", key)
}
