package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans points the global tracer provider at an in-memory exporter
// for the rest of the test.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs swaps the default logger for a text logger writing to the
// returned buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSpan_TranscribeAttributes(t *testing.T) {
	exp := recordSpans(t)

	ctx, span := StartSpan(context.Background(), "transcribe",
		AttrSessionID.String("sess-1"),
		AttrTask.String("translate"),
	)
	if CorrelationID(ctx) == "" {
		t.Error("context carries no trace id")
	}
	span.SetAttributes(AttrProvider.String("gradio"), AttrOutcome.String("recognized"))
	EndSpan(span, nil)

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "transcribe" {
		t.Fatalf("spans = %v", spans)
	}
	want := map[string]string{
		"ekho.session_id":     "sess-1",
		"ekho.task":           "translate",
		"ekho.provider":       "gradio",
		"ekho.identification": "recognized",
	}
	got := map[string]string{}
	for _, kv := range spans[0].Attributes {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, got[k], v)
		}
	}
	if spans[0].Status.Code != codes.Unset {
		t.Errorf("status = %v, want unset", spans[0].Status)
	}
}

func TestEndSpan_MarksFailure(t *testing.T) {
	exp := recordSpans(t)

	_, span := StartSpan(context.Background(), "roster.sheet", AttrSource.String("sheet-123"))
	EndSpan(span, errors.New("google: read sheet: 403 forbidden"))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	st := spans[0].Status
	if st.Code != codes.Error || !strings.Contains(st.Description, "403") {
		t.Errorf("status = %+v", st)
	}
	if len(spans[0].Events) != 1 || spans[0].Events[0].Name != "exception" {
		t.Errorf("events = %+v, want one exception", spans[0].Events)
	}
}

func TestLogger(t *testing.T) {
	recordSpans(t)

	tests := []struct {
		name      string
		withSpan  bool
		wantTrace bool
	}{
		{"inside a span", true, true},
		{"outside any span", false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureLogs(t)
			ctx := context.Background()
			if tc.withSpan {
				c, sp := StartSpan(ctx, "transcribe")
				defer sp.End()
				ctx = c
			}

			Logger(ctx).Info("clip identified", "status", "recognized")

			out := buf.String()
			cid := CorrelationID(ctx)
			hasTrace := strings.Contains(out, "trace_id=") && strings.Contains(out, "span_id=")
			if hasTrace != tc.wantTrace {
				t.Errorf("log %q: trace ids present = %v, want %v", out, hasTrace, tc.wantTrace)
			}
			if tc.wantTrace && !strings.Contains(out, "trace_id="+cid) {
				t.Errorf("log %q does not carry trace id %s", out, cid)
			}
		})
	}
}
