package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestChildSpansInheritTrace(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "query", "q1")
	for _, stage := range []string{"preprocess", "matching"} {
		_, child := StartChildSpan(ctx, stage)
		child.End()
		if child.TraceID != "q1" {
			t.Errorf("%s trace id = %q", stage, child.TraceID)
		}
	}
	root.End()
	if diff := cmp.Diff([]string{"preprocess", "matching"}, root.Stages()); diff != "" {
		t.Errorf("stages (-want +got):\n%s", diff)
	}
}

func TestDetachedChild(t *testing.T) {
	_, child := StartChildSpan(context.Background(), "orphan")
	if child.TraceID != "" {
		t.Errorf("trace id = %q", child.TraceID)
	}
}

func TestLogOnlyAtDebug(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "query", "q1")
	_, child := StartChildSpan(ctx, "matching")
	child.SetAttr("results", 3)
	child.End()
	root.End()

	var buf bytes.Buffer
	root.Log(ctx, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	if buf.Len() != 0 {
		t.Fatalf("logged at info level: %s", buf.String())
	}

	root.Log(ctx, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d records:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "span=matching") || !strings.Contains(lines[1], "results=3") {
		t.Errorf("child record = %s", lines[1])
	}
}
