package telemetry

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestEmitWritesOneJSONLinePerCall(t *testing.T) {
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	defer SetOutput(prev)

	Info("job.completed", map[string]any{"job_id": "job-1", "polls": 3})
	Warn("artifact.degraded", nil)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var first map[string]any
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("first line is not JSON: %v", err)
	}
	if first["level"] != "info" || first["msg"] != "job.completed" {
		t.Fatalf("unexpected first line: %v", first)
	}
	if first["job_id"] != "job-1" {
		t.Fatalf("field job_id = %v, want job-1", first["job_id"])
	}
	if first["ts"] == nil || first["ts"] == "" {
		t.Fatal("missing ts")
	}

	var second map[string]any
	if err := json.Unmarshal(lines[1], &second); err != nil {
		t.Fatalf("second line is not JSON: %v", err)
	}
	if second["level"] != "warn" {
		t.Fatalf("second level = %v, want warn", second["level"])
	}
}

func TestEmitReservedKeysWinOverFields(t *testing.T) {
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	defer SetOutput(prev)

	Error("boom", map[string]any{"level": "info", "msg": "not boom"})

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if line["level"] != "error" || line["msg"] != "boom" {
		t.Fatalf("reserved keys overridden: %v", line)
	}
}
