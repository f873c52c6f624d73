package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestSetupStructured(t *testing.T) {
	var buf bytes.Buffer
	setup(&buf, false, true)
	defer setup(&bytes.Buffer{}, false, false)

	Info("refresh complete", "records", 12, "changed", true)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("structured output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "refresh complete" {
		t.Errorf("message = %v, want %q", entry["message"], "refresh complete")
	}
	if entry["records"] != float64(12) {
		t.Errorf("records = %v, want 12", entry["records"])
	}
}

func TestDebugSuppressedByDefault(t *testing.T) {
	var buf bytes.Buffer
	setup(&buf, false, true)
	defer setup(&bytes.Buffer{}, false, false)

	Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug output written at info level: %q", buf.String())
	}
	if IsDebugEnabled() {
		t.Error("IsDebugEnabled() = true, want false")
	}
}

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	setup(&buf, true, true)
	defer setup(&bytes.Buffer{}, false, false)

	l := Component("scheduler")
	l.Debug().Msg("tick")

	if !strings.Contains(buf.String(), `"component":"scheduler"`) {
		t.Errorf("component field missing: %q", buf.String())
	}
}
