package core

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestProductionLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewProductionLogger(LoggingConfig{Level: "debug", Format: "text", Output: &buf}, "test-svc")

	logger.Info("something happened", map[string]interface{}{
		"operation": "unit_test",
		"count":     3,
	})

	out := buf.String()
	if !strings.Contains(out, "[INFO]") || !strings.Contains(out, "[test-svc]") {
		t.Errorf("Expected level and service in output, got %q", out)
	}
	if !strings.Contains(out, "operation=unit_test") {
		t.Errorf("Expected operation field, got %q", out)
	}
	if !strings.Contains(out, "count=3") {
		t.Errorf("Expected count field, got %q", out)
	}
}

func TestProductionLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewProductionLogger(LoggingConfig{Level: "info", Format: "json", Output: &buf}, "test-svc")

	logger.Error("boom", map[string]interface{}{"tool": "web_search"})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected valid JSON line, got %q: %v", buf.String(), err)
	}
	if entry["level"] != "ERROR" || entry["message"] != "boom" {
		t.Errorf("Expected level/message in entry, got %v", entry)
	}
	if entry["tool"] != "web_search" {
		t.Errorf("Expected custom field, got %v", entry)
	}
	if entry["service"] != "test-svc" {
		t.Errorf("Expected service name, got %v", entry)
	}
}

func TestProductionLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewProductionLogger(LoggingConfig{Level: "warn", Format: "text", Output: &buf}, "svc")

	logger.Debug("hidden", nil)
	logger.Info("also hidden", nil)
	if buf.Len() != 0 {
		t.Errorf("Expected debug/info suppressed at warn level, got %q", buf.String())
	}

	logger.Warn("visible", nil)
	if !strings.Contains(buf.String(), "visible") {
		t.Error("Expected warn to pass the filter")
	}

	logger.SetLevel("debug")
	logger.Debug("now visible", nil)
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("Expected SetLevel to lower the threshold")
	}
}
