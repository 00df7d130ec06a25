package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestScanLoggerWritesLogFiles(t *testing.T) {
	dir := t.TempDir()

	sl, err := NewScanLogger("0f8fad5b-d9cb-469f-a165-70867728950e", dir, logrus.InfoLevel)
	if err != nil {
		t.Fatalf("NewScanLogger failed: %v", err)
	}

	sl.LogPhaseSummary("discovery", "targets=12 live=4")
	sl.LogError("crawl", errors.New("connection refused"), Fields{"target": "a.example.com"})
	sl.LogScanFinished("completed")

	if err := sl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	logData, err := os.ReadFile(filepath.Join(dir, "scan.log"))
	if err != nil {
		t.Fatalf("Failed to read scan.log: %v", err)
	}
	logContent := string(logData)

	for _, want := range []string{
		"Scan ID: 0f8fad5b-d9cb-469f-a165-70867728950e",
		"Phase: discovery",
		"targets=12 live=4",
		"SCAN FINISHED (completed)",
		"Scan Log Ended",
	} {
		if !strings.Contains(logContent, want) {
			t.Errorf("scan.log missing %q", want)
		}
	}

	errData, err := os.ReadFile(filepath.Join(dir, "error.log"))
	if err != nil {
		t.Fatalf("Failed to read error.log: %v", err)
	}
	if !strings.Contains(string(errData), "Error in crawl: connection refused") {
		t.Errorf("error.log missing crawl error, got:\n%s", errData)
	}
}

func TestScanLoggerFailureGoesToBothFiles(t *testing.T) {
	dir := t.TempDir()

	sl, err := NewScanLogger("11111111-2222-3333-4444-555555555555", dir, logrus.InfoLevel)
	if err != nil {
		t.Fatalf("NewScanLogger failed: %v", err)
	}

	sl.LogScanFailure("preflight failed", errors.New("scanner binary not found"))

	if err := sl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, name := range []string{"scan.log", "error.log"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("Failed to read %s: %v", name, err)
		}
		if !strings.Contains(string(data), "SCAN FAILED") {
			t.Errorf("%s missing failure marker", name)
		}
		if !strings.Contains(string(data), "Reason: preflight failed") {
			t.Errorf("%s missing failure reason", name)
		}
	}
}

func TestScanLoggerRejectsMissingDirectory(t *testing.T) {
	_, err := NewScanLogger("scan", filepath.Join(t.TempDir(), "missing"), logrus.InfoLevel)
	if err == nil {
		t.Fatal("Expected error for missing directory")
	}
}
