package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ScanLogger mirrors a scan's log stream into its artifact directory,
// keeping a separate error.log for quick triage.
type ScanLogger struct {
	*Logger
	scanID    string
	scanDir   string
	logFile   *os.File
	errorFile *os.File
	mu        sync.Mutex
}

func NewScanLogger(scanID, scanDir string, level logrus.Level) (*ScanLogger, error) {
	baseLogger := NewLogger(level)

	logFilePath := filepath.Join(scanDir, "scan.log")
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan log file: %w", err)
	}

	errorFilePath := filepath.Join(scanDir, "error.log")
	errorFile, err := os.OpenFile(errorFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to create error log file: %w", err)
	}

	header := fmt.Sprintf("\n=== Scan Log Started: %s ===\n", time.Now().UTC().Format(time.RFC3339))
	header += fmt.Sprintf("Scan ID: %s\n", scanID)
	header += fmt.Sprintf("Artifact Directory: %s\n", scanDir)
	header += "==========================================\n\n"
	logFile.WriteString(header)

	baseLogger.Logger.SetOutput(io.MultiWriter(os.Stdout, logFile))

	return &ScanLogger{
		Logger:    baseLogger,
		scanID:    scanID,
		scanDir:   scanDir,
		logFile:   logFile,
		errorFile: errorFile,
	}, nil
}

func (sl *ScanLogger) LogError(component string, err error, fields Fields) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if fields == nil {
		fields = Fields{}
	}
	fields["component"] = component
	fields["scan_id"] = sl.scanID

	sl.WithFields(fields).WithError(err).Error("Error occurred")

	errorMsg := fmt.Sprintf("[%s] [%s] Error in %s: %v\n",
		time.Now().UTC().Format(time.RFC3339),
		sl.scanID,
		component,
		err,
	)
	if len(fields) > 0 {
		errorMsg += fmt.Sprintf("  Fields: %+v\n", fields)
	}
	sl.errorFile.WriteString(errorMsg)
}

// LogPhaseSummary appends a phase's outcome block to scan.log.
func (sl *ScanLogger) LogPhaseSummary(phase string, summary string) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	timestamp := time.Now().UTC().Format(time.RFC3339)
	header := fmt.Sprintf("\n--- [%s] Phase: %s ---\n", timestamp, phase)
	footer := fmt.Sprintf("--- End %s ---\n\n", phase)

	sl.logFile.WriteString(header + summary + "\n" + footer)

	sl.WithFields(Fields{
		"phase":   phase,
		"scan_id": sl.scanID,
	}).Debug("Phase summary captured")
}

func (sl *ScanLogger) LogScanFailure(reason string, err error) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	timestamp := time.Now().UTC().Format(time.RFC3339)
	failureMsg := fmt.Sprintf("\n=== SCAN FAILED: %s ===\n", timestamp)
	failureMsg += fmt.Sprintf("Scan ID: %s\n", sl.scanID)
	failureMsg += fmt.Sprintf("Reason: %s\n", reason)
	if err != nil {
		failureMsg += fmt.Sprintf("Error: %v\n", err)
	}
	failureMsg += "=====================================\n\n"

	sl.logFile.WriteString(failureMsg)
	sl.errorFile.WriteString(failureMsg)

	fields := Fields{
		"scan_id": sl.scanID,
		"reason":  reason,
	}
	if err != nil {
		sl.WithFields(fields).WithError(err).Error("Scan failed")
	} else {
		sl.WithFields(fields).Error("Scan failed")
	}
}

func (sl *ScanLogger) LogScanFinished(status string) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	timestamp := time.Now().UTC().Format(time.RFC3339)
	msg := fmt.Sprintf("\n=== SCAN FINISHED (%s): %s ===\n", status, timestamp)
	msg += fmt.Sprintf("Scan ID: %s\n", sl.scanID)
	msg += "=========================================\n\n"

	sl.logFile.WriteString(msg)

	sl.WithFields(Fields{
		"scan_id": sl.scanID,
		"status":  status,
	}).Info("Scan finished")
}

func (sl *ScanLogger) Close() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	var errs []error

	if sl.logFile != nil {
		footer := fmt.Sprintf("\n=== Scan Log Ended: %s ===\n", time.Now().UTC().Format(time.RFC3339))
		sl.logFile.WriteString(footer)

		if err := sl.logFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close log file: %w", err))
		}
	}

	if sl.errorFile != nil {
		if err := sl.errorFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close error file: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing scan logger: %v", errs)
	}

	return nil
}

func (sl *ScanLogger) LogFilePath() string {
	return filepath.Join(sl.scanDir, "scan.log")
}

func (sl *ScanLogger) ErrorLogFilePath() string {
	return filepath.Join(sl.scanDir, "error.log")
}
