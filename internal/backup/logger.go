package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "vaultwarden-backup/internal/errors"
	"vaultwarden-backup/internal/logging"
)

// RunLogger provides structured stage logging with a correlation ID and an optional audit trail
type RunLogger struct {
	logger        *logging.Logger
	auditLogger   *logrus.Logger
	auditFile     *os.File
	correlationID string
}

// RunLoggerConfig holds configuration for run logging
type RunLoggerConfig struct {
	Logger        *logging.Logger
	AuditLogFile  string
	CorrelationID string
}

// StageEntry is a structured record of one stage transition
type StageEntry struct {
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
	RunID         string                 `json:"run_id"`
	Stage         string                 `json:"stage"`
	Status        string                 `json:"status"`
	Duration      string                 `json:"duration,omitempty"`
	Success       bool                   `json:"success"`
	Error         string                 `json:"error,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// NewRunLogger creates a run logger. The audit file is opened in append mode.
func NewRunLogger(config RunLoggerConfig) (*RunLogger, error) {
	correlationID := config.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	rl := &RunLogger{
		logger:        logger,
		correlationID: correlationID,
	}

	if config.AuditLogFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.AuditLogFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}
		auditFile, err := os.OpenFile(config.AuditLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}

		auditLogger := logrus.New()
		auditLogger.SetOutput(auditFile)
		auditLogger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
		auditLogger.SetLevel(logrus.InfoLevel)

		rl.auditLogger = auditLogger
		rl.auditFile = auditFile
	}

	return rl, nil
}

// CorrelationID returns the current correlation ID
func (rl *RunLogger) CorrelationID() string {
	return rl.correlationID
}

// Logger returns the underlying application logger
func (rl *RunLogger) Logger() *logging.Logger {
	return rl.logger
}

// Close releases the audit file
func (rl *RunLogger) Close() error {
	if rl.auditFile == nil {
		return nil
	}
	err := rl.auditFile.Close()
	rl.auditFile = nil
	rl.auditLogger = nil
	return err
}

// LogRunStart records the start of a run and returns a function recording its outcome
func (rl *RunLogger) LogRunStart(run *Run, metadata map[string]interface{}) func(error, *Report) {
	start := time.Now()

	details := map[string]interface{}{
		"run_id":      run.ID(),
		"destination": run.Destination(),
		"encrypted":   run.Encrypted(),
	}
	for k, v := range metadata {
		details[k] = v
	}

	rl.logger.WithFields(rl.fields(details)).Info("Backup run started")
	rl.logAudit("run", "started", details)

	return func(err error, report *Report) {
		result := map[string]interface{}{
			"run_id":   run.ID(),
			"duration": time.Since(start).String(),
		}
		if report != nil {
			result["artifact"] = report.ArtifactPath
			result["artifact_size"] = report.ArtifactSize
			result["files_staged"] = report.FilesStaged
			result["files_skipped"] = report.FilesSkipped
			if report.WorkspaceKept {
				result["workspace"] = report.WorkspacePath
			}
		}

		// the audit trail keeps every skipped path, whatever the console level
		audit := make(map[string]interface{}, len(result)+1)
		for k, v := range result {
			audit[k] = v
		}
		if report != nil && len(report.Skipped) > 0 {
			audit["skipped"] = report.Skipped
		}

		if err != nil {
			result["error"] = err.Error()
			result["stage"] = apperrors.GetStage(err)
			audit["error"] = result["error"]
			audit["stage"] = result["stage"]
			rl.logger.WithFields(rl.fields(result)).Error("Backup run failed")
			rl.logAudit("run", "failure", audit)
			return
		}
		rl.logger.WithFields(rl.fields(result)).Info("Backup run completed")
		rl.logAudit("run", "success", audit)
	}
}

// LogStageStart logs the start of a stage and returns a function to log completion
func (rl *RunLogger) LogStageStart(runID, stage string) func(error, map[string]interface{}) {
	start := time.Now()
	entry := StageEntry{
		Timestamp:     start,
		CorrelationID: rl.correlationID,
		RunID:         runID,
		Stage:         stage,
		Status:        "started",
		Success:       true,
	}
	rl.logStructured(entry)

	return func(err error, metadata map[string]interface{}) {
		entry.Timestamp = time.Now()
		entry.Status = "completed"
		entry.Duration = time.Since(start).String()
		entry.Success = err == nil
		entry.Metadata = metadata
		if err != nil {
			entry.Status = "failed"
			entry.Error = err.Error()
		}
		rl.logStructured(entry)

		result := "success"
		if err != nil {
			result = "failure"
		}
		details := map[string]interface{}{"run_id": runID, "duration": entry.Duration}
		for k, v := range metadata {
			details[k] = v
		}
		if err != nil {
			details["error"] = entry.Error
		}
		rl.logAudit(stage, result, details)
	}
}

// Warn logs a non-fatal problem for runID
func (rl *RunLogger) Warn(runID, stage, msg string, err error) {
	fields := rl.fields(map[string]interface{}{"run_id": runID, "stage": stage})
	if err != nil {
		fields["error"] = err.Error()
	}
	rl.logger.WithFields(fields).Warn(msg)
	rl.logAudit(stage, "warning", map[string]interface{}{"run_id": runID, "message": msg})
}

func (rl *RunLogger) fields(extra map[string]interface{}) logrus.Fields {
	fields := logrus.Fields{"correlation_id": rl.correlationID}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

func (rl *RunLogger) logStructured(entry StageEntry) {
	fields := logrus.Fields{
		"correlation_id": entry.CorrelationID,
		"run_id":         entry.RunID,
		"stage":          entry.Stage,
		"status":         entry.Status,
		"success":        entry.Success,
	}
	if entry.Duration != "" {
		fields["duration"] = entry.Duration
	}
	if entry.Error != "" {
		fields["error"] = entry.Error
	}
	for k, v := range entry.Metadata {
		fields[k] = v
	}

	logEntry := rl.logger.WithFields(fields)
	switch {
	case !entry.Success:
		logEntry.Errorf("Stage %s failed", entry.Stage)
	case entry.Status == "started":
		logEntry.Debugf("Stage %s started", entry.Stage)
	default:
		logEntry.Infof("Stage %s completed", entry.Stage)
	}
}

func (rl *RunLogger) logAudit(stage, result string, details map[string]interface{}) {
	if rl.auditLogger == nil {
		return
	}
	rl.auditLogger.WithFields(logrus.Fields{
		"correlation_id": rl.correlationID,
		"stage":          stage,
		"result":         result,
		"details":        details,
	}).Info("Audit log entry")
}
