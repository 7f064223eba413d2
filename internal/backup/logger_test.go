package backup

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultwarden-backup/internal/logging"
)

func readAudit(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestRunLogger_AuditTrail(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit", "backup.log")
	rl, err := NewRunLogger(RunLoggerConfig{
		Logger:        quietLogger(),
		AuditLogFile:  auditPath,
		CorrelationID: "corr-1",
	})
	require.NoError(t, err)

	run, err := NewRun(time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC), "/backups", "")
	require.NoError(t, err)

	done := rl.LogRunStart(run, map[string]interface{}{"db_type": "sqlite"})
	rl.LogStageStart(run.ID(), "archive")(errors.New("disk full"), nil)
	done(errors.New("disk full"), &Report{WorkspaceKept: true, WorkspacePath: "/backups/ws"})
	require.NoError(t, rl.Close())

	lines := readAudit(t, auditPath)
	require.Len(t, lines, 3)
	for _, line := range lines {
		assert.Equal(t, "corr-1", line["correlation_id"])
	}
	assert.Equal(t, "started", lines[0]["result"])
	assert.Equal(t, "archive", lines[1]["stage"])
	assert.Equal(t, "failure", lines[1]["result"])

	details := lines[2]["details"].(map[string]interface{})
	assert.Equal(t, "disk full", details["error"])
	assert.Equal(t, "/backups/ws", details["workspace"])
}

func TestRunLogger_AuditTrailListsSkippedFiles(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "backup.log")
	rl, err := NewRunLogger(RunLoggerConfig{Logger: quietLogger(), AuditLogFile: auditPath})
	require.NoError(t, err)

	run, err := NewRun(start, "/backups", "")
	require.NoError(t, err)
	rl.LogRunStart(run, nil)(nil, &Report{
		FilesSkipped: 2,
		Skipped:      []string{"/data/icon_cache", "/data/db.sqlite3"},
	})
	require.NoError(t, rl.Close())

	lines := readAudit(t, auditPath)
	require.Len(t, lines, 2)
	assert.Equal(t, "success", lines[1]["result"])
	details := lines[1]["details"].(map[string]interface{})
	assert.Equal(t, []interface{}{"/data/icon_cache", "/data/db.sqlite3"}, details["skipped"])
}

func TestRunLogger_StageMessages(t *testing.T) {
	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelDebug, Output: io.Discard})
	require.NoError(t, err)
	hook := test.NewLocal(logger.Logrus())

	rl, err := NewRunLogger(RunLoggerConfig{Logger: logger})
	require.NoError(t, err)
	assert.NotEmpty(t, rl.CorrelationID())

	rl.LogStageStart("run-1", "file-staging")(nil, map[string]interface{}{"files_staged": 3})

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "Stage file-staging started", entries[0].Message)
	assert.Equal(t, logrus.DebugLevel, entries[0].Level)
	assert.Equal(t, "Stage file-staging completed", entries[1].Message)
	assert.Equal(t, 3, entries[1].Data["files_staged"])
	assert.Equal(t, "run-1", entries[1].Data["run_id"])
	assert.Equal(t, rl.CorrelationID(), entries[1].Data["correlation_id"])
}

func TestRunLogger_Warn(t *testing.T) {
	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelNormal, Output: io.Discard})
	require.NoError(t, err)
	hook := test.NewLocal(logger.Logrus())

	rl, err := NewRunLogger(RunLoggerConfig{Logger: logger})
	require.NoError(t, err)
	rl.Warn("run-1", "cleanup", "Workspace kept", errors.New("busy"))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "busy", entry.Data["error"])
	assert.Equal(t, "cleanup", entry.Data["stage"])
}
