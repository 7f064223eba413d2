package database

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "vaultwarden-backup/internal/errors"
	"vaultwarden-backup/internal/logging"
)

// Deps holds the process hooks used by the Dumper
type Deps struct {
	LookPath       func(string) (string, error)
	CommandContext func(context.Context, string, ...string) *exec.Cmd
}

// DefaultDeps returns hooks backed by os/exec
func DefaultDeps() Deps {
	return Deps{
		LookPath:       exec.LookPath,
		CommandContext: exec.CommandContext,
	}
}

// Dumper runs the engine's native dump utility into a workspace
type Dumper struct {
	deps   Deps
	logger *logging.Logger
}

// NewDumper creates a dumper. Missing hooks fall back to os/exec.
func NewDumper(logger *logging.Logger, deps Deps) *Dumper {
	def := DefaultDeps()
	if deps.LookPath == nil {
		deps.LookPath = def.LookPath
	}
	if deps.CommandContext == nil {
		deps.CommandContext = def.CommandContext
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Dumper{deps: deps, logger: logger}
}

// CheckCapability verifies that the dump utility for kind is on PATH.
// It is called once per run, before the workspace is created.
func (d *Dumper) CheckCapability(kind Kind) error {
	tool := kind.Tool()
	if tool == "" {
		return apperrors.NewConfigError(fmt.Sprintf("unsupported database type %q", kind), nil)
	}
	path, err := d.deps.LookPath(tool)
	if err != nil {
		return apperrors.NewDumpError(
			fmt.Sprintf("%s utility is not installed or not on PATH", tool), err).
			WithStage(apperrors.StageCapability).
			WithContext("tool", tool)
	}
	d.logger.WithFields(map[string]interface{}{
		"tool": tool,
		"path": path,
	}).Debug("Dump utility found")
	return nil
}

// OutputPath returns where the dump for runID lands inside workspace
func OutputPath(kind Kind, workspace, runID string) string {
	return filepath.Join(workspace, fmt.Sprintf("%s-db.%s", runID, kind.DumpExtension()))
}

// Args builds the dump command line for conn writing to output
func Args(conn Connection, output string) (string, []string, error) {
	switch conn.Kind {
	case KindPostgreSQL:
		return "pg_dump", []string{
			"--dbname=" + conn.PostgresURL(),
			"--format=custom",
			"--file=" + output,
		}, nil
	case KindMySQL, KindMariaDB:
		var args []string
		if conn.HasCredentials() {
			args = append(args, "--user="+conn.Username, "--password="+conn.Password)
		}
		args = append(args,
			"--host="+conn.Host,
			"--port="+strconv.Itoa(conn.EffectivePort()),
			"--result-file="+output,
			conn.Name,
		)
		return "mysqldump", args, nil
	case KindSQLite:
		return "sqlite3", []string{
			conn.SQLitePath(),
			fmt.Sprintf(".backup '%s'", strings.ReplaceAll(output, "'", "''")),
		}, nil
	}
	return "", nil, fmt.Errorf("unsupported database type %q", conn.Kind)
}

// Dump writes the database dump for runID into workspace and returns its path
func (d *Dumper) Dump(ctx context.Context, conn Connection, workspace, runID string) (string, error) {
	if conn.Kind == KindSQLite {
		if _, err := os.Stat(conn.SQLitePath()); err != nil {
			return "", apperrors.NewDumpError("database file not found", err).
				WithContext("path", conn.SQLitePath())
		}
	}

	output := OutputPath(conn.Kind, workspace, runID)
	name, args, err := Args(conn, output)
	if err != nil {
		return "", apperrors.NewConfigError(err.Error(), nil)
	}

	var stderr bytes.Buffer
	cmd := d.deps.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	if d.logger.IsLevelEnabled(logging.LogLevelVerbose) {
		progress := d.logger.Logrus().WithField("tool", name).WriterLevel(logrus.DebugLevel)
		defer progress.Close()
		cmd.Stderr = io.MultiWriter(&stderr, progress)
	}

	start := time.Now()
	err = cmd.Run()
	d.logger.LogExternalCommand(name, args, time.Since(start), err)

	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", apperrors.NewDumpError("database backup not created", fmt.Errorf("%s: %s", name, msg)).
			WithContext("tool", name).
			WithContext("target", conn.Target())
	}

	if _, err := os.Stat(output); err != nil {
		return "", apperrors.NewDumpError(
			fmt.Sprintf("%s reported success but produced no dump", name), err).
			WithContext("path", output)
	}

	d.logger.WithFields(map[string]interface{}{
		"tool": name,
		"path": output,
	}).Info("Database backup completed")
	return output, nil
}
