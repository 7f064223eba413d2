// Package workspace owns the per-run staging directory under the backup destination.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	apperrors "vaultwarden-backup/internal/errors"
	"vaultwarden-backup/internal/logging"
)

// DirPermissions is the mode of a freshly created workspace
const DirPermissions os.FileMode = 0o700

// Manager creates and deletes workspaces. Only workspaces created by the
// same Manager can be deleted through it, and each at most once.
type Manager struct {
	logger *logging.Logger

	mu      sync.Mutex
	created map[string]struct{}
}

// NewManager creates a workspace manager
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Manager{
		logger:  logger,
		created: make(map[string]struct{}),
	}
}

// Path returns the workspace path for runID under destinationRoot
func Path(destinationRoot, runID string) string {
	return filepath.Join(filepath.Clean(destinationRoot), runID)
}

// Create makes a fresh workspace directory. An existing path is an error.
func (m *Manager) Create(destinationRoot, runID string) (string, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", apperrors.NewIOError(apperrors.StageWorkspace,
			fmt.Sprintf("invalid run identifier %q", runID), nil)
	}

	path := Path(destinationRoot, runID)
	if err := os.Mkdir(path, DirPermissions); err != nil {
		msg := "failed to create workspace"
		if os.IsExist(err) {
			msg = "workspace already exists"
		}
		return "", apperrors.NewIOError(apperrors.StageWorkspace, msg, err).
			WithContext("path", path)
	}

	m.mu.Lock()
	m.created[path] = struct{}{}
	m.mu.Unlock()

	m.logger.WithField("path", path).Debug("Workspace created")
	return path, nil
}

// Delete removes a workspace created by this manager
func (m *Manager) Delete(path string) error {
	path = filepath.Clean(path)

	m.mu.Lock()
	_, owned := m.created[path]
	if owned {
		delete(m.created, path)
	}
	m.mu.Unlock()

	if !owned {
		return apperrors.NewIOError(apperrors.StageCleanup,
			"refusing to delete a path that is not an active workspace", nil).
			WithContext("path", path)
	}

	if err := os.RemoveAll(path); err != nil {
		return apperrors.NewIOError(apperrors.StageCleanup, "failed to delete workspace", err).
			WithContext("path", path)
	}

	m.logger.WithField("path", path).Debug("Workspace deleted")
	return nil
}
