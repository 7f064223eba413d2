package backup

import (
	"errors"
	"path/filepath"
	"time"
)

// RunIDLayout formats run identifiers: sortable, no colons or slashes
const RunIDLayout = "2006-01-02_15-04-05"

// Run is one backup execution. It is immutable once created.
type Run struct {
	startedAt   time.Time
	id          string
	destination string
	encrypted   bool
	key         string
}

// NewRun creates a run started at startedAt. A non-empty key turns on encryption.
func NewRun(startedAt time.Time, destination, key string) (*Run, error) {
	if destination == "" {
		return nil, errors.New("destination is required")
	}
	return &Run{
		startedAt:   startedAt,
		id:          startedAt.Format(RunIDLayout),
		destination: filepath.Clean(destination),
		encrypted:   key != "",
		key:         key,
	}, nil
}

// ID returns the run identifier
func (r *Run) ID() string { return r.id }

// StartedAt returns the run start time
func (r *Run) StartedAt() time.Time { return r.startedAt }

// Destination returns the backup root directory
func (r *Run) Destination() string { return r.destination }

// Encrypted reports whether the artifact is a password-protected zip
func (r *Run) Encrypted() bool { return r.encrypted }

// Key returns the encryption key, empty when not encrypted
func (r *Run) Key() string { return r.key }
