// Package staging copies the filtered contents of the data directory into a workspace.
package staging

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	apperrors "vaultwarden-backup/internal/errors"
	"vaultwarden-backup/internal/logging"
)

// EntryKind distinguishes staged files from directories
type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
)

// StagedEntry is one file or directory copied into the workspace
type StagedEntry struct {
	RelPath    string
	SourcePath string
	Kind       EntryKind
}

// Result summarizes a staging pass
type Result struct {
	Staged  []StagedEntry
	Skipped []string
	Bytes   int64
}

// Files returns the number of staged regular files
func (r *Result) Files() int {
	n := 0
	for _, e := range r.Staged {
		if e.Kind == KindFile {
			n++
		}
	}
	return n
}

// Stager walks a source tree and copies what the exclusion set lets through
type Stager struct {
	logger *logging.Logger
}

// NewStager creates a stager
func NewStager(logger *logging.Logger) *Stager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Stager{logger: logger}
}

// Stage copies sourceDir into workspacePath. Directories are always recreated;
// only file names are tested against exclusions. Any copy failure aborts the
// whole stage with an IOError.
func (s *Stager) Stage(ctx context.Context, sourceDir, workspacePath string, exclusions ExclusionSet) (*Result, error) {
	sourceDir = filepath.Clean(sourceDir)
	workspacePath = filepath.Clean(workspacePath)
	result := &Result{}

	err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return ioError("failed to read source entry", path, walkErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == sourceDir {
			return nil
		}
		// the workspace may live inside the data directory
		if path == workspacePath {
			return filepath.SkipDir
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return ioError("failed to compute relative path", path, err)
		}
		target := filepath.Join(workspacePath, rel)

		if d.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return ioError("failed to create directory in workspace", target, err)
			}
			result.Staged = append(result.Staged, StagedEntry{RelPath: filepath.ToSlash(rel), SourcePath: path, Kind: KindDirectory})
			return nil
		}

		if entry, excluded := exclusions.Match(d.Name()); excluded {
			s.logger.WithFields(map[string]interface{}{
				"path":      path,
				"exclusion": entry,
			}).Infof("Skipping excluded file %s", path)
			result.Skipped = append(result.Skipped, path)
			return nil
		}

		return s.stageFile(path, rel, target, d, result)
	})
	if err != nil {
		if _, ok := err.(*apperrors.AppError); ok {
			return result, err
		}
		return result, apperrors.NewIOError(apperrors.StageStaging, "file staging interrupted", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"files":   result.Files(),
		"skipped": len(result.Skipped),
		"bytes":   result.Bytes,
	}).Debug("Staging finished")
	return result, nil
}

func (s *Stager) stageFile(path, rel, target string, d fs.DirEntry, result *Result) error {
	mode := d.Type()

	if mode&fs.ModeSymlink != 0 {
		info, err := os.Stat(path)
		if err != nil {
			return ioError("failed to resolve symlink", path, err)
		}
		if info.IsDir() {
			s.logger.WithField("path", path).Warnf("Not following symlink to directory %s", path)
			result.Skipped = append(result.Skipped, path)
			return nil
		}
		mode = info.Mode().Type()
	}

	if !mode.IsRegular() {
		s.logger.WithFields(map[string]interface{}{
			"path": path,
			"type": mode.String(),
		}).Warnf("Skipping special file %s", path)
		result.Skipped = append(result.Skipped, path)
		return nil
	}

	n, err := copyFile(path, target)
	if err != nil {
		return ioError("failed to copy file into workspace", path, err)
	}

	result.Bytes += n
	result.Staged = append(result.Staged, StagedEntry{RelPath: filepath.ToSlash(rel), SourcePath: path, Kind: KindFile})
	s.logger.WithField("path", path).Debug("Staged file")
	return nil
}

// copyFile never overwrites an existing workspace file such as the dump
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s is no longer a regular file", src)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm()|0o200)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, err
	}
	return n, out.Close()
}

func ioError(msg, path string, err error) error {
	return apperrors.NewIOError(apperrors.StageStaging, fmt.Sprintf("%s: %s", msg, path), err).
		WithContext("path", path)
}
