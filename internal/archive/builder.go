// Package archive turns a populated workspace into the final backup artifact.
//
// Two formats are produced: a gzip-compressed tar stream when encryption is
// off, and a Deflate zip with legacy ZipCrypto entries when it is on. Both are
// written to "<artifact>.partial" and renamed into place only after the
// stream has been flushed and synced. A failed build leaves the partial file
// behind and reports its path.
package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperrors "vaultwarden-backup/internal/errors"
	"vaultwarden-backup/internal/logging"
)

// EntryMode is the permission recorded for every archive entry
const EntryMode os.FileMode = 0o755

// PartialSuffix marks an artifact that is still being written
const PartialSuffix = ".partial"

// Format selects the artifact container
type Format string

const (
	FormatTarGz Format = "tar.gz"
	FormatZip   Format = "zip"
)

// Options controls a single build
type Options struct {
	Encrypt bool
	Key     string
}

// Format returns the container implied by the options
func (o Options) Format() Format {
	if o.Encrypt {
		return FormatZip
	}
	return FormatTarGz
}

// Artifact describes a published archive
type Artifact struct {
	Path     string
	Format   Format
	Entries  int
	Size     int64
	Duration time.Duration
}

// ArtifactPath returns the final artifact path for runID
func ArtifactPath(destination, runID string, format Format) string {
	return filepath.Join(filepath.Clean(destination), runID+"."+string(format))
}

// Builder writes workspace archives
type Builder struct {
	logger *logging.Logger
}

// NewBuilder creates an archive builder
func NewBuilder(logger *logging.Logger) *Builder {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Builder{logger: logger}
}

type entry struct {
	rel  string // slash separated, directories end in "/"
	path string
	info fs.FileInfo
}

type entryWriter interface {
	writeDir(e entry) error
	writeFile(e entry, r io.Reader) error
	close() error
}

// Build archives workspace into destination/runID.<format>
func (b *Builder) Build(ctx context.Context, workspace, destination, runID string, opts Options) (*Artifact, error) {
	if opts.Encrypt && opts.Key == "" {
		return nil, apperrors.NewArchiveError("encryption requested without a key", nil)
	}

	start := time.Now()
	format := opts.Format()
	final := ArtifactPath(destination, runID, format)
	partial := final + PartialSuffix

	if _, err := os.Lstat(final); err == nil {
		return nil, apperrors.NewArchiveError("artifact already exists", nil).WithContext("path", final)
	}

	f, err := os.OpenFile(partial, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, apperrors.NewArchiveError("failed to create artifact file", err).WithContext("path", partial)
	}

	var w entryWriter
	if opts.Encrypt {
		w = newZipWriter(f, opts.Key)
	} else {
		w, err = newTarGzWriter(f)
		if err != nil {
			f.Close()
			return nil, b.failed(partial, "failed to initialise gzip stream", err)
		}
	}

	count, err := writeEntries(ctx, workspace, w)
	if err != nil {
		w.close()
		f.Close()
		return nil, b.failed(partial, "failed to write archive entries", err)
	}
	if err := w.close(); err != nil {
		f.Close()
		return nil, b.failed(partial, "failed to finalise archive", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, b.failed(partial, "failed to sync archive", err)
	}
	if err := f.Close(); err != nil {
		return nil, b.failed(partial, "failed to close archive", err)
	}

	info, err := os.Stat(partial)
	if err != nil {
		return nil, b.failed(partial, "failed to stat archive", err)
	}
	if err := os.Rename(partial, final); err != nil {
		return nil, b.failed(partial, "failed to publish archive", err)
	}
	syncDir(filepath.Dir(final))

	artifact := &Artifact{
		Path:     final,
		Format:   format,
		Entries:  count,
		Size:     info.Size(),
		Duration: time.Since(start),
	}
	b.logger.WithFields(map[string]interface{}{
		"path":    artifact.Path,
		"format":  artifact.Format,
		"entries": artifact.Entries,
		"size":    artifact.Size,
	}).Info("Archive created")
	return artifact, nil
}

// failed reports an incomplete archive. The partial file is kept for inspection.
func (b *Builder) failed(partial, msg string, cause error) error {
	b.logger.WithField("partial_path", partial).Errorf("%s, incomplete archive left at %s", msg, partial)
	return apperrors.NewArchiveError(fmt.Sprintf("%s (incomplete archive left at %s)", msg, partial), cause).
		WithContext("partial_path", partial)
}

// writeEntries walks root depth-first in lexical order. The root itself is not an entry.
func writeEntries(ctx context.Context, root string, w entryWriter) (int, error) {
	root = filepath.Clean(root)
	count := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		e := entry{rel: filepath.ToSlash(rel), path: path, info: info}
		switch {
		case d.IsDir():
			e.rel += "/"
			if err := w.writeDir(e); err != nil {
				return fmt.Errorf("%s: %w", e.rel, err)
			}
		case info.Mode().IsRegular():
			if err := copyEntry(e, w); err != nil {
				return fmt.Errorf("%s: %w", e.rel, err)
			}
		default:
			return fmt.Errorf("%s: unsupported file type %s in workspace", e.rel, info.Mode().Type())
		}
		count++
		return nil
	})
	return count, err
}

func copyEntry(e entry, w entryWriter) error {
	f, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()
	return w.writeFile(e, f)
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
