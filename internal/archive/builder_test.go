package archive

import (
	"archive/tar"
	stdzip "archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeka/zip"

	apperrors "vaultwarden-backup/internal/errors"
	"vaultwarden-backup/internal/logging"
)

const runID = "2024-03-01_02-00-00"

func newBuilder() *Builder {
	l, _ := logging.NewLogger(logging.Config{Level: logging.LogLevelQuiet, Output: io.Discard})
	return NewBuilder(l)
}

// sampleWorkspace holds {a.txt, sub/b.txt}
func sampleWorkspace(t *testing.T) string {
	t.Helper()
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.txt"), []byte("alpha"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(ws, "sub"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "sub", "b.txt"), []byte("bravo\n"), 0o644))
	return ws
}

func readTarGz(t *testing.T, path string) (map[string]string, []*tar.Header) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := map[string]string{}
	var headers []*tar.Header
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		headers = append(headers, hdr)
		if hdr.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			require.NoError(t, err)
			files[hdr.Name] = string(data)
		}
	}
	return files, headers
}

func TestBuild_TarGzRoundTrip(t *testing.T) {
	ws := sampleWorkspace(t)
	dest := t.TempDir()

	artifact, err := newBuilder().Build(context.Background(), ws, dest, runID, Options{})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dest, runID+".tar.gz"), artifact.Path)
	assert.Equal(t, FormatTarGz, artifact.Format)
	assert.Equal(t, 3, artifact.Entries)
	assert.NoFileExists(t, artifact.Path+PartialSuffix)

	files, headers := readTarGz(t, artifact.Path)
	assert.Equal(t, map[string]string{"a.txt": "alpha", "sub/b.txt": "bravo\n"}, files)

	var names []string
	for _, h := range headers {
		names = append(names, h.Name)
		assert.Equal(t, int64(0o755), h.Mode, h.Name)
		assert.Zero(t, h.Uid)
		assert.Zero(t, h.Gid)
		assert.Empty(t, h.Uname)
	}
	assert.Equal(t, []string{"a.txt", "sub/", "sub/b.txt"}, names)
}

func TestBuild_ZipRoundTrip(t *testing.T) {
	ws := sampleWorkspace(t)
	dest := t.TempDir()

	artifact, err := newBuilder().Build(context.Background(), ws, dest, runID, Options{Encrypt: true, Key: "secret"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, runID+".zip"), artifact.Path)
	assert.Equal(t, FormatZip, artifact.Format)

	r, err := zip.OpenReader(artifact.Path)
	require.NoError(t, err)
	defer r.Close()

	files := map[string]string{}
	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
		assert.Equal(t, os.FileMode(0o755), f.Mode().Perm(), f.Name)
		if f.FileInfo().IsDir() {
			continue
		}
		assert.True(t, f.Mode().IsRegular(), f.Name)
		require.True(t, f.IsEncrypted(), f.Name)
		f.SetPassword("secret")
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		files[f.Name] = string(data)
	}

	sort.Strings(names)
	assert.Equal(t, []string{"a.txt", "sub/", "sub/b.txt"}, names)
	assert.Equal(t, map[string]string{"a.txt": "alpha", "sub/b.txt": "bravo\n"}, files)
}

func TestBuild_ZipNeedsTheKey(t *testing.T) {
	ws := sampleWorkspace(t)
	dest := t.TempDir()

	artifact, err := newBuilder().Build(context.Background(), ws, dest, runID, Options{Encrypt: true, Key: "secret"})
	require.NoError(t, err)

	// the encryption bit is set on every file entry
	sr, err := stdzip.OpenReader(artifact.Path)
	require.NoError(t, err)
	for _, f := range sr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		assert.Equal(t, uint16(0x1), f.Flags&0x1, f.Name)
		assert.Equal(t, stdzip.Deflate, f.Method, f.Name)
	}
	sr.Close()

	r, err := zip.OpenReader(artifact.Path)
	require.NoError(t, err)
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		f.SetPassword("not-the-secret")
		rc, err := f.Open()
		if err != nil {
			continue
		}
		_, err = io.ReadAll(rc)
		rc.Close()
		assert.Error(t, err, "%s extracted with the wrong key", f.Name)
	}
}

func TestBuild_EncryptWithoutKey(t *testing.T) {
	_, err := newBuilder().Build(context.Background(), sampleWorkspace(t), t.TempDir(), runID, Options{Encrypt: true})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeArchive, apperrors.GetErrorType(err))
}

func TestBuild_FailureLeavesPartial(t *testing.T) {
	dest := t.TempDir()
	missing := filepath.Join(t.TempDir(), "gone")

	_, err := newBuilder().Build(context.Background(), missing, dest, runID, Options{})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrorTypeArchive, appErr.Type)
	assert.Equal(t, apperrors.StageArchive, appErr.Stage)

	partial := filepath.Join(dest, runID+".tar.gz"+PartialSuffix)
	assert.Equal(t, partial, appErr.Context["partial_path"])
	assert.FileExists(t, partial)
	assert.NoFileExists(t, filepath.Join(dest, runID+".tar.gz"))
}

func TestBuild_RejectsSpecialFiles(t *testing.T) {
	ws := sampleWorkspace(t)
	require.NoError(t, os.Symlink(filepath.Join(ws, "a.txt"), filepath.Join(ws, "link")))

	_, err := newBuilder().Build(context.Background(), ws, t.TempDir(), runID, Options{Encrypt: true, Key: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestBuild_ExistingArtifactIsNotReplaced(t *testing.T) {
	dest := t.TempDir()
	existing := filepath.Join(dest, runID+".tar.gz")
	require.NoError(t, os.WriteFile(existing, []byte("older run"), 0o600))

	_, err := newBuilder().Build(context.Background(), sampleWorkspace(t), dest, runID, Options{})
	require.Error(t, err)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "older run", string(data))
}

func TestBuild_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newBuilder().Build(ctx, sampleWorkspace(t), t.TempDir(), runID, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestArtifactPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/backups", runID+".tar.gz"), ArtifactPath("/backups/", runID, FormatTarGz))
	assert.Equal(t, filepath.Join("/backups", runID+".zip"), ArtifactPath("/backups", runID, FormatZip))
	assert.Equal(t, FormatZip, Options{Encrypt: true}.Format())
}
