package archive

import (
	"archive/tar"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

type tarGzWriter struct {
	gz *gzip.Writer
	tw *tar.Writer
}

func newTarGzWriter(w io.Writer) (*tarGzWriter, error) {
	gz, err := gzip.NewWriterLevel(w, gzip.DefaultCompression)
	if err != nil {
		return nil, err
	}
	return &tarGzWriter{gz: gz, tw: tar.NewWriter(gz)}, nil
}

func (t *tarGzWriter) writeDir(e entry) error {
	return t.tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     e.rel,
		Mode:     int64(EntryMode),
		ModTime:  e.info.ModTime(),
	})
}

func (t *tarGzWriter) writeFile(e entry, r io.Reader) error {
	size := e.info.Size()
	if err := t.tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     e.rel,
		Mode:     int64(EntryMode),
		Size:     size,
		ModTime:  e.info.ModTime(),
	}); err != nil {
		return err
	}
	n, err := io.CopyN(t.tw, r, size)
	if err != nil {
		return fmt.Errorf("copied %d of %d bytes: %w", n, size, err)
	}
	return nil
}

func (t *tarGzWriter) close() error {
	if err := t.tw.Close(); err != nil {
		t.gz.Close()
		return err
	}
	return t.gz.Close()
}
