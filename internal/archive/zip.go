package archive

import (
	"io"
	"os"

	"github.com/yeka/zip"
)

// zipWriter stores files deflated and ZipCrypto-encrypted with the key as given.
// Directory entries carry no data and are written unencrypted.
type zipWriter struct {
	zw  *zip.Writer
	key string
}

func newZipWriter(w io.Writer, key string) *zipWriter {
	return &zipWriter{zw: zip.NewWriter(w), key: key}
}

func (z *zipWriter) writeDir(e entry) error {
	fh := &zip.FileHeader{
		Name:   e.rel,
		Method: zip.Store,
	}
	fh.SetMode(os.ModeDir | EntryMode)
	fh.SetModTime(e.info.ModTime())
	_, err := z.zw.CreateHeader(fh)
	return err
}

func (z *zipWriter) writeFile(e entry, r io.Reader) error {
	fh := &zip.FileHeader{
		Name:   e.rel,
		Method: zip.Deflate,
	}
	fh.SetMode(EntryMode)
	fh.SetModTime(e.info.ModTime())
	fh.SetPassword(z.key)
	fh.SetEncryptionMethod(zip.StandardEncryption)
	w, err := z.zw.CreateHeader(fh)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	return err
}

func (z *zipWriter) close() error {
	return z.zw.Close()
}
