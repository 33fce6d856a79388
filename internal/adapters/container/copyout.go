package container

import (
	"archive/tar"
	"bytes"
	"io"

	"go.trai.ch/zerr"
)

// extractSingleFile unwraps the tar stream the engine emits for a single
// copied file.
func extractSingleFile(stream []byte) ([]byte, error) {
	tr := tar.NewReader(bytes.NewReader(stream))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, zerr.New("copy stream contained no file")
		}
		if err != nil {
			return nil, zerr.Wrap(err, "failed to read copy stream")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, zerr.Wrap(err, "failed to read copied file")
		}
		return data, nil
	}
}
