package dump

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/kjk/typedkv/atomicfile"
	"github.com/kjk/typedkv/store"
)

// compressWriter wraps w with a compressor chosen by extension of path
func compressWriter(w io.Writer, path string) (io.WriteCloser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst":
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	case ".br":
		return brotli.NewWriterLevel(w, brotli.DefaultCompression), nil
	}
	return nopCloser{w}, nil
}

func decompressReader(r io.Reader, path string) (io.ReadCloser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case ".br":
		return io.NopCloser(brotli.NewReader(r)), nil
	}
	return io.NopCloser(r), nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}

// ExportFile atomically writes a dump of all trees to path.
// The dump is compressed with zstd if path ends with .zst
// and with brotli if it ends with .br.
func ExportFile(db *store.Db, path string) (Stats, error) {
	return ExportTreesFile(db, path, nil)
}

// ExportTreesFile is like ExportFile for trees with given names
func ExportTreesFile(db *store.Db, path string, names []string) (Stats, error) {
	var stats Stats
	err := atomicfile.WriteFile(path, func(w io.Writer) error {
		cw, err := compressWriter(w, path)
		if err != nil {
			return err
		}
		stats, err = ExportTrees(db, cw, names)
		if err != nil {
			_ = cw.Close()
			return err
		}
		return cw.Close()
	})
	return stats, err
}

// ImportFile imports a dump created with ExportFile
func ImportFile(db *store.Db, path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()
	return ImportCompressed(db, f, path)
}

// ImportCompressed imports from r, decompressing based on extension of name
func ImportCompressed(db *store.Db, r io.Reader, name string) (Stats, error) {
	rc, err := decompressReader(r, name)
	if err != nil {
		return Stats{}, err
	}
	defer rc.Close()
	return Import(db, rc)
}

// ExportBytes returns a dump of all trees, compressed based on extension of name
func ExportBytes(db *store.Db, name string) ([]byte, Stats, error) {
	var buf bytes.Buffer
	cw, err := compressWriter(&buf, name)
	if err != nil {
		return nil, Stats{}, err
	}
	stats, err := Export(db, cw)
	if err != nil {
		_ = cw.Close()
		return nil, stats, err
	}
	if err = cw.Close(); err != nil {
		return nil, stats, err
	}
	return buf.Bytes(), stats, nil
}
