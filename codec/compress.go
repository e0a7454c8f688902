package codec

import (
	"bytes"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
)

// EncodeAll / DecodeAll are safe for concurrent use so one of each is enough
func zstdCoders() (*zstd.Encoder, *zstd.Decoder) {
	zstdOnce.Do(func() {
		var err error
		zstdEnc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		must(err)
		zstdDec, err = zstd.NewReader(nil)
		must(err)
	})
	return zstdEnc, zstdDec
}

// ZstdCompress compresses d with zstd
func ZstdCompress(d []byte) []byte {
	enc, _ := zstdCoders()
	return enc.EncodeAll(d, make([]byte, 0, len(d)/2))
}

// ZstdDecompress decompresses data created by ZstdCompress
func ZstdDecompress(d []byte) ([]byte, error) {
	_, dec := zstdCoders()
	return dec.DecodeAll(d, nil)
}

// BrotliCompress compresses d with brotli at a given level
func BrotliCompress(d []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, level)
	_, err := w.Write(d)
	if err != nil {
		return nil, err
	}
	err = w.Close()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BrotliDecompress decompresses data created by BrotliCompress
func BrotliDecompress(d []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(d))
	return io.ReadAll(r)
}

type zstdCodec[T any] struct {
	c Codec[T]
}

// Zstd wraps c so that encoded values are compressed with zstd.
// Worth it for large, repetitive values (text, JSON).
func Zstd[T any](c Codec[T]) Codec[T] {
	return zstdCodec[T]{c: c}
}

func (z zstdCodec[T]) Name() string {
	return z.c.Name() + ".zst"
}

func (z zstdCodec[T]) Encode(v T) ([]byte, error) {
	d, err := z.c.Encode(v)
	if err != nil {
		return nil, err
	}
	return ZstdCompress(d), nil
}

func (z zstdCodec[T]) Decode(d []byte) (T, error) {
	d, err := ZstdDecompress(d)
	if err != nil {
		var zero T
		return zero, err
	}
	return z.c.Decode(d)
}

type brotliCodec[T any] struct {
	c     Codec[T]
	level int
}

// Brotli wraps c so that encoded values are compressed with brotli.
// Compresses better than Zstd but is slower to write.
func Brotli[T any](c Codec[T]) Codec[T] {
	return brotliCodec[T]{c: c, level: brotli.DefaultCompression}
}

func (b brotliCodec[T]) Name() string {
	return b.c.Name() + ".br"
}

func (b brotliCodec[T]) Encode(v T) ([]byte, error) {
	d, err := b.c.Encode(v)
	if err != nil {
		return nil, err
	}
	return BrotliCompress(d, b.level)
}

func (b brotliCodec[T]) Decode(d []byte) (T, error) {
	d, err := BrotliDecompress(d)
	if err != nil {
		var zero T
		return zero, err
	}
	return b.c.Decode(d)
}
