// Package codec defines how typed values are turned into bytes stored in a tree
// and back.
//
// A Codec is fixed for the lifetime of a tree. Reading bytes written by one codec
// with another is a caller error: when the bytes fail to parse Decode returns
// an error, but a foreign encoding that happens to parse yields whatever the
// codec makes of it.
package codec

import (
	"bytes"
	"fmt"
	"sort"
)

// Codec encodes values of type T to bytes and decodes them back.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(d []byte) (T, error)
	// Name identifies the scheme in errors and tools
	Name() string
}

type plainCodec struct{}

// Plain returns a codec that stores []byte values as is.
func Plain() Codec[[]byte] {
	return plainCodec{}
}

func (plainCodec) Name() string {
	return "plain"
}

func (plainCodec) Encode(v []byte) ([]byte, error) {
	return bytes.Clone(v), nil
}

func (plainCodec) Decode(d []byte) ([]byte, error) {
	return bytes.Clone(d), nil
}

// plainAny adapts Plain to Codec[any] for tools that don't know value types
type plainAny struct{}

func (plainAny) Name() string {
	return "plain"
}

func (plainAny) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return bytes.Clone(b), nil
	case string:
		return []byte(b), nil
	}
	return nil, fmt.Errorf("plain: can't encode value of type %T", v)
}

func (plainAny) Decode(d []byte) (any, error) {
	return bytes.Clone(d), nil
}

var byName = map[string]func() Codec[any]{
	"plain":   func() Codec[any] { return plainAny{} },
	"json":    func() Codec[any] { return JSON[any]() },
	"yaml":    func() Codec[any] { return YAML[any]() },
	"msgpack": func() Codec[any] { return Msgpack[any]() },
	"cbor":    func() Codec[any] { return CBOR[any]() },

	"msgpack.zst": func() Codec[any] { return Zstd(Msgpack[any]()) },
	"cbor.zst":    func() Codec[any] { return Zstd(CBOR[any]()) },
	"json.zst":    func() Codec[any] { return Zstd(JSON[any]()) },
	"json.br":     func() Codec[any] { return Brotli(JSON[any]()) },
}

// ForName returns an untyped codec for a scheme name as returned by Name().
// Values decode into maps, slices and scalars.
func ForName(name string) (Codec[any], error) {
	fn, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown codec '%s', known: %v", name, Names())
	}
	return fn(), nil
}

// Names returns names accepted by ForName, sorted
func Names() []string {
	var res []string
	for name := range byName {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}
