package codec

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
)

type msgpackCodec[T any] struct{}

// Msgpack returns the compact binary record codec.
// Structs are written as positional arrays without field names so the layout
// is not self-describing: decoding fails if the number of fields changed.
func Msgpack[T any]() Codec[T] {
	return msgpackCodec[T]{}
}

func (msgpackCodec[T]) Name() string {
	return "msgpack"
}

func (msgpackCodec[T]) Encode(v T) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseArrayEncodedStructs(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode fails if d has bytes left over after a complete value.
func (msgpackCodec[T]) Decode(d []byte) (T, error) {
	var v T
	r := bytes.NewReader(d)
	dec := msgpack.NewDecoder(r)
	if err := dec.Decode(&v); err != nil {
		return v, err
	}
	if r.Len() > 0 {
		return v, fmt.Errorf("msgpack: %d bytes of extraneous data", r.Len())
	}
	return v, nil
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	// core deterministic encoding: same value, same bytes
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	must(err)
	opts := cbor.DecOptions{
		// so that decoding into any gives map[string]any, like json
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}
	cborDec, err = opts.DecMode()
	must(err)
}

type cborCodec[T any] struct{}

// CBOR returns the self-describing binary codec (RFC 8949).
// Fields are keyed by name so reordering and optional fields are tolerated.
// Structs without cbor tags use their json tags.
func CBOR[T any]() Codec[T] {
	return cborCodec[T]{}
}

func (cborCodec[T]) Name() string {
	return "cbor"
}

func (cborCodec[T]) Encode(v T) ([]byte, error) {
	return cborEnc.Marshal(v)
}

func (cborCodec[T]) Decode(d []byte) (T, error) {
	var v T
	err := cborDec.Unmarshal(d, &v)
	return v, err
}

type protoCodec[T proto.Message] struct{}

// Proto returns a codec for generated protobuf messages, e.g.
// Proto[*pb.User](). Encoding is deterministic.
func Proto[T proto.Message]() Codec[T] {
	return protoCodec[T]{}
}

func (protoCodec[T]) Name() string {
	return "proto"
}

func (protoCodec[T]) Encode(v T) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(v)
}

func (protoCodec[T]) Decode(d []byte) (T, error) {
	var zero T
	// generated messages answer ProtoReflect() on a nil pointer
	m := zero.ProtoReflect().Type().New().Interface()
	if err := proto.Unmarshal(d, m); err != nil {
		return zero, err
	}
	return m.(T), nil
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
