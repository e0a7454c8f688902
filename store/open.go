package store

import "github.com/kjk/typedkv/codec"

// OpenJSONTree opens a tree storing values as JSON.
// Readable with any tool, tolerant of added and removed fields.
func OpenJSONTree[V any](db *Db, name string) (*Tree[V], error) {
	return OpenTree(db, name, codec.JSON[V]())
}

// OpenMsgpackTree opens a tree storing values as compact, positional msgpack.
// The smallest and fastest encoding, but adding or removing struct fields
// makes existing values undecodable.
func OpenMsgpackTree[V any](db *Db, name string) (*Tree[V], error) {
	return OpenTree(db, name, codec.Msgpack[V]())
}

// OpenCBORTree opens a tree storing values as self-describing CBOR
func OpenCBORTree[V any](db *Db, name string) (*Tree[V], error) {
	return OpenTree(db, name, codec.CBOR[V]())
}

func OpenYAMLTree[V any](db *Db, name string) (*Tree[V], error) {
	return OpenTree(db, name, codec.YAML[V]())
}
