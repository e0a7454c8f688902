package store

import (
	bolt "go.etcd.io/bbolt"

	"github.com/kjk/typedkv/codec"
)

type batchOp struct {
	key    []byte
	value  []byte
	remove bool
}

// Batch collects inserts and removals applied atomically by ApplyBatch.
// Values are encoded when added so an encode error is reported
// before anything is written.
// Later operations on the same key win.
type Batch[V any] struct {
	codec codec.Codec[V]
	ops   []batchOp
}

// NewBatch returns an empty batch encoding values with c
func NewBatch[V any](c codec.Codec[V]) *Batch[V] {
	return &Batch[V]{codec: c}
}

// NewBatch returns an empty batch for this tree
func (t *Tree[V]) NewBatch() *Batch[V] {
	return NewBatch(t.codec)
}

func (b *Batch[V]) Insert(key []byte, v V) error {
	d, err := b.codec.Encode(v)
	if err != nil {
		return &Error{Op: "batch insert", Key: key, Kind: ErrEncode, Err: err}
	}
	b.ops = append(b.ops, batchOp{key: copyBytes(key), value: d})
	return nil
}

func (b *Batch[V]) Remove(key []byte) {
	b.ops = append(b.ops, batchOp{key: copyBytes(key), remove: true})
}

// Len returns the number of operations
func (b *Batch[V]) Len() int {
	return len(b.ops)
}

// Keys returns keys of all operations, in order they were added
func (b *Batch[V]) Keys() [][]byte {
	res := make([][]byte, len(b.ops))
	for i, op := range b.ops {
		res[i] = op.key
	}
	return res
}

func (b *Batch[V]) apply(bucket *bolt.Bucket) error {
	for _, op := range b.ops {
		var err error
		if op.remove {
			err = bucket.Delete(op.key)
		} else {
			err = bucket.Put(op.key, op.value)
		}
		if err != nil {
			return &Error{Op: "apply batch", Key: op.key, Kind: ErrStore, Err: err}
		}
	}
	return nil
}

// ApplyBatch atomically applies all operations of b
func (t *Tree[V]) ApplyBatch(b *Batch[V]) error {
	err := t.update("apply batch", nil, func(bucket *bolt.Bucket) error {
		return b.apply(bucket)
	})
	if e, ok := err.(*Error); ok && e.Tree == "" {
		e.Tree = t.name
	}
	return err
}
