package store

import (
	bolt "go.etcd.io/bbolt"
)

// TreeTx is a tree bound to a transaction. All reads see the transaction's
// view, including its own writes. Writes become visible to others on commit.
//
// TreeTx is only valid inside the function passed to Update, View or
// Transaction. Writes in a View transaction fail.
//
// Unlike Tree methods, a decode error of a previous value returned by
// Insert or Remove doesn't undo the write by itself: returning it from
// the transaction function does.
type TreeTx[V any] struct {
	t *Tree[V]
	b *bolt.Bucket
}

// Bind returns t bound to tx
func Bind[V any](tx *Tx, t *Tree[V]) (*TreeTx[V], error) {
	b, err := t.bucket(tx.btx)
	if err != nil {
		return nil, wrapStore("bind", t.name, nil, err)
	}
	return &TreeTx[V]{t: t, b: b}, nil
}

func (tx *TreeTx[V]) Tree() *Tree[V] {
	return tx.t
}

func (tx *TreeTx[V]) wrap(op string, key []byte, err error) error {
	return wrapStore(op, tx.t.name, key, err)
}

func (tx *TreeTx[V]) Get(key []byte) (V, bool, error) {
	d, ok := rawGet(tx.b, key)
	return tx.t.decodeOpt("get", key, d, ok)
}

func (tx *TreeTx[V]) ContainsKey(key []byte) bool {
	_, ok := rawGet(tx.b, key)
	return ok
}

func (tx *TreeTx[V]) Insert(key []byte, v V) (V, bool, error) {
	var zero V
	d, err := tx.t.encode("insert", key, v)
	if err != nil {
		return zero, false, err
	}
	prev, existed, err := rawPut(tx.b, key, d)
	if err != nil {
		return zero, false, tx.wrap("insert", key, err)
	}
	return tx.t.decodeOpt("insert", key, prev, existed)
}

func (tx *TreeTx[V]) Remove(key []byte) (V, bool, error) {
	prev, existed, err := rawDelete(tx.b, key)
	if err != nil {
		var zero V
		return zero, false, tx.wrap("remove", key, err)
	}
	return tx.t.decodeOpt("remove", key, prev, existed)
}

// CompareAndSwap is like Tree.CompareAndSwap
func (tx *TreeTx[V]) CompareAndSwap(key []byte, old *V, proposed *V) error {
	const op = "compare and swap"
	var oldEnc, newEnc []byte
	var err error
	if old != nil {
		if oldEnc, err = tx.t.encode(op, key, *old); err != nil {
			return err
		}
	}
	if proposed != nil {
		if newEnc, err = tx.t.encode(op, key, *proposed); err != nil {
			return err
		}
	}
	cur, curOk := rawGet(tx.b, key)
	swapped, err := casRaw(tx.b, key, cur, curOk, oldEnc, old != nil, newEnc, proposed != nil)
	if err != nil {
		return tx.wrap(op, key, err)
	}
	if swapped {
		return nil
	}
	return tx.t.casError(op, key, cur, curOk, proposed)
}

// Update replaces the value at key with the result of f. Returns the
// previous and the new value.
func (tx *TreeTx[V]) Update(key []byte, f UpdateFunc[V]) (old V, oldOk bool, v V, ok bool, err error) {
	old, oldOk, v, ok, err = applyUpdate(tx.t, "update", tx.b, key, f)
	return old, oldOk, v, ok, tx.wrap("update", key, err)
}

func (tx *TreeTx[V]) getAt(op string, seek seekFn) (Item[V], bool, error) {
	k, d := seek(tx.b.Cursor())
	if k == nil {
		return Item[V]{}, false, nil
	}
	k = copyBytes(k)
	v, err := tx.t.decode(op, k, d)
	if err != nil {
		return Item[V]{Key: k}, false, err
	}
	return Item[V]{Key: k, Value: v}, true, nil
}

func (tx *TreeTx[V]) First() (Item[V], bool, error) {
	return tx.getAt("first", seekFirst)
}

func (tx *TreeTx[V]) Last() (Item[V], bool, error) {
	return tx.getAt("last", seekLast)
}

func (tx *TreeTx[V]) GetLT(key []byte) (Item[V], bool, error) {
	return tx.getAt("get lt", seekLT(key))
}

func (tx *TreeTx[V]) GetGT(key []byte) (Item[V], bool, error) {
	return tx.getAt("get gt", seekGT(key))
}

// Len returns the number of entries, including uncommitted writes
func (tx *TreeTx[V]) Len() int {
	n := 0
	c := tx.b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if v != nil {
			n++
		}
	}
	return n
}

// ApplyBatch applies all operations of b in this transaction
func (tx *TreeTx[V]) ApplyBatch(b *Batch[V]) error {
	err := b.apply(tx.b)
	if e, ok := err.(*Error); ok {
		e.Tree = tx.t.name
	}
	return err
}

// Clear removes all entries
func (tx *TreeTx[V]) Clear() error {
	var keys [][]byte
	c := tx.b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if v != nil {
			keys = append(keys, copyBytes(k))
		}
	}
	for _, k := range keys {
		if err := tx.b.Delete(k); err != nil {
			return tx.wrap("clear", k, err)
		}
	}
	return nil
}
