package store

import (
	"bytes"
	"errors"

	bolt "go.etcd.io/bbolt"

	"github.com/kjk/typedkv/codec"
)

// Tree is a named, ordered map from byte keys to values of type V.
// Values are stored encoded with a codec fixed when the tree is opened.
// Keys are ordered bytewise. A Tree is safe for concurrent use.
type Tree[V any] struct {
	db    *Db
	name  string
	bname []byte
	codec codec.Codec[V]
}

// OpenTree opens the tree name, creating it if it doesn't exist.
// Trees are created lazily, an empty tree is indistinguishable from
// a tree just created.
// In a read-only database the tree must exist.
func OpenTree[V any](db *Db, name string, c codec.Codec[V]) (*Tree[V], error) {
	if name == "" {
		return nil, &Error{Op: "open tree", Kind: ErrStore, Err: errors.New("empty tree name")}
	}
	bname := []byte(name)
	var err error
	if db.IsReadOnly() {
		err = db.bdb.View(func(tx *bolt.Tx) error {
			if tx.Bucket(bname) == nil {
				return ErrTreeNotFound
			}
			return nil
		})
	} else {
		err = db.bdb.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bname)
			return err
		})
	}
	if err != nil {
		return nil, wrapStore("open tree", name, nil, err)
	}
	return &Tree[V]{
		db:    db,
		name:  name,
		bname: bname,
		codec: c,
	}, nil
}

// OpenRawTree opens a tree storing []byte values unchanged
func (db *Db) OpenRawTree(name string) (*Tree[[]byte], error) {
	return OpenTree(db, name, codec.Plain())
}

func (t *Tree[V]) Name() string {
	return t.name
}

func (t *Tree[V]) Codec() codec.Codec[V] {
	return t.codec
}

func (t *Tree[V]) Db() *Db {
	return t.db
}

func (t *Tree[V]) bucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	b := tx.Bucket(t.bname)
	if b == nil {
		return nil, ErrTreeNotFound
	}
	return b, nil
}

func (t *Tree[V]) view(op string, key []byte, fn func(b *bolt.Bucket) error) error {
	err := t.db.bdb.View(func(tx *bolt.Tx) error {
		b, err := t.bucket(tx)
		if err != nil {
			return err
		}
		return fn(b)
	})
	return wrapStore(op, t.name, key, err)
}

func (t *Tree[V]) update(op string, key []byte, fn func(b *bolt.Bucket) error) error {
	err := t.db.bdb.Update(func(tx *bolt.Tx) error {
		b, err := t.bucket(tx)
		if err != nil {
			return err
		}
		return fn(b)
	})
	return wrapStore(op, t.name, key, err)
}

func (t *Tree[V]) encode(op string, key []byte, v V) ([]byte, error) {
	d, err := t.codec.Encode(v)
	if err != nil {
		return nil, &Error{Op: op, Tree: t.name, Key: key, Kind: ErrEncode, Err: err}
	}
	return d, nil
}

func (t *Tree[V]) decode(op string, key []byte, d []byte) (V, error) {
	v, err := t.codec.Decode(d)
	if err != nil {
		var zero V
		return zero, &Error{Op: op, Tree: t.name, Key: key, Kind: ErrDecode, Err: err}
	}
	return v, nil
}

// decodeOpt decodes d if ok is true
func (t *Tree[V]) decodeOpt(op string, key []byte, d []byte, ok bool) (V, bool, error) {
	var zero V
	if !ok {
		return zero, false, nil
	}
	v, err := t.decode(op, key, d)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// bytes returned by bbolt are only valid inside a transaction
func copyBytes(d []byte) []byte {
	return append([]byte{}, d...)
}

// rawGet returns a copy of the value at key
func rawGet(b *bolt.Bucket, key []byte) ([]byte, bool) {
	k, v := b.Cursor().Seek(key)
	// v is nil for nested buckets
	if k == nil || v == nil || !bytes.Equal(k, key) {
		return nil, false
	}
	return copyBytes(v), true
}

func rawPut(b *bolt.Bucket, key []byte, d []byte) ([]byte, bool, error) {
	prev, existed := rawGet(b, key)
	return prev, existed, b.Put(key, d)
}

func rawDelete(b *bolt.Bucket, key []byte) ([]byte, bool, error) {
	prev, existed := rawGet(b, key)
	if !existed {
		return nil, false, nil
	}
	return prev, true, b.Delete(key)
}

// Get returns the value at key. ok is false if there's no value.
func (t *Tree[V]) Get(key []byte) (v V, ok bool, err error) {
	var d []byte
	err = t.view("get", key, func(b *bolt.Bucket) error {
		d, ok = rawGet(b, key)
		return nil
	})
	if err != nil {
		return v, false, err
	}
	return t.decodeOpt("get", key, d, ok)
}

// ContainsKey returns true if there's a value at key. Doesn't decode the value.
func (t *Tree[V]) ContainsKey(key []byte) (bool, error) {
	var ok bool
	err := t.view("contains key", key, func(b *bolt.Bucket) error {
		_, ok = rawGet(b, key)
		return nil
	})
	return ok, err
}

// Insert sets the value at key and returns the previous value, if any.
// If the previous value can't be decoded the new value is still written
// and a decode error is returned.
func (t *Tree[V]) Insert(key []byte, v V) (old V, existed bool, err error) {
	d, err := t.encode("insert", key, v)
	if err != nil {
		return old, false, err
	}
	var prev []byte
	err = t.update("insert", key, func(b *bolt.Bucket) error {
		prev, existed, err = rawPut(b, key, d)
		return err
	})
	if err != nil {
		return old, false, err
	}
	return t.decodeOpt("insert", key, prev, existed)
}

// Remove deletes the value at key and returns it, if there was one.
func (t *Tree[V]) Remove(key []byte) (old V, existed bool, err error) {
	var prev []byte
	err = t.update("remove", key, func(b *bolt.Bucket) error {
		prev, existed, err = rawDelete(b, key)
		return err
	})
	if err != nil {
		return old, false, err
	}
	return t.decodeOpt("remove", key, prev, existed)
}

// CompareAndSwap atomically replaces the value at key with proposed if
// the current value is old. A nil old means "no value", a nil proposed
// removes the value.
// Values are compared in encoded form.
// On mismatch returns *CompareAndSwapError with the current value.
func (t *Tree[V]) CompareAndSwap(key []byte, old *V, proposed *V) error {
	var oldEnc, newEnc []byte
	var err error
	if old != nil {
		if oldEnc, err = t.encode("compare and swap", key, *old); err != nil {
			return err
		}
	}
	if proposed != nil {
		if newEnc, err = t.encode("compare and swap", key, *proposed); err != nil {
			return err
		}
	}
	var cur []byte
	var curOk, swapped bool
	err = t.update("compare and swap", key, func(b *bolt.Bucket) error {
		cur, curOk = rawGet(b, key)
		swapped, err = casRaw(b, key, cur, curOk, oldEnc, old != nil, newEnc, proposed != nil)
		return err
	})
	if err != nil || swapped {
		return err
	}
	return t.casError("compare and swap", key, cur, curOk, proposed)
}

// casRaw writes newEnc (or deletes if !hasNew) if cur matches oldEnc
func casRaw(b *bolt.Bucket, key []byte, cur []byte, curOk bool, oldEnc []byte, hasOld bool, newEnc []byte, hasNew bool) (bool, error) {
	match := (!hasOld && !curOk) || (hasOld && curOk && bytes.Equal(cur, oldEnc))
	if !match {
		return false, nil
	}
	if !hasNew {
		if curOk {
			return true, b.Delete(key)
		}
		return true, nil
	}
	return true, b.Put(key, newEnc)
}

func (t *Tree[V]) casError(op string, key []byte, cur []byte, curOk bool, proposed *V) error {
	res := &CompareAndSwapError[V]{Proposed: proposed}
	if curOk {
		v, err := t.decode(op, key, cur)
		if err != nil {
			return err
		}
		res.Current = &v
	}
	return res
}

// UpdateFunc receives the current value (ok is false if there's none) and
// returns the new value. Returning false for keep removes the value.
type UpdateFunc[V any] func(old V, ok bool) (v V, keep bool)

// UpdateAndFetch atomically replaces the value at key with the result of f
// and returns the new value.
// f is called exactly once. If the current value can't be decoded or the new
// one encoded, nothing is written and the error is returned.
func (t *Tree[V]) UpdateAndFetch(key []byte, f UpdateFunc[V]) (V, bool, error) {
	_, _, v, ok, err := t.updateWith("update and fetch", key, f)
	return v, ok, err
}

// FetchAndUpdate is like UpdateAndFetch but returns the previous value.
func (t *Tree[V]) FetchAndUpdate(key []byte, f UpdateFunc[V]) (V, bool, error) {
	old, oldOk, _, _, err := t.updateWith("fetch and update", key, f)
	return old, oldOk, err
}

func (t *Tree[V]) updateWith(op string, key []byte, f UpdateFunc[V]) (old V, oldOk bool, v V, ok bool, err error) {
	err = t.update(op, key, func(b *bolt.Bucket) error {
		old, oldOk, v, ok, err = applyUpdate(t, op, b, key, f)
		return err
	})
	if err != nil {
		var zero V
		return zero, false, zero, false, err
	}
	return old, oldOk, v, ok, nil
}

func applyUpdate[V any](t *Tree[V], op string, b *bolt.Bucket, key []byte, f UpdateFunc[V]) (old V, oldOk bool, v V, ok bool, err error) {
	d, oldOk := rawGet(b, key)
	old, oldOk, err = t.decodeOpt(op, key, d, oldOk)
	if err != nil {
		return
	}
	v, ok = f(old, oldOk)
	if !ok {
		if oldOk {
			err = b.Delete(key)
		}
		return
	}
	d, err = t.encode(op, key, v)
	if err != nil {
		return
	}
	err = b.Put(key, d)
	return
}

// seekFn positions a cursor and returns the entry to use
type seekFn func(c *bolt.Cursor) ([]byte, []byte)

// cursor helpers skip nested buckets, which have nil values
func skipBuckets(k, v []byte, next func() ([]byte, []byte)) ([]byte, []byte) {
	for k != nil && v == nil {
		k, v = next()
	}
	return k, v
}

func seekFirst(c *bolt.Cursor) ([]byte, []byte) {
	k, v := c.First()
	return skipBuckets(k, v, c.Next)
}

func seekLast(c *bolt.Cursor) ([]byte, []byte) {
	k, v := c.Last()
	return skipBuckets(k, v, c.Prev)
}

// seekLT returns the greatest entry with key < key
func seekLT(key []byte) seekFn {
	return func(c *bolt.Cursor) ([]byte, []byte) {
		k, v := c.Seek(key)
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
		return skipBuckets(k, v, c.Prev)
	}
}

// seekGT returns the smallest entry with key > key
func seekGT(key []byte) seekFn {
	return func(c *bolt.Cursor) ([]byte, []byte) {
		k, v := c.Seek(key)
		if k != nil && bytes.Equal(k, key) {
			k, v = c.Next()
		}
		return skipBuckets(k, v, c.Next)
	}
}

func (t *Tree[V]) getAt(op string, seek seekFn) (Item[V], bool, error) {
	var k, d []byte
	err := t.view(op, nil, func(b *bolt.Bucket) error {
		k, d = seek(b.Cursor())
		if k != nil {
			k, d = copyBytes(k), copyBytes(d)
		}
		return nil
	})
	if err != nil || k == nil {
		return Item[V]{}, false, err
	}
	v, err := t.decode(op, k, d)
	if err != nil {
		return Item[V]{}, false, err
	}
	return Item[V]{Key: k, Value: v}, true, nil
}

// GetLT returns the entry with the greatest key less than key
func (t *Tree[V]) GetLT(key []byte) (Item[V], bool, error) {
	return t.getAt("get lt", seekLT(key))
}

// GetGT returns the entry with the smallest key greater than key
func (t *Tree[V]) GetGT(key []byte) (Item[V], bool, error) {
	return t.getAt("get gt", seekGT(key))
}

// First returns the entry with the smallest key
func (t *Tree[V]) First() (Item[V], bool, error) {
	return t.getAt("first", seekFirst)
}

// Last returns the entry with the greatest key
func (t *Tree[V]) Last() (Item[V], bool, error) {
	return t.getAt("last", seekLast)
}

func (t *Tree[V]) popAt(op string, seek seekFn) (Item[V], bool, error) {
	var k, d []byte
	err := t.update(op, nil, func(b *bolt.Bucket) error {
		k, d = seek(b.Cursor())
		if k == nil {
			return nil
		}
		k, d = copyBytes(k), copyBytes(d)
		return b.Delete(k)
	})
	if err != nil || k == nil {
		return Item[V]{}, false, err
	}
	v, err := t.decode(op, k, d)
	if err != nil {
		// the entry is removed, the key tells which one
		return Item[V]{Key: k}, false, err
	}
	return Item[V]{Key: k, Value: v}, true, nil
}

// PopMin atomically removes and returns the entry with the smallest key
func (t *Tree[V]) PopMin() (Item[V], bool, error) {
	return t.popAt("pop min", seekFirst)
}

// PopMax atomically removes and returns the entry with the greatest key
func (t *Tree[V]) PopMax() (Item[V], bool, error) {
	return t.popAt("pop max", seekLast)
}

// Len returns the number of entries. It's O(n).
func (t *Tree[V]) Len() (int, error) {
	var n int
	err := t.view("len", nil, func(b *bolt.Bucket) error {
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			// nested buckets are not entries
			if v != nil {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (t *Tree[V]) IsEmpty() (bool, error) {
	var empty bool
	err := t.view("is empty", nil, func(b *bolt.Bucket) error {
		k, _ := b.Cursor().First()
		empty = k == nil
		return nil
	})
	return empty, err
}

// Clear removes all entries
func (t *Tree[V]) Clear() error {
	err := t.db.bdb.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(t.bname); err != nil {
			if errors.Is(err, bolt.ErrBucketNotFound) {
				return ErrTreeNotFound
			}
			return err
		}
		_, err := tx.CreateBucket(t.bname)
		return err
	})
	return wrapStore("clear", t.name, nil, err)
}

// Flush syncs the database to disk
func (t *Tree[V]) Flush() error {
	return t.db.Flush()
}

// Raw returns a view of the same tree that operates on encoded bytes
func (t *Tree[V]) Raw() *Tree[[]byte] {
	return &Tree[[]byte]{
		db:    t.db,
		name:  t.name,
		bname: t.bname,
		codec: codec.Plain(),
	}
}

// Transaction runs fn in a read-write transaction on this tree.
// If fn returns an error, nothing is written and the error is returned as is.
func (t *Tree[V]) Transaction(fn func(tx *TreeTx[V]) error) error {
	return t.db.Update(func(tx *Tx) error {
		ttx, err := Bind(tx, t)
		if err != nil {
			return err
		}
		return fn(ttx)
	})
}
