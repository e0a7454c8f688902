// Package expiring is a typed tree whose keys expire.
//
// Expiration is tracked in two extra trees next to the data tree:
// "<name>-expires-at" maps a key to its expiration time and
// "<name>-expires-at-inverse" maps an expiration time to the keys expiring
// then, so that expired keys can be found without a full scan.
//
// Expired keys are not hidden or removed automatically. Call RemoveExpired
// periodically, or use Expired to decide what to do with them.
package expiring

import (
	"iter"
	"time"

	"github.com/kjk/typedkv/codec"
	"github.com/kjk/typedkv/log"
	"github.com/kjk/typedkv/store"
)

// Tree is a typed tree with expiring keys. It's safe for concurrent use.
type Tree[V any] struct {
	db        *store.Db
	data      *store.Tree[V]
	expiresAt *store.Tree[int64]
	inverse   *store.Tree[[][]byte]
	cfg       Config
}

// ExpiresAtTreeName returns the name of the tree mapping keys to their expiration
func ExpiresAtTreeName(name string) string {
	return name + "-expires-at"
}

// InverseTreeName returns the name of the tree mapping expiration time to keys
func InverseTreeName(name string) string {
	return name + "-expires-at-inverse"
}

// Open opens (creating if needed) an expiring tree. A nil config uses DefaultConfig().
func Open[V any](db *store.Db, name string, c codec.Codec[V], config *Config) (*Tree[V], error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	data, err := store.OpenTree(db, name, c)
	if err != nil {
		return nil, err
	}
	expiresAt, err := store.OpenTree(db, ExpiresAtTreeName(name), codec.Msgpack[int64]())
	if err != nil {
		return nil, err
	}
	inverse, err := store.OpenTree(db, InverseTreeName(name), codec.Msgpack[[][]byte]())
	if err != nil {
		return nil, err
	}
	return &Tree[V]{
		db:        db,
		data:      data,
		expiresAt: expiresAt,
		inverse:   inverse,
		cfg:       cfg,
	}, nil
}

func (t *Tree[V]) Name() string {
	return t.data.Name()
}

// Data returns the tree holding the values. Writes to it bypass expiration.
func (t *Tree[V]) Data() *store.Tree[V] {
	return t.data
}

func (t *Tree[V]) bind(tx *store.Tx) (*Tx[V], error) {
	data, err := store.Bind(tx, t.data)
	if err != nil {
		return nil, err
	}
	expiresAt, err := store.Bind(tx, t.expiresAt)
	if err != nil {
		return nil, err
	}
	inverse, err := store.Bind(tx, t.inverse)
	if err != nil {
		return nil, err
	}
	return &Tx[V]{
		t:         t,
		data:      data,
		expiresAt: expiresAt,
		inverse:   inverse,
		now:       t.cfg.Now(),
	}, nil
}

// Bind returns t bound to tx, for transactions spanning other trees
func Bind[V any](tx *store.Tx, t *Tree[V]) (*Tx[V], error) {
	return t.bind(tx)
}

// Transaction runs fn in a write transaction.
// If fn returns an error, nothing is written and the error is returned as is.
func (t *Tree[V]) Transaction(fn func(tx *Tx[V]) error) error {
	return t.db.Update(func(tx *store.Tx) error {
		etx, err := t.bind(tx)
		if err != nil {
			return err
		}
		return fn(etx)
	})
}

// Get returns the value at key. With ExtendOnFetch it also extends
// expiration of the key, which needs a write transaction.
func (t *Tree[V]) Get(key []byte) (v V, ok bool, err error) {
	if !t.cfg.ExtendOnFetch {
		return t.data.Get(key)
	}
	err = t.Transaction(func(tx *Tx[V]) error {
		v, ok, err = tx.Get(key)
		return err
	})
	return v, ok, err
}

func (t *Tree[V]) ContainsKey(key []byte) (bool, error) {
	return t.data.ContainsKey(key)
}

// Insert sets the value at key and returns the previous value.
// A new key gets an expiration, an existing one only with ExtendOnUpdate.
func (t *Tree[V]) Insert(key []byte, v V) (old V, existed bool, err error) {
	var decodeErr error
	err = t.Transaction(func(tx *Tx[V]) error {
		old, existed, err = tx.Insert(key, v)
		if isDecodeErr(err) {
			// the write still happens
			decodeErr = err
			return nil
		}
		return err
	})
	if err == nil {
		err = decodeErr
	}
	return old, existed, err
}

// Remove deletes the value at key and its expiration
func (t *Tree[V]) Remove(key []byte) (old V, existed bool, err error) {
	var decodeErr error
	err = t.Transaction(func(tx *Tx[V]) error {
		old, existed, err = tx.Remove(key)
		if isDecodeErr(err) {
			decodeErr = err
			return nil
		}
		return err
	})
	if err == nil {
		err = decodeErr
	}
	return old, existed, err
}

// CompareAndSwap is like store.Tree.CompareAndSwap.
// A removal also removes the expiration.
func (t *Tree[V]) CompareAndSwap(key []byte, old *V, proposed *V) error {
	return t.Transaction(func(tx *Tx[V]) error {
		return tx.CompareAndSwap(key, old, proposed)
	})
}

// UpdateAndFetch is like store.Tree.UpdateAndFetch
func (t *Tree[V]) UpdateAndFetch(key []byte, f store.UpdateFunc[V]) (v V, ok bool, err error) {
	err = t.Transaction(func(tx *Tx[V]) error {
		_, _, v, ok, err = tx.Update(key, f)
		return err
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return v, ok, nil
}

// FetchAndUpdate is like store.Tree.FetchAndUpdate
func (t *Tree[V]) FetchAndUpdate(key []byte, f store.UpdateFunc[V]) (old V, oldOk bool, err error) {
	err = t.Transaction(func(tx *Tx[V]) error {
		old, oldOk, _, _, err = tx.Update(key, f)
		return err
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return old, oldOk, nil
}

// touch extends expiration of key, if it still has a value
func (t *Tree[V]) touch(key []byte) error {
	return t.Transaction(func(tx *Tx[V]) error {
		if !tx.ContainsKey(key) {
			return nil
		}
		return tx.setExpiry(key, true)
	})
}

func (t *Tree[V]) fetched(item store.Item[V], ok bool, err error) (store.Item[V], bool, error) {
	if err != nil || !ok || !t.cfg.ExtendOnFetch {
		return item, ok, err
	}
	return item, ok, t.touch(item.Key)
}

func (t *Tree[V]) GetLT(key []byte) (store.Item[V], bool, error) {
	return t.fetched(t.data.GetLT(key))
}

func (t *Tree[V]) GetGT(key []byte) (store.Item[V], bool, error) {
	return t.fetched(t.data.GetGT(key))
}

func (t *Tree[V]) First() (store.Item[V], bool, error) {
	return t.fetched(t.data.First())
}

func (t *Tree[V]) Last() (store.Item[V], bool, error) {
	return t.fetched(t.data.Last())
}

func (t *Tree[V]) pop(fn func(tx *Tx[V]) (store.Item[V], bool, error)) (item store.Item[V], ok bool, err error) {
	var decodeErr error
	err = t.Transaction(func(tx *Tx[V]) error {
		item, ok, err = fn(tx)
		if isDecodeErr(err) {
			decodeErr = err
			return nil
		}
		return err
	})
	if err == nil {
		err = decodeErr
	}
	return item, ok, err
}

// PopMin atomically removes and returns the entry with the smallest key
func (t *Tree[V]) PopMin() (store.Item[V], bool, error) {
	return t.pop((*Tx[V]).PopMin)
}

// PopMax atomically removes and returns the entry with the greatest key
func (t *Tree[V]) PopMax() (store.Item[V], bool, error) {
	return t.pop((*Tx[V]).PopMax)
}

func (t *Tree[V]) Len() (int, error) {
	return t.data.Len()
}

func (t *Tree[V]) IsEmpty() (bool, error) {
	return t.data.IsEmpty()
}

// Clear removes all entries and expiration metadata
func (t *Tree[V]) Clear() error {
	return t.Transaction(func(tx *Tx[V]) error {
		return tx.Clear()
	})
}

func (t *Tree[V]) Flush() error {
	return t.db.Flush()
}

func (t *Tree[V]) NewBatch() *store.Batch[V] {
	return t.data.NewBatch()
}

// ApplyBatch atomically applies b and updates expiration of its keys
func (t *Tree[V]) ApplyBatch(b *store.Batch[V]) error {
	return t.Transaction(func(tx *Tx[V]) error {
		return tx.ApplyBatch(b)
	})
}

// ExpiresAt returns when key expires. ok is false if key has no expiration.
func (t *Tree[V]) ExpiresAt(key []byte) (time.Time, bool, error) {
	nanos, ok, err := t.expiresAt.Get(key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return time.Unix(0, nanos), true, nil
}

// Expired yields keys whose expiration is not after now, those that
// expired first come first.
func (t *Tree[V]) Expired() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		end := inverseKey(t.cfg.Now().UnixNano() + 1)
		for item, err := range t.inverse.Range(nil, end).All() {
			if err != nil {
				if !yield(item.Key, err) {
					return
				}
				continue
			}
			for _, k := range item.Value {
				if !yield(k, nil) {
					return
				}
			}
		}
	}
}

// RemoveExpired removes expired keys and returns how many were removed.
// Values that fail to decode are removed too.
func (t *Tree[V]) RemoveExpired() (int, error) {
	var keys [][]byte
	for k, err := range t.Expired() {
		if err != nil {
			return 0, err
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n := 0
	err := t.Transaction(func(tx *Tx[V]) error {
		now := tx.now.UnixNano()
		for _, k := range keys {
			// expiration might have been extended since we looked
			nanos, ok, err := tx.expiresAt.Get(k)
			if err != nil {
				return err
			}
			if !ok || nanos > now {
				continue
			}
			_, existed, err := tx.Remove(k)
			if err != nil && !isDecodeErr(err) {
				return err
			}
			if existed || isDecodeErr(err) {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	log.Verbosef("expiring: removed %d expired keys from '%s'\n", n, t.Name())
	log.Event("expired", "tree", t.Name(), "removed", n)
	return n, nil
}
