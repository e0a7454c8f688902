package expiring

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"

	"github.com/kjk/typedkv/store"
)

// Tx is an expiring tree bound to a write transaction.
// Data and expiration metadata change together.
type Tx[V any] struct {
	t         *Tree[V]
	data      *store.TreeTx[V]
	expiresAt *store.TreeTx[int64]
	inverse   *store.TreeTx[[][]byte]
	now       time.Time
}

// inverseKey orders expiration times in byte order.
// The sign bit is flipped so times before 1970 sort first.
func inverseKey(nanos int64) []byte {
	var d [8]byte
	binary.BigEndian.PutUint64(d[:], uint64(nanos)^(1<<63))
	return d[:]
}

func isDecodeErr(err error) bool {
	return errors.Is(err, store.ErrDecode)
}

func (tx *Tx[V]) addToInverse(nanos int64, key []byte) error {
	_, _, _, _, err := tx.inverse.Update(inverseKey(nanos), func(keys [][]byte, ok bool) ([][]byte, bool) {
		for _, k := range keys {
			if bytes.Equal(k, key) {
				return keys, true
			}
		}
		return append(keys, key), true
	})
	return err
}

func (tx *Tx[V]) removeFromInverse(nanos int64, key []byte) error {
	_, _, _, _, err := tx.inverse.Update(inverseKey(nanos), func(keys [][]byte, ok bool) ([][]byte, bool) {
		var res [][]byte
		for _, k := range keys {
			if !bytes.Equal(k, key) {
				res = append(res, k)
			}
		}
		return res, len(res) > 0
	})
	return err
}

// setExpiry gives key an expiration. An existing one is only
// moved if extend is true.
func (tx *Tx[V]) setExpiry(key []byte, extend bool) error {
	cur, ok, err := tx.expiresAt.Get(key)
	if err != nil {
		return err
	}
	if ok && !extend {
		return nil
	}
	if ok {
		if err = tx.removeFromInverse(cur, key); err != nil {
			return err
		}
	}
	exp := tx.now.Add(tx.t.cfg.ExpirationLength).UnixNano()
	if _, _, err = tx.expiresAt.Insert(key, exp); err != nil {
		return err
	}
	return tx.addToInverse(exp, key)
}

func (tx *Tx[V]) clearExpiry(key []byte) error {
	cur, ok, err := tx.expiresAt.Remove(key)
	if err != nil || !ok {
		return err
	}
	return tx.removeFromInverse(cur, key)
}

// afterWrite updates expiration of key given whether it has a value now
func (tx *Tx[V]) afterWrite(key []byte, present bool) error {
	if present {
		return tx.setExpiry(key, tx.t.cfg.ExtendOnUpdate)
	}
	return tx.clearExpiry(key)
}

// Get returns the value at key, extending its expiration with ExtendOnFetch
func (tx *Tx[V]) Get(key []byte) (V, bool, error) {
	v, ok, err := tx.data.Get(key)
	if err != nil || !ok || !tx.t.cfg.ExtendOnFetch {
		return v, ok, err
	}
	return v, ok, tx.setExpiry(key, true)
}

func (tx *Tx[V]) ContainsKey(key []byte) bool {
	return tx.data.ContainsKey(key)
}

// Insert sets the value at key. A decode error of the previous value
// is returned after the write is done.
func (tx *Tx[V]) Insert(key []byte, v V) (V, bool, error) {
	old, existed, err := tx.data.Insert(key, v)
	if err != nil && !isDecodeErr(err) {
		return old, existed, err
	}
	if err2 := tx.afterWrite(key, true); err2 != nil {
		return old, existed, err2
	}
	return old, existed, err
}

func (tx *Tx[V]) Remove(key []byte) (V, bool, error) {
	old, existed, err := tx.data.Remove(key)
	if err != nil && !isDecodeErr(err) {
		return old, existed, err
	}
	if err2 := tx.clearExpiry(key); err2 != nil {
		return old, existed, err2
	}
	return old, existed, err
}

func (tx *Tx[V]) CompareAndSwap(key []byte, old *V, proposed *V) error {
	if err := tx.data.CompareAndSwap(key, old, proposed); err != nil {
		return err
	}
	return tx.afterWrite(key, proposed != nil)
}

// Update replaces the value at key with the result of f
func (tx *Tx[V]) Update(key []byte, f store.UpdateFunc[V]) (old V, oldOk bool, v V, ok bool, err error) {
	old, oldOk, v, ok, err = tx.data.Update(key, f)
	if err != nil {
		return
	}
	err = tx.afterWrite(key, ok)
	return
}

// pop removes the entry found by first, even if its value doesn't decode
func (tx *Tx[V]) pop(first func() (store.Item[V], bool, error)) (store.Item[V], bool, error) {
	item, ok, err := first()
	if err != nil && !isDecodeErr(err) {
		return item, false, err
	}
	if item.Key == nil {
		return item, false, nil
	}
	if _, _, err2 := tx.data.Remove(item.Key); err2 != nil && !isDecodeErr(err2) {
		return item, false, err2
	}
	if err2 := tx.clearExpiry(item.Key); err2 != nil {
		return item, false, err2
	}
	return item, ok, err
}

func (tx *Tx[V]) PopMin() (store.Item[V], bool, error) {
	return tx.pop(tx.data.First)
}

func (tx *Tx[V]) PopMax() (store.Item[V], bool, error) {
	return tx.pop(tx.data.Last)
}

// ApplyBatch applies b. Keys left with a value get an expiration,
// removed keys lose it.
func (tx *Tx[V]) ApplyBatch(b *store.Batch[V]) error {
	if err := tx.data.ApplyBatch(b); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, k := range b.Keys() {
		if seen[string(k)] {
			continue
		}
		seen[string(k)] = true
		if err := tx.afterWrite(k, tx.data.ContainsKey(k)); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes all entries and their expiration
func (tx *Tx[V]) Clear() error {
	if err := tx.data.Clear(); err != nil {
		return err
	}
	if err := tx.expiresAt.Clear(); err != nil {
		return err
	}
	return tx.inverse.Clear()
}

// ExpiresAt returns when key expires
func (tx *Tx[V]) ExpiresAt(key []byte) (time.Time, bool, error) {
	nanos, ok, err := tx.expiresAt.Get(key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return time.Unix(0, nanos), true, nil
}
