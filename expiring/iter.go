package expiring

import (
	"iter"

	"github.com/kjk/typedkv/store"
)

// Iter iterates over a range of an expiring tree.
// With ExtendOnFetch every yielded key gets its expiration extended.
type Iter[V any] struct {
	t  *Tree[V]
	it *store.Iter[V]
}

func (t *Tree[V]) Iter() *Iter[V] {
	return &Iter[V]{t: t, it: t.data.Iter()}
}

// Range iterates over entries with start <= key < end
func (t *Tree[V]) Range(start, end []byte) *Iter[V] {
	return &Iter[V]{t: t, it: t.data.Range(start, end)}
}

func (t *Tree[V]) ScanPrefix(prefix []byte) *Iter[V] {
	return &Iter[V]{t: t, it: t.data.ScanPrefix(prefix)}
}

func (it *Iter[V]) Rev() *Iter[V] {
	return &Iter[V]{t: it.t, it: it.it.Rev()}
}

// All is like store.Iter.All
func (it *Iter[V]) All() iter.Seq2[store.Item[V], error] {
	return func(yield func(store.Item[V], error) bool) {
		for item, err := range it.it.All() {
			if err == nil && it.t.cfg.ExtendOnFetch {
				err = it.t.touch(item.Key)
			}
			if !yield(item, err) {
				return
			}
		}
	}
}

func (it *Iter[V]) Keys() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for k, err := range it.it.Keys() {
			if err == nil && it.t.cfg.ExtendOnFetch {
				err = it.t.touch(k)
			}
			if !yield(k, err) {
				return
			}
		}
	}
}

func (it *Iter[V]) Values() iter.Seq2[V, error] {
	return func(yield func(V, error) bool) {
		for item, err := range it.All() {
			if !yield(item.Value, err) {
				return
			}
		}
	}
}

// Collect returns all entries, stopping at the first error
func (it *Iter[V]) Collect() ([]store.Item[V], error) {
	var res []store.Item[V]
	for item, err := range it.All() {
		if err != nil {
			return res, err
		}
		res = append(res, item)
	}
	return res, nil
}
