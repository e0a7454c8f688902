package store

import (
	"bytes"
	"iter"

	bolt "go.etcd.io/bbolt"
)

// Item is a key with its decoded value
type Item[V any] struct {
	Key   []byte
	Value V
}

// how many entries are read in a single read transaction
const iterPageSize = 128

// Iter iterates over a range of a tree in key order.
//
// Entries are read lazily, in pages, each in its own read transaction, so
// a long iteration doesn't block writers. It follows that iteration is not
// a snapshot: entries written during iteration past the current position
// are seen.
//
// An Iter can be ranged over any number of times.
type Iter[V any] struct {
	t        *Tree[V]
	start    []byte // inclusive, nil means from the first key
	end      []byte // exclusive, nil means to the last key
	reverse  bool
	pageSize int
}

type rawEntry struct {
	k []byte
	v []byte
}

// Iter returns an iterator over all entries
func (t *Tree[V]) Iter() *Iter[V] {
	return t.Range(nil, nil)
}

// Range returns an iterator over entries with start <= key < end.
// nil start or end means unbounded.
func (t *Tree[V]) Range(start, end []byte) *Iter[V] {
	return &Iter[V]{
		t:        t,
		start:    start,
		end:      end,
		pageSize: iterPageSize,
	}
}

// ScanPrefix returns an iterator over entries whose key starts with prefix
func (t *Tree[V]) ScanPrefix(prefix []byte) *Iter[V] {
	if len(prefix) == 0 {
		return t.Iter()
	}
	return t.Range(prefix, prefixEnd(prefix))
}

// prefixEnd returns the smallest key greater than all keys starting with prefix,
// nil if there is none (prefix is all 0xff)
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// Rev returns an iterator over the same range in reverse order
func (it *Iter[V]) Rev() *Iter[V] {
	res := *it
	res.reverse = !it.reverse
	return &res
}

func (it *Iter[V]) inRange(k []byte) bool {
	if it.reverse {
		return it.start == nil || bytes.Compare(k, it.start) >= 0
	}
	return it.end == nil || bytes.Compare(k, it.end) < 0
}

// seek positions c at the first entry of a page.
// after is the last key of the previous page, nil for the first page.
func (it *Iter[V]) seek(c *bolt.Cursor, after []byte) ([]byte, []byte) {
	if !it.reverse {
		switch {
		case after != nil:
			return seekGT(after)(c)
		case it.start != nil:
			k, v := c.Seek(it.start)
			return skipBuckets(k, v, c.Next)
		}
		return seekFirst(c)
	}
	bound := after
	if bound == nil {
		bound = it.end
	}
	if bound != nil {
		return seekLT(bound)(c)
	}
	return seekLast(c)
}

func (it *Iter[V]) readPage(after []byte) ([]rawEntry, error) {
	var res []rawEntry
	err := it.t.db.bdb.View(func(tx *bolt.Tx) error {
		b, err := it.t.bucket(tx)
		if err != nil {
			return err
		}
		c := b.Cursor()
		next := c.Next
		if it.reverse {
			next = c.Prev
		}
		k, v := it.seek(c, after)
		for k != nil && len(res) < it.pageSize && it.inRange(k) {
			if v != nil {
				res = append(res, rawEntry{k: copyBytes(k), v: copyBytes(v)})
			}
			k, v = next()
		}
		return nil
	})
	return res, wrapStore("iter", it.t.name, nil, err)
}

// raw yields encoded entries. A store error ends iteration.
func (it *Iter[V]) raw(yield func(e rawEntry, err error) bool) {
	var after []byte
	for {
		page, err := it.readPage(after)
		if err != nil {
			yield(rawEntry{}, err)
			return
		}
		for _, e := range page {
			if !yield(e, nil) {
				return
			}
		}
		if len(page) < it.pageSize {
			return
		}
		after = page[len(page)-1].k
	}
}

// All yields entries with decoded values.
// A value that fails to decode is yielded as an error with Item.Key set
// and iteration continues with the next entry.
// A store error is yielded once and ends iteration.
func (it *Iter[V]) All() iter.Seq2[Item[V], error] {
	return func(yield func(Item[V], error) bool) {
		it.raw(func(e rawEntry, err error) bool {
			if err != nil {
				return yield(Item[V]{}, err)
			}
			v, err := it.t.decode("iter", e.k, e.v)
			if err != nil {
				return yield(Item[V]{Key: e.k}, err)
			}
			return yield(Item[V]{Key: e.k, Value: v}, nil)
		})
	}
}

// Keys yields keys without decoding values
func (it *Iter[V]) Keys() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		it.raw(func(e rawEntry, err error) bool {
			return yield(e.k, err)
		})
	}
}

// Values yields decoded values, like All
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
func (it *Iter[V]) Collect() ([]Item[V], error) {
	var res []Item[V]
	for item, err := range it.All() {
		if err != nil {
			return res, err
		}
		res = append(res, item)
	}
	return res, nil
}

// Count returns the number of entries in the range without decoding them
func (it *Iter[V]) Count() (int, error) {
	n := 0
	for _, err := range it.Keys() {
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
