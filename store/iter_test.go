package store

import (
	"fmt"
	"testing"

	"github.com/alecthomas/assert"

	"github.com/kjk/typedkv/codec"
	"github.com/kjk/typedkv/require"
)

func keysOf[V any](items []Item[V]) []string {
	var res []string
	for _, it := range items {
		res = append(res, string(it.Key))
	}
	return res
}

func fillTree(t *testing.T, tree *Tree[int], n int) {
	t.Helper()
	b := tree.NewBatch()
	for i := 0; i < n; i++ {
		require.NoError(t, b.Insert([]byte(fmt.Sprintf("k%04d", i)), i))
	}
	require.NoError(t, tree.ApplyBatch(b))
}

func TestRangeOrder(t *testing.T) {
	db := openTestDb(t)
	tree := openTestTree(t, db, "t", codec.Msgpack[int]())
	for i, k := range []string{"k3", "k1", "k2"} {
		_, _, err := tree.Insert([]byte(k), i)
		require.NoError(t, err)
	}

	items, err := tree.Range([]byte("k1"), []byte("k4")).Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2", "k3"}, keysOf(items))
	assert.Equal(t, 1, items[0].Value)

	// end is exclusive
	items, err = tree.Range([]byte("k1"), []byte("k3")).Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, keysOf(items))

	items, err = tree.Range([]byte("k1"), []byte("k4")).Rev().Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"k3", "k2", "k1"}, keysOf(items))

	items, err = tree.Range([]byte("k2"), nil).Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"k2", "k3"}, keysOf(items))

	items, err = tree.Range(nil, []byte("k2")).Rev().Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, keysOf(items))

	items, err = tree.Range([]byte("x"), nil).Collect()
	require.NoError(t, err)
	assert.Equal(t, 0, len(items))
}

func TestIterPaging(t *testing.T) {
	db := openTestDb(t)
	tree := openTestTree(t, db, "t", codec.Msgpack[int]())
	fillTree(t, tree, 300)

	items, err := tree.Iter().Collect()
	require.NoError(t, err)
	require.Len(t, items, 300)
	for i, it := range items {
		assert.Equal(t, fmt.Sprintf("k%04d", i), string(it.Key))
		assert.Equal(t, i, it.Value)
	}

	for _, pageSize := range []int{1, 2, 7, 128} {
		it := tree.Range([]byte("k0100"), []byte("k0250"))
		it.pageSize = pageSize
		n, err := it.Count()
		require.NoError(t, err)
		assert.Equal(t, 150, n, "page size %d", pageSize)

		rev := it.Rev()
		items, err := rev.Collect()
		require.NoError(t, err)
		require.Len(t, items, 150)
		assert.Equal(t, "k0249", string(items[0].Key))
		assert.Equal(t, "k0100", string(items[149].Key))
	}
}

func TestIterEarlyStopAndRestart(t *testing.T) {
	db := openTestDb(t)
	tree := openTestTree(t, db, "t", codec.Msgpack[int]())
	fillTree(t, tree, 10)

	it := tree.Iter()
	it.pageSize = 3
	var got []int
	for v, err := range it.Values() {
		require.NoError(t, err)
		got = append(got, v)
		if len(got) == 4 {
			break
		}
	}
	assert.Equal(t, []int{0, 1, 2, 3}, got)

	// ranging again starts over
	n, err := it.Count()
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestIterSeesWritesPastPosition(t *testing.T) {
	db := openTestDb(t)
	tree := openTestTree(t, db, "t", codec.Msgpack[int]())
	fillTree(t, tree, 4)

	it := tree.Iter()
	it.pageSize = 2
	var keys []string
	for k, err := range it.Keys() {
		require.NoError(t, err)
		keys = append(keys, string(k))
		if len(keys) == 2 {
			// iteration doesn't hold a transaction between pages
			_, _, err = tree.Insert([]byte("k9999"), 1)
			require.NoError(t, err)
		}
	}
	assert.Equal(t, []string{"k0000", "k0001", "k0002", "k0003", "k9999"}, keys)
}

func TestIterDecodeErrorContinues(t *testing.T) {
	db := openTestDb(t)
	tree := openTestTree(t, db, "t", codec.Msgpack[int]())
	fillTree(t, tree, 3)
	_, _, err := tree.Raw().Insert([]byte("k0001"), []byte{0xc1})
	require.NoError(t, err)

	var good []string
	var bad []string
	for item, err := range tree.Iter().All() {
		if err != nil {
			require.ErrorIs(t, err, ErrDecode)
			bad = append(bad, string(item.Key))
			continue
		}
		good = append(good, string(item.Key))
	}
	assert.Equal(t, []string{"k0000", "k0002"}, good)
	assert.Equal(t, []string{"k0001"}, bad)

	_, err = tree.Iter().Collect()
	require.ErrorIs(t, err, ErrDecode)
}

func TestScanPrefix(t *testing.T) {
	db := openTestDb(t)
	tree, err := db.OpenRawTree("t")
	require.NoError(t, err)
	keys := []string{"a", "user:1", "user:2", "user;", "users", "v", "\xff\xff"}
	for _, k := range keys {
		_, _, err := tree.Insert([]byte(k), []byte(k))
		require.NoError(t, err)
	}
	items, err := tree.ScanPrefix([]byte("user:")).Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"user:1", "user:2"}, keysOf(items))

	items, err = tree.ScanPrefix([]byte("user")).Rev().Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"users", "user;", "user:2", "user:1"}, keysOf(items))

	items, err = tree.ScanPrefix([]byte{0xff}).Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"\xff\xff"}, keysOf(items))

	n, err := tree.ScanPrefix(nil).Count()
	require.NoError(t, err)
	assert.Equal(t, len(keys), n)
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("abd"), prefixEnd([]byte("abc")))
	assert.Equal(t, []byte{0x01}, prefixEnd([]byte{0x00, 0xff}))
	assert.Equal(t, []byte{'b'}, prefixEnd([]byte{'a', 0xff, 0xff}))
	assert.Nil(t, prefixEnd([]byte{0xff, 0xff}))
}
