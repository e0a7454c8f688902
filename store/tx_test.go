package store

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert"

	"github.com/kjk/typedkv/codec"
	"github.com/kjk/typedkv/require"
)

func TestBatch(t *testing.T) {
	db := openTestDb(t)
	tree := openTestTree(t, db, "t", codec.Msgpack[int]())
	_, _, err := tree.Insert([]byte("gone"), 1)
	require.NoError(t, err)

	b := tree.NewBatch()
	require.NoError(t, b.Insert([]byte("a"), 1))
	require.NoError(t, b.Insert([]byte("b"), 2))
	require.NoError(t, b.Insert([]byte("a"), 3))
	b.Remove([]byte("gone"))
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("a"), []byte("gone")}, b.Keys())
	require.NoError(t, tree.ApplyBatch(b))

	items, err := tree.Iter().Collect()
	require.NoError(t, err)
	assert.Equal(t, []Item[int]{{Key: []byte("a"), Value: 3}, {Key: []byte("b"), Value: 2}}, items)

	bad := NewBatch(codec.JSON[any]())
	err = bad.Insert([]byte("x"), func() {})
	require.ErrorIs(t, err, ErrEncode)
	assert.Equal(t, 0, bad.Len())
}

func TestTransactionCommit(t *testing.T) {
	db := openTestDb(t)
	tree := openTestTree(t, db, "t", codec.Msgpack[int]())
	err := tree.Transaction(func(tx *TreeTx[int]) error {
		_, _, err := tx.Insert([]byte("a"), 1)
		if err != nil {
			return err
		}
		// own writes are visible
		v, ok, err := tx.Get([]byte("a"))
		if err != nil {
			return err
		}
		assert.True(t, ok)
		assert.Equal(t, 1, v)
		_, _, _, _, err = tx.Update([]byte("a"), func(old int, ok bool) (int, bool) {
			return old + 10, true
		})
		return err
	})
	require.NoError(t, err)
	v, _, err := tree.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, 11, v)
}

func TestTransactionRollback(t *testing.T) {
	db := openTestDb(t)
	tree := openTestTree(t, db, "t", codec.Msgpack[int]())
	errBoom := errors.New("boom")
	err := tree.Transaction(func(tx *TreeTx[int]) error {
		_, _, err := tx.Insert([]byte("a"), 1)
		require.NoError(t, err)
		return errBoom
	})
	assert.Equal(t, errBoom, err)
	ok, err := tree.ContainsKey([]byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMultiTreeTransaction(t *testing.T) {
	db := openTestDb(t)
	accounts := openTestTree(t, db, "accounts", codec.Msgpack[int]())
	log := openTestTree(t, db, "log", codec.JSON[string]())
	_, _, err := accounts.Insert([]byte("alice"), 100)
	require.NoError(t, err)

	transfer := func(amount int) error {
		return db.Update(func(tx *Tx) error {
			a, err := Bind(tx, accounts)
			if err != nil {
				return err
			}
			l, err := Bind(tx, log)
			if err != nil {
				return err
			}
			_, _, bal, _, err := a.Update([]byte("alice"), func(old int, ok bool) (int, bool) {
				return old - amount, true
			})
			if err != nil {
				return err
			}
			if _, _, err = l.Insert([]byte("last"), "withdraw"); err != nil {
				return err
			}
			if bal < 0 {
				return errors.New("insufficient funds")
			}
			return nil
		})
	}

	require.NoError(t, transfer(30))
	require.Error(t, transfer(100))

	v, _, err := accounts.Get([]byte("alice"))
	require.NoError(t, err)
	assert.Equal(t, 70, v)
	n, err := log.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = db.View(func(tx *Tx) error {
		assert.False(t, tx.Writable())
		a, err := Bind(tx, accounts)
		if err != nil {
			return err
		}
		v, ok, err := a.Get([]byte("alice"))
		assert.True(t, ok)
		assert.Equal(t, 70, v)
		return err
	})
	require.NoError(t, err)
}

func TestTreeTxOrderedAndCAS(t *testing.T) {
	db := openTestDb(t)
	tree := openTestTree(t, db, "t", codec.Msgpack[int]())
	fillTree(t, tree, 5)
	err := tree.Transaction(func(tx *TreeTx[int]) error {
		assert.Equal(t, 5, tx.Len())
		first, ok, err := tx.First()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "k0000", string(first.Key))
		last, _, err := tx.Last()
		require.NoError(t, err)
		assert.Equal(t, "k0004", string(last.Key))
		item, _, err := tx.GetGT([]byte("k0001"))
		require.NoError(t, err)
		assert.Equal(t, "k0002", string(item.Key))
		item, _, err = tx.GetLT([]byte("k0001"))
		require.NoError(t, err)
		assert.Equal(t, "k0000", string(item.Key))

		zero, ten := 0, 10
		err = tx.CompareAndSwap([]byte("k0000"), &ten, &zero)
		require.ErrorIs(t, err, ErrCompareAndSwap)
		require.NoError(t, tx.CompareAndSwap([]byte("k0000"), &zero, &ten))
		_, _, err = tx.Remove([]byte("k0004"))
		require.NoError(t, err)
		assert.False(t, tx.ContainsKey([]byte("k0004")))
		return nil
	})
	require.NoError(t, err)
	v, _, err := tree.Get([]byte("k0000"))
	require.NoError(t, err)
	assert.Equal(t, 10, v)
}

func TestBindDroppedTree(t *testing.T) {
	db := openTestDb(t)
	tree := openTestTree(t, db, "t", codec.Msgpack[int]())
	_, err := db.DropTree("t")
	require.NoError(t, err)
	err = tree.Transaction(func(tx *TreeTx[int]) error {
		return nil
	})
	require.ErrorIs(t, err, ErrTreeNotFound)
}
