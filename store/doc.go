// Package store is a typed layer over an embedded, ordered, transactional
// key-value database (bbolt).
//
// A Db holds any number of named trees. A Tree[V] maps byte keys to values
// of type V, encoded with a codec.Codec[V] chosen when the tree is opened:
//
//	db, err := store.Open(nil) // temporary database, deleted on Close
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//	tree, err := store.OpenMsgpackTree[int](db, "counters")
//	if err != nil {
//		return err
//	}
//	_, _, err = tree.Insert([]byte("hey"), 32)
//	v, ok, err := tree.Get([]byte("hey")) // 32, true, nil
//
// Every operation is atomic. Operations spanning multiple keys or trees
// are done with Tree.Transaction or Db.Update and Bind.
//
// Errors of tree operations are *Error, CompareAndSwap also returns
// *CompareAndSwapError. Use errors.Is with ErrStore, ErrEncode and ErrDecode
// to tell whether the database failed, a value couldn't be encoded or
// stored bytes couldn't be decoded.
package store
