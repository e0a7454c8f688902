package store

import (
	"errors"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/kjk/typedkv/log"
)

// Db is an open database. Trees are opened with OpenTree.
// Db is safe for concurrent use.
type Db struct {
	bdb    *bolt.DB
	path   string
	tmpDir string
	config Config
}

// Open opens (creating if needed) a database.
// A nil config opens a temporary database.
func Open(config *Config) (*Db, error) {
	var cfg Config
	if config == nil {
		cfg = TemporaryConfig()
	} else {
		cfg = *config
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	path := cfg.Path
	var tmpDir string
	if cfg.Temporary {
		var err error
		tmpDir, err = os.MkdirTemp(cfg.TempDir, "typedkv-")
		if err != nil {
			return nil, &Error{Op: "open", Kind: ErrStore, Err: err}
		}
		path = filepath.Join(tmpDir, "db.bolt")
	} else if !cfg.isReadOnly() {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &Error{Op: "open", Kind: ErrStore, Err: err}
		}
	}

	bdb, err := bolt.Open(path, cfg.Mode, cfg.boltOptions())
	if err != nil {
		if tmpDir != "" {
			_ = os.RemoveAll(tmpDir)
		}
		return nil, &Error{Op: "open", Kind: ErrStore, Err: err}
	}
	log.Verbosef("opened database '%s'\n", path)
	return &Db{
		bdb:    bdb,
		path:   path,
		tmpDir: tmpDir,
		config: cfg,
	}, nil
}

// Close closes the database. Temporary databases are deleted.
func (db *Db) Close() error {
	err := db.bdb.Close()
	if db.tmpDir != "" {
		err2 := os.RemoveAll(db.tmpDir)
		if err == nil {
			err = err2
		}
	}
	return wrapStore("close", "", nil, err)
}

// Path returns the path of the database file
func (db *Db) Path() string {
	return db.path
}

func (db *Db) IsTemporary() bool {
	return db.tmpDir != ""
}

func (db *Db) IsReadOnly() bool {
	return db.config.isReadOnly()
}

// Bolt returns the underlying bbolt database, for things not covered by this package
func (db *Db) Bolt() *bolt.DB {
	return db.bdb
}

// TreeNames returns names of all trees, sorted
func (db *Db) TreeNames() ([]string, error) {
	var res []string
	err := db.bdb.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			res = append(res, string(name))
			return nil
		})
	})
	return res, wrapStore("tree names", "", nil, err)
}

// HasTree returns true if a tree with this name exists
func (db *Db) HasTree(name string) (bool, error) {
	var found bool
	err := db.bdb.View(func(tx *bolt.Tx) error {
		found = tx.Bucket([]byte(name)) != nil
		return nil
	})
	return found, wrapStore("has tree", name, nil, err)
}

// DropTree deletes a tree with all its entries.
// Returns false if there was no such tree.
// Tree values opened before are unusable afterwards and return ErrTreeNotFound.
func (db *Db) DropTree(name string) (bool, error) {
	err := db.bdb.Update(func(tx *bolt.Tx) error {
		return tx.DeleteBucket([]byte(name))
	})
	if errors.Is(err, bolt.ErrBucketNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrapStore("drop tree", name, nil, err)
	}
	log.Verbosef("dropped tree '%s'\n", name)
	return true, nil
}

// Flush syncs the database file to disk. Only needed with NoSync.
func (db *Db) Flush() error {
	return wrapStore("flush", "", nil, db.bdb.Sync())
}

// SizeOnDisk returns the size of the database in bytes
func (db *Db) SizeOnDisk() (int64, error) {
	var n int64
	err := db.bdb.View(func(tx *bolt.Tx) error {
		n = tx.Size()
		return nil
	})
	return n, wrapStore("size on disk", "", nil, err)
}

// Tx is a transaction spanning multiple trees.
// Use Bind to operate on a tree inside of it.
type Tx struct {
	btx *bolt.Tx
}

// Writable returns true for transactions started with Update
func (tx *Tx) Writable() bool {
	return tx.btx.Writable()
}

// Update runs fn in a read-write transaction.
// If fn returns an error, all changes are rolled back and the error
// is returned unchanged. Otherwise changes are committed atomically.
// Only one Update runs at a time.
func (db *Db) Update(fn func(tx *Tx) error) error {
	return db.run(true, fn)
}

// View runs fn in a read-only transaction that sees a consistent
// snapshot of all trees.
func (db *Db) View(fn func(tx *Tx) error) error {
	return db.run(false, fn)
}

func (db *Db) run(writable bool, fn func(tx *Tx) error) error {
	var fnErr error
	wrapped := func(btx *bolt.Tx) error {
		fnErr = fn(&Tx{btx: btx})
		return fnErr
	}
	var err error
	op := "view"
	if writable {
		op = "update"
		err = db.bdb.Update(wrapped)
	} else {
		err = db.bdb.View(wrapped)
	}
	if err == nil {
		return nil
	}
	// errors from fn are returned as is
	if fnErr != nil && err == fnErr {
		return err
	}
	return wrapStore(op, "", nil, err)
}
