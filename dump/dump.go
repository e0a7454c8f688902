// Package dump exports a database to a portable, human-readable stream
// of records and imports it back.
//
// Each tree is written as a "tree" record with its name followed by one
// "kv" record per entry:
//
//	--- 13 tree
//	name: people
//	--- 29 kv
//	k: alice
//	v: {"name":"alice"}
//
// Values are written as stored, so a dump can be imported regardless
// of which codec the trees use. Binary keys and values are written
// in size-prefixed form.
package dump

import (
	"fmt"
	"io"

	bolt "go.etcd.io/bbolt"

	"github.com/kjk/typedkv/log"
	"github.com/kjk/typedkv/siser"
	"github.com/kjk/typedkv/store"
)

const (
	recTree = "tree"
	recKV   = "kv"
)

// Stats describes what was exported or imported
type Stats struct {
	Trees   int
	Entries int
}

// Export writes all trees of db to w
func Export(db *store.Db, w io.Writer) (Stats, error) {
	return ExportTrees(db, w, nil)
}

// ExportTrees writes trees with given names to w, all trees if names is empty.
// All trees are read in a single read transaction, so the dump is consistent.
func ExportTrees(db *store.Db, w io.Writer, names []string) (Stats, error) {
	var stats Stats
	sw := siser.NewWriter(w)
	sw.NoTimestamp = true
	var rec siser.Record

	writeTree := func(name []byte, b *bolt.Bucket) error {
		rec.Name = recTree
		rec.Reset()
		rec.Append("name", name)
		if _, err := sw.WriteRecord(&rec); err != nil {
			return err
		}
		stats.Trees++
		rec.Name = recKV
		return b.ForEach(func(k, v []byte) error {
			// nested buckets are not supported
			if v == nil {
				return nil
			}
			rec.Reset()
			rec.Append("k", k).Append("v", v)
			if _, err := sw.WriteRecord(&rec); err != nil {
				return err
			}
			stats.Entries++
			return nil
		})
	}

	err := db.Bolt().View(func(tx *bolt.Tx) error {
		if len(names) == 0 {
			return tx.ForEach(writeTree)
		}
		for _, name := range names {
			b := tx.Bucket([]byte(name))
			if b == nil {
				return fmt.Errorf("tree '%s': %w", name, store.ErrTreeNotFound)
			}
			if err := writeTree([]byte(name), b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("typedkv: export: %w", err)
	}
	log.Verbosef("dump: exported %d trees, %d entries\n", stats.Trees, stats.Entries)
	return stats, nil
}

// Import reads records written by Export and inserts them into db,
// creating trees as needed. Existing entries with the same keys are
// overwritten. Everything is written in one transaction: on error
// nothing is imported.
func Import(db *store.Db, r io.Reader) (Stats, error) {
	var stats Stats
	sr := siser.NewReader(r)
	err := db.Bolt().Update(func(tx *bolt.Tx) error {
		var b *bolt.Bucket
		for sr.ReadNextRecord() {
			rec := &sr.Record
			switch rec.Name {
			case recTree:
				name, ok := rec.Get("name")
				if !ok || len(name) == 0 {
					return fmt.Errorf("tree record at position %d without a name", sr.CurrRecordPos)
				}
				var err error
				b, err = tx.CreateBucketIfNotExists(name)
				if err != nil {
					return fmt.Errorf("creating tree '%s': %w", name, err)
				}
				stats.Trees++
			case recKV:
				if b == nil {
					return fmt.Errorf("kv record at position %d before a tree record", sr.CurrRecordPos)
				}
				k, okK := rec.Get("k")
				v, okV := rec.Get("v")
				if !okK || !okV {
					return fmt.Errorf("kv record at position %d must have 'k' and 'v'", sr.CurrRecordPos)
				}
				// bbolt keeps references to keys and values until commit
				// and record data is re-used by the reader
				if err := b.Put(clone(k), clone(v)); err != nil {
					return fmt.Errorf("kv record at position %d: %w", sr.CurrRecordPos, err)
				}
				stats.Entries++
			default:
				return fmt.Errorf("unknown record '%s' at position %d", rec.Name, sr.CurrRecordPos)
			}
		}
		return sr.Err()
	})
	if err != nil {
		return Stats{}, fmt.Errorf("typedkv: import: %w", err)
	}
	log.Verbosef("dump: imported %d trees, %d entries\n", stats.Trees, stats.Entries)
	return stats, nil
}

func clone(d []byte) []byte {
	return append([]byte{}, d...)
}
