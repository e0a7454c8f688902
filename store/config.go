package store

import (
	"errors"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Config holds configuration for opening a Db.
type Config struct {
	// Path is the path of the database file.
	// Parent directories are created if needed.
	Path string

	// Temporary creates the database in a new directory inside TempDir
	// (os.TempDir() if empty). The directory is removed on Close.
	// Path is ignored.
	Temporary bool
	TempDir   string

	// Mode is the permission of a newly created database file.
	// Default: 0600
	Mode os.FileMode

	// Timeout is how long to wait for a lock on a database file
	// held by another process.
	// Default: 1 second. Negative means wait forever.
	Timeout time.Duration

	// NoSync skips fsync() after each commit. Faster, but a crash
	// can lose recent writes. Good for tests and throw-away data.
	NoSync bool

	// NoGrowSync and NoFreelistSync are passed to bbolt as is
	NoGrowSync     bool
	NoFreelistSync bool

	// ReadOnly opens the database in read-only mode. Trees must exist.
	ReadOnly bool

	// InitialMmapSize is the initial mmap size of the database in bytes.
	InitialMmapSize int

	// Bolt, if set, is passed to bbolt.Open unchanged and overrides
	// Timeout, NoSync, NoGrowSync, NoFreelistSync, ReadOnly and InitialMmapSize
	Bolt *bolt.Options
}

// DefaultConfig returns defaults for a persistent database at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:    path,
		Mode:    0600,
		Timeout: time.Second,
	}
}

// TemporaryConfig returns defaults for an ephemeral database.
func TemporaryConfig() Config {
	c := DefaultConfig("")
	c.Temporary = true
	c.NoSync = true
	return c
}

// validate ensures config values are usable and fills in defaults.
func (c *Config) validate() error {
	if !c.Temporary && c.Path == "" {
		return errors.New("typedkv: database path is not set. For an ephemeral database set Temporary")
	}
	if c.Temporary && c.ReadOnly {
		return errors.New("typedkv: temporary database can't be read-only")
	}
	if c.Mode == 0 {
		c.Mode = 0600
	}
	if c.Timeout == 0 {
		c.Timeout = time.Second
	}
	return nil
}

func (c *Config) isReadOnly() bool {
	if c.Bolt != nil {
		return c.Bolt.ReadOnly
	}
	return c.ReadOnly
}

func (c *Config) boltOptions() *bolt.Options {
	if c.Bolt != nil {
		return c.Bolt
	}
	timeout := c.Timeout
	if timeout < 0 {
		// for bbolt 0 means wait forever
		timeout = 0
	}
	return &bolt.Options{
		Timeout:         timeout,
		NoSync:          c.NoSync,
		NoGrowSync:      c.NoGrowSync,
		NoFreelistSync:  c.NoFreelistSync,
		ReadOnly:        c.ReadOnly,
		InitialMmapSize: c.InitialMmapSize,
		FreelistType:    bolt.FreelistArrayType,
	}
}
