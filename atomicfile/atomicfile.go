// Package atomicfile writes files so that readers either see the old
// content or the complete new content, never a partial write.
//
// Data is written to a temporary file in the destination directory
// which is renamed over the destination on successful Close:
//
//	err := atomicfile.WriteFile("db.typedkv", func(w io.Writer) error {
//		return dump.Export(db, w)
//	})
package atomicfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrCancelled is returned by calls subsequent to Cancel()
	ErrCancelled = errors.New("atomicfile: cancelled")

	_ io.WriteCloser = &File{}
)

// File allows writing to a file atomically
type File struct {
	dstPath string
	dir     string
	tmpFile *os.File
	tmpPath string
	// first error we encountered, returned by all subsequent calls
	err error
}

// New creates a temporary file next to path
func New(path string) (*File, error) {
	dir, fName := filepath.Split(path)
	if fName == "" {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrInvalid}
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	tmpFile, err := os.CreateTemp(dir, fName+".tmp-*")
	if err != nil {
		return nil, err
	}
	return &File{
		dstPath: path,
		dir:     dir,
		tmpFile: tmpFile,
		tmpPath: tmpFile.Name(),
	}, nil
}

func (f *File) handleError(err error) error {
	if err == nil {
		return nil
	}
	if f.err == nil {
		f.err = err
	}
	// deletes the temporary file
	_ = f.Close()
	return err
}

func (f *File) Write(d []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.alreadyClosed() {
		return 0, os.ErrClosed
	}
	n, err := f.tmpFile.Write(d)
	return n, f.handleError(err)
}

func (f *File) alreadyClosed() bool {
	return f.tmpFile == nil
}

// Cancel removes the temporary file. Destination is not touched.
// Use with defer to clean up when returning early on error.
// Cancel after Close is a no-op.
func (f *File) Cancel() {
	if f == nil || f.alreadyClosed() {
		return
	}
	f.err = ErrCancelled
	_ = f.Close()
}

// Close syncs the data and renames the temporary file to destination.
// Can be called multiple times, returns the first error.
func (f *File) Close() error {
	if f.alreadyClosed() {
		return f.err
	}
	tmpFile := f.tmpFile
	f.tmpFile = nil

	// https://www.joeshaw.org/dont-defer-close-on-writable-files/
	errSync := tmpFile.Sync()
	errClose := tmpFile.Close()

	didRename := false
	defer func() {
		if !didRename {
			_ = os.Remove(f.tmpPath)
		}
	}()

	if f.err != nil {
		return f.err
	}
	err := errSync
	if err == nil {
		err = errClose
	}
	if err == nil {
		err = os.Rename(f.tmpPath, f.dstPath)
		didRename = err == nil
		// sync the directory so that rename survives a crash
		if fdir, _ := os.Open(f.dir); fdir != nil {
			_ = fdir.Sync()
			_ = fdir.Close()
		}
	}
	f.err = err
	return err
}

// WriteFile atomically replaces path with whatever fn writes.
// If fn returns an error, path is not touched.
func WriteFile(path string, fn func(w io.Writer) error) error {
	f, err := New(path)
	if err != nil {
		return err
	}
	defer f.Cancel()
	if err = fn(f); err != nil {
		return err
	}
	return f.Close()
}
