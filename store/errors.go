package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStore marks failures of the underlying database: I/O errors, corruption,
	// failure to open, a closed database.
	ErrStore = errors.New("typedkv: store error")

	// ErrEncode marks failures to encode a value. Nothing was written.
	ErrEncode = errors.New("typedkv: encode error")

	// ErrDecode marks stored bytes that don't decode as the tree's value type
	// with the tree's codec. Usually a sign of schema drift or of writing
	// the tree with a different codec.
	ErrDecode = errors.New("typedkv: decode error")

	// ErrTreeNotFound is returned for operations on a tree that was dropped.
	// It is a store error.
	ErrTreeNotFound = errors.New("typedkv: tree not found")

	// ErrCompareAndSwap is matched by *CompareAndSwapError.
	ErrCompareAndSwap = errors.New("typedkv: compare and swap conflict")
)

// Error is returned by all tree operations. Use errors.Is with ErrStore,
// ErrEncode or ErrDecode to tell where the failure originated, and with
// the underlying error (e.g. bbolt.ErrDatabaseNotOpen) for details.
type Error struct {
	// Op is the operation that failed e.g. "get", "insert"
	Op string
	// Tree is the name of the tree, empty for database-level operations
	Tree string
	// Key is the key of the operation, if any
	Key []byte
	// Kind is one of ErrStore, ErrEncode, ErrDecode
	Kind error
	Err  error
}

func kindName(kind error) string {
	switch kind {
	case ErrEncode:
		return "encode"
	case ErrDecode:
		return "decode"
	}
	return "store"
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("typedkv: ")
	sb.WriteString(kindName(e.Kind))
	sb.WriteString(" error in ")
	sb.WriteString(e.Op)
	if e.Tree != "" {
		fmt.Fprintf(&sb, " of tree '%s'", e.Tree)
	}
	if e.Key != nil {
		fmt.Fprintf(&sb, " for key %q", e.Key)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// wrapStore classifies err as a store error unless it's already an *Error
func wrapStore(op string, tree string, key []byte, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Op: op, Tree: tree, Key: key, Kind: ErrStore, Err: err}
}

// CompareAndSwapError is returned by CompareAndSwap when the current value
// is not the expected one. Nothing was written.
type CompareAndSwapError[V any] struct {
	// Current is the value at the key, nil if there's none
	Current *V
	// Proposed is the value that was not written, nil for a removal
	Proposed *V
}

func (e *CompareAndSwapError[V]) Error() string {
	cur := "absent"
	if e.Current != nil {
		cur = fmt.Sprintf("%v", *e.Current)
	}
	return fmt.Sprintf("typedkv: compare and swap conflict, current value is %s", cur)
}

func (e *CompareAndSwapError[V]) Is(target error) bool {
	return target == ErrCompareAndSwap
}
