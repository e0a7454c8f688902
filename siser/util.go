// Package siser reads and writes a simple, human-readable serialization
// format for records of key/value pairs, one block after another:
//
//	--- ${size} ${timestamp_in_unix_epoch_ms} ${name}
//	${data}
//
// It's used for database dumps and event logs.
package siser

import "fmt"

func panicIf(cond bool, format string, args ...any) {
	if !cond {
		return
	}
	panic(fmt.Sprintf(format, args...))
}
