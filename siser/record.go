package siser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

/*
A record is a list of key/value pairs in a format that is easy to parse
and human-readable.

The basic format is line-oriented: "key: value\n"

When value is long (> 120 chars), empty or not printable ascii (binary keys
and encoded values usually aren't), we serialize it as:
key:+$len\n
value\n
*/

type Entry struct {
	Key   string
	Value []byte
}

// Record is a named list of key/value pairs
type Record struct {
	Name string
	// when writing, if not provided we use current time
	Timestamp time.Time
	Entries   []Entry
}

func validKey(k string) bool {
	return k != "" && !strings.ContainsAny(k, ":\n")
}

// Append adds a key/value pair. Keys can't be empty and can't contain ':' or '\n'
func (r *Record) Append(key string, val []byte) *Record {
	panicIf(!validKey(key), "invalid key '%s'", key)
	r.Entries = append(r.Entries, Entry{Key: key, Value: val})
	return r
}

func (r *Record) AppendString(key string, val string) *Record {
	return r.Append(key, []byte(val))
}

// Get returns the value of the first entry with a given key
func (r *Record) Get(key string) ([]byte, bool) {
	for _, e := range r.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func (r *Record) GetString(key string) (string, bool) {
	v, ok := r.Get(key)
	return string(v), ok
}

// Reset to re-use the record. Doesn't reset Name because common use case
// is writing the same record type.
func (r *Record) Reset() {
	r.Timestamp = time.Time{}
	r.Entries = r.Entries[:0]
}

func serializableOnLine(d []byte) bool {
	for _, b := range d {
		if b < 32 || b > 126 {
			return false
		}
	}
	return true
}

// return true if value needs to be serialized in long,
// size-prefixed format
func needsLongFormat(d []byte) bool {
	return len(d) == 0 || len(d) > 120 || !serializableOnLine(d)
}

func marshalKeyVal(buf *bytes.Buffer, key string, val []byte) {
	buf.WriteString(key)
	if !needsLongFormat(val) {
		buf.WriteString(": ")
		buf.Write(val)
		buf.WriteByte('\n')
		return
	}
	buf.WriteString(":+")
	buf.WriteString(strconv.Itoa(len(val)))
	buf.WriteByte('\n')
	buf.Write(val)
	// for readability: ensure a newline at the end so
	// that the next key always starts on a new line
	n := len(val)
	if n > 0 && val[n-1] != '\n' {
		buf.WriteByte('\n')
	}
}

// Marshal serializes entries. Name and Timestamp are written by Writer.
func (r *Record) Marshal() []byte {
	var buf bytes.Buffer
	for _, e := range r.Entries {
		marshalKeyVal(&buf, e.Key, e.Value)
	}
	return buf.Bytes()
}

// Unmarshal replaces entries of r with entries decoded from d,
// as created by Marshal. Values point into d.
func (r *Record) Unmarshal(d []byte) error {
	r.Entries = r.Entries[:0]
	for len(d) > 0 {
		idx := bytes.IndexByte(d, '\n')
		if idx == -1 {
			return fmt.Errorf("missing '\\n' marking end of line in '%s'", d)
		}
		line := d[:idx]
		d = d[idx+1:]
		idx = bytes.IndexByte(line, ':')
		if idx <= 0 {
			return fmt.Errorf("line in unrecognized format: '%s'", line)
		}
		key := string(line[:idx])
		val := line[idx+1:]
		// at this point val must be at least one character (' ' or '+')
		if len(val) < 1 {
			return fmt.Errorf("line in unrecognized format: '%s'", line)
		}
		kind := val[0]
		val = val[1:]
		if kind == ' ' {
			r.Entries = append(r.Entries, Entry{Key: key, Value: val})
			continue
		}
		if kind != '+' {
			return fmt.Errorf("line in unrecognized format: '%s'", line)
		}

		n, err := strconv.Atoi(string(val))
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("negative length %d of data", n)
		}
		if n > len(d) {
			return fmt.Errorf("length of value %d greater than remaining data of size %d", n, len(d))
		}
		val = d[:n]
		d = d[n:]
		// marshalling adds a newline if value doesn't end with one
		if n > 0 && val[n-1] != '\n' {
			if len(d) == 0 || d[0] != '\n' {
				return fmt.Errorf("missing '\\n' after value of key '%s'", key)
			}
			d = d[1:]
		}
		r.Entries = append(r.Entries, Entry{Key: key, Value: val})
	}
	return nil
}
