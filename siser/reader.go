package siser

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Reader is for reading (deserializing) records
type Reader struct {
	r *bufio.Reader

	// Record is available after ReadNextRecord().
	// It's over-written in next ReadNextRecord().
	Record Record

	// Data / Name / Timestamp are available after ReadNextData.
	// They are over-written in next ReadNextData.
	Data      []byte
	Name      string
	Timestamp time.Time

	// position of the current record within the reader.
	// We keep track of it so that callers can report where
	// bad data is
	CurrRecordPos int64

	// position of the next record within the reader.
	NextRecordPos int64

	err error

	// true if reached end of file with io.EOF
	done bool
}

// NewReader creates a new reader
func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{
		r: br,
	}
}

// Done returns true if we're finished reading from the reader
func (r *Reader) Done() bool {
	return r.err != nil || r.done
}

var hdrPrefix = []byte("--- ")

func isDigits(d []byte) bool {
	if len(d) == 0 {
		return false
	}
	for _, b := range d {
		if b < '0' || b > '9' {
			return false
		}
	}
	return true
}

// parseHeader parses "--- ${size} [${timestamp}] [${name}]"
// without trailing '\n'. A name can't start with a digit
// or it would be taken as timestamp.
func (r *Reader) parseHeader(hdr []byte) (int64, error) {
	rest, ok := bytes.CutPrefix(hdr, hdrPrefix)
	if !ok {
		return 0, fmt.Errorf("unexpected header '%s' at position %d", hdr, r.CurrRecordPos)
	}
	dataSize, rest, _ := bytes.Cut(rest, []byte{' '})
	size, err := strconv.ParseInt(string(dataSize), 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("unexpected header '%s' at position %d", hdr, r.CurrRecordPos)
	}
	first, after, hasMore := bytes.Cut(rest, []byte{' '})
	if isDigits(first) {
		timeMs, err := strconv.ParseInt(string(first), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("unexpected header '%s' at position %d", hdr, r.CurrRecordPos)
		}
		r.Timestamp = time.UnixMilli(timeMs)
		if hasMore {
			r.Name = string(after)
		}
	} else {
		r.Name = string(rest)
	}
	return size, nil
}

// ReadNextData reads next block from the reader, returns false
// when no more record. If returns false, check Err() to see
// if there were errors.
// After reading Data contains data, and Timestamp and (optional) Name
// contain meta-data
func (r *Reader) ReadNextData() bool {
	if r.Done() {
		return false
	}
	r.Name = ""
	r.Timestamp = time.Time{}
	r.CurrRecordPos = r.NextRecordPos

	hdr, err := r.r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(hdr) == 0 {
			r.done = true
		} else if err == io.EOF {
			r.err = fmt.Errorf("truncated header '%s' at position %d", hdr, r.CurrRecordPos)
		} else {
			r.err = err
		}
		return false
	}
	recSize := len(hdr)
	size, err := r.parseHeader(hdr[:len(hdr)-1])
	if err != nil {
		r.err = err
		return false
	}

	// we try to re-use r.Data as long as it doesn't grow too much
	// (limit to 1 MB)
	if cap(r.Data) > 1024*1024 {
		r.Data = nil
	}
	if size > int64(cap(r.Data)) {
		r.Data = make([]byte, size)
	} else {
		r.Data = r.Data[:size]
	}
	n, err := io.ReadFull(r.r, r.Data)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = fmt.Errorf("truncated record at position %d: %w", r.CurrRecordPos, io.ErrUnexpectedEOF)
		}
		r.err = err
		return false
	}
	recSize += n

	// account for the newline MarshalLine adds for readability
	if n > 0 && r.Data[n-1] != '\n' {
		if _, err = r.r.Discard(1); err != nil {
			r.err = err
			return false
		}
		recSize++
	}
	r.NextRecordPos += int64(recSize)
	return true
}

// ReadNextRecord reads a key / value record.
// Returns false if there are no more record.
// Check Err() for errors.
// After reading information is in Record (valid until
// next read).
func (r *Reader) ReadNextRecord() bool {
	if !r.ReadNextData() {
		return false
	}
	r.err = r.Record.Unmarshal(r.Data)
	if r.err != nil {
		r.err = fmt.Errorf("record at position %d: %w", r.CurrRecordPos, r.err)
		return false
	}
	r.Record.Name = r.Name
	r.Record.Timestamp = r.Timestamp
	return true
}

// Err returns error from last Read. We swallow io.EOF to make it easier
// to use
func (r *Reader) Err() error {
	return r.err
}
