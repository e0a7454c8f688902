package siser

import (
	"bytes"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert"

	"github.com/kjk/typedkv/require"
)

func TestMarshalLine(t *testing.T) {
	fixedTime := time.Date(2024, 1, 15, 10, 30, 45, 123000000, time.UTC)
	fixedTimeMs := strconv.FormatInt(fixedTime.UnixMilli(), 10)
	data := []byte("test data")

	tests := []struct {
		name     string
		dataName string
		t        time.Time
		d        []byte
		expected string
	}{
		{"all fields present", "myrecord", fixedTime, data, "--- 9 " + fixedTimeMs + " myrecord\ntest data\n"},
		{"empty name", "", fixedTime, data, "--- 9 " + fixedTimeMs + "\ntest data\n"},
		{"zero time", "myrecord", time.Time{}, data, "--- 9 myrecord\ntest data\n"},
		{"nil data", "myrecord", fixedTime, nil, "--- 0 " + fixedTimeMs + " myrecord\n"},
		{"ends with newline", "kv", time.Time{}, []byte("a\n"), "--- 2 kv\na\n"},
		{"only size", "", time.Time{}, data, "--- 9\ntest data\n"},
	}
	for _, tc := range tests {
		got := MarshalLine(tc.dataName, tc.t, tc.d, nil)
		assert.Equal(t, tc.expected, string(got), tc.name)
	}

	// re-using a buffer
	var wb bytes.Buffer
	MarshalLine("first", time.Time{}, []byte("xxxxxxxxxx"), &wb)
	got := MarshalLine("second", time.Time{}, []byte("y"), &wb)
	assert.Equal(t, "--- 1 second\ny\n", string(got))
}

func TestRecordMarshal(t *testing.T) {
	var r Record
	r.AppendString("tree", "people")
	r.Append("k", []byte{0, 1, 0xff})
	r.Append("v", nil)
	r.AppendString("long", strings.Repeat("x", 200))
	r.AppendString("nl", "ends with newline\n")
	d := r.Marshal()
	assert.True(t, bytes.HasPrefix(d, []byte("tree: people\nk:+3\n")))

	var r2 Record
	require.NoError(t, r2.Unmarshal(d))
	require.Len(t, r2.Entries, 5)
	for i, e := range r.Entries {
		assert.Equal(t, e.Key, r2.Entries[i].Key)
		require.Equal(t, e.Value, r2.Entries[i].Value, "key %s", e.Key)
	}
	v, ok := r2.GetString("tree")
	assert.True(t, ok)
	assert.Equal(t, "people", v)
	_, ok = r2.Get("missing")
	assert.False(t, ok)
}

func TestRecordUnmarshalErrors(t *testing.T) {
	invalid := []string{
		"ha",
		"ha\n",
		"ha:\n",
		"ha:_\n",
		":+1\nx\n",
		"ha:+32\nma",
		"ha:+2\nmara",
		"ha:+los\nma",
		"ha:+-1\n",
	}
	for _, s := range invalid {
		var r Record
		err := r.Unmarshal([]byte(s))
		assert.Error(t, err, "s: '%s'", s)
	}
}

func TestAppendInvalidKeyPanics(t *testing.T) {
	assert.Panics(t, func() {
		var r Record
		r.AppendString("a:b", "c")
	})
}

func TestWriterReader(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.NoTimestamp = true

	recs := []*Record{
		{Name: "tree"},
		{Name: "kv"},
		{Name: "kv"},
	}
	recs[0].AppendString("name", "people")
	recs[1].Append("k", []byte("a")).Append("v", []byte{0xc1, '\n', 0})
	recs[2].Append("k", []byte("b")).Append("v", []byte("plain value"))
	total := 0
	for _, r := range recs {
		n, err := w.WriteRecord(r)
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, buf.Len(), total)

	r := NewReader(bytes.NewReader(buf.Bytes()))
	var i int
	for r.ReadNextRecord() {
		exp := recs[i]
		assert.Equal(t, exp.Name, r.Record.Name)
		assert.True(t, r.Record.Timestamp.IsZero())
		require.Len(t, r.Record.Entries, len(exp.Entries))
		for j, e := range exp.Entries {
			require.Equal(t, e.Value, r.Record.Entries[j].Value)
		}
		i++
	}
	require.NoError(t, r.Err())
	assert.Equal(t, 3, i)
	assert.True(t, r.Done())
	assert.Equal(t, int64(buf.Len()), r.NextRecordPos)
}

func TestReaderTimestamp(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	ts := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	_, err := w.Write([]byte("hello"), ts, "ev")
	require.NoError(t, err)
	_, err = w.Write([]byte("no name"), ts, "")
	require.NoError(t, err)

	r := NewReader(&buf)
	require.True(t, r.ReadNextData())
	assert.Equal(t, "ev", r.Name)
	assert.True(t, ts.Equal(r.Timestamp))
	assert.Equal(t, "hello", string(r.Data))
	require.True(t, r.ReadNextData())
	assert.Equal(t, "", r.Name)
	assert.Equal(t, "no name", string(r.Data))
	assert.False(t, r.ReadNextData())
	require.NoError(t, r.Err())
}

func TestReaderErrors(t *testing.T) {
	invalid := []string{
		"garbage\n",
		"--- x kv\n",
		"--- 10 kv\nshort\n",
		"--- 3 kv\nabc",
		"--- 3 kv",
	}
	for _, s := range invalid {
		r := NewReader(strings.NewReader(s))
		for r.ReadNextData() {
		}
		assert.Error(t, r.Err(), "s: %q", s)
	}
}
