package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert"

	"github.com/kjk/typedkv/require"
	"github.com/kjk/typedkv/siser"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	prev := Output
	Output = &buf
	t.Cleanup(func() {
		Output = prev
	})
	return &buf
}

func TestVerbosef(t *testing.T) {
	buf := captureOutput(t)
	Verbose = false
	Verbosef("hidden %d\n", 1)
	assert.Equal(t, "", buf.String())
	Verbose = true
	defer func() { Verbose = false }()
	Verbosef("shown %d\n", 2)
	assert.Equal(t, "shown 2\n", buf.String())
}

func TestErrorfHasCallstack(t *testing.T) {
	buf := captureOutput(t)
	Errorf("failed with %s", "boom")
	s := buf.String()
	assert.True(t, strings.HasPrefix(s, "failed with boom\n"), "got: %s", s)
	assert.True(t, strings.Contains(s, "log_test.go:"), "got: %s", s)

	buf.Reset()
	assert.False(t, IfErrf(nil))
	assert.Equal(t, "", buf.String())
	assert.True(t, IfErrf(errors.New("bad"), "op %s failed", "x"))
	assert.True(t, strings.HasPrefix(buf.String(), "op x failed\n"))
}

func TestMarshalEvent(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	d, err := MarshalEvent("purge", ts, "tree", "sessions", "removed", 3)
	require.NoError(t, err)

	r := siser.NewReader(bytes.NewReader(d))
	require.True(t, r.ReadNextData())
	assert.Equal(t, "purge", r.Name)
	assert.True(t, ts.Equal(r.Timestamp))
	s := string(r.Data)
	assert.True(t, strings.Contains(s, "tree: sessions"), "got: %s", s)
	assert.True(t, strings.Contains(s, "removed: 3"), "got: %s", s)

	_, err = MarshalEvent("bad", ts, "odd")
	assert.Error(t, err)

	assert.Panics(t, func() {
		_, _ = MarshalEvent("bad", ts, []string{"key"}, 1)
	})
}

func TestLogFiles(t *testing.T) {
	captureOutput(t)
	dir := t.TempDir()
	var got []string
	Init(&Config{
		Dir: dir,
		OnLog: func(s string) {
			got = append(got, s)
		},
	})
	defer Close()

	Logf("hello %s\n", "world")
	Event("opened", "path", "/tmp/x.db")
	Close()

	day := Now().UTC().Format("2006-01-02") + ".txt"
	d, err := os.ReadFile(filepath.Join(dir, "log", day))
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(d))
	assert.Equal(t, []string{"hello world\n"}, got)

	d, err = os.ReadFile(filepath.Join(dir, "events", day))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(d), " opened\n"), "got: %s", string(d))

	// after Close logging only goes to Output
	Logf("not in file\n")
	d, err = os.ReadFile(filepath.Join(dir, "log", day))
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(d))
}

func TestWriteDailyRotates(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2025, 5, 1, 23, 59, 0, 0, time.UTC)
	prevNow := Now
	Now = func() time.Time { return day }
	defer func() { Now = prevNow }()

	w := NewWriteDaily(dir)
	require.NoError(t, w.WriteString("a\n"))
	day = day.Add(2 * time.Minute)
	require.NoError(t, w.WriteString("b\n"))
	require.NoError(t, w.Close())

	d, err := os.ReadFile(filepath.Join(dir, "2025-05-01.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(d))
	d, err = os.ReadFile(filepath.Join(dir, "2025-05-02.txt"))
	require.NoError(t, err)
	assert.Equal(t, "b\n", string(d))

	var nilW *WriteDaily
	assert.NoError(t, nilW.WriteString("x"))
	assert.NoError(t, nilW.Close())
}
