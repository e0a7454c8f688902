package backup

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alecthomas/assert"

	"github.com/kjk/typedkv/require"
	"github.com/kjk/typedkv/store"
)

func TestConfigValidate(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)
	_, err = New(context.Background(), &Config{Access: "a", Secret: "s", Bucket: "b"})
	assert.Error(t, err)
}

func TestKeyFor(t *testing.T) {
	tm := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	c := &Config{Prefix: "backups/"}
	key := KeyFor(c, "app", tm)
	assert.Equal(t, "backups/app/2025-03-04_05-06-07.000.typedkv.zst", key)
	got, ok := TimeFromKey(key)
	assert.True(t, ok)
	assert.True(t, tm.Equal(got))

	c.Brotli = true
	assert.Equal(t, "backups/app/2025-03-04_05-06-07.000.typedkv.br", KeyFor(c, "app", tm))

	got, ok = TimeFromKey("backups/app/2025-03-04_05-06-07.typedkv.zst")
	assert.True(t, ok)
	assert.True(t, tm.Equal(got))

	_, ok = TimeFromKey("backups/app/notes.txt")
	assert.False(t, ok)
	_, ok = TimeFromKey("backups/app/yesterday.typedkv.zst")
	assert.False(t, ok)
}

func TestKeyForSameSecond(t *testing.T) {
	c := &Config{Prefix: "p/"}
	t1 := time.Date(2025, 3, 4, 5, 6, 7, 10*int(time.Millisecond), time.UTC)
	t2 := t1.Add(250 * time.Millisecond)
	k1 := KeyFor(c, "db", t1)
	k2 := KeyFor(c, "db", t2)
	assert.Equal(t, "p/db/2025-03-04_05-06-07.010.typedkv.zst", k1)
	assert.Equal(t, "p/db/2025-03-04_05-06-07.260.typedkv.zst", k2)

	infos := []Info{{Key: k1}, {Key: k2}}
	sortNewestFirst(infos)
	assert.Equal(t, k2, infos[0].Key)
	got, ok := TimeFromKey(k2)
	require.True(t, ok)
	assert.True(t, t2.Equal(got))
}

func TestSortAndPrune(t *testing.T) {
	c := &Config{Prefix: "p/"}
	var infos []Info
	for _, day := range []int{2, 5, 1, 3} {
		tm := time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC)
		infos = append(infos, Info{Key: KeyFor(c, "db", tm)})
	}
	sortNewestFirst(infos)
	assert.Equal(t, "p/db/2025-01-05_00-00-00.000.typedkv.zst", infos[0].Key)
	assert.Equal(t, "p/db/2025-01-01_00-00-00.000.typedkv.zst", infos[3].Key)

	pruned := toPrune(infos, 2)
	require.Len(t, pruned, 2)
	assert.Equal(t, "p/db/2025-01-02_00-00-00.000.typedkv.zst", pruned[0].Key)
	assert.Equal(t, 0, len(toPrune(infos, 10)))
	assert.Equal(t, 4, len(toPrune(infos, -1)))
}

// TestUploadRestore needs S3-compatible storage, configured with
// TYPEDKV_S3_ENDPOINT, TYPEDKV_S3_ACCESS, TYPEDKV_S3_SECRET and TYPEDKV_S3_BUCKET
func TestUploadRestore(t *testing.T) {
	config := &Config{
		Endpoint: os.Getenv("TYPEDKV_S3_ENDPOINT"),
		Access:   os.Getenv("TYPEDKV_S3_ACCESS"),
		Secret:   os.Getenv("TYPEDKV_S3_SECRET"),
		Bucket:   os.Getenv("TYPEDKV_S3_BUCKET"),
		Prefix:   "typedkv-test/",
	}
	if config.validate() != nil {
		t.Skip("S3 storage not configured")
	}
	ctx := context.Background()
	c, err := New(ctx, config)
	require.NoError(t, err)

	db, err := store.Open(nil)
	require.NoError(t, err)
	defer db.Close()
	tree, err := store.OpenJSONTree[string](db, "notes")
	require.NoError(t, err)
	_, _, err = tree.Insert([]byte("a"), "hello")
	require.NoError(t, err)

	key, err := c.Upload(ctx, db, "test")
	require.NoError(t, err)
	defer c.Remove(ctx, key)

	latest, ok, err := c.Latest(ctx, "test")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, key, latest.Key)

	db2, err := store.Open(nil)
	require.NoError(t, err)
	defer db2.Close()
	stats, err := c.Restore(ctx, db2, key)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
}
