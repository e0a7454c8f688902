// Package backup uploads compressed dumps of a database to
// S3-compatible storage and restores them.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kjk/typedkv/atomicfile"
	"github.com/kjk/typedkv/dump"
	"github.com/kjk/typedkv/log"
	"github.com/kjk/typedkv/store"
	"github.com/kjk/typedkv/u"
)

const (
	timeFormat = "2006-01-02_15-04-05.000"
	// keys of older backups have one second resolution
	timeFormatSeconds = "2006-01-02_15-04-05"
)

type Config struct {
	Access   string
	Secret   string
	Bucket   string
	Endpoint string
	Region   string
	// Prefix is prepended to names of uploaded objects e.g. "backups/"
	Prefix string
	// Insecure uses http instead of https
	Insecure bool
	// Brotli compresses with brotli instead of zstd
	Brotli       bool
	RequestTrace io.Writer
}

func (c *Config) validate() error {
	if c.Access == "" || c.Secret == "" || c.Bucket == "" || c.Endpoint == "" {
		return errors.New("must provide Access, Secret, Bucket and Endpoint in config")
	}
	return nil
}

func (c *Config) ext() string {
	if c.Brotli {
		return ".typedkv.br"
	}
	return ".typedkv.zst"
}

// Client uploads and downloads backups
type Client struct {
	Client *minio.Client
	config Config
}

// Info describes an uploaded backup
type Info struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// New creates a client and checks that the bucket exists
func New(ctx context.Context, config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("must provide config")
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	mc, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.Access, config.Secret, ""),
		Region: config.Region,
		Secure: !config.Insecure,
	})
	if err != nil {
		return nil, err
	}
	if config.RequestTrace != nil {
		mc.TraceOn(config.RequestTrace)
	}
	found, err := mc.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("bucket '%s' doesn't exist", config.Bucket)
	}
	return &Client{
		Client: mc,
		config: *config,
	}, nil
}

// KeyFor returns the object key of a backup of a database called name taken at t
func KeyFor(config *Config, name string, t time.Time) string {
	return config.Prefix + name + "/" + t.UTC().Format(timeFormat) + config.ext()
}

// TimeFromKey returns when a backup was taken, based on its key
func TimeFromKey(key string) (time.Time, bool) {
	s := filepath.Base(key)
	idx := strings.Index(s, ".typedkv.")
	if idx < 0 {
		return time.Time{}, false
	}
	for _, layout := range []string{timeFormat, timeFormatSeconds} {
		if t, err := time.Parse(layout, s[:idx]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Upload uploads a compressed dump of all trees in db and returns its key
func (c *Client) Upload(ctx context.Context, db *store.Db, name string) (string, error) {
	key := KeyFor(&c.config, name, time.Now())
	timeStart := time.Now()
	d, stats, err := dump.ExportBytes(db, key)
	if err != nil {
		return "", err
	}
	opts := minio.PutObjectOptions{
		ContentType: u.MimeTypeFromFileName(key),
	}
	_, err = c.Client.PutObject(ctx, c.config.Bucket, key, bytes.NewReader(d), int64(len(d)), opts)
	if err != nil {
		return "", fmt.Errorf("uploading '%s': %w", key, err)
	}
	log.Logf("backup: uploaded '%s', %d trees, %d entries, %s in %s\n", key, stats.Trees, stats.Entries, u.FormatSize(int64(len(d))), u.FormatDuration(time.Since(timeStart)))
	log.Event("backup-upload", "key", key, "size", len(d), "entries", stats.Entries)
	return key, nil
}

// Restore imports backup with a given key into db
func (c *Client) Restore(ctx context.Context, db *store.Db, key string) (dump.Stats, error) {
	obj, err := c.Client.GetObject(ctx, c.config.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return dump.Stats{}, err
	}
	defer obj.Close()
	stats, err := dump.ImportCompressed(db, obj, key)
	if err != nil {
		return stats, fmt.Errorf("restoring '%s': %w", key, err)
	}
	log.Logf("backup: restored '%s', %d trees, %d entries\n", key, stats.Trees, stats.Entries)
	return stats, nil
}

// List returns backups of a database called name, newest first
func (c *Client) List(ctx context.Context, name string) ([]Info, error) {
	opts := minio.ListObjectsOptions{
		Prefix:    c.config.Prefix + name + "/",
		Recursive: true,
	}
	var res []Info
	for oi := range c.Client.ListObjects(ctx, c.config.Bucket, opts) {
		if oi.Err != nil {
			return nil, oi.Err
		}
		if _, ok := TimeFromKey(oi.Key); !ok {
			continue
		}
		res = append(res, Info{
			Key:          oi.Key,
			Size:         oi.Size,
			LastModified: oi.LastModified,
		})
	}
	sortNewestFirst(res)
	return res, nil
}

func sortNewestFirst(a []Info) {
	slices.SortFunc(a, func(a, b Info) int {
		// keys embed the time so they sort chronologically
		return strings.Compare(filepath.Base(b.Key), filepath.Base(a.Key))
	})
}

// Latest returns the most recent backup of name. ok is false if there are none.
func (c *Client) Latest(ctx context.Context, name string) (Info, bool, error) {
	infos, err := c.List(ctx, name)
	if err != nil || len(infos) == 0 {
		return Info{}, false, err
	}
	return infos[0], true, nil
}

func (c *Client) Remove(ctx context.Context, key string) error {
	return c.Client.RemoveObject(ctx, c.config.Bucket, key, minio.RemoveObjectOptions{})
}

// Prune removes all but keep most recent backups of name and returns
// how many were removed
func (c *Client) Prune(ctx context.Context, name string, keep int) (int, error) {
	infos, err := c.List(ctx, name)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, info := range toPrune(infos, keep) {
		if err = c.Remove(ctx, info.Key); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		log.Logf("backup: removed %d old backups of '%s'\n", n, name)
	}
	return n, nil
}

func toPrune(newestFirst []Info, keep int) []Info {
	keep = max(keep, 0)
	if len(newestFirst) <= keep {
		return nil
	}
	return newestFirst[keep:]
}

// DownloadFile downloads backup with a given key to dstPath,
// replacing it only if the download succeeds
func (c *Client) DownloadFile(ctx context.Context, key string, dstPath string) error {
	obj, err := c.Client.GetObject(ctx, c.config.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return err
	}
	defer obj.Close()

	// ensure there's a dir for destination file
	err = os.MkdirAll(filepath.Dir(dstPath), 0755)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(dstPath, func(w io.Writer) error {
		_, err := io.Copy(w, obj)
		return err
	})
}
