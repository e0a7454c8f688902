// typedkv inspects and maintains typedkv databases
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/toon-format/toon-go"

	"github.com/kjk/typedkv/backup"
	"github.com/kjk/typedkv/codec"
	"github.com/kjk/typedkv/dump"
	"github.com/kjk/typedkv/expiring"
	"github.com/kjk/typedkv/log"
	"github.com/kjk/typedkv/store"
	"github.com/kjk/typedkv/u"
)

const usage = `usage: typedkv <command> -db <path> [options]

commands:
  info                        show size and trees of a database
  trees                       list trees with number of entries
  dump -tree <t> [-codec c]   print entries of a tree
       [-prefix p] [-limit n]
  drop -tree <t>              remove a tree
  export -o <file> [-tree t]  write a dump, compressed if file ends with .zst or .br
  import -i <file>            import a dump
  purge -tree <t>             remove expired keys of an expiring tree
  backup -name <n>            upload a dump to S3 storage
  backups -name <n>           list uploaded backups
  restore -key <k>            import an uploaded backup
  help                        show this help

S3 storage is configured with TYPEDKV_S3_ENDPOINT, TYPEDKV_S3_ACCESS,
TYPEDKV_S3_SECRET, TYPEDKV_S3_BUCKET and optional TYPEDKV_S3_PREFIX.
`

var errUsage = errors.New("invalid usage")

type command struct {
	fs     *flag.FlagSet
	dbPath *string
	out    io.Writer
}

func newCommand(name string, out io.Writer) *command {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return &command{
		fs:     fs,
		dbPath: fs.String("db", "", "path of the database file"),
		out:    out,
	}
}

func (c *command) parse(args []string) error {
	if err := c.fs.Parse(args); err != nil {
		return errUsage
	}
	if *c.dbPath == "" {
		fmt.Fprintf(c.out, "%s: missing -db\n", c.fs.Name())
		return errUsage
	}
	return nil
}

func (c *command) openDb(readOnly bool) (*store.Db, error) {
	if readOnly && !u.FileExists(*c.dbPath) {
		return nil, fmt.Errorf("database '%s' doesn't exist", *c.dbPath)
	}
	config := store.DefaultConfig(*c.dbPath)
	config.ReadOnly = readOnly
	return store.Open(&config)
}

func (c *command) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func requireFlag(c *command, name string, v string) error {
	if v == "" {
		c.printf("%s: missing -%s\n", c.fs.Name(), name)
		return errUsage
	}
	return nil
}

func cmdInfo(args []string, out io.Writer) error {
	c := newCommand("info", out)
	if err := c.parse(args); err != nil {
		return err
	}
	db, err := c.openDb(true)
	if err != nil {
		return err
	}
	defer db.Close()
	size, err := db.SizeOnDisk()
	if err != nil {
		return err
	}
	names, err := db.TreeNames()
	if err != nil {
		return err
	}
	c.printf("path:  %s\nsize:  %s\ntrees: %d\n", db.Path(), u.FormatSize(size), len(names))
	return nil
}

func cmdTrees(args []string, out io.Writer) error {
	c := newCommand("trees", out)
	if err := c.parse(args); err != nil {
		return err
	}
	db, err := c.openDb(true)
	if err != nil {
		return err
	}
	defer db.Close()
	names, err := db.TreeNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		t, err := db.OpenRawTree(name)
		if err != nil {
			return err
		}
		n, err := t.Len()
		if err != nil {
			return err
		}
		c.printf("%s\t%d\n", name, n)
	}
	return nil
}

// renderValue formats a decoded value for printing
func renderValue(v any) string {
	if d, ok := v.([]byte); ok {
		if isPrintable(d) {
			return string(d)
		}
		return fmt.Sprintf("%x", d)
	}
	d, err := toon.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimRight(string(d), "\n")
}

func isPrintable(d []byte) bool {
	for _, b := range d {
		if b < 32 || b > 126 {
			return false
		}
	}
	return true
}

func renderKey(k []byte) string {
	if isPrintable(k) {
		return string(k)
	}
	return fmt.Sprintf("0x%x", k)
}

func cmdDump(args []string, out io.Writer) error {
	c := newCommand("dump", out)
	treeName := c.fs.String("tree", "", "name of the tree")
	codecName := c.fs.String("codec", "plain", "codec of values: "+strings.Join(codec.Names(), ", "))
	prefix := c.fs.String("prefix", "", "only keys with this prefix")
	limit := c.fs.Int("limit", 0, "print at most this many entries")
	if err := c.parse(args); err != nil {
		return err
	}
	if err := requireFlag(c, "tree", *treeName); err != nil {
		return err
	}
	cd, err := codec.ForName(*codecName)
	if err != nil {
		return err
	}
	db, err := c.openDb(true)
	if err != nil {
		return err
	}
	defer db.Close()
	t, err := store.OpenTree(db, *treeName, cd)
	if err != nil {
		return err
	}
	n := 0
	for item, err := range t.ScanPrefix([]byte(*prefix)).All() {
		if *limit > 0 && n >= *limit {
			break
		}
		n++
		if err != nil {
			var serr *store.Error
			if errors.As(err, &serr) && errors.Is(err, store.ErrDecode) {
				c.printf("%s: <%s>\n", renderKey(item.Key), serr.Err)
				continue
			}
			return err
		}
		c.printf("%s: %s\n", renderKey(item.Key), renderValue(item.Value))
	}
	return nil
}

func cmdDrop(args []string, out io.Writer) error {
	c := newCommand("drop", out)
	treeName := c.fs.String("tree", "", "name of the tree")
	if err := c.parse(args); err != nil {
		return err
	}
	if err := requireFlag(c, "tree", *treeName); err != nil {
		return err
	}
	db, err := c.openDb(false)
	if err != nil {
		return err
	}
	defer db.Close()
	dropped, err := db.DropTree(*treeName)
	if err != nil {
		return err
	}
	if !dropped {
		return fmt.Errorf("tree '%s': %w", *treeName, store.ErrTreeNotFound)
	}
	c.printf("dropped tree '%s'\n", *treeName)
	return nil
}

func cmdExport(args []string, out io.Writer) error {
	c := newCommand("export", out)
	outPath := c.fs.String("o", "", "file to write")
	trees := c.fs.String("tree", "", "comma-separated trees to export, all if empty")
	if err := c.parse(args); err != nil {
		return err
	}
	if err := requireFlag(c, "o", *outPath); err != nil {
		return err
	}
	db, err := c.openDb(true)
	if err != nil {
		return err
	}
	defer db.Close()

	var names []string
	if *trees != "" {
		names = strings.Split(*trees, ",")
	}
	stats, err := dump.ExportTreesFile(db, *outPath, names)
	if err != nil {
		return err
	}
	c.printf("exported %d trees, %d entries to '%s' (%s)\n", stats.Trees, stats.Entries, *outPath, u.FormatSize(u.FileSize(*outPath)))
	return nil
}

func cmdImport(args []string, out io.Writer) error {
	c := newCommand("import", out)
	inPath := c.fs.String("i", "", "dump file to import")
	if err := c.parse(args); err != nil {
		return err
	}
	if err := requireFlag(c, "i", *inPath); err != nil {
		return err
	}
	db, err := c.openDb(false)
	if err != nil {
		return err
	}
	defer db.Close()
	stats, err := dump.ImportFile(db, *inPath)
	if err != nil {
		return err
	}
	c.printf("imported %d trees, %d entries\n", stats.Trees, stats.Entries)
	return nil
}

func cmdPurge(args []string, out io.Writer) error {
	c := newCommand("purge", out)
	treeName := c.fs.String("tree", "", "name of the expiring tree")
	if err := c.parse(args); err != nil {
		return err
	}
	if err := requireFlag(c, "tree", *treeName); err != nil {
		return err
	}
	db, err := c.openDb(false)
	if err != nil {
		return err
	}
	defer db.Close()
	// don't create metadata trees for a tree that isn't expiring
	ok, err := db.HasTree(expiring.ExpiresAtTreeName(*treeName))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("'%s' is not an expiring tree", *treeName)
	}
	t, err := expiring.Open(db, *treeName, codec.Plain(), nil)
	if err != nil {
		return err
	}
	n, err := t.RemoveExpired()
	if err != nil {
		return err
	}
	c.printf("removed %d expired keys\n", n)
	return nil
}

func backupConfigFromEnv() *backup.Config {
	return &backup.Config{
		Endpoint: os.Getenv("TYPEDKV_S3_ENDPOINT"),
		Access:   os.Getenv("TYPEDKV_S3_ACCESS"),
		Secret:   os.Getenv("TYPEDKV_S3_SECRET"),
		Bucket:   os.Getenv("TYPEDKV_S3_BUCKET"),
		Prefix:   os.Getenv("TYPEDKV_S3_PREFIX"),
	}
}

func newBackupClient(ctx context.Context) (*backup.Client, error) {
	return backup.New(ctx, backupConfigFromEnv())
}

func cmdBackup(args []string, out io.Writer) error {
	c := newCommand("backup", out)
	name := c.fs.String("name", "", "name of the backup")
	keep := c.fs.Int("keep", 0, "if > 0, remove all but this many most recent backups")
	if err := c.parse(args); err != nil {
		return err
	}
	if err := requireFlag(c, "name", *name); err != nil {
		return err
	}
	ctx := context.Background()
	bc, err := newBackupClient(ctx)
	if err != nil {
		return err
	}
	db, err := c.openDb(true)
	if err != nil {
		return err
	}
	defer db.Close()
	key, err := bc.Upload(ctx, db, *name)
	if err != nil {
		return err
	}
	c.printf("uploaded '%s'\n", key)
	if *keep > 0 {
		if _, err = bc.Prune(ctx, *name, *keep); err != nil {
			return err
		}
	}
	return nil
}

func cmdBackups(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("backups", flag.ContinueOnError)
	fs.SetOutput(out)
	name := fs.String("name", "", "name of the backup")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *name == "" {
		fmt.Fprintf(out, "backups: missing -name\n")
		return errUsage
	}
	ctx := context.Background()
	bc, err := newBackupClient(ctx)
	if err != nil {
		return err
	}
	infos, err := bc.List(ctx, *name)
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Fprintf(out, "%s\t%s\t%s\n", info.Key, u.FormatSize(info.Size), info.LastModified.Format(time.RFC3339))
	}
	return nil
}

func cmdRestore(args []string, out io.Writer) error {
	c := newCommand("restore", out)
	key := c.fs.String("key", "", "key of the backup, as printed by backups")
	if err := c.parse(args); err != nil {
		return err
	}
	if err := requireFlag(c, "key", *key); err != nil {
		return err
	}
	ctx := context.Background()
	bc, err := newBackupClient(ctx)
	if err != nil {
		return err
	}
	db, err := c.openDb(false)
	if err != nil {
		return err
	}
	defer db.Close()
	stats, err := bc.Restore(ctx, db, *key)
	if err != nil {
		return err
	}
	c.printf("restored %d trees, %d entries\n", stats.Trees, stats.Entries)
	return nil
}

var commands = map[string]func(args []string, out io.Writer) error{
	"info":    cmdInfo,
	"trees":   cmdTrees,
	"dump":    cmdDump,
	"drop":    cmdDrop,
	"export":  cmdExport,
	"import":  cmdImport,
	"purge":   cmdPurge,
	"backup":  cmdBackup,
	"backups": cmdBackups,
	"restore": cmdRestore,
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errUsage
	}
	name := args[0]
	if name == "help" || name == "-h" || name == "-help" {
		fmt.Fprint(out, usage)
		return nil
	}
	fn, ok := commands[name]
	if !ok {
		fmt.Fprintf(out, "unknown command '%s'\n\n%s", name, usage)
		return errUsage
	}
	timeStart := time.Now()
	err := fn(args[1:], out)
	log.Verbosef("%s took %s\n", name, u.FormatDuration(time.Since(timeStart)))
	return err
}

func main() {
	log.Verbose = os.Getenv("TYPEDKV_VERBOSE") != ""
	if dir := os.Getenv("TYPEDKV_LOG_DIR"); dir != "" {
		log.Init(&log.Config{Dir: dir})
		defer log.Close()
	}
	err := run(os.Args[1:], os.Stdout)
	if err == nil {
		return
	}
	if !errors.Is(err, errUsage) {
		log.Logf("error: %s\n", err)
	}
	log.Close()
	os.Exit(1)
}
