// Package cache provides a SQLite-backed result cache for fastexif.
// Entries are keyed by file path and validated against the file's size
// and modification time, so a touched or rewritten file is re-extracted.
package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/dapperfu/fastexif"
)

const (
	// DefaultCapacity is the number of entries kept before the oldest
	// writes are evicted.
	DefaultCapacity = 10000

	// DefaultTTL is how long an entry stays valid regardless of the
	// file's state.
	DefaultTTL = 24 * time.Hour
)

// encMode encodes results with Core Deterministic Encoding so the same
// logical result always produces identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}

// Config holds the parameters for opening a cache. Path is required; all
// other fields have defaults.
type Config struct {
	// Path is the filesystem path to the SQLite database file, created
	// if it does not exist. Use ":memory:" with PoolSize 1 for tests.
	Path string

	// Capacity is the maximum number of entries. Zero means
	// DefaultCapacity.
	Capacity int

	// TTL is the entry lifetime. Zero means DefaultTTL.
	TTL time.Duration

	// PoolSize is the number of connections. Zero means 4.
	PoolSize int

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger

	// Now provides the current time; tests inject a fixed clock. Nil
	// means time.Now.
	Now func() time.Time
}

// Cache is a bounded, TTL-validated extraction result store. It is safe
// for concurrent use and implements fastexif.ResultCache.
type Cache struct {
	pool     *sqlitex.Pool
	capacity int
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

var _ fastexif.ResultCache = (*Cache)(nil)

const schema = `CREATE TABLE IF NOT EXISTS exif_cache (
	path    TEXT PRIMARY KEY,
	size    INTEGER NOT NULL,
	mtime   INTEGER NOT NULL,
	data    BLOB NOT NULL,
	written INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS exif_cache_written ON exif_cache (written);`

// Open creates or opens the cache database at cfg.Path. The caller must
// call Close when done.
func Open(cfg Config) (*Cache, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("cache: Path is required")
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    cfg.PoolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: opening %s: %w", cfg.Path, err)
	}

	c := &Cache{
		pool:     pool,
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}

	// Force one connection through PrepareConn so schema problems
	// surface at open time rather than on first Get.
	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("cache: opening %s: %w", cfg.Path, err)
	}
	pool.Put(conn)

	cfg.Logger.Info("cache opened", "path", cfg.Path, "capacity", cfg.Capacity, "ttl", cfg.TTL)
	return c, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("cache: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("cache: creating schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (c *Cache) Close() error {
	if err := c.pool.Close(); err != nil {
		return fmt.Errorf("cache: closing: %w", err)
	}
	return nil
}

// Get returns the cached result for path when the entry matches the
// file's current size and modification time and has not outlived the
// TTL. A stale entry is deleted on the spot and reported as a miss.
func (c *Cache) Get(path string) (fastexif.Result, bool, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, false, err
	}

	conn, err := c.pool.Take(context.Background())
	if err != nil {
		return nil, false, fmt.Errorf("cache: get: %w", err)
	}
	defer c.pool.Put(conn)

	var (
		found   bool
		size    int64
		mtime   int64
		written int64
		blob    []byte
	)
	err = sqlitex.Execute(conn,
		"SELECT size, mtime, data, written FROM exif_cache WHERE path = ?",
		&sqlitex.ExecOptions{
			Args: []any{path},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				size = stmt.ColumnInt64(0)
				mtime = stmt.ColumnInt64(1)
				blob = make([]byte, stmt.ColumnLen(2))
				stmt.ColumnBytes(2, blob)
				written = stmt.ColumnInt64(3)
				return nil
			},
		})
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %s: %w", path, err)
	}
	if !found {
		return nil, false, nil
	}

	if size != st.Size() || mtime != st.ModTime().UnixNano() || c.now().UnixNano()-written > c.ttl.Nanoseconds() {
		if err := sqlitex.Execute(conn, "DELETE FROM exif_cache WHERE path = ?", &sqlitex.ExecOptions{
			Args: []any{path},
		}); err != nil {
			c.logger.Warn("cache: deleting stale entry", "path", path, "err", err)
		}
		return nil, false, nil
	}

	var res fastexif.Result
	if err := decMode.Unmarshal(blob, &res); err != nil {
		return nil, false, fmt.Errorf("cache: decoding %s: %w", path, err)
	}
	return res, true, nil
}

// Put stores the result for path, stamped with the file's current size
// and modification time. When the insert pushes the cache past capacity,
// the entries with the oldest write times are evicted.
func (c *Cache) Put(path string, res fastexif.Result) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	blob, err := encMode.Marshal(res)
	if err != nil {
		return fmt.Errorf("cache: encoding %s: %w", path, err)
	}

	conn, err := c.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	defer c.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("cache: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	now := c.now().UnixNano()
	err = sqlitex.Execute(conn,
		`INSERT INTO exif_cache (path, size, mtime, data, written)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (path) DO UPDATE SET
		   size = excluded.size, mtime = excluded.mtime,
		   data = excluded.data, written = excluded.written`,
		&sqlitex.ExecOptions{
			Args: []any{path, st.Size(), st.ModTime().UnixNano(), blob, now},
		})
	if err != nil {
		return fmt.Errorf("cache: put %s: %w", path, err)
	}

	if err = c.evict(conn, now); err != nil {
		return err
	}
	return nil
}

// evict removes expired entries, then trims the oldest writes until the
// cache fits its capacity.
func (c *Cache) evict(conn *sqlite.Conn, now int64) error {
	err := sqlitex.Execute(conn, "DELETE FROM exif_cache WHERE written < ?", &sqlitex.ExecOptions{
		Args: []any{now - c.ttl.Nanoseconds()},
	})
	if err != nil {
		return fmt.Errorf("cache: purging expired: %w", err)
	}

	var count int
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM exif_cache", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("cache: counting entries: %w", err)
	}
	if count <= c.capacity {
		return nil
	}

	err = sqlitex.Execute(conn,
		`DELETE FROM exif_cache WHERE path IN
		 (SELECT path FROM exif_cache ORDER BY written ASC LIMIT ?)`,
		&sqlitex.ExecOptions{
			Args: []any{count - c.capacity},
		})
	if err != nil {
		return fmt.Errorf("cache: evicting: %w", err)
	}
	return nil
}

// Len reports the number of entries currently stored.
func (c *Cache) Len() (int, error) {
	conn, err := c.pool.Take(context.Background())
	if err != nil {
		return 0, fmt.Errorf("cache: len: %w", err)
	}
	defer c.pool.Put(conn)

	var count int
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM exif_cache", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("cache: len: %w", err)
	}
	return count, nil
}
