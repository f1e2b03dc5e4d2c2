package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/linecue/linecue/internal/cachekey"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current index schema version. Bump this when the
// schema changes; older databases must be rebuilt.
const schemaVersion = 1

// MemoryIndexPath opens a process-private in-memory index.
const MemoryIndexPath = ":memory:"

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const entryColumns = `owner_id, cache_key, script_id, line_index, character_name, voice_id,
	speed, provider, locator, content_type, size, created_at`

// SQLiteIndex stores cache entries in a SQLite database.
type SQLiteIndex struct {
	db   *sql.DB
	path string
}

var _ Index = (*SQLiteIndex)(nil)

// OpenIndex initializes or connects to the index database at path.
func OpenIndex(ctx context.Context, path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
	}
	if path == MemoryIndexPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	idx := &SQLiteIndex{db: db, path: path}
	if err := idx.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

// Close closes the underlying database connection.
func (x *SQLiteIndex) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}

// Lookup returns the entry for key owned by ownerID, or ErrCacheMiss.
func (x *SQLiteIndex) Lookup(ctx context.Context, ownerID, key string) (*Entry, error) {
	row := x.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM audio_cache WHERE owner_id = ? AND cache_key = ?`,
		ownerID, key)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("lookup entry: %w", err)
	}
	return e, nil
}

// Upsert inserts e or replaces the existing entry with the same owner and key.
func (x *SQLiteIndex) Upsert(ctx context.Context, e Entry) error {
	return x.execWithRetry(ctx, `
		INSERT INTO audio_cache (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, cache_key) DO UPDATE SET
			script_id = excluded.script_id,
			line_index = excluded.line_index,
			character_name = excluded.character_name,
			voice_id = excluded.voice_id,
			speed = excluded.speed,
			provider = excluded.provider,
			locator = excluded.locator,
			content_type = excluded.content_type,
			size = excluded.size,
			created_at = excluded.created_at`,
		e.OwnerID, e.Key, e.ScriptID, e.LineIndex, e.Character, e.VoiceID,
		cachekey.NormalizeSpeed(e.Speed), e.Provider, e.Locator, e.ContentType, e.Size,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
}

// Delete removes the entry for key owned by ownerID. Missing entries are not an error.
func (x *SQLiteIndex) Delete(ctx context.Context, ownerID, key string) error {
	return x.execWithRetry(ctx,
		`DELETE FROM audio_cache WHERE owner_id = ? AND cache_key = ?`, ownerID, key)
}

// List returns entries matching f ordered by script and line.
func (x *SQLiteIndex) List(ctx context.Context, f ListFilter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.ScriptID != "" {
		where = append(where, "script_id = ?")
		args = append(args, f.ScriptID)
	}

	query := `SELECT ` + entryColumns + ` FROM audio_cache`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY owner_id, script_id, line_index, created_at"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Totals summarizes the whole index.
func (x *SQLiteIndex) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := x.db.QueryRowContext(ctx, `
		SELECT COUNT(1),
		       COALESCE(SUM(size), 0),
		       COUNT(DISTINCT owner_id),
		       COUNT(DISTINCT owner_id || '/' || script_id)
		FROM audio_cache`).Scan(&t.Entries, &t.Bytes, &t.Owners, &t.Scripts)
	if err != nil {
		return Totals{}, fmt.Errorf("index totals: %w", err)
	}
	return t, nil
}

// Locators returns the set of locators referenced by any entry.
func (x *SQLiteIndex) Locators(ctx context.Context) (map[string]struct{}, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT DISTINCT locator FROM audio_cache`)
	if err != nil {
		return nil, fmt.Errorf("list locators: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, fmt.Errorf("scan locator: %w", err)
		}
		out[loc] = struct{}{}
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e       Entry
		speed   string
		created string
	)
	if err := row.Scan(&e.OwnerID, &e.Key, &e.ScriptID, &e.LineIndex, &e.Character, &e.VoiceID,
		&speed, &e.Provider, &e.Locator, &e.ContentType, &e.Size, &created); err != nil {
		return nil, err
	}

	var err error
	if e.Speed, err = strconv.ParseFloat(speed, 64); err != nil {
		return nil, fmt.Errorf("parse speed %q: %w", speed, err)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	return &e, nil
}

func (x *SQLiteIndex) initSchema(ctx context.Context) error {
	// Check if schema_version table exists (indicates an initialized database)
	var tableExists int
	err := x.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return x.createSchema(ctx)
	}

	var version int
	err = x.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to rebuild)",
			ErrSchemaMismatch, version, schemaVersion, x.path)
	}
	return nil
}

func (x *SQLiteIndex) createSchema(ctx context.Context) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func (x *SQLiteIndex) execWithRetry(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := x.db.ExecContext(ctx, query, args...)
		return err
	})
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
