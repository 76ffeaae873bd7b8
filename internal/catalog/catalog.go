// Package catalog keeps a SQLite sidecar of every document a volume manager
// wrote: where, when, by which session, and the checksum of the bytes. It is
// used to audit a volume and to detect documents edited outside the store.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/voltree/internal/checksum"
	"github.com/agentic-research/voltree/internal/volume"
)

var ErrNotFound = errors.New("no record for document")

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	path       TEXT    NOT NULL,
	tag        TEXT    NOT NULL,
	checksum   TEXT    NOT NULL,
	size       INTEGER NOT NULL,
	written_at INTEGER NOT NULL,
	session    TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_path ON documents(path, id);
`

// Entry is one recorded write.
type Entry struct {
	ID int64
	volume.DocumentRecord
}

// Catalog implements volume.DocumentRecorder.
type Catalog struct {
	mu   sync.Mutex // serializes writers; the store saves siblings concurrently
	db   *sql.DB
	path string
}

var _ volume.DocumentRecorder = (*Catalog)(nil)

// Open opens or creates the catalog database at path.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=DELETE"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set synchronous: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}
	return &Catalog{db: db, path: path}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

func (c *Catalog) Path() string { return c.path }

// RecordDocument stores rec.
func (c *Catalog) RecordDocument(rec volume.DocumentRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec(
		"INSERT INTO documents (path, tag, checksum, size, written_at, session) VALUES (?, ?, ?, ?, ?, ?)",
		rec.Path, rec.Tag, rec.Checksum, rec.Size, rec.WrittenAt.UnixNano(), rec.Session,
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", rec.Path, err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer func() { _ = rows.Close() }()
	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ns int64
		)
		if err := rows.Scan(&e.ID, &e.Path, &e.Tag, &e.Checksum, &e.Size, &ns, &e.Session); err != nil {
			return nil, err
		}
		e.WrittenAt = time.Unix(0, ns).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

const columns = "id, path, tag, checksum, size, written_at, session"

// Documents returns the most recent writes, newest first. limit <= 0
// returns all of them.
func (c *Catalog) Documents(limit int) ([]Entry, error) {
	q := "SELECT " + columns + " FROM documents ORDER BY id DESC"
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := c.db.Query(q)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// History returns every write of the document at path, oldest first.
func (c *Catalog) History(path string) ([]Entry, error) {
	rows, err := c.db.Query("SELECT "+columns+" FROM documents WHERE path = ? ORDER BY id", path)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// Latest returns the last write of every document path.
func (c *Catalog) Latest() ([]Entry, error) {
	rows, err := c.db.Query(
		"SELECT " + columns + " FROM documents WHERE id IN (SELECT max(id) FROM documents GROUP BY path) ORDER BY path",
	)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// LatestFor returns the last write of the document at path.
func (c *Catalog) LatestFor(path string) (Entry, error) {
	rows, err := c.db.Query("SELECT "+columns+" FROM documents WHERE path = ? ORDER BY id DESC LIMIT 1", path)
	if err != nil {
		return Entry{}, err
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return entries[0], nil
}

// Mismatch is a document whose bytes on disk differ from its last recorded
// write, or that no longer exists.
type Mismatch struct {
	Entry
	Actual string // empty when the file is missing
}

// Verify compares the latest recorded checksum of every document with the
// file on fsys.
func (c *Catalog) Verify(fsys billy.Filesystem) ([]Mismatch, error) {
	latest, err := c.Latest()
	if err != nil {
		return nil, err
	}
	var out []Mismatch
	for _, e := range latest {
		sum, err := checksum.File(fsys, e.Path)
		if err != nil {
			out = append(out, Mismatch{Entry: e})
			continue
		}
		if sum != e.Checksum {
			out = append(out, Mismatch{Entry: e, Actual: sum})
		}
	}
	return out, nil
}
