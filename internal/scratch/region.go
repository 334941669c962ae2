// Package scratch persists the small set of counters that must survive
// a restart or a low-power suspend but not a power cycle: the status
// message sequence number, the accumulated run time, and the boot
// marker used to classify the next reset.
//
// The region is addressed by fixed word offsets, mirroring the RTC
// user memory of the original hardware. Production uses a SQLite file
// on tmpfs so that a power cycle yields a fresh (empty) region.
package scratch

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Fixed word offsets within the region.
const (
	OffsetSequence   = 0
	OffsetRunTime    = 1
	OffsetBootMarker = 2

	// Words is the size of the region in 32-bit words.
	Words = 8
)

// Region is a fixed-size array of 32-bit words.
type Region interface {
	ReadWord(offset int) (uint32, error)
	WriteWord(offset int, v uint32) error
	Close() error
}

func checkOffset(offset int) error {
	if offset < 0 || offset >= Words {
		return fmt.Errorf("scratch offset %d out of range [0,%d)", offset, Words)
	}
	return nil
}

// SQLiteRegion is a Region backed by a SQLite table. All public
// methods are safe for concurrent use (SQLite serializes writes).
type SQLiteRegion struct {
	db *sql.DB
}

// OpenRegion opens (creating if needed) the region at path. fresh
// reports whether the database file did not exist beforehand, which is
// how a cold power-on is recognised.
func OpenRegion(path string) (region *SQLiteRegion, fresh bool, err error) {
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		fresh = true
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("create scratch directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, false, fmt.Errorf("open database: %w", err)
	}

	r, err := NewSQLiteRegion(db)
	if err != nil {
		db.Close()
		return nil, false, err
	}
	return r, fresh, nil
}

// NewSQLiteRegion wraps an already-open database. The schema is
// created automatically on first use.
func NewSQLiteRegion(db *sql.DB) (*SQLiteRegion, error) {
	r := &SQLiteRegion{db: db}
	if err := r.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLiteRegion) migrate() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS scratch_words (
		slot       INTEGER PRIMARY KEY,
		value      INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	return err
}

// ReadWord returns the word at offset. Unwritten words read as zero.
func (r *SQLiteRegion) ReadWord(offset int) (uint32, error) {
	if err := checkOffset(offset); err != nil {
		return 0, err
	}
	var v int64
	err := r.db.QueryRow(`SELECT value FROM scratch_words WHERE slot = ?`, offset).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read word %d: %w", offset, err)
	}
	return uint32(v), nil
}

// WriteWord upserts the word at offset.
func (r *SQLiteRegion) WriteWord(offset int, v uint32) error {
	if err := checkOffset(offset); err != nil {
		return err
	}
	_, err := r.db.Exec(
		`INSERT INTO scratch_words (slot, value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (slot) DO UPDATE
		 SET value = excluded.value, updated_at = excluded.updated_at`,
		offset, int64(v), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("write word %d: %w", offset, err)
	}
	return nil
}

// Close closes the database connection.
func (r *SQLiteRegion) Close() error {
	return r.db.Close()
}

// MemRegion is an in-memory Region. It survives nothing; it exists so
// callers can run without a filesystem.
type MemRegion struct {
	mu    sync.Mutex
	words [Words]uint32
}

// ReadWord returns the word at offset.
func (m *MemRegion) ReadWord(offset int) (uint32, error) {
	if err := checkOffset(offset); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.words[offset], nil
}

// WriteWord stores v at offset.
func (m *MemRegion) WriteWord(offset int, v uint32) error {
	if err := checkOffset(offset); err != nil {
		return err
	}
	m.mu.Lock()
	m.words[offset] = v
	m.mu.Unlock()
	return nil
}

// Close is a no-op.
func (m *MemRegion) Close() error { return nil }
