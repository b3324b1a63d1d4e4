// In file: internal/answercache/cache.go
// Package answercache is a persistent, bounded cache of composed answers.
// Each entry is keyed by a fingerprint of the (history, query) pair, carries
// usage statistics, and the least-valuable entry is evicted once the store
// grows past its capacity. SQLite gives us atomic per-key updates, so
// concurrent lookups and stores from separate pipeline invocations cannot
// lose use_count updates.
package answercache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultCapacity bounds the store when no explicit capacity is configured.
const DefaultCapacity = 500

const createAnswersTable = `
CREATE TABLE IF NOT EXISTS answers (
	fingerprint TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	answer TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	last_access INTEGER NOT NULL,
	use_count INTEGER NOT NULL DEFAULT 1
);
`

// Entry is one cached answer together with its usage statistics.
type Entry struct {
	Fingerprint string
	Question    string
	Answer      string
	CreatedAt   time.Time
	LastAccess  time.Time
	UseCount    int64
}

// Stats reports cache size and hit/miss counters for the current process.
type Stats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Store is the SQLite-backed answer cache. A nil *Store is a valid, disabled
// cache: every lookup misses and every store is a no-op. This keeps the
// pipeline alive when the backing file is corrupt or unwritable.
type Store struct {
	db       *sql.DB
	capacity int
	hits     atomic.Int64
	misses   atomic.Int64
}

// New opens (or creates) the cache database at dbPath. A capacity <= 0 falls
// back to DefaultCapacity. On failure the caller is expected to continue with
// a nil store rather than abort.
func New(dbPath string, capacity int) (*Store, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open answer cache db: %w", err)
	}
	// Single writer: SQLite serializes mutations anyway, and one connection
	// avoids SQLITE_BUSY churn under concurrent pipeline invocations.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createAnswersTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate answer cache db: %w", err)
	}
	return &Store{db: db, capacity: capacity}, nil
}

// Fingerprint derives the stable cache key for a (history, query) pair.
// Both parts are trimmed and case-folded before being joined with a
// separator and hashed, so whitespace and casing variants of the same
// conversation map to the same entry.
func Fingerprint(query, history string) string {
	normalized := normalize(history) + "|" + normalize(query)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Lookup returns the cached answer for the pair, if present. A hit also
// increments use_count and refreshes last_access in place: the eviction
// policy ranks entries by usage, so the statistics must be durable even
// though this is logically a read. Storage faults degrade to a miss.
func (c *Store) Lookup(query, history string) (string, bool) {
	if c == nil || c.db == nil {
		return "", false
	}
	var answer string
	err := c.db.QueryRow(
		`UPDATE answers SET use_count = use_count + 1, last_access = ?
		 WHERE fingerprint = ? RETURNING answer`,
		time.Now().UnixNano(), Fingerprint(query, history),
	).Scan(&answer)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("answer cache lookup degraded to miss: %v", err)
		}
		c.misses.Add(1)
		return "", false
	}
	c.hits.Add(1)
	return answer, true
}

// Store inserts (or overwrites) the answer for the pair with use_count=1 and
// fresh timestamps. If the insert pushes the store past capacity, exactly one
// entry is evicted: the minimum by (use_count, last_access), so entries
// proven valuable by repeated use outlive merely recent ones. Failures are
// logged and swallowed; a lost cache write must never fail the pipeline.
func (c *Store) Store(query, history, answer string) {
	if c == nil || c.db == nil {
		return
	}
	now := time.Now().UnixNano()
	tx, err := c.db.Begin()
	if err != nil {
		log.Printf("answer cache store skipped: %v", err)
		return
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO answers (fingerprint, question, answer, created_at, last_access, use_count)
		 VALUES (?, ?, ?, ?, ?, 1)`,
		Fingerprint(query, history), query, answer, now, now,
	)
	if err != nil {
		log.Printf("answer cache store skipped: %v", err)
		return
	}

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM answers`).Scan(&count); err != nil {
		log.Printf("answer cache store skipped: %v", err)
		return
	}
	if count > c.capacity {
		_, err = tx.Exec(
			`DELETE FROM answers WHERE fingerprint =
			 (SELECT fingerprint FROM answers ORDER BY use_count ASC, last_access ASC LIMIT 1)`,
		)
		if err != nil {
			log.Printf("answer cache eviction failed: %v", err)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("answer cache store skipped: %v", err)
	}
}

// Get returns the full entry for a fingerprint without touching its usage
// statistics. Used for inspection and tests, not by the pipeline.
func (c *Store) Get(fingerprint string) (Entry, bool) {
	if c == nil || c.db == nil {
		return Entry{}, false
	}
	var e Entry
	var createdAt, lastAccess int64
	err := c.db.QueryRow(
		`SELECT fingerprint, question, answer, created_at, last_access, use_count
		 FROM answers WHERE fingerprint = ?`, fingerprint,
	).Scan(&e.Fingerprint, &e.Question, &e.Answer, &createdAt, &lastAccess, &e.UseCount)
	if err != nil {
		return Entry{}, false
	}
	e.CreatedAt = time.Unix(0, createdAt)
	e.LastAccess = time.Unix(0, lastAccess)
	return e, true
}

// Stats returns the current entry count plus this process's hit/miss tally.
func (c *Store) Stats() Stats {
	if c == nil || c.db == nil {
		return Stats{}
	}
	var count int64
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM answers`).Scan(&count); err != nil {
		log.Printf("answer cache stats: %v", err)
	}
	return Stats{
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

// Close releases the database connection.
func (c *Store) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}
