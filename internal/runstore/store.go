// Package runstore persists completed pipeline runs. It backs onto Postgres
// when a DSN is configured and falls back to an in-memory map with a JSON
// file snapshot otherwise, so the CLI works without any infrastructure.
package runstore

import (
	"database/sql"
	"os"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"

	"drivergen/internal/driver"
)

// Record is one finished run with its full result.
type Record struct {
	RunID     string                  `json:"run_id"`
	Target    string                  `json:"target"`
	CreatedAt time.Time               `json:"created_at"`
	Result    driver.SupervisorResult `json:"result"`
}

type Store struct {
	path string
	db   *sql.DB

	loadOnce sync.Once
	mu       sync.RWMutex
	byID     map[string]Record

	schemaOnce sync.Once
	schemaErr  error

	cache *lru.Cache[string, Record]
}

// New returns a file-backed store rooted at path.
func New(path string) *Store {
	return &Store{
		path: path,
		byID: make(map[string]Record),
	}
}

// NewPostgres opens a Postgres-backed store and verifies connectivity.
func NewPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	cache, err := lru.New[string, Record](1024)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, cache: cache}, nil
}

// NewFromEnv prefers Postgres when DATABASE_URL is set and reachable,
// otherwise falls back to the file store at path.
func NewFromEnv(path string) *Store {
	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		return New(path)
	}
	s, err := NewPostgres(dsn)
	if err != nil {
		return New(path)
	}
	return s
}

func (s *Store) EnsureLoaded() {
	if s == nil {
		return
	}
	if s.db != nil {
		_ = s.ensureSchema()
		return
	}
	s.ensureLoadedFile()
}

// Put stores a record, replacing any previous record with the same run ID.
func (s *Store) Put(rec Record) error {
	if s == nil {
		return nil
	}
	rec.RunID = strings.TrimSpace(rec.RunID)
	if rec.RunID == "" {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if s.db != nil {
		err := s.putDB(rec)
		if err == nil && s.cache != nil {
			s.cache.Add(rec.RunID, rec)
		}
		return err
	}
	s.putFile(rec)
	return nil
}

// Get returns the record for a run ID.
func (s *Store) Get(runID string) (Record, bool) {
	if s == nil {
		return Record{}, false
	}
	id := strings.TrimSpace(runID)
	if id == "" {
		return Record{}, false
	}
	if s.db != nil {
		if s.cache != nil {
			if rec, ok := s.cache.Get(id); ok {
				return rec, true
			}
		}
		rec, ok := s.getDB(id)
		if ok && s.cache != nil {
			s.cache.Add(id, rec)
		}
		return rec, ok
	}
	return s.getFile(id)
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (s *Store) List(limit int) []Record {
	if s == nil {
		return nil
	}
	if s.db != nil {
		return s.listDB(limit)
	}
	return s.listFile(limit)
}

// Close releases the database handle if one is open.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
