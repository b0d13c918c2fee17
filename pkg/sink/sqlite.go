package sink

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fako1024/esf37/pkg/scale"

	_ "github.com/mattn/go-sqlite3"
)

// Upper bound for the result capacity reserved up front, the actual number of
// rows is not known before iterating
const recentPrealloc = 64

const createTable = `CREATE TABLE IF NOT EXISTS measurements (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	weight_kg REAL NOT NULL
)`

// SQLite denotes a measurement store backed by a SQLite database
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and if required creates) the database at the given path
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := db.Exec(createTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db schema: %w", err)
	}

	return &SQLite{
		db: db,
	}, nil
}

// Append inserts a single measurement
func (s *SQLite) Append(m scale.Measurement) error {
	_, err := s.db.Exec("INSERT INTO measurements (timestamp, weight_kg) VALUES (?, ?)",
		m.TimeStamp.Format(time.RFC3339Nano), m.Weight)
	return err
}

// Recent returns up to n of the most recently inserted measurements, newest first
func (s *SQLite) Recent(n int) (scale.Measurements, error) {
	rows, err := s.db.Query("SELECT timestamp, weight_kg FROM measurements ORDER BY id DESC LIMIT ?", n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make(scale.Measurements, 0, min(n, recentPrealloc))
	for rows.Next() {
		var (
			ts string
			m  scale.Measurement
		)
		if err := rows.Scan(&ts, &m.Weight); err != nil {
			return nil, err
		}
		if m.TimeStamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("invalid timestamp `%s`: %w", ts, err)
		}
		res = append(res, m)
	}

	return res, rows.Err()
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}
