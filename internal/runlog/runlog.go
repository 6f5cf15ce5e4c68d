package runlog

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Entry is one completed (or aborted) run. The log is append-only and purely
// informational: the provider's instance listing, not this file, is the
// source of truth for what is currently billing.
type Entry struct {
	ID           int64
	InstanceID   int
	GPUName      string
	PricePerHour float64
	Duration     time.Duration
	Outcome      string
	Destroyed    bool
	CreatedAt    time.Time
}

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the run log database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)

	if err != nil {
		return nil, errors.Wrapf(err, "open run log %s", path)
	}

	schema := `CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instance_id INTEGER NOT NULL,
		gpu_name TEXT NOT NULL,
		price_per_hour REAL NOT NULL,
		duration_seconds REAL NOT NULL,
		outcome TEXT NOT NULL,
		destroyed INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create runs table")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Append(e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	query := `INSERT INTO runs (instance_id, gpu_name, price_per_hour, duration_seconds, outcome, destroyed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.Exec(query, e.InstanceID, e.GPUName, e.PricePerHour, e.Duration.Seconds(), e.Outcome, e.Destroyed, e.CreatedAt)

	if err != nil {
		return errors.Wrap(err, "append run entry")
	}

	e.ID, _ = result.LastInsertId()

	return nil
}

func (s *Store) List() ([]*Entry, error) {
	query := `SELECT id, instance_id, gpu_name, price_per_hour, duration_seconds, outcome, destroyed, created_at
		FROM runs ORDER BY created_at DESC`

	rows, err := s.db.Query(query)

	if err != nil {
		return nil, errors.Wrap(err, "list run entries")
	}

	defer rows.Close()

	var entries []*Entry

	for rows.Next() {
		e := &Entry{}

		var seconds float64

		if err := rows.Scan(&e.ID, &e.InstanceID, &e.GPUName, &e.PricePerHour, &seconds, &e.Outcome, &e.Destroyed, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan run entry")
		}

		e.Duration = time.Duration(seconds * float64(time.Second))
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// TotalCost sums the billed cost over all logged runs.
func (s *Store) TotalCost() (float64, error) {
	query := `SELECT COALESCE(SUM(price_per_hour * duration_seconds / 3600.0), 0) FROM runs`

	var total float64

	if err := s.db.QueryRow(query).Scan(&total); err != nil {
		return 0, errors.Wrap(err, "sum run cost")
	}

	return total, nil
}
