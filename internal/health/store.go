package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists health-counter bucket events so back-off state survives
// a process restart. Off by default: Counter works purely in-memory
// unless a Store is attached via NewWithStore.
type Store interface {
	// Append records one increment event.
	Append(ctx context.Context, k string, metric Metric, ts int64, amount int64) error
	// LoadAll returns every recorded increment event, oldest first, used to
	// rebuild a Counter's in-memory buckets on startup.
	LoadAll(ctx context.Context) ([]Event, error)
	Close() error
}

// Event is one persisted increment, the unit LoadAll/Append exchange.
type Event struct {
	Key    string
	Metric Metric
	TS     int64
	Amount int64
}

// SQLiteStore is a Store backed by github.com/mattn/go-sqlite3.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) a SQLite database at path
// and ensures its schema exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open health sqlite store: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// newSQLiteStoreFromDB wraps an already-open *sql.DB without running the
// schema migration, letting tests inject a sqlmock-backed DB and assert
// against Append/LoadAll's exact SQL.
func newSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS health_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT NOT NULL,
	metric TEXT NOT NULL,
	ts INTEGER NOT NULL,
	amount INTEGER NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("migrate health sqlite store: %w", err)
	}
	return nil
}

// Append inserts one increment event.
func (s *SQLiteStore) Append(ctx context.Context, k string, metric Metric, ts int64, amount int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO health_events (key, metric, ts, amount) VALUES (?, ?, ?, ?)`,
		k, string(metric), ts, amount)
	if err != nil {
		return fmt.Errorf("append health event: %w", err)
	}
	return nil
}

// LoadAll returns every persisted event ordered by id (insertion order).
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, metric, ts, amount FROM health_events ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("load health events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var metric string
		if err := rows.Scan(&ev.Key, &metric, &ev.TS, &ev.Amount); err != nil {
			return nil, fmt.Errorf("scan health event: %w", err)
		}
		ev.Metric = Metric(metric)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// NewWithStore builds a Counter whose buckets are seeded from store's
// recorded history and whose subsequent increments are persisted back to
// it. onIncrement behaves as in New: invoked after every increment, in
// addition to (not instead of) the store write.
func NewWithStore(ctx context.Context, store Store, onIncrement func(key string, metric Metric, amount int64)) (*Counter, error) {
	c := New(onIncrement)
	if store == nil {
		return c, nil
	}

	events, err := store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore health counter from store: %w", err)
	}
	for _, ev := range events {
		c.restoreEvent(ev)
	}
	c.store = store
	return c, nil
}

// restoreEvent replays one persisted event directly into the bucket map
// without re-invoking onIncrement or the store (used only at startup).
func (c *Counter) restoreEvent(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sk := key{Key: ev.Key, Metric: ev.Metric}
	s, ok := c.series[sk]
	if !ok {
		s = &series{}
		c.series[sk] = s
	}
	s.minutes = addBucket(s.minutes, time.Unix(ev.TS, 0).Truncate(time.Minute).Unix(), ev.Amount)
}
