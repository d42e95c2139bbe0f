package offline0

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var queueSchemaSQL string

// sqliteQueueStore is the alternative durable store driver, selected with
// storage.queue.driver: sqlite.
type sqliteQueueStore struct {
	db *sql.DB
}

func openSQLiteQueueStore(path string) (*sqliteQueueStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storeError("queue.open", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storeError("queue.open", err)
	}

	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, storeError("queue.open", fmt.Errorf("%s: %w", p, err))
		}
	}
	if _, err := db.Exec(queueSchemaSQL); err != nil {
		db.Close()
		return nil, storeError("queue.open", err)
	}
	return &sqliteQueueStore{db: db}, nil
}

func (s *sqliteQueueStore) Get(ctx context.Context, name string) (QueueRecord, bool, error) {
	rec := QueueRecord{Key: name}
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value, timestamp FROM queue_records WHERE key = ?`, name,
	).Scan(&value, &rec.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return QueueRecord{}, false, nil
	}
	if err != nil {
		return QueueRecord{}, false, storeError("queue.get", err)
	}
	rec.Value = json.RawMessage(value)
	return rec, true, nil
}

func (s *sqliteQueueStore) Put(ctx context.Context, name string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_records (key, value, timestamp) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, timestamp = excluded.timestamp
	`, name, []byte(value), time.Now().UnixMilli())
	if err != nil {
		return storeError("queue.put", err)
	}
	return nil
}

func (s *sqliteQueueStore) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM queue_records WHERE key = ?`, name); err != nil {
		return storeError("queue.delete", err)
	}
	return nil
}

func (s *sqliteQueueStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
