package offline0

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Queue names of the local durable store.
const (
	QueueSync     = "pending-sync"
	QueueBookings = "pending-bookings"
	QueueProfile  = "pending-profile"
)

// QueueStore is the local durable store: one logical database with one
// object store of QueueRecords keyed by queue name. Every call is a single
// atomic transaction; there is no locking across calls.
type QueueStore interface {
	Get(ctx context.Context, name string) (QueueRecord, bool, error)
	Put(ctx context.Context, name string, value json.RawMessage) error
	Delete(ctx context.Context, name string) error
	Close() error
}

func queueKey(name string) []byte { return []byte("q:" + name) }

// levelQueueStore keeps queue records next to the cache namespaces in the
// shared leveldb database.
type levelQueueStore struct {
	db *leveldb.DB
}

func newLevelQueueStore(db *leveldb.DB) *levelQueueStore {
	return &levelQueueStore{db: db}
}

func (s *levelQueueStore) Get(ctx context.Context, name string) (QueueRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return QueueRecord{}, false, storeError("queue.get", err)
	}
	b, err := s.db.Get(queueKey(name), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return QueueRecord{}, false, nil
	}
	if err != nil {
		return QueueRecord{}, false, storeError("queue.get", err)
	}
	var rec QueueRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return QueueRecord{}, false, parseError("queue.get", "malformed queue record "+name, err)
	}
	return rec, true, nil
}

func (s *levelQueueStore) Put(ctx context.Context, name string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return storeError("queue.put", err)
	}
	b, err := json.Marshal(QueueRecord{Key: name, Value: value, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return parseError("queue.put", "encode queue record "+name, err)
	}
	if err := s.db.Put(queueKey(name), b, &opt.WriteOptions{Sync: true}); err != nil {
		return storeError("queue.put", err)
	}
	return nil
}

func (s *levelQueueStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return storeError("queue.delete", err)
	}
	if err := s.db.Delete(queueKey(name), &opt.WriteOptions{Sync: true}); err != nil {
		return storeError("queue.delete", err)
	}
	return nil
}

// Close is a no-op: the database is shared with the caches and closed by the Service.
func (s *levelQueueStore) Close() error { return nil }
