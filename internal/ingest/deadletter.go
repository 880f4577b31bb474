package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var deadLetterPrefix = []byte("dl/")

// DeadLetterEntry is a message that could not be persisted.
type DeadLetterEntry struct {
	Key    string    `json:"-"`
	Reason string    `json:"reason"`
	Body   []byte    `json:"body"`
	Time   time.Time `json:"time"`
}

// DeadLetterStore keeps poison messages in a local badger database so they
// stop cycling through the broker.
type DeadLetterStore struct {
	db *badger.DB
}

// OpenDeadLetter opens the store in dir, or in memory when dir is empty.
func OpenDeadLetter(dir string, log *logrus.Logger) (*DeadLetterStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	if log != nil {
		opts = opts.WithLogger(log.WithField("component", "deadletter"))
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("deadletter -> open %q: %w", dir, err)
	}
	return &DeadLetterStore{db: db}, nil
}

func (s *DeadLetterStore) Put(body []byte, reason string) error {
	now := time.Now()
	val, err := json.Marshal(DeadLetterEntry{Reason: reason, Body: body, Time: now})
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%020d/%s", deadLetterPrefix, now.UnixNano(), uuid.NewString())
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
}

// List returns up to limit entries, oldest first. limit <= 0 means all.
func (s *DeadLetterStore) List(limit int) ([]DeadLetterEntry, error) {
	var out []DeadLetterEntry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(deadLetterPrefix); it.ValidForPrefix(deadLetterPrefix); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var e DeadLetterEntry
			if err := json.Unmarshal(raw, &e); err != nil {
				return err
			}
			e.Key = string(item.KeyCopy(nil))
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (s *DeadLetterStore) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (s *DeadLetterStore) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(deadLetterPrefix); it.ValidForPrefix(deadLetterPrefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *DeadLetterStore) Close() error {
	return s.db.Close()
}
