package cache

import (
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a cache entry doesn't exist.
var ErrNotFound = errors.New("cache entry not found")

// Store wraps Badger for cache operations.
type Store struct {
	db *badger.DB
}

// OpenStore opens or creates a cache store at the given path.
func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable badger logging

	return openStore(opts)
}

// OpenMemoryStore opens a store that lives only in memory.
func OpenMemoryStore() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	return openStore(opts)
}

func openStore(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get retrieves a cached decision by key.
func (s *Store) Get(key string) (*CachedResult, error) {
	var entry CachedResult

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(MakeKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		return item.Value(entry.Decode)
	})

	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Put stores a decision. Entries expire after ttl unless ttl is zero.
func (s *Store) Put(key string, entry *CachedResult, ttl time.Duration) error {
	value, err := entry.Encode()
	if err != nil {
		return err
	}

	e := badger.NewEntry(MakeKey(key), value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(e)
	})
}

// Delete removes a cached decision.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(MakeKey(key))
	})
}

// DeletePrefix removes every decision whose key starts with prefix and
// returns how many were removed.
func (s *Store) DeletePrefix(prefix string) (int, error) {
	p := MakeKeyPrefix(prefix)
	var n int

	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// Keys returns the decision keys starting with prefix.
func (s *Store) Keys(prefix string) ([]string, error) {
	p := MakeKeyPrefix(prefix)
	var keys []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, ParseKey(it.Item().Key()))
		}
		return nil
	})
	return keys, err
}
