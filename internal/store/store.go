package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a referenced node, value, or link record does
// not exist.
var ErrNotFound = errors.New("record not found")

// Key prefixes. One keyspace, one badger instance; every multi-record commit
// is a single transaction.
const (
	prefixNode  = "node/"
	prefixEdge  = "edge/"
	prefixValue = "value/"
	prefixLink  = "link/"
	prefixInput = "input/"
)

// Config holds the options for opening a Store.
type Config struct {
	// Path is the directory for the database files. Ignored when InMemory.
	Path string
	// InMemory disables disk persistence; used by tests.
	InMemory bool
	// SyncWrites forces fsync on every commit.
	SyncWrites bool
	// Logger receives badger's internal logging; nil disables it.
	Logger *slog.Logger
}

// Store is the durable node registry and value store, backed by badger.
// Writes that must become visible together (a rebuild's output values plus
// its link records, or a node and its edges) share one transaction.
type Store struct {
	db *badger.DB
}

// badgerLogger adapts slog to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens (creating if needed) the store described by cfg.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("store: path required for a persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a throwaway store for tests.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// deletePrefix removes every key under the given prefix within txn.
func deletePrefix(txn *badger.Txn, prefix []byte) error {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
