package store

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// OutputValue records the committed result of one node output: the content
// hash, when it was written, and its size. Only the rebuild scheduler writes
// these, after a successful processor run.
type OutputValue struct {
	NodeID    string    `json:"node_id"`
	Output    string    `json:"output"`
	Hash      string    `json:"hash"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LinkRecord is the durable row behind a managed symlink: which path points
// at which blob, and which node owns the path.
type LinkRecord struct {
	Path      string    `json:"path"`
	Hash      string    `json:"hash"`
	NodeID    string    `json:"node_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

func valueKey(nodeID, output string) []byte {
	return []byte(prefixValue + nodeID + "\x00" + output)
}

func linkKey(path string) []byte { return []byte(prefixLink + path) }

// RecordOutputs commits a rebuild's output values and link records in a
// single transaction. The caller writes blobs and swaps symlinks first;
// committing here is what makes the rebuild visible, so a crash in between
// leaves stale records that point at still-existing blobs and is repaired at
// startup.
func (s *Store) RecordOutputs(values []OutputValue, links []LinkRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, v := range values {
			if err := setJSON(txn, valueKey(v.NodeID, v.Output), &v); err != nil {
				return fmt.Errorf("record output %s.%s: %w", v.NodeID, v.Output, err)
			}
		}
		for _, l := range links {
			if err := setJSON(txn, linkKey(l.Path), &l); err != nil {
				return fmt.Errorf("record link %s: %w", l.Path, err)
			}
		}
		return nil
	})
}

// CurrentOutputValue returns the latest committed value for a node output.
func (s *Store) CurrentOutputValue(nodeID, output string) (OutputValue, error) {
	var v OutputValue
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, valueKey(nodeID, output), &v)
	})
	return v, err
}

// ListOutputValues returns every committed output value.
func (s *Store) ListOutputValues() ([]OutputValue, error) {
	var values []OutputValue
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixValue)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var v OutputValue
			err := it.Item().Value(func(val []byte) error {
				return unmarshal(val, &v)
			})
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		return nil
	})
	return values, err
}

func listLinks(txn *badger.Txn) ([]LinkRecord, error) {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixLink)})
	defer it.Close()

	var links []LinkRecord
	for it.Rewind(); it.Valid(); it.Next() {
		var l LinkRecord
		err := it.Item().Value(func(val []byte) error {
			return unmarshal(val, &l)
		})
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, nil
}

// ListLinks returns every durable link record.
func (s *Store) ListLinks() ([]LinkRecord, error) {
	var links []LinkRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		links, err = listLinks(txn)
		return err
	})
	return links, err
}

// DeleteLink removes the record for a path. Missing records are ignored.
func (s *Store) DeleteLink(path string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(linkKey(path))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// SetManualInputs stores the caller-provided input values of a manual node,
// replacing any previous set.
func (s *Store) SetManualInputs(nodeID string, values map[string]any) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, []byte(prefixInput+nodeID), values)
	})
}

// GetManualInputs returns the stored manual inputs of a node, or an empty
// map when none were ever set.
func (s *Store) GetManualInputs(nodeID string) (map[string]any, error) {
	values := make(map[string]any)
	err := s.db.View(func(txn *badger.Txn) error {
		err := getJSON(txn, []byte(prefixInput+nodeID), &values)
		if err != nil && !isNotFound(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}
