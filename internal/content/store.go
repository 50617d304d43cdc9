package content

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when a hash or link target has no backing blob.
var ErrNotFound = errors.New("content not found")

// Store is content-addressed blob storage. Blobs are keyed by the SHA-256 of
// their bytes and immutable once written, so identical outputs from any
// number of nodes occupy a single file. Writes are idempotent and safe for
// concurrent callers.
type Store struct {
	root string
}

// NewStore opens (creating if needed) a content store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create content store: %w", err)
	}
	return &Store{root: dir}, nil
}

// Hash returns the store key for the given bytes without writing anything.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put writes data under its content hash and returns the hash. If a blob
// with that hash already exists the write is skipped. Concurrent Puts of the
// same bytes race benignly: each writes its own temp file and the final
// rename lands identical content.
func (s *Store) Put(data []byte) (string, error) {
	hash := Hash(data)
	dest := s.BlobPath(hash)

	if _, err := os.Stat(dest); err == nil {
		return hash, nil
	}

	tmp, err := os.CreateTemp(s.root, ".put-*")
	if err != nil {
		return "", fmt.Errorf("content put: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("content put: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("content put: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("content put: %w", err)
	}
	return hash, nil
}

// Append writes a new blob holding the existing blob's bytes followed by
// data and returns the combined hash and size. An empty or missing existing
// hash combines with nothing, so the first append of an accumulating output
// seeds it.
func (s *Store) Append(existing string, data []byte) (string, int64, error) {
	return s.combine(existing, data, false)
}

// Prepend is Append with data placed before the existing bytes.
func (s *Store) Prepend(existing string, data []byte) (string, int64, error) {
	return s.combine(existing, data, true)
}

func (s *Store) combine(existing string, data []byte, before bool) (string, int64, error) {
	var prior []byte
	if existing != "" {
		var err error
		prior, err = s.Get(existing)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return "", 0, err
		}
	}
	combined := make([]byte, 0, len(prior)+len(data))
	if before {
		combined = append(combined, data...)
		combined = append(combined, prior...)
	} else {
		combined = append(combined, prior...)
		combined = append(combined, data...)
	}
	hash, err := s.Put(combined)
	if err != nil {
		return "", 0, err
	}
	return hash, int64(len(combined)), nil
}

// Get returns the bytes stored under hash, or ErrNotFound.
func (s *Store) Get(hash string) ([]byte, error) {
	data, err := os.ReadFile(s.BlobPath(hash))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("content get: %w", err)
	}
	return data, nil
}

// Has reports whether a blob exists for hash.
func (s *Store) Has(hash string) bool {
	_, err := os.Stat(s.BlobPath(hash))
	return err == nil
}

// BlobPath returns the on-disk location for a hash. The blob may not exist.
func (s *Store) BlobPath(hash string) string {
	return filepath.Join(s.root, hash)
}

// Sweep deletes every blob whose hash is not in live and returns the number
// removed. It runs outside any commit path; callers gather the live set from
// current output values and link records first.
func (s *Store) Sweep(live map[string]bool) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("content sweep: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || len(name) == 0 || name[0] == '.' {
			continue
		}
		if live[name] {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, name)); err != nil {
			return removed, fmt.Errorf("content sweep: %w", err)
		}
		removed++
	}
	return removed, nil
}
