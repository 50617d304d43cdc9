package content

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Links maintains the mapping from declared output paths to current content
// blobs, implemented as symlinks swapped atomically. An external reader of a
// linked path always sees either the previous complete content or the new
// complete content, never a partial write.
type Links struct {
	store *Store

	// mu guards the per-path lock table; each output path has its own lock
	// so the atomic swap is serialized per path, not globally.
	mu    sync.Mutex
	paths map[string]*sync.Mutex
}

// NewLinks returns a symlink manager resolving hashes against store.
func NewLinks(store *Store) *Links {
	return &Links{store: store, paths: make(map[string]*sync.Mutex)}
}

func (l *Links) pathLock(path string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.paths[path]
	if !ok {
		lock = &sync.Mutex{}
		l.paths[path] = lock
	}
	return lock
}

// Link atomically points path at the blob for hash. The blob must already
// exist. The swap is write-new-link-then-rename-over-old; the link is never
// edited in place.
func (l *Links) Link(path, hash string) error {
	if !l.store.Has(hash) {
		return fmt.Errorf("link %s: %w: %s", path, ErrNotFound, hash)
	}

	lock := l.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("link %s: %w", path, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.lg-tmp", filepath.Base(path)))
	os.Remove(tmp)
	if err := os.Symlink(l.store.BlobPath(hash), tmp); err != nil {
		return fmt.Errorf("link %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("link %s: %w", path, err)
	}
	return nil
}

// Unlink removes the mapping for path. The underlying blob is retained until
// a sweep proves it unreferenced. Unlinking a path that is not a symlink is
// a no-op so user files are never destroyed.
func (l *Links) Unlink(path string) error {
	lock := l.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unlink %s: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("unlink %s: %w", path, err)
	}
	return nil
}

// Resolve returns the content hash path currently points at.
func (l *Links) Resolve(path string) (string, error) {
	target, err := os.Readlink(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("resolve %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return filepath.Base(target), nil
}
