package content

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	return s
}

func TestPutDeduplicates(t *testing.T) {
	s := newTestStore(t)

	h1, err := s.Put([]byte("hello"))
	require.NoError(t, err)
	h2, err := s.Put([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, Hash([]byte("hello")), h1)

	entries, err := os.ReadDir(s.root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "identical content must be stored exactly once")
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	hash, err := s.Put([]byte("payload"))
	require.NoError(t, err)

	got, err := s.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentPutSameContent(t *testing.T) {
	s := newTestStore(t)
	data := []byte("contended")

	var wg sync.WaitGroup
	hashes := make([]string, 16)
	for i := range hashes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := s.Put(data)
			assert.NoError(t, err)
			hashes[i] = h
		}(i)
	}
	wg.Wait()

	for _, h := range hashes {
		assert.Equal(t, hashes[0], h)
	}
	got, err := s.Get(hashes[0])
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestAppendAccumulates(t *testing.T) {
	s := newTestStore(t)

	h1, size, err := s.Append("", []byte("one\n"))
	require.NoError(t, err)
	assert.Equal(t, Hash([]byte("one\n")), h1)
	assert.Equal(t, int64(4), size)

	h2, size, err := s.Append(h1, []byte("two\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)

	got, err := s.Get(h2)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(got))

	// The prior version stays addressable until swept.
	assert.True(t, s.Has(h1))
}

func TestPrependPutsNewContentFirst(t *testing.T) {
	s := newTestStore(t)

	h1, _, err := s.Prepend("", []byte("newest\n"))
	require.NoError(t, err)
	h2, _, err := s.Prepend(h1, []byte("newer\n"))
	require.NoError(t, err)

	got, err := s.Get(h2)
	require.NoError(t, err)
	assert.Equal(t, "newer\nnewest\n", string(got))
}

func TestAppendToSweptHashSeedsFresh(t *testing.T) {
	s := newTestStore(t)

	hash, size, err := s.Append("deadbeef", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, Hash([]byte("data")), hash)
	assert.Equal(t, int64(4), size)
}

func TestSweep(t *testing.T) {
	s := newTestStore(t)

	keep, err := s.Put([]byte("keep"))
	require.NoError(t, err)
	drop, err := s.Put([]byte("drop"))
	require.NoError(t, err)

	removed, err := s.Sweep(map[string]bool{keep: true})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, s.Has(keep))
	assert.False(t, s.Has(drop))
}

func TestLinkResolvesToBlob(t *testing.T) {
	s := newTestStore(t)
	links := NewLinks(s)

	hash, err := s.Put([]byte("first"))
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "out", "result.txt")
	require.NoError(t, links.Link(target, hash))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)

	resolved, err := links.Resolve(target)
	require.NoError(t, err)
	assert.Equal(t, hash, resolved)
}

func TestLinkSwapIsAtomicForReaders(t *testing.T) {
	s := newTestStore(t)
	links := NewLinks(s)
	target := filepath.Join(t.TempDir(), "swap.txt")

	a, err := s.Put([]byte("aaaa"))
	require.NoError(t, err)
	b, err := s.Put([]byte("bbbb"))
	require.NoError(t, err)
	require.NoError(t, links.Link(target, a))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				assert.NoError(t, links.Link(target, b))
			} else {
				assert.NoError(t, links.Link(target, a))
			}
		}
	}()

	// A concurrent reader must always see one complete version.
	for {
		select {
		case <-done:
			return
		default:
		}
		data, err := os.ReadFile(target)
		require.NoError(t, err, "target must never be unresolvable mid-swap")
		if string(data) != "aaaa" && string(data) != "bbbb" {
			t.Fatalf("observed mixed content %q", data)
		}
	}
}

func TestLinkMissingBlob(t *testing.T) {
	s := newTestStore(t)
	links := NewLinks(s)
	err := links.Link(filepath.Join(t.TempDir(), "x"), "no-such-hash")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnlink(t *testing.T) {
	s := newTestStore(t)
	links := NewLinks(s)

	hash, err := s.Put([]byte("data"))
	require.NoError(t, err)
	target := filepath.Join(t.TempDir(), "gone.txt")
	require.NoError(t, links.Link(target, hash))

	require.NoError(t, links.Unlink(target))
	_, err = os.Lstat(target)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// Blob is retained until swept.
	assert.True(t, s.Has(hash))

	// Unlinking again, or a path that never existed, is a no-op.
	assert.NoError(t, links.Unlink(target))

	// A regular file is left alone.
	regular := filepath.Join(t.TempDir(), "user.txt")
	require.NoError(t, os.WriteFile(regular, []byte("mine"), 0o644))
	require.NoError(t, links.Unlink(regular))
	_, err = os.Stat(regular)
	assert.NoError(t, err)
}
