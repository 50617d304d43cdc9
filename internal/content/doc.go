// Package content implements the content-addressed blob store and the
// symlink manager that maps declared output paths onto current blobs.
//
// The store is append-only: blobs are keyed by SHA-256 of their bytes, so
// identical output content is written once no matter how many nodes produce
// it. Output paths are symlinks swapped with rename, which is what makes a
// rebuild's commit atomic from an observer's point of view.
package content
