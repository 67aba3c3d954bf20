package storage

import (
	"context"
	"errors"
	"io"
	"os"
)

// ErrObjectNotFound is returned when a key has no stored object.
var ErrObjectNotFound = errors.New("object not found")

func IsObjectNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// BlobFile represents an opened blob that supports sequential and
// random-access reads and reports its size.
type BlobFile struct {
	file    *os.File
	size    int64
	cleanup func()
}

func NewBlobFile(f *os.File, size int64) *BlobFile {
	return &BlobFile{file: f, size: size}
}

// newTempBlobFile wraps a downloaded temp file that is removed on Close.
func newTempBlobFile(f *os.File, size int64) *BlobFile {
	name := f.Name()
	return &BlobFile{file: f, size: size, cleanup: func() { _ = os.Remove(name) }}
}

func (b *BlobFile) Read(p []byte) (int, error)              { return b.file.Read(p) }
func (b *BlobFile) ReadAt(p []byte, off int64) (int, error) { return b.file.ReadAt(p, off) }
func (b *BlobFile) Size() int64                             { return b.size }

func (b *BlobFile) Close() error {
	err := b.file.Close()
	if b.cleanup != nil {
		b.cleanup()
	}
	return err
}

// BlobStorage is the interface for blob storage backends.
// Both local-disk and S3-compatible stores implement this.
type BlobStorage interface {
	// PutStream writes data from r, returning the content-addressable digest,
	// byte count, and a backend-specific key for later retrieval.
	PutStream(ctx context.Context, r io.Reader) (digest string, size int64, key string, err error)

	// Open retrieves a previously stored blob by its key.
	// The returned BlobFile must be closed by the caller.
	Open(ctx context.Context, key string) (*BlobFile, error)

	// WriteObject stores a small object under key, replacing any previous one.
	WriteObject(ctx context.Context, key string, data []byte) error

	// ReadObject returns an object written with WriteObject.
	ReadObject(ctx context.Context, key string) ([]byte, error)

	// Remove deletes the object stored under key. Missing keys are not an error.
	Remove(ctx context.Context, key string) error

	// List returns the keys starting with prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)
}
