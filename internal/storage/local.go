package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const tmpSuffix = ".tmp"

// LocalBlobStore stores blobs by sha256 digest on local disk.
type LocalBlobStore struct {
	root string
}

var _ BlobStorage = (*LocalBlobStore)(nil)

func NewLocalBlobStore(root string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalBlobStore{root: root}, nil
}

func (b *LocalBlobStore) PutStream(_ context.Context, r io.Reader) (digest string, size int64, key string, err error) {
	tmpDir := filepath.Join(b.root, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", 0, "", fmt.Errorf("create tmp dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(tmpDir, "blob-*")
	if err != nil {
		return "", 0, "", fmt.Errorf("create tmp file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmpFile, h), r)
	if err != nil {
		return "", 0, "", fmt.Errorf("write blob: %w", err)
	}
	hexDigest := hex.EncodeToString(h.Sum(nil))
	digest = "sha256:" + hexDigest
	size = n
	key = contentKey(hexDigest)
	absPath := b.path(key)

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", 0, "", fmt.Errorf("create blob dir: %w", err)
	}
	if _, statErr := os.Stat(absPath); statErr == nil {
		_ = os.Remove(tmpName)
		return digest, size, key, nil
	}

	if err := tmpFile.Close(); err != nil {
		return "", 0, "", fmt.Errorf("close tmp file: %w", err)
	}
	if err := os.Rename(tmpName, absPath); err != nil {
		return "", 0, "", fmt.Errorf("move blob: %w", err)
	}
	return digest, size, key, nil
}

func (b *LocalBlobStore) Open(_ context.Context, key string) (*BlobFile, error) {
	f, err := os.Open(b.path(key))
	if err != nil {
		return nil, notFound(key, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return NewBlobFile(f, info.Size()), nil
}

func (b *LocalBlobStore) WriteObject(_ context.Context, key string, data []byte) error {
	absPath := b.path(key)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	// Concurrent writers of one key each rename their own temp file.
	f, err := os.CreateTemp(filepath.Dir(absPath), filepath.Base(absPath)+".*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("create object tmp: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write object: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp, absPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("move object: %w", err)
	}
	return nil
}

func (b *LocalBlobStore) ReadObject(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		return nil, notFound(key, err)
	}
	return data, nil
}

func (b *LocalBlobStore) Remove(_ context.Context, key string) error {
	if err := os.Remove(b.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

func (b *LocalBlobStore) List(_ context.Context, prefix string) ([]string, error) {
	dir := b.path(prefix)
	if prefix == "" {
		dir = b.root
	} else if !strings.HasSuffix(prefix, "/") {
		dir = filepath.Dir(dir)
	}
	var keys []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), tmpSuffix) {
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	return keys, nil
}

func (b *LocalBlobStore) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func contentKey(hexDigest string) string {
	return "sha256/" + hexDigest[:2] + "/" + hexDigest
}

func notFound(key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return err
}
