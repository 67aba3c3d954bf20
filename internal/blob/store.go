// Package blob implements the blob service: a holder-addressed store on top
// of content-addressed storage, its gRPC server, and the streaming client
// used by the backup pipelines.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"strconv"
	"strings"
	"sync"

	"backupd/internal/storage"
)

const (
	// GRPCChunkSizeLimit is the largest message the blob service emits.
	GRPCChunkSizeLimit = 4 * 1024 * 1024
	// GRPCMetadataSizePerMessage is reserved for the CBOR framing of each
	// chunk message.
	GRPCMetadataSizePerMessage = 16
)

var (
	// ErrInvalidRequest reports a malformed or out-of-order blob request.
	ErrInvalidRequest = errors.New("invalid blob request")
	// ErrHolderNotFound reports a holder without a stored blob.
	ErrHolderNotFound = errors.New("holder not found")
	// ErrContentRemoved reports content deleted by a concurrent Remove
	// while it was being uploaded again.
	ErrContentRemoved = errors.New("blob content removed concurrently")
)

// ChunkSize returns the data size of each Get chunk, leaving room for
// extraBytesNeeded bytes the caller adds to every outgoing message.
func ChunkSize(extraBytesNeeded int64) int {
	size := int64(GRPCChunkSizeLimit) - extraBytesNeeded - GRPCMetadataSizePerMessage
	if size < 1 {
		return 1
	}
	return int(size)
}

// Store maps holders to content-addressed objects. A holder is a reference
// object pointing at the content key; blobs uploaded with a hash that is
// already known are not stored twice. Every holder also leaves a marker under
// refs/<content>/, and content is deleted with its last marker.
type Store struct {
	storage storage.BlobStorage
	logger  *log.Logger

	// locks serialize reference changes per content key.
	locks [64]sync.Mutex
}

func NewStore(s storage.BlobStorage, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{storage: s, logger: logger}
}

// Put stores the data read from r under holder. When a blob with the same
// hash already exists, r is drained and only the reference is written.
func (s *Store) Put(ctx context.Context, holder, hash string, r io.Reader) (dataExists bool, err error) {
	if holder == "" || hash == "" {
		return false, fmt.Errorf("%w: holder and hash are required", ErrInvalidRequest)
	}

	key, err := s.storage.ReadObject(ctx, hashKey(hash))
	switch {
	case err == nil:
		ok, err := s.reference(ctx, string(key), holder, hash)
		if err != nil {
			return false, err
		}
		if ok {
			if _, err := io.Copy(io.Discard, r); err != nil {
				if rerr := s.release(ctx, holder, string(key)); rerr != nil {
					s.logger.Printf("[blob] release %s failed: %v", holder, rerr)
				}
				return false, fmt.Errorf("drain blob data: %w", err)
			}
			return true, nil
		}
		// The indexed content is gone; store it again from r.
	case !storage.IsObjectNotFound(err):
		return false, err
	}

	_, size, contentKey, err := s.storage.PutStream(ctx, r)
	if err != nil {
		return false, err
	}
	ok, err := s.reference(ctx, contentKey, holder, hash)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: content of %s", ErrContentRemoved, holder)
	}
	s.logger.Printf("[blob] stored %d bytes for hash %s", size, hash)
	return false, nil
}

// Open returns the blob referenced by holder.
func (s *Store) Open(ctx context.Context, holder string) (*storage.BlobFile, error) {
	key, err := s.storage.ReadObject(ctx, holderKey(holder))
	if err != nil {
		if storage.IsObjectNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrHolderNotFound, holder)
		}
		return nil, err
	}
	f, err := s.storage.Open(ctx, string(key))
	if err != nil {
		if storage.IsObjectNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrHolderNotFound, holder)
		}
		return nil, err
	}
	return f, nil
}

// Remove drops the holder. Content and hash index go with the last holder
// referencing them. Removing an unknown holder is not an error.
func (s *Store) Remove(ctx context.Context, holder string) error {
	if holder == "" {
		return fmt.Errorf("%w: holder is required", ErrInvalidRequest)
	}
	key, err := s.storage.ReadObject(ctx, holderKey(holder))
	if err != nil {
		if storage.IsObjectNotFound(err) {
			return nil
		}
		return err
	}
	return s.release(ctx, holder, string(key))
}

// reference records holder as a user of the content stored under key. It
// reports false when that content no longer exists.
func (s *Store) reference(ctx context.Context, key, holder, hash string) (bool, error) {
	kName := digestName(key)
	mu := s.lockFor(kName)
	mu.Lock()
	defer mu.Unlock()

	present, err := s.exists(ctx, key)
	if err != nil || !present {
		return false, err
	}
	if err := s.storage.WriteObject(ctx, refKey(kName, digestName(hash), digestName(holder)), nil); err != nil {
		return false, err
	}
	if err := s.storage.WriteObject(ctx, hashKey(hash), []byte(key)); err != nil {
		return false, err
	}
	if err := s.storage.WriteObject(ctx, holderKey(holder), []byte(key)); err != nil {
		return false, err
	}
	return true, nil
}

// release drops holder's reference to key and deletes what no other holder
// still references.
func (s *Store) release(ctx context.Context, holder, key string) error {
	kName := digestName(key)
	mu := s.lockFor(kName)
	mu.Lock()
	defer mu.Unlock()

	refs, err := s.storage.List(ctx, refPrefix(kName))
	if err != nil {
		return err
	}
	holderName := digestName(holder)
	var own, ownHashes []string
	remaining := map[string]bool{}
	for _, ref := range refs {
		hName, refHolder := splitRef(kName, ref)
		if refHolder == holderName {
			own = append(own, ref)
			ownHashes = append(ownHashes, hName)
			continue
		}
		remaining[hName] = true
	}

	if err := s.storage.Remove(ctx, holderKey(holder)); err != nil {
		return err
	}
	for _, ref := range own {
		if err := s.storage.Remove(ctx, ref); err != nil {
			return err
		}
	}
	for _, hName := range ownHashes {
		if remaining[hName] {
			continue
		}
		indexed, err := s.storage.ReadObject(ctx, hashIndexKey(hName))
		if err == nil && string(indexed) == key {
			if err := s.storage.Remove(ctx, hashIndexKey(hName)); err != nil {
				return err
			}
		}
	}
	if len(remaining) > 0 {
		return nil
	}
	if err := s.storage.Remove(ctx, key); err != nil {
		return err
	}
	s.logger.Printf("[blob] removed unreferenced content %s", key)
	return nil
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	keys, err := s.storage.List(ctx, key)
	if err != nil {
		return false, err
	}
	return slices.Contains(keys, key), nil
}

func (s *Store) lockFor(name string) *sync.Mutex {
	n, _ := strconv.ParseUint(name[:2], 16, 8)
	return &s.locks[int(n)%len(s.locks)]
}

func holderKey(holder string) string   { return "holders/" + digestName(holder) }
func hashKey(hash string) string       { return hashIndexKey(digestName(hash)) }
func hashIndexKey(hName string) string { return "hashes/" + hName }
func refPrefix(kName string) string    { return "refs/" + kName + "/" }
func refKey(kName, hName, holderName string) string {
	return refPrefix(kName) + hName + "/" + holderName
}

// splitRef returns the hash and holder names of a marker key.
func splitRef(kName, ref string) (hName, holderName string) {
	rest := strings.TrimPrefix(ref, refPrefix(kName))
	hName, holderName, _ = strings.Cut(rest, "/")
	return hName, holderName
}

func digestName(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
