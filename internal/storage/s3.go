package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3BlobStore.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3BlobStore stores blobs in an S3-compatible bucket (AWS S3, MinIO, etc.).
type S3BlobStore struct {
	client S3API
	bucket string
	prefix string
}

var _ BlobStorage = (*S3BlobStore)(nil)

type S3Options struct {
	Client S3API
	Bucket string
	Prefix string // optional key prefix, e.g. "blobs/"
}

func NewS3BlobStore(opts S3Options) *S3BlobStore {
	return &S3BlobStore{
		client: opts.Client,
		bucket: opts.Bucket,
		prefix: opts.Prefix,
	}
}

func (s *S3BlobStore) objectKey(key string) string {
	if s.prefix != "" {
		return s.prefix + key
	}
	return key
}

func (s *S3BlobStore) PutStream(ctx context.Context, r io.Reader) (digest string, size int64, key string, err error) {
	// Spool to a temp file first to compute the digest and get a seekable body.
	tmpFile, err := os.CreateTemp("", "s3-blob-*")
	if err != nil {
		return "", 0, "", fmt.Errorf("create tmp file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmpFile, h), r)
	if err != nil {
		return "", 0, "", fmt.Errorf("write tmp blob: %w", err)
	}

	hexDigest := hex.EncodeToString(h.Sum(nil))
	digest = "sha256:" + hexDigest
	size = n
	key = contentKey(hexDigest)

	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return "", 0, "", fmt.Errorf("seek tmp file: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          tmpFile,
		ContentLength: aws.Int64(n),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", 0, "", fmt.Errorf("s3 put: %w", err)
	}
	return digest, size, key, nil
}

func (s *S3BlobStore) Open(ctx context.Context, key string) (*BlobFile, error) {
	resp, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Download to a temp file so callers get io.ReaderAt.
	tmpFile, err := os.CreateTemp("", "s3-read-*")
	if err != nil {
		return nil, fmt.Errorf("create tmp file: %w", err)
	}

	n, err := io.Copy(tmpFile, resp.Body)
	if err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return nil, fmt.Errorf("download s3 object: %w", err)
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return nil, fmt.Errorf("seek tmp file: %w", err)
	}
	return newTempBlobFile(tmpFile, n), nil
}

func (s *S3BlobStore) WriteObject(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %q: %w", key, err)
	}
	return nil
}

func (s *S3BlobStore) ReadObject(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object %q: %w", key, err)
	}
	return data, nil
}

func (s *S3BlobStore) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %q: %w", key, err)
	}
	return nil
}

func (s *S3BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), s.prefix))
		}
	}
	return keys, nil
}

func (s *S3BlobStore) get(ctx context.Context, key string) (*s3.GetObjectOutput, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("s3 get %q: %w", key, err)
	}
	return resp, nil
}
