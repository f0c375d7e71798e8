// Package blobstore stores banner images. A bucket store keeps them behind
// public URLs on an object storage endpoint; the local store keeps each
// image as a data URI file under the data directory and serves it through
// the API.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("only image files can be uploaded")
	ErrMissingFileName    = errors.New("file name is required")
)

// MaxFileSize is the maximum banner image size in bytes (5 MB).
const MaxFileSize = 5 * 1024 * 1024

// BlobMetadata describes a stored blob.
type BlobMetadata struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlobStore defines the contract for blob storage backends.
type BlobStore interface {
	Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error)
	Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*BlobMetadata, error)
	// Ref is the reference kept in the settings document for a blob.
	Ref(meta BlobMetadata) string
	// Resolve maps a reference back to a blob id; ok is false for
	// references this store did not issue.
	Resolve(ref string) (id string, ok bool)
}

// Validate checks the metadata of an upload.
func Validate(meta BlobMetadata) error {
	if meta.FileName == "" {
		return ErrMissingFileName
	}
	if !strings.HasPrefix(meta.ContentType, "image/") {
		return ErrInvalidContentType
	}
	return nil
}

// readContent reads at most MaxFileSize bytes and fills in the derived
// metadata fields.
func readContent(meta BlobMetadata, content io.Reader) (BlobMetadata, []byte, error) {
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return meta, nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return meta, nil, ErrFileTooLarge
	}
	h := sha256.Sum256(data)
	meta.ID = uuid.New().String()
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", h)
	meta.CreatedAt = time.Now().UTC()
	return meta, data, nil
}

type storedBlob struct {
	metadata BlobMetadata
	content  []byte
}

// InMemoryBlobStore is a thread-safe, in-memory BlobStore for testing/dev.
type InMemoryBlobStore struct {
	mu     sync.RWMutex
	blobs  map[string]*storedBlob
	prefix string
}

// NewInMemoryBlobStore returns a store whose references are prefix + id.
func NewInMemoryBlobStore(prefix string) *InMemoryBlobStore {
	return &InMemoryBlobStore{
		blobs:  make(map[string]*storedBlob),
		prefix: prefix,
	}
}

func (s *InMemoryBlobStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	if err := Validate(meta); err != nil {
		return nil, err
	}
	meta, data, err := readContent(meta, content)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta // copy
	return &out, nil
}

func (s *InMemoryBlobStore) Download(_ context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrBlobNotFound
	}

	meta := blob.metadata // copy
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

func (s *InMemoryBlobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}

// List returns every blob, oldest first.
func (s *InMemoryBlobStore) List(_ context.Context) ([]*BlobMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*BlobMetadata, 0, len(s.blobs))
	for _, b := range s.blobs {
		m := b.metadata // copy
		out = append(out, &m)
	}
	sortByCreated(out)
	return out, nil
}

func (s *InMemoryBlobStore) Ref(meta BlobMetadata) string {
	return s.prefix + meta.ID
}

func (s *InMemoryBlobStore) Resolve(ref string) (string, bool) {
	return trimRef(ref, s.prefix)
}

func trimRef(ref, prefix string) (string, bool) {
	if prefix == "" || !strings.HasPrefix(ref, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(ref, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func sortByCreated(items []*BlobMetadata) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}
