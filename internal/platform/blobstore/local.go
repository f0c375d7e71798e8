package blobstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const dataURIExt = ".uri"

// LocalBlobStore keeps each blob as a file holding a
// "data:<mime>;base64,<payload>" URI.
type LocalBlobStore struct {
	dir    string
	prefix string
}

// NewLocalBlobStore stores blobs under dir. References are prefix + id.
func NewLocalBlobStore(dir, prefix string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create banner dir: %w", err)
	}
	return &LocalBlobStore{dir: dir, prefix: prefix}, nil
}

func (s *LocalBlobStore) path(id string) string {
	return filepath.Join(s.dir, id+dataURIExt)
}

// EncodeDataURI renders content as a base64 data URI.
func EncodeDataURI(contentType string, content []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(content)
}

// DecodeDataURI parses a base64 data URI.
func DecodeDataURI(uri string) (contentType string, content []byte, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data uri")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return "", nil, fmt.Errorf("data uri is not base64 encoded")
	}
	content, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data uri: %w", err)
	}
	return strings.TrimSuffix(header, ";base64"), content, nil
}

func (s *LocalBlobStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	if err := Validate(meta); err != nil {
		return nil, err
	}
	meta, data, err := readContent(meta, content)
	if err != nil {
		return nil, err
	}
	uri := EncodeDataURI(meta.ContentType, data)
	if err := os.WriteFile(s.path(meta.ID), []byte(uri), 0o600); err != nil {
		return nil, fmt.Errorf("write banner: %w", err)
	}
	return &meta, nil
}

func (s *LocalBlobStore) read(id string) ([]byte, *BlobMetadata, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, nil, ErrBlobNotFound
	}
	raw, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read banner: %w", err)
	}
	contentType, data, err := DecodeDataURI(string(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("banner %s: %w", id, err)
	}
	meta := &BlobMetadata{ID: id, FileName: id, ContentType: contentType, Size: int64(len(data))}
	if info, err := os.Stat(s.path(id)); err == nil {
		meta.CreatedAt = info.ModTime().UTC()
	}
	return data, meta, nil
}

func (s *LocalBlobStore) Download(_ context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	data, meta, err := s.read(id)
	if err != nil {
		return nil, nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), meta, nil
}

func (s *LocalBlobStore) Delete(_ context.Context, id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return ErrBlobNotFound
	}
	err := os.Remove(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return ErrBlobNotFound
	}
	return err
}

// List returns every stored blob, oldest first.
func (s *LocalBlobStore) List(_ context.Context) ([]*BlobMetadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list banners: %w", err)
	}
	out := make([]*BlobMetadata, 0, len(entries))
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), dataURIExt)
		if e.IsDir() || !ok {
			continue
		}
		_, meta, err := s.read(id)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	sortByCreated(out)
	return out, nil
}

func (s *LocalBlobStore) Ref(meta BlobMetadata) string {
	return s.prefix + meta.ID
}

func (s *LocalBlobStore) Resolve(ref string) (string, bool) {
	return trimRef(ref, s.prefix)
}
