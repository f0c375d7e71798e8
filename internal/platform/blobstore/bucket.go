package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const bucketFolder = "banners"

// BucketBlobStore keeps blobs on an HTTP object storage endpoint that
// accepts PUT, GET and DELETE on object URLs. The object URL is the
// reference stored in settings.
type BucketBlobStore struct {
	http *resty.Client
	base string
}

// NewBucketBlobStore targets baseURL. apiKey, when set, is sent as a
// bearer token.
func NewBucketBlobStore(baseURL, apiKey string) *BucketBlobStore {
	base := strings.TrimRight(baseURL, "/")
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &BucketBlobStore{http: client, base: base}
}

func objectPath(id string) string {
	return "/" + path.Join(bucketFolder, id)
}

func (s *BucketBlobStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	if err := Validate(meta); err != nil {
		return nil, err
	}
	meta, data, err := readContent(meta, content)
	if err != nil {
		return nil, err
	}
	meta.ID += strings.ToLower(path.Ext(meta.FileName))

	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", meta.ContentType).
		SetBody(data).
		Put(objectPath(meta.ID))
	if err != nil {
		return nil, fmt.Errorf("upload banner: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("upload banner: bucket returned %s", resp.Status())
	}
	return &meta, nil
}

func (s *BucketBlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	resp, err := s.http.R().SetContext(ctx).Get(objectPath(id))
	if err != nil {
		return nil, nil, fmt.Errorf("download banner: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil, ErrBlobNotFound
	}
	if resp.IsError() {
		return nil, nil, fmt.Errorf("download banner: bucket returned %s", resp.Status())
	}
	body := resp.Body()
	meta := &BlobMetadata{
		ID:          id,
		FileName:    id,
		ContentType: resp.Header().Get("Content-Type"),
		Size:        int64(len(body)),
	}
	return io.NopCloser(bytes.NewReader(body)), meta, nil
}

func (s *BucketBlobStore) Delete(ctx context.Context, id string) error {
	resp, err := s.http.R().SetContext(ctx).Delete(objectPath(id))
	if err != nil {
		return fmt.Errorf("delete banner: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return ErrBlobNotFound
	}
	if resp.IsError() {
		return fmt.Errorf("delete banner: bucket returned %s", resp.Status())
	}
	return nil
}

// List is not offered by plain object endpoints; bucket banners are known
// only through the settings document.
func (s *BucketBlobStore) List(context.Context) ([]*BlobMetadata, error) {
	return nil, nil
}

func (s *BucketBlobStore) Ref(meta BlobMetadata) string {
	return s.base + objectPath(meta.ID)
}

func (s *BucketBlobStore) Resolve(ref string) (string, bool) {
	return trimRef(ref, s.base+"/"+bucketFolder+"/")
}
