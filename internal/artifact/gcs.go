package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/dvloznov/audible-pipeline/internal/domain"
)

const gcsScheme = "gs://"

// GCSStore keeps artifacts as CSV objects under a Cloud Storage prefix.
// Objects only become visible when the writer is closed successfully, so a
// failed write never replaces the previous artifact.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a store for a gs://bucket/prefix location.
// It assumes Application Default Credentials are configured.
func NewGCSStore(ctx context.Context, location string) (*GCSStore, error) {
	bucket, prefix, err := parseGCSLocation(location)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, domain.Connectivity(fmt.Errorf("NewGCSStore: create storage client: %w", err))
	}
	return NewGCSStoreWithClient(client, bucket, prefix), nil
}

// NewGCSStoreWithClient creates a store using the provided client.
func NewGCSStoreWithClient(client *storage.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}
}

// Location implements Store.
func (s *GCSStore) Location(name string) string {
	return gcsScheme + s.bucket + "/" + s.objectName(name)
}

// Write implements Store. A failed encode cancels the upload.
func (s *GCSStore) Write(ctx context.Context, name string, t domain.Table) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(s.objectName(name)).NewWriter(ctx)
	w.ContentType = "text/csv"

	if err := EncodeCSV(w, t); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("GCSStore.Write: %s: %w", name, err)
	}

	// Close to finalize the upload
	if err := w.Close(); err != nil {
		return domain.Connectivity(fmt.Errorf("GCSStore.Write: finalize upload of %s: %w", s.Location(name), err))
	}
	return nil
}

// Read implements Store. A missing object wraps fs.ErrNotExist.
func (s *GCSStore) Read(ctx context.Context, name string) (domain.Table, error) {
	rc, err := s.client.Bucket(s.bucket).Object(s.objectName(name)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return domain.Table{}, fmt.Errorf("GCSStore.Read: %s: %w", s.Location(name), fs.ErrNotExist)
	}
	if err != nil {
		return domain.Table{}, domain.Connectivity(fmt.Errorf("GCSStore.Read: open %s: %w", s.Location(name), err))
	}
	defer rc.Close()

	t, err := DecodeCSV(rc)
	if err != nil {
		return domain.Table{}, fmt.Errorf("GCSStore.Read: %s: %w", name, err)
	}
	return t, nil
}

// Close implements Store.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) objectName(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// parseGCSLocation splits gs://bucket/some/prefix into bucket and prefix.
func parseGCSLocation(location string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(location, gcsScheme) {
		return "", "", domain.Config("invalid GCS location: %s", location)
	}

	trimmed := strings.TrimPrefix(location, gcsScheme)
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", domain.Config("invalid GCS location (no bucket): %s", location)
	}
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return parts[0], prefix, nil
}

var _ Store = (*GCSStore)(nil)
