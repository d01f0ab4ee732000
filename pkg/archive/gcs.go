//go:build gcp

package archive

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSUploader writes segments to a Google Cloud Storage bucket. Built only
// with the gcp tag to keep the default binary free of the GCP SDK.
type GCSUploader struct {
	client *storage.Client
	bucket string
}

// NewGCSUploader uses Application Default Credentials.
func NewGCSUploader(ctx context.Context, bucket string) (*GCSUploader, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: gcs client: %w", err)
	}
	return &GCSUploader{client: client, bucket: bucket}, nil
}

func newGCSUploader(ctx context.Context, bucket string) (Uploader, error) {
	return NewGCSUploader(ctx, bucket)
}

// Upload implements Uploader.
func (u *GCSUploader) Upload(ctx context.Context, key string, data []byte, contentHash string) error {
	w := u.client.Bucket(u.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"
	w.Metadata = map[string]string{"content-hash": contentHash}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed: %w", err)
	}
	return nil
}
