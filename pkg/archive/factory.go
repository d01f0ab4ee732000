package archive

import (
	"context"
	"fmt"

	"github.com/arbiter-systems/arbiter/pkg/config"
)

// NewUploader selects the backend named in the archive profile section.
func NewUploader(ctx context.Context, cfg config.ArchiveConfig) (Uploader, error) {
	switch cfg.Backend {
	case "s3":
		return NewS3Uploader(ctx, S3Config{Bucket: cfg.Bucket, Region: cfg.Region})
	case "gcs":
		return newGCSUploader(ctx, cfg.Bucket)
	case "":
		return nil, fmt.Errorf("archive: no backend configured")
	default:
		return nil, fmt.Errorf("archive: unknown backend %q", cfg.Backend)
	}
}
