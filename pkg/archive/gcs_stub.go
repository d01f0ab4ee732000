//go:build !gcp

package archive

import (
	"context"
	"fmt"
)

func newGCSUploader(context.Context, string) (Uploader, error) {
	return nil, fmt.Errorf("archive: gcs backend requires a build with the gcp tag")
}
