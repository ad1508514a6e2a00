//go:build !gcp

package snapshot

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(ctx context.Context) (BlobStore, error) {
	return nil, fmt.Errorf("gcs snapshots are not enabled in this build (use -tags gcp)")
}
