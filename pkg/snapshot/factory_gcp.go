//go:build gcp

package snapshot

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (BlobStore, error) {
	bucket := os.Getenv("BLOSSOM_SNAPSHOT_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("BLOSSOM_SNAPSHOT_BUCKET is required for gcs snapshots")
	}
	return NewGCSStore(ctx, GCSConfig{Bucket: bucket, Prefix: os.Getenv("BLOSSOM_SNAPSHOT_PREFIX")})
}
