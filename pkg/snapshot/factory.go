package snapshot

import (
	"context"
	"fmt"
	"os"
)

// Backend names for NewBlobStoreFromEnv.
const (
	BackendFS  = "fs"
	BackendS3  = "s3"
	BackendGCS = "gcs"
)

// NewBlobStoreFromEnv selects a blob store from the environment.
//
//   - BLOSSOM_SNAPSHOT_STORE: "fs" (default), "s3" or "gcs"
//   - BLOSSOM_SNAPSHOT_DIR: directory for fs (default "snapshots")
//   - BLOSSOM_SNAPSHOT_BUCKET: bucket for s3 and gcs (required)
//   - BLOSSOM_SNAPSHOT_PREFIX: object key prefix (optional)
//   - BLOSSOM_SNAPSHOT_S3_ENDPOINT: custom S3 endpoint (optional)
//   - AWS_REGION: S3 region (default "us-east-1")
func NewBlobStoreFromEnv(ctx context.Context) (BlobStore, error) {
	backend := os.Getenv("BLOSSOM_SNAPSHOT_STORE")
	if backend == "" {
		backend = BackendFS
	}

	switch backend {
	case BackendFS:
		dir := os.Getenv("BLOSSOM_SNAPSHOT_DIR")
		if dir == "" {
			dir = "snapshots"
		}
		return NewFileStore(dir)
	case BackendS3:
		bucket := os.Getenv("BLOSSOM_SNAPSHOT_BUCKET")
		if bucket == "" {
			return nil, fmt.Errorf("BLOSSOM_SNAPSHOT_BUCKET is required for s3 snapshots")
		}
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3Config{
			Bucket:   bucket,
			Region:   region,
			Endpoint: os.Getenv("BLOSSOM_SNAPSHOT_S3_ENDPOINT"),
			Prefix:   os.Getenv("BLOSSOM_SNAPSHOT_PREFIX"),
		})
	case BackendGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported snapshot store: %s", backend)
	}
}
