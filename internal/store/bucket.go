package store

import (
	"context"
	"fmt"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob" // gs://
	_ "gocloud.dev/blob/memblob" // mem://
	_ "gocloud.dev/blob/s3blob"  // s3://
)

// OpenBucket opens the bucket holding partial stores. A location without a
// URL scheme is a local directory, created if needed.
func OpenBucket(ctx context.Context, location string) (*blob.Bucket, error) {
	if location == "" {
		return nil, fmt.Errorf("empty store location")
	}
	if !strings.Contains(location, "://") {
		bucket, err := fileblob.OpenBucket(location, &fileblob.Options{CreateDir: true})
		if err != nil {
			return nil, fmt.Errorf("open local store %s: %w", location, err)
		}
		return bucket, nil
	}
	bucket, err := blob.OpenBucket(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", location, err)
	}
	return bucket, nil
}
