package backup

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Uploader stores snapshots in an S3-compatible bucket.
type S3Uploader struct {
	client *minio.Client
	bucket string
}

// S3Config holds object storage credentials.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewS3Uploader connects to the bucket and verifies it exists. A missing
// bucket is a configuration error, not something to create on the fly.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist", cfg.Bucket)
	}

	return &S3Uploader{client: client, bucket: cfg.Bucket}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := u.client.PutObject(ctx, u.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  "application/vnd.sqlite3",
		UserMetadata: map[string]string{"uploaded-at": time.Now().UTC().Format(time.RFC3339)},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (u *S3Uploader) Prune(ctx context.Context, keep int) (int, error) {
	var keys []string
	for obj := range u.client.ListObjects(ctx, u.bucket, minio.ListObjectsOptions{Prefix: snapshotPrefix}) {
		if obj.Err != nil {
			return 0, fmt.Errorf("list snapshots: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	if len(keys) <= keep {
		return 0, nil
	}

	// Keys embed the snapshot time, so sorted order is chronological.
	sort.Strings(keys)
	removed := 0
	for _, key := range keys[:len(keys)-keep] {
		if err := u.client.RemoveObject(ctx, u.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("remove %s: %w", key, err)
		}
		removed++
	}
	return removed, nil
}

var _ Uploader = (*S3Uploader)(nil)
