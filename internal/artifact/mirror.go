package artifact

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Mirror replicates finished artifacts to an S3-compatible bucket so a
// fresh instance can serve previously rendered fingerprints without
// recomputing them. Local disk stays the source of truth.
type Mirror struct {
	client *minio.Client
	bucket string
}

// NewMirror connects to the MinIO endpoint and ensures the bucket
// exists, creating it when missing.
func NewMirror(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Mirror, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Mirror{client: client, bucket: bucket}, nil
}

// Put uploads one artifact under its file name.
func (m *Mirror) Put(ctx context.Context, name string, data []byte) error {
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := m.client.PutObject(ctx, m.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload artifact: %w", err)
	}
	return nil
}

// Restore downloads an artifact into dst. Returns an error when the
// object does not exist in the bucket.
func (m *Mirror) Restore(ctx context.Context, name, dst string) error {
	if err := m.client.FGetObject(ctx, m.bucket, name, dst, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download artifact: %w", err)
	}
	return nil
}
