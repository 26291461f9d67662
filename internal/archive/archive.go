// Package archive implements the optional Output Archive: a best-effort
// upload of completed job output to an S3-compatible bucket. A disabled
// archive performs zero network calls, and a failed upload never changes a
// job's terminal state — the worker pool only logs what this package
// returns.
package archive

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config configures the archive. Endpoint == "" disables archiving entirely.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Secure    bool
}

// Archive uploads completed job output to an S3-compatible bucket.
type Archive struct {
	client  *minio.Client
	bucket  string
	enabled bool
}

// New constructs an Archive. If cfg.Endpoint is empty, Enabled() reports
// false and ArchiveOutput is a no-op — callers never need a separate
// feature-flag check.
func New(cfg Config) (*Archive, error) {
	if cfg.Endpoint == "" {
		return &Archive{enabled: false}, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Archive{
		client:  client,
		bucket:  cfg.Bucket,
		enabled: true,
	}, nil
}

// Enabled reports whether archiving is configured.
func (a *Archive) Enabled() bool {
	return a != nil && a.enabled
}

// ArchiveOutput streams the file at path to {bucket}/{jobID}/{basename}. It
// is a no-op if the archive is disabled.
func (a *Archive) ArchiveOutput(ctx context.Context, jobID, path string) error {
	if !a.Enabled() {
		return nil
	}

	objectName := jobID + "/" + filepath.Base(path)
	_, err := a.client.FPutObject(ctx, a.bucket, objectName, path, minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return fmt.Errorf("archive upload %s: %w", objectName, err)
	}
	return nil
}

// EnsureBucket creates the configured bucket if it does not already exist.
// Called once at startup; a failure here is logged but does not prevent the
// service from starting (archiving is always best-effort).
func (a *Archive) EnsureBucket(ctx context.Context) error {
	if !a.Enabled() {
		return nil
	}

	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}

	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}
