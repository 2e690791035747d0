package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Sink retains coverage artifacts in an S3-compatible bucket, keyed by
// run/tier/lane. Retention policy on the bucket is out of scope here.
type S3Sink struct {
	client *minio.Client
	bucket string
}

var _ ArtifactSink = (*S3Sink)(nil)

// S3Config holds the object-store connection parameters. AccessKey and
// SecretKey are read from the environment by the caller, not from the
// credential slots this pipeline manages.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Secure    bool
}

func NewS3Sink(cfg S3Config) (*S3Sink, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("artifact store endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("creating artifact store client: %w", err)
	}
	return &S3Sink{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Sink) Store(ctx context.Context, objectName string, path string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, objectName, path, minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", objectName, err)
	}
	return nil
}
