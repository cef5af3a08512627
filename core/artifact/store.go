package artifact

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore uploads retrieved adapters to an S3-compatible bucket so the
// façade layer can share them across machines. Optional: when not
// configured, adapters are only written to local disk.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// ObjectStoreConfig holds S3-compatible endpoint settings.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// NewObjectStore creates a client for the configured bucket. Construction
// does not touch the network; the first upload does.
func NewObjectStore(cfg ObjectStoreConfig) (*ObjectStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "finetune-adapters"
	}
	return &ObjectStore{client: client, bucket: bucket}, nil
}

// Upload streams an adapter into the bucket under jobID and returns its
// object URI.
func (s *ObjectStore) Upload(ctx context.Context, jobID string, reader io.Reader) (string, error) {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return "", err
		}
	}

	object := fmt.Sprintf("%s/adapter.safetensors", jobID)
	_, err = s.client.PutObject(ctx, s.bucket, object, reader, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, object), nil
}
