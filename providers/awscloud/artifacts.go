package awscloud

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"finetune-orchestrator/core/fterr"
)

// artifactObject is the key the training script uploads the adapter under.
func artifactObject(jobID string) string {
	return fmt.Sprintf("jobs/%s/adapter.safetensors", jobID)
}

// artifactStore reads finished adapters from the job's S3 bucket through
// the S3-compatible client.
type artifactStore struct {
	client *minio.Client
	bucket string
}

func newArtifactStore(region, accessKey, secretKey, bucket string) (*artifactStore, error) {
	if bucket == "" {
		return nil, &fterr.ValidationError{Field: "artifact_bucket", Reason: "required credential field missing"}
	}
	client, err := minio.New(fmt.Sprintf("s3.%s.amazonaws.com", region), &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: true,
		Region: region,
	})
	if err != nil {
		return nil, &fterr.ConnectionError{PlatformName: platformName, Err: err}
	}
	return &artifactStore{client: client, bucket: bucket}, nil
}

// ArtifactExists checks the adapter object without downloading it.
func (c *Connector) ArtifactExists(ctx context.Context, jobID string) (bool, error) {
	_, artifacts, err := c.clients()
	if err != nil {
		return false, err
	}
	_, err = artifacts.client.StatObject(ctx, artifacts.bucket, artifactObject(jobID), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, &fterr.ConnectionError{PlatformName: platformName, Err: err}
	}
	return true, nil
}

// FetchArtifact streams the adapter object.
func (c *Connector) FetchArtifact(ctx context.Context, jobID string) (io.ReadCloser, error) {
	_, artifacts, err := c.clients()
	if err != nil {
		return nil, err
	}
	object, err := artifacts.client.GetObject(ctx, artifacts.bucket, artifactObject(jobID), minio.GetObjectOptions{})
	if err != nil {
		return nil, &fterr.ConnectionError{PlatformName: platformName, Err: err}
	}
	// GetObject is lazy; Stat forces the first request so a missing object
	// fails here instead of on first read.
	if _, err := object.Stat(); err != nil {
		object.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, &fterr.NotReadyError{JobID: jobID, State: "artifact not available"}
		}
		return nil, &fterr.ConnectionError{PlatformName: platformName, Err: err}
	}
	return object, nil
}
