package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"gifconv/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// ObjectStore is the narrow object-storage surface this service needs:
// store an uploaded buffer under a key, and issue a time-boxed download
// URL for a key. It never lists or deletes objects.
type ObjectStore struct {
	s3        *s3.S3
	uploader  *s3manager.Uploader
	bucket    string
	urlExpiry time.Duration
}

func NewObjectStore(cfg *config.Config) *ObjectStore {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			"",
		),
	}

	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
	}

	if cfg.S3UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess := session.Must(session.NewSession(awsCfg))

	return &ObjectStore{
		s3:        s3.New(sess),
		uploader:  s3manager.NewUploader(sess),
		bucket:    cfg.S3Bucket,
		urlExpiry: time.Duration(cfg.DownloadURLExpirySec) * time.Second,
	}
}

// UploadBuffer stores data under the given key.
func (o *ObjectStore) UploadBuffer(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := o.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})

	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return nil
}

// SignedURL issues a pre-signed, time-boxed GET URL for the given key.
// It is a pure function of the key, expiry, and credentials; failures are
// transient and the caller should retry on the next reconciliation.
func (o *ObjectStore) SignedURL(key string) (string, error) {
	req, _ := o.s3.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})

	url, err := req.Presign(o.urlExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to presign download url for %s: %w", key, err)
	}

	return url, nil
}
