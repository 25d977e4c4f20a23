package service

import (
	"bytes"
	"context"

	"calendar-sync/core/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Archiver struct {
	client *s3.Client
	bucket string
}

// NewS3Archiver returns nil when no bucket is configured. A custom endpoint
// switches to path-style addressing for S3-compatible stores.
func NewS3Archiver(cfg config.ArchiveConfig) *S3Archiver {
	if cfg.Bucket == "" {
		return nil
	}
	opts := s3.Options{Region: cfg.Region}
	if cfg.AccessKeyID != "" {
		opts.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""))
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return &S3Archiver{client: s3.New(opts), bucket: cfg.Bucket}
}

func (a *S3Archiver) Put(ctx context.Context, key string, body []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	return err
}
