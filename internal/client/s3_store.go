package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// Storage errors surfaced to callers. Transport problems wrap
// ErrStorageUnavailable so retry policy can match with errors.Is.
var (
	ErrNotFound           = errors.New("artifact not found")
	ErrCorruptArtifact    = errors.New("corrupt artifact")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrSerialization      = errors.New("payload not serializable")
)

// BlobStore is key-addressed storage for JSON artifacts under one bucket.
type BlobStore interface {
	Put(ctx context.Context, key string, value any) (string, error)
	Get(ctx context.Context, key string, out any) error
}

// S3Store implements BlobStore on top of S3 (or any S3-compatible endpoint).
type S3Store struct {
	s3Client *s3.Client
	bucket   string
}

func NewS3Store(awsCfg aws.Config, bucket string) *S3Store {
	return &S3Store{
		s3Client: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			// Path-style addressing keeps localstack/minio endpoints working.
			o.UsePathStyle = true
		}),
		bucket: bucket,
	}
}

// Put serializes value to JSON and stores it under key, returning the key.
func (s *S3Store) Put(ctx context.Context, key string, value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("%w: put %s: %v", ErrStorageUnavailable, key, err)
	}

	return key, nil
}

// Get fetches and parses the artifact stored under key.
func (s *S3Store) Get(ctx context.Context, key string, out any) error {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound") {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("%w: get %s: %v", ErrStorageUnavailable, key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrStorageUnavailable, key, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptArtifact, key, err)
	}
	return nil
}
