/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Config holds settings for an S3 or S3-compatible backend.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	Endpoint        string
	PublicBaseURL   string
	UsePathStyle    bool
}

// S3Storage implements Storage on S3-compatible object storage.
type S3Storage struct {
	client *s3.Client
	config S3Config
	logger zerolog.Logger
}

// NewS3Storage creates an S3-based storage backend. When no static
// credentials are configured the ambient AWS credential chain is used.
func NewS3Storage(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Storage, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO and most self-hosted gateways require path-style addressing.
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Storage{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

// Store uploads a file and returns its object key.
func (s *S3Storage) Store(ctx context.Context, kind, mediaID, extension string, file io.Reader) (string, error) {
	key := buildMediaPath(kind, mediaID, extension)

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
		Body:   file,
	}
	if ct := mime.TypeByExtension(extension); ct != "" {
		input.ContentType = aws.String(ct)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	s.logger.Debug().
		Str("bucket", s.config.Bucket).
		Str("key", key).
		Str("kind", kind).
		Msg("s3 storage: object stored")

	return key, nil
}

// Delete removes an object from the bucket.
func (s *S3Storage) Delete(ctx context.Context, storagePath string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(storagePath),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", storagePath, err)
	}

	s.logger.Debug().
		Str("bucket", s.config.Bucket).
		Str("key", storagePath).
		Msg("s3 storage: object deleted")

	return nil
}

// URL returns the public URL for an object. A configured CDN base URL
// wins; otherwise the URL is derived from the endpoint and addressing
// style.
func (s *S3Storage) URL(storagePath string) string {
	if s.config.PublicBaseURL != "" {
		return strings.TrimSuffix(s.config.PublicBaseURL, "/") + "/" + storagePath
	}
	if s.config.Endpoint != "" {
		base := strings.TrimSuffix(s.config.Endpoint, "/")
		if s.config.UsePathStyle {
			return fmt.Sprintf("%s/%s/%s", base, s.config.Bucket, storagePath)
		}
		if parts := strings.SplitN(base, "://", 2); len(parts) == 2 {
			return fmt.Sprintf("%s://%s.%s/%s", parts[0], s.config.Bucket, parts[1], storagePath)
		}
		return fmt.Sprintf("%s/%s/%s", base, s.config.Bucket, storagePath)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.config.Bucket, s.config.Region, storagePath)
}

// CheckAccess verifies the bucket exists and is reachable.
func (s *S3Storage) CheckAccess(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", s.config.Bucket, err)
	}
	return nil
}
