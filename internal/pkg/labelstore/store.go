package labelstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
)

// Archive keeps printable shipping labels for the operator.
type Archive interface {
	Put(ctx context.Context, packetID string, pdf []byte) (string, error)
}

// S3Store archives labels in an S3 bucket.
type S3Store struct {
	s3Client *s3.Client
	config   *Config
	now      func() time.Time
}

// NewS3Store creates the S3 client and checks that the bucket is reachable.
func NewS3Store(ctx context.Context, cfg *Config) (*S3Store, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("label archive is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	store := &S3Store{s3Client: s3Client, config: cfg, now: time.Now}

	if _, err := s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.BucketName)}); err != nil {
		return nil, fmt.Errorf("bucket %s not accessible: %w", cfg.BucketName, err)
	}

	log.Infof("[LabelStore] Using bucket: %s", cfg.BucketName)
	return store, nil
}

// Put uploads a label and returns its object key.
func (s *S3Store) Put(ctx context.Context, packetID string, pdf []byte) (string, error) {
	id := strings.TrimSpace(packetID)
	if id == "" {
		return "", errors.New("packet id is required")
	}
	if len(pdf) == 0 {
		return "", errors.New("label is empty")
	}

	key := ObjectKey(id, s.now().UTC())
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(pdf),
		ContentType:   aws.String("application/pdf"),
		ContentLength: aws.Int64(int64(len(pdf))),
		Metadata: map[string]string{
			"packet-id":     id,
			"upload-source": "orderfox-label",
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload label: %w", err)
	}

	log.Infof("[LabelStore] Archived label: s3://%s/%s", s.config.BucketName, key)
	return key, nil
}
