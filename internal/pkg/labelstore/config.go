package labelstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/OrderFox/internal/pkg/env"
)

// Config holds the label archive settings.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
}

// LoadConfig loads the label archive configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("LABEL_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("LABEL_S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("LABEL_S3_REGION", "eu-central-1"),
		BucketName:      env.GetEnv("LABEL_S3_BUCKET", ""),
		EndpointURL:     env.GetEnv("LABEL_S3_ENDPOINT_URL", ""),
		Enabled:         env.GetEnv("LABEL_S3_ENABLED", "false") == "true",
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("LABEL_S3_ACCESS_KEY_ID is required when the label archive is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("LABEL_S3_SECRET_ACCESS_KEY is required when the label archive is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("LABEL_S3_BUCKET is required when the label archive is enabled")
		}
	}

	return config, nil
}

// ObjectKey returns labels/YYYY/MM/<packetID>.pdf
func ObjectKey(packetID string, at time.Time) string {
	return fmt.Sprintf("labels/%04d/%02d/%s.pdf", at.Year(), int(at.Month()), packetID)
}
