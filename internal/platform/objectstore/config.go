package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-migrate/internal/platform/env"
)

// Config addresses the bucket holding digital object files.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("MIGRATOR_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("MIGRATOR_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey: env.String("MIGRATOR_MINIO_ACCESS_KEY", "migrator"),
		SecretKey: env.String("MIGRATOR_MINIO_SECRET_KEY", "migratorminio"),
		Region:    env.String("MIGRATOR_MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("MIGRATOR_MINIO_BUCKET", "objects"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
