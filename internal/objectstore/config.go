// Package objectstore uploads job artifacts to S3-compatible object storage.
package objectstore

import (
	"errors"
	"fmt"
	"strings"
)

// Config describes the artifact object store.
type Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// Validate checks that an enabled configuration is complete.
func (config Config) Validate() error {
	if !config.Enabled {
		return nil
	}
	if strings.TrimSpace(config.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(config.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", config.Endpoint)
	}
	if strings.TrimSpace(config.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(config.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(config.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(config.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}
