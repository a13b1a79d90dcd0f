// Package s3 implements provider.ObjectStore for AWS S3 and S3-compatible
// stores, with Cloudflare R2 as the primary target.
package s3

import (
	"fmt"
	"strings"
)

// Config configures an S3 store.
//
// Authentication priority (AWS SDK v2 default chain):
//  1. Explicit AccessKeyID/SecretAccessKey (if provided)
//  2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  3. Shared credentials/config files
//
// For R2 use R2Config, which fills in the account endpoint and the "auto"
// region R2 expects for SigV4 signing.
type Config struct {
	// Bucket is the bucket name (required).
	Bucket string

	// Region is the signing region. For AWS S3 it defaults to us-east-1 when
	// nothing else resolves one; for custom endpoints no default is applied.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	// Leave empty for AWS S3.
	Endpoint string

	// AccessKeyID is an explicit access key. If set, SecretAccessKey must also be set.
	AccessKeyID string

	// SecretAccessKey is an explicit secret key. Required if AccessKeyID is set.
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs (bucket in path, not subdomain).
	ForcePathStyle bool

	// PublicURL is an optional public base URL for the bucket
	// (e.g. https://pub-xxxx.r2.dev). When set, URL returns plain public
	// links instead of presigned ones.
	PublicURL string
}

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// R2Region is the signing region Cloudflare R2 accepts.
const R2Region = "auto"

// R2Endpoint returns the S3 API endpoint for an R2 account.
func R2Endpoint(accountID string) string {
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", strings.TrimSpace(accountID))
}

// R2Config builds a Config for a Cloudflare R2 bucket.
func R2Config(accountID, accessKeyID, secretAccessKey, bucket, publicURL string) Config {
	return Config{
		Bucket:          bucket,
		Region:          R2Region,
		Endpoint:        R2Endpoint(accountID),
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		PublicURL:       strings.TrimRight(publicURL, "/"),
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}

	// If one explicit credential is set, both must be set
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}

	if c.PublicURL != "" && !strings.HasPrefix(c.PublicURL, "http://") && !strings.HasPrefix(c.PublicURL, "https://") {
		return &ConfigError{Field: "PublicURL", Message: "public URL must be an http(s) URL"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
