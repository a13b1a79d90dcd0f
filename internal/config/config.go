package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/3leaps/quickcast/internal/observability"
	"github.com/3leaps/quickcast/pkg/provider/s3"
)

// Share backends.
const (
	BackendAuto     = "auto"
	BackendR2       = "r2"
	BackendS3       = "s3"
	BackendFile     = "file"
	BackendDisabled = "disabled"
)

// Config is the effective application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	OpenAI       OpenAIConfig       `mapstructure:"openai" yaml:"openai"`
	Speechmatics SpeechmaticsConfig `mapstructure:"speechmatics" yaml:"speechmatics"`
	Podcast      PodcastConfig      `mapstructure:"podcast" yaml:"podcast"`
	Scraper      ScraperConfig      `mapstructure:"scraper" yaml:"scraper"`
	Share        ShareConfig        `mapstructure:"share" yaml:"share"`
	CORS         CORSConfig         `mapstructure:"cors" yaml:"cors"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Profile string `mapstructure:"profile" yaml:"profile"`
}

type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type SpeechmaticsConfig struct {
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

type PodcastConfig struct {
	OutputDir     string        `mapstructure:"output_dir" yaml:"output_dir"`
	TargetMinutes float64       `mapstructure:"target_minutes" yaml:"target_minutes"`
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size"`
	Pause         time.Duration `mapstructure:"pause" yaml:"pause"`
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	KeepSegments  bool          `mapstructure:"keep_segments" yaml:"keep_segments"`
}

type ScraperConfig struct {
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ValidateTimeout time.Duration `mapstructure:"validate_timeout" yaml:"validate_timeout"`
	CheckReachable  bool          `mapstructure:"check_reachable" yaml:"check_reachable"`
}

type ShareConfig struct {
	Backend   string        `mapstructure:"backend" yaml:"backend"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
	LinkTTL   time.Duration `mapstructure:"link_ttl" yaml:"link_ttl"`
	R2        R2Config      `mapstructure:"r2" yaml:"r2"`
	S3        S3Config      `mapstructure:"s3" yaml:"s3"`
	File      FileConfig    `mapstructure:"file" yaml:"file"`
}

type R2Config struct {
	AccountID       string `mapstructure:"account_id" yaml:"account_id"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	PublicURL       string `mapstructure:"public_url" yaml:"public_url"`
}

// Complete reports whether enough is set to reach the bucket.
func (r R2Config) Complete() bool {
	return r.AccountID != "" && r.AccessKeyID != "" && r.SecretAccessKey != "" && r.Bucket != ""
}

// S3Config targets any S3-compatible store. Empty keys fall back to the
// default AWS credential chain.
type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
	PublicURL       string `mapstructure:"public_url" yaml:"public_url"`
}

type FileConfig struct {
	Root    string `mapstructure:"root" yaml:"root"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// Address returns host:port for the HTTP listener.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ShareBackend resolves "auto" to r2 when R2 credentials are complete and to
// disabled otherwise.
func (c *Config) ShareBackend() string {
	b := strings.ToLower(strings.TrimSpace(c.Share.Backend))
	if b == "" || b == BackendAuto {
		if c.Share.R2.Complete() {
			return BackendR2
		}
		return BackendDisabled
	}
	return b
}

// FileRoot returns the file share root, defaulting under the output dir.
func (c *Config) FileRoot() string {
	if c.Share.File.Root != "" {
		return c.Share.File.Root
	}
	return filepath.Join(c.Podcast.OutputDir, "shared")
}

// S3Store returns the object store settings for the r2 or s3 backend.
func (c *Config) S3Store() (s3.Config, error) {
	switch c.ShareBackend() {
	case BackendR2:
		r := c.Share.R2
		return s3.R2Config(r.AccountID, r.AccessKeyID, r.SecretAccessKey, r.Bucket, r.PublicURL), nil
	case BackendS3:
		s := c.Share.S3
		return s3.Config{
			Bucket:          s.Bucket,
			Region:          s.Region,
			Endpoint:        s.Endpoint,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
			ForcePathStyle:  s.ForcePathStyle,
			PublicURL:       s.PublicURL,
		}, nil
	default:
		return s3.Config{}, fmt.Errorf("share backend %q is not object storage", c.ShareBackend())
	}
}

// Validate checks settings every command depends on.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := observability.NewLogger(c.Logging.Level, c.Logging.Profile); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Podcast.OutputDir == "" {
		return fmt.Errorf("podcast.output_dir is required")
	}
	if c.Podcast.BatchSize < 1 {
		return fmt.Errorf("podcast.batch_size must be at least 1")
	}
	if c.Podcast.MaxConcurrent < 1 {
		return fmt.Errorf("podcast.max_concurrent must be at least 1")
	}
	if c.Podcast.TargetMinutes <= 0 {
		return fmt.Errorf("podcast.target_minutes must be positive")
	}

	switch c.ShareBackend() {
	case BackendDisabled:
	case BackendR2:
		if !c.Share.R2.Complete() {
			return fmt.Errorf("share.backend=r2 requires share.r2 account_id, access_key_id, secret_access_key and bucket")
		}
	case BackendS3:
		if c.Share.S3.Bucket == "" {
			return fmt.Errorf("share.backend=s3 requires share.s3.bucket")
		}
	case BackendFile:
		if c.Share.File.BaseURL == "" {
			return fmt.Errorf("share.file.base_url is required")
		}
		if strings.Contains(c.Share.File.BaseURL, "://") {
			if _, err := url.ParseRequestURI(c.Share.File.BaseURL); err != nil {
				return fmt.Errorf("share.file.base_url: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown share.backend %q", c.Share.Backend)
	}
	if c.Share.Retention <= 0 {
		return fmt.Errorf("share.retention must be positive")
	}
	return nil
}

// RequireGeneration checks the credentials needed to produce audio.
func (c *Config) RequireGeneration() error {
	var missing []string
	if c.OpenAI.APIKey == "" {
		missing = append(missing, "openai.api_key (OPENAI_API_KEY)")
	}
	if c.Speechmatics.APIKey == "" {
		missing = append(missing, "speechmatics.api_key (SPEECHMATICS_API_KEY)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Redacted returns a copy with secrets masked for display.
func (c *Config) Redacted() *Config {
	r := *c
	r.OpenAI.APIKey = mask(r.OpenAI.APIKey)
	r.Speechmatics.APIKey = mask(r.Speechmatics.APIKey)
	r.Share.R2.AccessKeyID = mask(r.Share.R2.AccessKeyID)
	r.Share.R2.SecretAccessKey = mask(r.Share.R2.SecretAccessKey)
	r.Share.S3.AccessKeyID = mask(r.Share.S3.AccessKeyID)
	r.Share.S3.SecretAccessKey = mask(r.Share.S3.SecretAccessKey)
	r.CORS.AllowedOrigins = append([]string(nil), c.CORS.AllowedOrigins...)
	return &r
}

// mask keeps the last four characters of long secrets.
func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}
