package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/3leaps/quickcast/pkg/audio"
	"github.com/3leaps/quickcast/pkg/pipeline"
	"github.com/3leaps/quickcast/pkg/scrape"
	"github.com/3leaps/quickcast/pkg/script"
	"github.com/3leaps/quickcast/pkg/share"
	"github.com/3leaps/quickcast/pkg/tts"
)

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "QUICKCAST"

// EnvSpec maps one environment variable onto a config path.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// SetConfigFile selects an explicit YAML config file for subsequent loads.
// An empty path restores discovery of quickcast.yaml in the working
// directory.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Defaults returns every default keyed by config path.
func Defaults() map[string]any {
	return map[string]any{
		"server.host":             "0.0.0.0",
		"server.port":             5000,
		"server.read_timeout":     30 * time.Second,
		"server.write_timeout":    5 * time.Minute,
		"server.idle_timeout":     120 * time.Second,
		"server.shutdown_timeout": 10 * time.Second,

		"logging.level":   "info",
		"logging.profile": "STRUCTURED",

		"openai.api_key":     "",
		"openai.base_url":    "",
		"openai.model":       script.DefaultModel,
		"openai.temperature": script.DefaultTemperature,
		"openai.max_tokens":  script.DefaultMaxTokens,
		"openai.timeout":     script.DefaultTimeout,

		"speechmatics.api_key":             "",
		"speechmatics.base_url":            tts.DefaultBaseURL,
		"speechmatics.max_attempts":        tts.DefaultMaxAttempts,
		"speechmatics.backoff_base":        tts.DefaultBackoffBase,
		"speechmatics.timeout":             tts.DefaultTimeout,
		"speechmatics.requests_per_second": 0.0,

		"podcast.output_dir":     pipeline.DefaultOutputDir,
		"podcast.target_minutes": script.DefaultTargetMinutes,
		"podcast.batch_size":     tts.DefaultBatchSize,
		"podcast.pause":          audio.DefaultPause,
		"podcast.max_concurrent": pipeline.DefaultMaxConcurrent,
		"podcast.keep_segments":  false,

		"scraper.user_agent":       scrape.DefaultUserAgent,
		"scraper.timeout":          scrape.DefaultTimeout,
		"scraper.validate_timeout": scrape.DefaultValidateTimeout,
		"scraper.check_reachable":  true,

		"share.backend":                BackendAuto,
		"share.retention":              share.DefaultRetention,
		"share.link_ttl":               share.DefaultLookupTTL,
		"share.r2.account_id":          "",
		"share.r2.access_key_id":       "",
		"share.r2.secret_access_key":   "",
		"share.r2.bucket":              "",
		"share.r2.public_url":          "",
		"share.s3.bucket":              "",
		"share.s3.region":              "",
		"share.s3.endpoint":            "",
		"share.s3.access_key_id":       "",
		"share.s3.secret_access_key":   "",
		"share.s3.force_path_style":    false,
		"share.s3.public_url":          "",
		"share.file.root":              "",
		"share.file.base_url":          "/media",

		"cors.allowed_origins": []string{"*"},
	}
}

// shortEnv are convenience names in addition to QUICKCAST_<PATH>.
var shortEnv = map[string]string{
	"server.host":             "HOST",
	"server.port":             "PORT",
	"server.read_timeout":     "READ_TIMEOUT",
	"server.write_timeout":    "WRITE_TIMEOUT",
	"server.shutdown_timeout": "SHUTDOWN_TIMEOUT",
	"logging.level":           "LOG_LEVEL",
	"logging.profile":         "LOG_PROFILE",
	"share.backend":           "SHARE_BACKEND",
}

// legacyEnv are the unprefixed names deployments of the service already use.
var legacyEnv = map[string][]string{
	"openai.api_key":             {"OPENAI_API_KEY"},
	"speechmatics.api_key":       {"SPEECHMATICS_API_KEY"},
	"server.port":                {"FLASK_PORT"},
	"podcast.output_dir":         {"OUTPUT_DIR"},
	"share.r2.account_id":        {"R2_ACCOUNT_ID"},
	"share.r2.access_key_id":     {"R2_ACCESS_KEY_ID"},
	"share.r2.secret_access_key": {"R2_SECRET_ACCESS_KEY"},
	"share.r2.bucket":            {"R2_BUCKET_NAME"},
	"share.r2.public_url":        {"R2_PUBLIC_URL"},
}

func envName(path string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(path, ".", "_"))
}

// getEnvSpecs lists every environment variable Load consults, in
// precedence order per path.
func getEnvSpecs() []EnvSpec {
	paths := make([]string, 0, len(Defaults()))
	for p := range Defaults() {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var specs []EnvSpec
	for _, p := range paths {
		specs = append(specs, EnvSpec{Name: envName(p), Path: p})
		if short, ok := shortEnv[p]; ok {
			specs = append(specs, EnvSpec{Name: EnvPrefix + "_" + short, Path: p})
		}
		for _, legacy := range legacyEnv[p] {
			specs = append(specs, EnvSpec{Name: legacy, Path: p})
		}
	}
	return specs
}

// Load builds the configuration from defaults, the config file, .env,
// environment variables and runtime overrides, in increasing precedence.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	configMu.RLock()
	file := configFile
	configMu.RUnlock()

	v := viper.New()
	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("quickcast")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	byPath := map[string][]string{}
	for _, spec := range getEnvSpecs() {
		byPath[spec.Path] = append(byPath[spec.Path], spec.Name)
	}
	for path, names := range byPath {
		if err := v.BindEnv(append([]string{path}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", path, err)
		}
	}

	for _, o := range overrides {
		for k, val := range flatten("", o) {
			v.Set(k, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// loadDotEnv reads KEY=VALUE pairs from path without overriding variables
// already present. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
