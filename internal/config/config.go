// Package config loads studio settings from the environment, optionally
// seeded from .env files.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/fpang/lynx-studio/internal/enhance"
	"github.com/fpang/lynx-studio/internal/prompt"
	"github.com/fpang/lynx-studio/internal/retry"
)

// Usage store backends.
const (
	UsageFile     = "file"
	UsageMemory   = "memory"
	UsageDynamoDB = "dynamodb"
	UsageRedis    = "redis"
)

// Config holds every tunable the studio reads at startup.
type Config struct {
	Model       enhance.ProviderModel
	RefineModel string
	Refine      bool

	VariantDelay time.Duration
	Parallelism  int

	MaxRetries           int
	BackoffBase          time.Duration
	BackoffFloor         time.Duration
	BackoffCeiling       time.Duration
	RetryMargin          time.Duration
	RetryContentRejected bool

	FalPollInterval time.Duration
	FalTimeout      time.Duration
	HTTPTimeout     time.Duration

	UsageStore string
	UsagePath  string
	UsageTable string
	UsageScope string
	RedisURL   string

	ResultBucket string

	CloudinaryCloudName string
	CloudinaryAPIKey    string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Model:          enhance.DefaultModel,
		RefineModel:    prompt.DefaultRefineModel,
		Refine:         true,
		VariantDelay:   2 * time.Second,
		Parallelism:    1,
		MaxRetries:     retry.DefaultMaxRetries,
		BackoffBase:    retry.DefaultBackoff.Base,
		BackoffFloor:   retry.DefaultBackoff.Floor,
		BackoffCeiling: retry.DefaultBackoff.Ceiling,
		RetryMargin:    retry.DefaultBackoff.Margin,

		FalPollInterval: time.Second,
		FalTimeout:      3 * time.Minute,
		HTTPTimeout:     120 * time.Second,

		UsageStore: UsageFile,
		UsageScope: "default",
	}
}

// Load reads .env and .env.local when present, then the environment.
// Malformed values are logged and replaced by their defaults.
func Load() Config {
	for _, f := range []string{".env", ".env.local"} {
		if err := godotenv.Load(f); err == nil {
			log.Debug().Str("file", f).Msg("Loaded environment file")
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) Config {
	d := Default()
	e := env{get: getenv}
	c := Config{
		Model:       enhance.ProviderModel(e.str("LYNX_MODEL", string(d.Model))),
		RefineModel: e.str("LYNX_REFINE_MODEL", d.RefineModel),
		Refine:      e.bool("LYNX_REFINE", d.Refine),

		VariantDelay: e.duration("LYNX_VARIANT_DELAY", d.VariantDelay),
		Parallelism:  e.int("LYNX_PARALLELISM", d.Parallelism),

		MaxRetries:           e.int("LYNX_MAX_RETRIES", d.MaxRetries),
		BackoffBase:          e.duration("LYNX_BACKOFF_BASE", d.BackoffBase),
		BackoffFloor:         e.duration("LYNX_BACKOFF_FLOOR", d.BackoffFloor),
		BackoffCeiling:       e.duration("LYNX_BACKOFF_CEILING", d.BackoffCeiling),
		RetryMargin:          e.duration("LYNX_RETRY_MARGIN", d.RetryMargin),
		RetryContentRejected: e.bool("LYNX_RETRY_CONTENT_REJECTED", d.RetryContentRejected),

		FalPollInterval: e.duration("LYNX_FAL_POLL_INTERVAL", d.FalPollInterval),
		FalTimeout:      e.duration("LYNX_FAL_TIMEOUT", d.FalTimeout),
		HTTPTimeout:     e.duration("LYNX_HTTP_TIMEOUT", d.HTTPTimeout),

		UsageStore: strings.ToLower(e.str("LYNX_USAGE_STORE", d.UsageStore)),
		UsagePath:  e.str("LYNX_USAGE_PATH", d.UsagePath),
		UsageTable: e.str("LYNX_USAGE_TABLE", d.UsageTable),
		UsageScope: e.str("LYNX_USAGE_SCOPE", d.UsageScope),
		RedisURL:   e.str("REDIS_URL", d.RedisURL),

		ResultBucket: e.str("LYNX_RESULT_BUCKET", d.ResultBucket),

		CloudinaryCloudName: e.str("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    e.str("CLOUDINARY_API_KEY", ""),
	}
	if !c.Model.Valid() {
		log.Warn().Str("model", string(c.Model)).Msg("Unknown LYNX_MODEL, using default")
		c.Model = d.Model
	}
	if c.Parallelism < 1 {
		c.Parallelism = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// RetryPolicy builds the per-attempt retry policy.
func (c Config) RetryPolicy() *retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = c.MaxRetries
	p.Backoff.Base = c.BackoffBase
	p.Backoff.Floor = c.BackoffFloor
	p.Backoff.Ceiling = c.BackoffCeiling
	p.Backoff.Margin = c.RetryMargin
	p.RetryContentRejected = c.RetryContentRejected
	return p
}

// env reads typed values, falling back on empty or malformed input.
type env struct {
	get func(string) string
}

func (e env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e env) int(key string, def int) int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer setting, using default")
		return def
	}
	return n
}

func (e env) bool(key string, def bool) bool {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid boolean setting, using default")
		return def
	}
	return b
}

func (e env) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration setting, using default")
		return def
	}
	return d
}
