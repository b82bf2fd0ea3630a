// Package cli holds the start-up wiring and terminal helpers shared by the
// lynx command-line and MCP binaries.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/auth"
	"github.com/fpang/lynx-studio/internal/config"
	"github.com/fpang/lynx-studio/internal/dispatch"
	"github.com/fpang/lynx-studio/internal/lambdaboot"
	"github.com/fpang/lynx-studio/internal/logging"
	"github.com/fpang/lynx-studio/internal/prompt"
	"github.com/fpang/lynx-studio/internal/provider/cloudinary"
	"github.com/fpang/lynx-studio/internal/provider/fal"
	"github.com/fpang/lynx-studio/internal/provider/gemini"
	"github.com/fpang/lynx-studio/internal/studio"
	"github.com/fpang/lynx-studio/internal/usage"
)

// Studio is everything a binary needs to serve requests.
type Studio struct {
	Config  config.Config
	Service *studio.Service
	Usage   usage.Store
	// Genai is the SDK client used for refinement and key checks; nil
	// without a Gemini key.
	Genai *genai.Client

	closers []func()
}

// Close releases connections opened by NewStudio.
func (s *Studio) Close() {
	for _, c := range s.closers {
		c()
	}
	s.closers = nil
}

// NewStudio wires providers, usage store, and orchestrator from cfg.
// Providers without credentials are left out; requests that need them fail
// with MissingCredentials.
func NewStudio(ctx context.Context, name string, cfg config.Config) (*Studio, error) {
	s := &Studio{Config: cfg}

	store, closeStore, err := OpenUsage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.Usage = store
	if closeStore != nil {
		s.closers = append(s.closers, closeStore)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	opts := studio.Options{NormalizeMask: true}

	var refiner prompt.Refiner
	if key := auth.Gemini().APIKey(); key != "" {
		opts.Gemini = gemini.NewClient(key, gemini.WithHTTPClient(httpClient))
		s.Genai, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  key,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create Gemini client: %w", err)
		}
		if cfg.Refine {
			refiner = prompt.NewGeminiRefiner(s.Genai, cfg.RefineModel)
		}
	}
	opts.Composer = prompt.NewComposer(refiner)

	if key := auth.Fal().APIKey(); key != "" {
		opts.Fal = fal.NewClient(key,
			fal.WithPolling(cfg.FalPollInterval, cfg.FalTimeout),
			fal.WithHTTPClient(httpClient),
		)
	}

	creds := cloudinary.Credentials{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: auth.CloudinarySecret().APIKey(),
	}
	if creds.Valid() {
		opts.Cloudinary = cloudinary.NewClient(creds, cloudinary.WithHTTPClient(httpClient))
	}

	opts.Orchestrator = dispatch.New(dispatch.Options{
		Policy:      cfg.RetryPolicy(),
		Usage:       store,
		Delay:       cfg.VariantDelay,
		Parallelism: cfg.Parallelism,
	})
	s.Service = studio.New(opts)

	logging.NewStartupLogger(name).
		Provider("gemini", opts.Gemini != nil).
		Provider("fal", opts.Fal != nil).
		Provider("cloudinary", opts.Cloudinary != nil).
		Feature("refine", refiner != nil).
		Config("model", string(cfg.Model)).
		Config("usageStore", cfg.UsageStore).
		Config("variantDelay", cfg.VariantDelay.String()).
		Config("parallelism", strconv.Itoa(cfg.Parallelism)).
		Config("maxRetries", strconv.Itoa(cfg.MaxRetries)).
		Log()
	return s, nil
}

// OpenUsage opens the usage store selected by cfg.UsageStore. The returned
// func, when non-nil, closes the underlying connection.
func OpenUsage(ctx context.Context, cfg config.Config) (usage.Store, func(), error) {
	switch cfg.UsageStore {
	case config.UsageMemory:
		return usage.NewMemoryStore(nil), nil, nil

	case config.UsageFile, "":
		path := cfg.UsagePath
		if path == "" {
			p, err := usage.DefaultPath()
			if err != nil {
				return nil, nil, err
			}
			path = p
		}
		log.Debug().Str("path", path).Msg("Using file usage store")
		return usage.NewFileStore(path, nil), nil, nil

	case config.UsageDynamoDB:
		if cfg.UsageTable == "" {
			return nil, nil, apperr.Invalid("LYNX_USAGE_TABLE is required for the dynamodb usage store")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load AWS config: %w", err)
		}
		return lambdaboot.NewDynamoUsage(awsCfg, cfg.UsageTable, cfg.UsageScope), nil, nil

	case config.UsageRedis:
		if cfg.RedisURL == "" {
			return nil, nil, apperr.Invalid("REDIS_URL is required for the redis usage store")
		}
		client, err := usage.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return usage.NewRedisStore(client, cfg.UsageScope, nil), func() { client.Close() }, nil
	}
	return nil, nil, apperr.Invalid("unknown usage store %q", cfg.UsageStore)
}
