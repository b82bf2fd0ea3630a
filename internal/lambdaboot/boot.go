// Package lambdaboot provides shared cold-start bootstrap logic: AWS config,
// S3 clients, SSM secret loading, the usage store, and startup logging.
package lambdaboot

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/lynx-studio/internal/logging"
	"github.com/fpang/lynx-studio/internal/usage"
)

// AWSClients holds the core AWS SDK clients.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// S3Clients holds S3 client, presigner, and bucket name.
type S3Clients struct {
	Client    *s3.Client
	Presigner *s3.PresignClient
	Bucket    string
}

// Secret names a credential that may come from the environment or SSM.
type Secret struct {
	EnvVar       string // checked first
	ParamEnvVar  string // names the SSM parameter
	DefaultParam string
}

// Provider secrets.
var (
	GeminiKey = Secret{
		EnvVar:       "GEMINI_API_KEY",
		ParamEnvVar:  "GEMINI_API_KEY_PARAM",
		DefaultParam: "/lynx-studio/prod/gemini-api-key",
	}
	FalKey = Secret{
		EnvVar:       "FAL_KEY",
		ParamEnvVar:  "FAL_KEY_PARAM",
		DefaultParam: "/lynx-studio/prod/fal-key",
	}
	CloudinarySecret = Secret{
		EnvVar:       "CLOUDINARY_API_SECRET",
		ParamEnvVar:  "CLOUDINARY_API_SECRET_PARAM",
		DefaultParam: "/lynx-studio/prod/cloudinary-api-secret",
	}
)

// Param returns the SSM parameter path for the secret.
func (s Secret) Param() string {
	return logging.EnvOrDefault(s.ParamEnvVar, s.DefaultParam)
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates an S3 client, presigner, and reads the bucket name from the
// given environment variable. Fatals if the env var is empty.
func InitS3(cfg aws.Config, bucketEnvVar string) S3Clients {
	client := s3.NewFromConfig(cfg)
	bucket := os.Getenv(bucketEnvVar)
	if bucket == "" {
		log.Fatal().Str("envVar", bucketEnvVar).Msg("Bucket environment variable is required")
	}
	return S3Clients{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		Bucket:    bucket,
	}
}

// NewDynamoUsage creates the DynamoDB usage counter for table and scope.
func NewDynamoUsage(cfg aws.Config, table, scope string) *usage.DynamoStore {
	return usage.NewDynamoStore(dynamodb.NewFromConfig(cfg), table, scope, nil)
}

// ParameterAPI is the subset of *ssm.Client used to read secrets.
type ParameterAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadSecret fetches a secret from SSM Parameter Store into its environment
// variable unless the variable is already set. A missing parameter is not
// fatal; the provider that needs it reports MissingCredentials later.
func LoadSecret(ctx context.Context, client ParameterAPI, s Secret) bool {
	if os.Getenv(s.EnvVar) != "" {
		return true
	}
	paramName := s.Param()
	ssmStart := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil || result.Parameter == nil || result.Parameter.Value == nil {
		log.Warn().Err(err).Str("param", paramName).Msg("Secret not loaded from SSM")
		return false
	}
	os.Setenv(s.EnvVar, *result.Parameter.Value)
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Secret loaded from SSM")
	return true
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
