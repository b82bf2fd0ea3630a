// Package main provides a Lambda entry point for image enhancement and
// generation. Source images are read from S3; results are written back under
// <sessionId>/results/<requestId>/ and the daily usage counter lives in
// DynamoDB.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/lynx-studio/internal/cli"
	"github.com/fpang/lynx-studio/internal/config"
	"github.com/fpang/lynx-studio/internal/export"
	"github.com/fpang/lynx-studio/internal/lambdaboot"
	"github.com/fpang/lynx-studio/internal/logging"
)

var h *handler

var coldStart = true

// setup runs once per cold start, before the first invocation.
func setup() {
	initStart := time.Now()
	logging.Init()

	aws := lambdaboot.InitAWS()
	s3s := lambdaboot.InitS3(aws.Config, "LYNX_MEDIA_BUCKET")
	ctx := context.Background()
	for _, s := range []lambdaboot.Secret{lambdaboot.GeminiKey, lambdaboot.FalKey, lambdaboot.CloudinarySecret} {
		lambdaboot.LoadSecret(ctx, aws.SSM, s)
	}

	cfg := config.Load()
	if cfg.UsageTable != "" {
		cfg.UsageStore = config.UsageDynamoDB
	} else if cfg.UsageStore == config.UsageFile {
		// The Lambda filesystem is ephemeral.
		cfg.UsageStore = config.UsageMemory
	}
	studio, err := cli.NewStudio(ctx, "enhance-lambda", cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize studio")
	}

	resultBucket := s3s.Bucket
	if cfg.ResultBucket != "" {
		resultBucket = cfg.ResultBucket
	}
	h = &handler{
		source:    s3s.Client,
		presigner: s3s.Presigner,
		tagger:    s3s.Client,
		sink:      export.NewS3Sink(s3s.Client, resultBucket),
		proc:      studio.Service,
		usage:     studio.Usage,
		bucket:    s3s.Bucket,
		results:   resultBucket,
		model:     cfg.Model,
	}

	lambdaboot.StartupLog("enhance-lambda", initStart).
		S3Bucket("media", s3s.Bucket).
		S3Bucket("results", resultBucket).
		DynamoTable("usage", cfg.UsageTable).
		SSMParam("geminiApiKey", lambdaboot.GeminiKey.Param()).
		SSMParam("falKey", lambdaboot.FalKey.Param()).
		SSMParam("cloudinaryApiSecret", lambdaboot.CloudinarySecret.Param()).
		Config("usageStore", cfg.UsageStore).
		Log()
}

func rawHandler(ctx context.Context, raw json.RawMessage) (EnhanceResult, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", os.Getenv("AWS_LAMBDA_FUNCTION_NAME")).Msg("Cold start: first invocation")
	}
	var event EnhanceEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return EnhanceResult{Error: "invalid event"}, fmt.Errorf("unmarshal enhance event: %w", err)
	}
	return h.handle(ctx, event)
}

func main() {
	setup()
	lambda.Start(rawHandler)
}
