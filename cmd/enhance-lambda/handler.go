package main

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/batch"
	"github.com/fpang/lynx-studio/internal/enhance"
	"github.com/fpang/lynx-studio/internal/payload"
	"github.com/fpang/lynx-studio/internal/provider"
	"github.com/fpang/lynx-studio/internal/s3util"
	"github.com/fpang/lynx-studio/internal/usage"
)

// presignExpiry is how long result download links stay valid.
const presignExpiry = time.Hour

// resultSink stores result images and returns their keys.
type resultSink interface {
	PutAll(ctx context.Context, dir, prefix string, images []*provider.Image) ([]string, error)
}

// handler holds the dependencies of one warm Lambda instance.
type handler struct {
	source    s3util.GetAPI
	presigner s3util.PresignAPI // optional
	tagger    s3util.TagAPI     // optional
	sink      resultSink
	proc      batch.Processor
	usage     usage.Store
	bucket    string // default source bucket
	results   string // bucket the sink writes to
	model     enhance.ProviderModel
}

func (h *handler) handle(ctx context.Context, event EnhanceEvent) (EnhanceResult, error) {
	start := time.Now()
	logger := log.With().
		Str("sessionId", event.SessionID).
		Str("key", event.Key).
		Logger()
	logger.Info().Strs("operations", event.Operations).Msg("Starting enhancement")

	req, err := h.request(ctx, event)
	if err != nil {
		return h.failed(ctx, err)
	}

	res, err := h.proc.Process(ctx, req, nil, func(status string) {
		logger.Debug().Str("status", status).Msg("Progress")
	})
	if err != nil {
		logger.Error().Err(err).Msg("Enhancement failed")
		return h.failed(ctx, err)
	}

	dir := path.Join(event.SessionID, "results", res.ID)
	keys, err := h.sink.PutAll(ctx, dir, "variant", res.Images)
	if err != nil {
		return EnhanceResult{Error: "failed to store results"}, fmt.Errorf("store results: %w", err)
	}

	out := EnhanceResult{
		RequestID:   res.ID,
		OutputKeys:  keys,
		Instruction: res.Instruction,
		Negative:    res.Negative,
		UsageToday:  h.usageToday(ctx),
	}
	for _, a := range res.Attempts {
		if !a.Succeeded() {
			out.Failures++
		}
	}
	if h.presigner != nil {
		for _, k := range keys {
			u, err := s3util.GeneratePresignedURL(ctx, h.presigner, h.results, k, presignExpiry)
			if err != nil {
				logger.Warn().Err(err).Str("key", k).Msg("Failed to presign result")
				continue
			}
			out.OutputURLs = append(out.OutputURLs, u)
		}
	}

	logger.Info().
		Int("images", len(keys)).
		Int("failures", out.Failures).
		Dur("duration", time.Since(start)).
		Msg("Enhancement complete")
	return out, nil
}

// request turns the event into a validated enhancement request, downloading
// any referenced images.
func (h *handler) request(ctx context.Context, event EnhanceEvent) (*enhance.Request, error) {
	if event.SessionID == "" {
		return nil, apperr.Invalid("sessionId is required")
	}
	ops, err := enhance.ParseOperations(event.Operations)
	if err != nil {
		return nil, err
	}
	size, err := enhance.ParseSizePolicy(event.Size)
	if err != nil {
		return nil, err
	}
	model := h.model
	if event.Model != "" {
		model = enhance.ProviderModel(event.Model)
	}

	req := &enhance.Request{
		Operations:          ops,
		CustomInstruction:   event.Prompt,
		NegativeInstruction: event.Negative,
		Size:                size,
		VariantCount:        event.Count,
		Model:               model,
	}

	bucket := h.bucket
	if event.Bucket != "" {
		bucket = event.Bucket
	}
	for _, img := range []struct {
		key string
		dst *string
	}{
		{event.Key, &req.SourceImage},
		{event.ReferenceKey, &req.ReferenceImage},
		{event.MaskKey, &req.MaskImage},
	} {
		if strings.TrimSpace(img.key) == "" {
			continue
		}
		data, mime, err := s3util.GetBytes(ctx, h.source, bucket, img.key)
		if err != nil {
			if s3util.IsClientFault(err) {
				return nil, apperr.Wrap(apperr.KindInvalidInput, err, "failed to read "+img.key)
			}
			return nil, fmt.Errorf("read %s: %w", img.key, err)
		}
		*img.dst = payload.EncodeDataURI(mime, data)
		h.tag(ctx, bucket, img.key)
	}
	return req, nil
}

// tag marks an input object for cost allocation. Inputs arrive through
// presigned uploads, which cannot carry tags.
func (h *handler) tag(ctx context.Context, bucket, key string) {
	if h.tagger == nil {
		return
	}
	if err := s3util.TagObject(ctx, h.tagger, bucket, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to tag input object")
	}
}

func (h *handler) failed(ctx context.Context, err error) (EnhanceResult, error) {
	out := EnhanceResult{
		OutputKeys: []string{},
		ErrorKind:  apperr.KindOf(err).String(),
		Error:      apperr.UserMessage(err),
		UsageToday: h.usageToday(ctx),
	}
	// Classified failures are answers, not invocation errors.
	if apperr.As(err) != nil {
		return out, nil
	}
	return out, err
}

func (h *handler) usageToday(ctx context.Context) int {
	if h.usage == nil {
		return 0
	}
	n, err := h.usage.Read(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read usage counter")
	}
	return n
}
