// Package studio wires the composer, payload builder, dispatch orchestrator,
// and provider clients into a single request pipeline.
package studio

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/dispatch"
	"github.com/fpang/lynx-studio/internal/enhance"
	"github.com/fpang/lynx-studio/internal/metrics"
	"github.com/fpang/lynx-studio/internal/payload"
	"github.com/fpang/lynx-studio/internal/prompt"
	"github.com/fpang/lynx-studio/internal/provider"
)

// Generator is the multimodal generation provider.
type Generator interface {
	Generate(ctx context.Context, model string, p *payload.Payload) (*provider.Image, error)
}

// Upscaler is the queue-based super-resolution provider.
type Upscaler interface {
	Upscale(ctx context.Context, image string, onStatus provider.StatusFunc) (*provider.Image, error)
}

// Transformer is the transformation-URL provider.
type Transformer interface {
	Enhance(ctx context.Context, image string, ops []enhance.OperationType, onStatus provider.StatusFunc) (*provider.Image, error)
}

// Options configures a Service. Nil providers make their models fail with
// MissingCredentials.
type Options struct {
	Composer     *prompt.Composer
	Gemini       Generator
	Fal          Upscaler
	Cloudinary   Transformer
	Orchestrator *dispatch.Orchestrator
	// NormalizeMask binarizes and rescales masks before they are embedded.
	NormalizeMask bool
}

// Service runs enhancement requests.
type Service struct {
	composer      *prompt.Composer
	gemini        Generator
	fal           Upscaler
	cloudinary    Transformer
	orchestrator  *dispatch.Orchestrator
	normalizeMask bool
}

func New(opts Options) *Service {
	s := &Service{
		composer:      opts.Composer,
		gemini:        opts.Gemini,
		fal:           opts.Fal,
		cloudinary:    opts.Cloudinary,
		orchestrator:  opts.Orchestrator,
		normalizeMask: opts.NormalizeMask,
	}
	if s.composer == nil {
		s.composer = prompt.NewComposer(nil)
	}
	if s.orchestrator == nil {
		s.orchestrator = dispatch.New(dispatch.Options{})
	}
	return s
}

// Result is a completed request.
type Result struct {
	ID          string
	Images      []*provider.Image
	Request     *enhance.Request
	Instruction string
	Negative    string
	Refined     bool
	Duration    time.Duration
	Attempts    []dispatch.Attempt
}

// Process validates req and routes it to its provider. onStatus may be nil.
// The cancel flag is checked between variant attempts; once set, results are
// discarded and a Cancelled error is returned.
func (s *Service) Process(ctx context.Context, req *enhance.Request, cancel *dispatch.CancelFlag, onStatus provider.StatusFunc) (*Result, error) {
	start := time.Now()
	id := uuid.NewString()
	logger := log.With().Str("requestId", id).Logger()
	report := func(msg string) {
		if onStatus != nil {
			onStatus(msg)
		}
	}

	if req.Model == "" {
		req.Model = enhance.DefaultModel
	}
	report("Initializing...")
	if err := req.Validate(); err != nil {
		s.emit(req, start, 0, err)
		return nil, err
	}
	logger.Info().Str("request", req.Summary()).Msg("Processing request")

	var (
		res *Result
		err error
	)
	switch {
	case req.Model.IsGemini():
		res, err = s.processGemini(ctx, req, cancel, report)
	case req.Model == enhance.ModelFalSuperResolution:
		res, err = s.single(cancel, func() (*provider.Image, error) {
			if s.fal == nil {
				return nil, apperr.MissingCredentials("fal.ai")
			}
			return s.fal.Upscale(ctx, payload.DataURI(req.SourceImage, "image/jpeg"), onStatus)
		})
	case req.Model == enhance.ModelCloudinary:
		res, err = s.single(cancel, func() (*provider.Image, error) {
			if s.cloudinary == nil {
				return nil, apperr.MissingCredentials("Cloudinary")
			}
			return s.cloudinary.Enhance(ctx, payload.DataURI(req.SourceImage, "image/jpeg"), req.Operations, onStatus)
		})
	default:
		err = apperr.Invalid("unknown provider model %q", string(req.Model))
	}

	images := 0
	if res != nil {
		images = len(res.Images)
	}
	s.emit(req, start, images, err)
	if err != nil {
		logger.Error().Err(err).Str("kind", apperr.KindOf(err).String()).Dur("duration", time.Since(start)).Msg("Request failed")
		return nil, err
	}

	report("Finalizing...")
	res.ID = id
	res.Request = req
	res.Duration = time.Since(start)
	logger.Info().Int("images", len(res.Images)).Dur("duration", res.Duration).Msg("Request complete")
	return res, nil
}

func (s *Service) processGemini(ctx context.Context, req *enhance.Request, cancel *dispatch.CancelFlag, report func(string)) (*Result, error) {
	if s.gemini == nil {
		return nil, apperr.MissingCredentials("Gemini")
	}

	if req.CustomInstruction != "" && req.Mode().FansOut() {
		report("Refining instructions...")
	}
	composed, err := s.composer.Compose(ctx, prompt.InputFromRequest(req))
	if err != nil {
		return nil, err
	}
	if cancel.Cancelled() {
		return nil, apperr.Cancelled()
	}

	source := req.SourceImage
	if req.Mode() == enhance.ModeGeneration {
		source = ""
	}
	p, err := payload.Build(payload.Input{
		Source:      source,
		Reference:   req.ReferenceImage,
		Mask:        req.MaskImage,
		Instruction: composed.Text,
		Size:        req.Size,
	}, payload.Options{NormalizeMask: s.normalizeMask})
	if err != nil {
		return nil, err
	}

	n := req.Variants()
	if n > 1 {
		report(fmt.Sprintf("Generating %d variations...", n))
	} else {
		report("Processing image...")
	}
	out, err := s.orchestrator.Run(ctx, n, func(ctx context.Context, _ int) (*provider.Image, error) {
		return s.gemini.Generate(ctx, string(req.Model), p)
	}, cancel)
	if err != nil {
		return nil, err
	}
	return &Result{
		Images:      out.Images,
		Instruction: composed.Text,
		Negative:    composed.Negative,
		Refined:     composed.Refined,
		Attempts:    out.Attempts,
	}, nil
}

// single runs a one-shot provider call. These providers are not retried and
// do not count toward daily usage.
func (s *Service) single(cancel *dispatch.CancelFlag, call func() (*provider.Image, error)) (*Result, error) {
	if cancel.Cancelled() {
		return nil, apperr.Cancelled()
	}
	img, err := call()
	if err != nil {
		return nil, err
	}
	if cancel.Cancelled() {
		return nil, apperr.Cancelled()
	}
	return &Result{
		Images:   []*provider.Image{img},
		Attempts: []dispatch.Attempt{{Index: 0, Calls: 1}},
	}, nil
}

func (s *Service) emit(req *enhance.Request, start time.Time, images int, err error) {
	result := "success"
	if err != nil {
		result = apperr.KindOf(err).String()
	}
	metrics.New(metrics.Namespace).
		Dimension("Provider", string(req.Model)).
		Dimension("Mode", req.Mode().String()).
		Dimension("Result", result).
		Metric("RequestLatencyMs", float64(time.Since(start).Milliseconds()), metrics.UnitMilliseconds).
		Metric("ImagesProduced", float64(images), metrics.UnitCount).
		Count("Requests").
		Flush()
}
