package studio

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/dispatch"
	"github.com/fpang/lynx-studio/internal/enhance"
	"github.com/fpang/lynx-studio/internal/payload"
	"github.com/fpang/lynx-studio/internal/prompt"
	"github.com/fpang/lynx-studio/internal/provider"
	"github.com/fpang/lynx-studio/internal/retry"
	"github.com/fpang/lynx-studio/internal/usage"
)

// fakeGemini returns canned results and records every payload it receives.
type fakeGemini struct {
	mu       sync.Mutex
	calls    int
	models   []string
	payloads []*payload.Payload
	results  []error
}

func (f *fakeGemini) Generate(_ context.Context, model string, p *payload.Payload) (*provider.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.models = append(f.models, model)
	f.payloads = append(f.payloads, p)
	if i < len(f.results) && f.results[i] != nil {
		return nil, f.results[i]
	}
	return &provider.Image{Data: []byte("out"), MIMEType: "image/png"}, nil
}

type fakeUpscaler struct {
	calls  int
	images []string
}

func (f *fakeUpscaler) Upscale(_ context.Context, image string, onStatus provider.StatusFunc) (*provider.Image, error) {
	f.calls++
	f.images = append(f.images, image)
	if onStatus != nil {
		onStatus("Job queued...")
	}
	return &provider.Image{Data: []byte("big"), MIMEType: "image/png"}, nil
}

type fakeTransformer struct {
	ops   []enhance.OperationType
	image string
}

func (f *fakeTransformer) Enhance(_ context.Context, image string, ops []enhance.OperationType, _ provider.StatusFunc) (*provider.Image, error) {
	f.ops = ops
	f.image = image
	return nil, &apperr.Error{Kind: apperr.KindProviderClientError, Message: "Cloudinary Upload Failed: 401"}
}

var source = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))

func newService(gem Generator, store usage.Store, refiner prompt.Refiner) *Service {
	noSleep := retry.SleeperFunc(func(ctx context.Context, d time.Duration) error { return ctx.Err() })
	policy := retry.DefaultPolicy()
	policy.Sleeper = noSleep
	return New(Options{
		Composer:     prompt.NewComposer(refiner),
		Gemini:       gem,
		Orchestrator: dispatch.New(dispatch.Options{Policy: policy, Usage: store, Delay: dispatch.DefaultDelay}),
	})
}

// Scenario A: one general enhancement, provider succeeds first time.
func TestProcess_SingleEnhancement(t *testing.T) {
	gem := &fakeGemini{}
	store := usage.NewMemoryStore(nil)
	s := newService(gem, store, nil)

	var statuses []string
	res, err := s.Process(context.Background(), &enhance.Request{
		Operations:  []enhance.OperationType{enhance.OpGeneral},
		SourceImage: source,
	}, nil, func(st string) { statuses = append(statuses, st) })
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(res.Images) != 1 || gem.calls != 1 {
		t.Errorf("images = %d, calls = %d; want 1, 1", len(res.Images), gem.calls)
	}
	if n, _ := store.Read(context.Background()); n != 1 {
		t.Errorf("usage = %d, want 1", n)
	}
	if gem.models[0] != string(enhance.DefaultModel) {
		t.Errorf("model = %q", gem.models[0])
	}
	if res.ID == "" || res.Request == nil || res.Instruction == "" {
		t.Errorf("result = %+v", res)
	}

	p := gem.payloads[0]
	if len(p.Parts) != 2 || p.Parts[0].MIMEType != "image/jpeg" || !strings.Contains(p.Parts[1].Text, "Perform the following image editing tasks") {
		t.Errorf("payload = %+v", p.Parts)
	}
	if statuses[0] != "Initializing..." || statuses[len(statuses)-1] != "Finalizing..." {
		t.Errorf("statuses = %q", statuses)
	}
}

// Scenario B: an edit with no instruction fails before any network call.
func TestProcess_EditWithoutInstruction(t *testing.T) {
	gem := &fakeGemini{}
	refinerCalls := 0
	refiner := prompt.RefinerFunc(func(context.Context, string, bool) (prompt.Refinement, error) {
		refinerCalls++
		return prompt.Refinement{}, nil
	})
	s := newService(gem, nil, refiner)

	_, err := s.Process(context.Background(), &enhance.Request{
		Operations:        []enhance.OperationType{enhance.OpEdit},
		SourceImage:       source,
		CustomInstruction: "   ",
	}, nil, nil)
	if apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Fatalf("KindOf() = %v, want InvalidInput", apperr.KindOf(err))
	}
	if gem.calls != 0 || refinerCalls != 0 {
		t.Errorf("provider calls = %d, refiner calls = %d; want 0, 0", gem.calls, refinerCalls)
	}
}

// Scenario C: refinement text and auto negative reach the payload.
func TestProcess_GenerationWithRefinement(t *testing.T) {
	gem := &fakeGemini{}
	refiner := prompt.RefinerFunc(func(_ context.Context, raw string, hasRef bool) (prompt.Refinement, error) {
		if !hasRef {
			t.Error("refiner not told about the reference image")
		}
		return prompt.Refinement{Instruction: "X", AutoNegative: "Y"}, nil
	})
	s := newService(gem, usage.NewMemoryStore(nil), refiner)

	res, err := s.Process(context.Background(), &enhance.Request{
		Operations:        []enhance.OperationType{enhance.OpGenerate},
		CustomInstruction: "a lynx in snow",
		ReferenceImage:    source,
		SourceImage:       source,
		VariantCount:      2,
		Size:              enhance.Ratio("16:9"),
	}, nil, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !strings.Contains(res.Instruction, "X") || res.Negative != "Y" || !res.Refined {
		t.Errorf("instruction = %q, negative = %q, refined = %v", res.Instruction, res.Negative, res.Refined)
	}
	if len(res.Images) != 2 || gem.calls != 2 {
		t.Errorf("images = %d, calls = %d", len(res.Images), gem.calls)
	}

	// Generation drops the source; only the reference and the text remain.
	p := gem.payloads[0]
	if len(p.Parts) != 2 || p.AspectRatio != "16:9" {
		t.Errorf("payload parts = %d, aspect = %q", len(p.Parts), p.AspectRatio)
	}
}

func TestProcess_PartialVariants(t *testing.T) {
	rejected := &apperr.Error{Kind: apperr.KindProviderClientError, Message: "400 INVALID_ARGUMENT"}
	gem := &fakeGemini{results: []error{nil, rejected, nil}}
	store := usage.NewMemoryStore(nil)
	s := newService(gem, store, nil)

	res, err := s.Process(context.Background(), &enhance.Request{
		Operations:        []enhance.OperationType{enhance.OpVariation},
		SourceImage:       source,
		CustomInstruction: "",
		VariantCount:      3,
	}, nil, nil)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(res.Images) != 2 || len(res.Attempts) != 3 || res.Attempts[1].Err == nil {
		t.Errorf("images = %d, attempts = %+v", len(res.Images), res.Attempts)
	}
	if n, _ := store.Read(context.Background()); n != 2 {
		t.Errorf("usage = %d, want 2", n)
	}
}

func TestProcess_MissingGeminiCredentials(t *testing.T) {
	s := New(Options{})
	_, err := s.Process(context.Background(), &enhance.Request{
		Operations:  []enhance.OperationType{enhance.OpGeneral},
		SourceImage: source,
	}, nil, nil)
	if apperr.KindOf(err) != apperr.KindMissingCredentials {
		t.Errorf("error = %v, want MissingCredentials", err)
	}
}

func TestProcess_RoutesToFal(t *testing.T) {
	gem := &fakeGemini{}
	fal := &fakeUpscaler{}
	store := usage.NewMemoryStore(nil)
	s := New(Options{
		Gemini:       gem,
		Fal:          fal,
		Orchestrator: dispatch.New(dispatch.Options{Usage: store}),
	})

	var statuses []string
	res, err := s.Process(context.Background(), &enhance.Request{
		Operations:   []enhance.OperationType{enhance.OpUpscale},
		SourceImage:  source,
		Model:        enhance.ModelFalSuperResolution,
		VariantCount: 3,
	}, nil, func(st string) { statuses = append(statuses, st) })
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if fal.calls != 1 || gem.calls != 0 || len(res.Images) != 1 {
		t.Errorf("fal calls = %d, gemini calls = %d, images = %d", fal.calls, gem.calls, len(res.Images))
	}
	if n, _ := store.Read(context.Background()); n != 0 {
		t.Errorf("usage = %d, want 0 for fal", n)
	}
	if !strings.Contains(strings.Join(statuses, "|"), "Job queued...") {
		t.Errorf("statuses = %q", statuses)
	}
}

func TestProcess_BareBase64BecomesDataURI(t *testing.T) {
	fal := &fakeUpscaler{}
	cl := &fakeTransformer{}
	s := New(Options{Fal: fal, Cloudinary: cl})

	if _, err := s.Process(context.Background(), &enhance.Request{
		Operations:  []enhance.OperationType{enhance.OpUpscale},
		SourceImage: "aGVsbG8=",
		Model:       enhance.ModelFalSuperResolution,
	}, nil, nil); err != nil {
		t.Fatalf("Process(fal) error = %v", err)
	}
	if len(fal.images) != 1 || fal.images[0] != "data:image/jpeg;base64,aGVsbG8=" {
		t.Errorf("fal image = %q", fal.images)
	}

	s.Process(context.Background(), &enhance.Request{
		Operations:  []enhance.OperationType{enhance.OpRestore},
		SourceImage: "aGVsbG8=",
		Model:       enhance.ModelCloudinary,
	}, nil, nil)
	if cl.image != "data:image/jpeg;base64,aGVsbG8=" {
		t.Errorf("cloudinary image = %q", cl.image)
	}

	// Data URIs pass through unchanged.
	s.Process(context.Background(), &enhance.Request{
		Operations:  []enhance.OperationType{enhance.OpUpscale},
		SourceImage: source,
		Model:       enhance.ModelFalSuperResolution,
	}, nil, nil)
	if fal.images[1] != source {
		t.Errorf("fal image = %q, want %q", fal.images[1], source)
	}
}

func TestProcess_CloudinaryErrorPropagates(t *testing.T) {
	cl := &fakeTransformer{}
	s := New(Options{Cloudinary: cl})

	ops := []enhance.OperationType{enhance.OpRestore, enhance.OpUpscale}
	_, err := s.Process(context.Background(), &enhance.Request{
		Operations:  ops,
		SourceImage: source,
		Model:       enhance.ModelCloudinary,
	}, nil, nil)
	if apperr.KindOf(err) != apperr.KindProviderClientError {
		t.Errorf("KindOf() = %v, want ProviderClientError", apperr.KindOf(err))
	}
	if len(cl.ops) != 2 {
		t.Errorf("ops passed = %v", cl.ops)
	}
}

func TestProcess_CancelledDiscardsResults(t *testing.T) {
	cancel := &dispatch.CancelFlag{}
	gem := &fakeGemini{}
	s := newService(gem, nil, nil)

	_, err := s.Process(context.Background(), &enhance.Request{
		Operations:   []enhance.OperationType{enhance.OpVariation},
		SourceImage:  source,
		VariantCount: 2,
	}, cancel, func(st string) {
		if strings.HasPrefix(st, "Generating") {
			cancel.Cancel()
		}
	})
	if apperr.KindOf(err) != apperr.KindCancelled {
		t.Errorf("KindOf() = %v, want Cancelled", apperr.KindOf(err))
	}
	if gem.calls != 0 {
		t.Errorf("calls = %d, want 0", gem.calls)
	}
}
