package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/lynx-studio/internal/jsonutil"
)

// DefaultRefineModel is the text model used for instruction refinement.
const DefaultRefineModel = "gemini-3-flash-preview"

// Refinement is a rewritten instruction plus an optional derived negative prompt.
type Refinement struct {
	Instruction  string `json:"refinedPrompt"`
	AutoNegative string `json:"autoNegativePrompt"`

	// Refined is false when the caller's raw text was passed through unchanged.
	Refined bool `json:"-"`
}

// Refiner rewrites raw user instructions. Implementations may fail freely;
// the composer only ever calls them through Refine.
type Refiner interface {
	Refine(ctx context.Context, raw string, hasReference bool) (Refinement, error)
}

// RefinerFunc adapts a function to Refiner.
type RefinerFunc func(ctx context.Context, raw string, hasReference bool) (Refinement, error)

func (f RefinerFunc) Refine(ctx context.Context, raw string, hasReference bool) (Refinement, error) {
	return f(ctx, raw, hasReference)
}

// Refine calls r and falls back to the raw instruction on any error, panic,
// or empty result. It has no error return.
func Refine(ctx context.Context, r Refiner, raw string, hasReference bool) (out Refinement) {
	fallback := Refinement{Instruction: raw}
	defer func() {
		if p := recover(); p != nil {
			log.Warn().Interface("panic", p).Msg("Instruction refinement panicked, using original instruction")
			out = fallback
		}
	}()

	res, err := r.Refine(ctx, raw, hasReference)
	if err != nil {
		log.Warn().Err(err).Msg("Instruction refinement failed, using original instruction")
		return fallback
	}
	if strings.TrimSpace(res.Instruction) == "" {
		log.Warn().Msg("Instruction refinement returned no prompt, using original instruction")
		return fallback
	}
	res.Instruction = strings.TrimSpace(res.Instruction)
	res.Refined = true
	return res
}

// GeminiRefiner refines instructions with a Gemini text model using a
// structured JSON response.
type GeminiRefiner struct {
	client *genai.Client
	model  string
}

// NewGeminiRefiner returns a refiner on client. An empty model uses DefaultRefineModel.
func NewGeminiRefiner(client *genai.Client, model string) *GeminiRefiner {
	if model == "" {
		model = DefaultRefineModel
	}
	return &GeminiRefiner{client: client, model: model}
}

var refinementSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"refinedPrompt":      {Type: genai.TypeString},
		"autoNegativePrompt": {Type: genai.TypeString},
	},
	Required: []string{"refinedPrompt", "autoNegativePrompt"},
}

// BlockNoneSafety disables provider-side blocking for every harm category.
func BlockNoneSafety() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
		genai.HarmCategoryCivicIntegrity,
	}
	settings := make([]*genai.SafetySetting, len(categories))
	for i, c := range categories {
		settings[i] = &genai.SafetySetting{Category: c, Threshold: genai.HarmBlockThresholdBlockNone}
	}
	return settings
}

// Refine implements Refiner.
func (g *GeminiRefiner) Refine(ctx context.Context, raw string, hasReference bool) (Refinement, error) {
	prompt, err := RefinementPrompt(raw, hasReference)
	if err != nil {
		return Refinement{}, err
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   refinementSchema,
		SafetySettings:   BlockNoneSafety(),
	})
	if err != nil {
		return Refinement{}, fmt.Errorf("refinement call: %w", err)
	}

	text := resp.Text()
	log.Debug().
		Str("model", g.model).
		Dur("duration", time.Since(start)).
		Int("responseLength", len(text)).
		Msg("Refinement response received")

	ref, err := jsonutil.ParseObject[Refinement](text)
	if err != nil {
		return Refinement{}, fmt.Errorf("parse refinement: %w", err)
	}
	return ref, nil
}

// RefinementPrompt renders the instruction sent to the refinement model.
func RefinementPrompt(raw string, hasReference bool) (string, error) {
	return render("refine", struct {
		Raw          string
		HasReference bool
	}{raw, hasReference})
}
