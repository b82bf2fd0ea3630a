// Package prompt composes the instruction text sent to the image model.
//
// Canned per-operation sentences are joined in caller order and rendered
// through one template per mode. Free text can optionally be rewritten by a
// Refiner; refinement is best-effort and never fails composition.
package prompt

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/rs/zerolog/log"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/enhance"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// Input is everything the composer needs. It carries flags, not image bytes.
type Input struct {
	Operations          []enhance.OperationType
	CustomInstruction   string
	NegativeInstruction string
	HasReference        bool
	HasMask             bool
}

// InputFromRequest extracts composer input from a request.
func InputFromRequest(r *enhance.Request) Input {
	return Input{
		Operations:          r.Operations,
		CustomInstruction:   r.CustomInstruction,
		NegativeInstruction: r.NegativeInstruction,
		HasReference:        r.HasReference(),
		HasMask:             r.HasMask(),
	}
}

// Output is the composed instruction and the negative text that was used.
type Output struct {
	Text     string
	Negative string
	Mode     enhance.Mode
	// Refined is true when a refinement call succeeded and its text was used.
	Refined bool
}

// Composer builds final instruction text. A nil refiner disables refinement.
type Composer struct {
	refiner Refiner
}

// NewComposer returns a Composer. Pass nil to skip refinement entirely.
func NewComposer(refiner Refiner) *Composer {
	return &Composer{refiner: refiner}
}

type templateData struct {
	Instructions    string
	UserInstruction string
	Negative        string
	HasReference    bool
	HasMask         bool
	MaskIndex       int
}

// Compose validates input and renders the mode template. The only error it
// returns is InvalidInput, raised before any refinement call.
func (c *Composer) Compose(ctx context.Context, in Input) (Output, error) {
	if len(in.Operations) == 0 {
		return Output{}, apperr.Invalid("at least one operation is required")
	}
	mode := enhance.ModeOf(in.Operations)
	custom := strings.TrimSpace(in.CustomInstruction)
	negative := strings.TrimSpace(in.NegativeInstruction)

	if custom == "" {
		switch mode {
		case enhance.ModeEdit:
			return Output{}, apperr.Invalid("describe the edit you want to make")
		case enhance.ModeGeneration:
			return Output{}, apperr.Invalid("describe the image you want to generate")
		}
	}

	out := Output{Mode: mode}
	instruction := custom
	if c.refiner != nil && custom != "" && mode.FansOut() {
		ref := Refine(ctx, c.refiner, custom, in.HasReference)
		instruction = ref.Instruction
		out.Refined = ref.Refined
		if negative == "" {
			negative = strings.TrimSpace(ref.AutoNegative)
		}
	}

	data := templateData{
		Instructions:    joinOperations(in.Operations),
		UserInstruction: instruction,
		Negative:        negative,
		HasReference:    in.HasReference,
		HasMask:         in.HasMask,
		MaskIndex:       2,
	}
	if in.HasReference {
		data.MaskIndex = 3
	}

	text, err := render(mode.String(), data)
	if err != nil {
		// Templates are compiled in; a render failure is a programming error.
		return Output{}, fmt.Errorf("render %s template: %w", mode, err)
	}

	out.Text = text
	out.Negative = negative
	log.Debug().
		Str("mode", mode.String()).
		Int("operations", len(in.Operations)).
		Bool("refined", out.Refined).
		Bool("negative", negative != "").
		Int("length", len(text)).
		Msg("Instruction composed")
	return out, nil
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	lines := strings.Split(buf.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	text := blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text), nil
}
