// Package enhance holds the request model shared by every stage of the
// studio pipeline: operation kinds, the derived mode, output size policy,
// and the provider model selector.
package enhance

import (
	"fmt"
	"strings"

	"github.com/fpang/lynx-studio/internal/apperr"
)

// MaxVariants is the largest number of output images one request may ask for.
const MaxVariants = 5

// Mode selects the instruction template and whether the request may fan out.
type Mode int

const (
	ModeEnhancement Mode = iota
	ModeEdit
	ModeVariation
	ModeGeneration
)

func (m Mode) String() string {
	switch m {
	case ModeEdit:
		return "edit"
	case ModeVariation:
		return "variation"
	case ModeGeneration:
		return "generation"
	default:
		return "enhancement"
	}
}

// FansOut reports whether the mode honours VariantCount > 1.
func (m Mode) FansOut() bool {
	return m != ModeEnhancement
}

// Request is one user action: what to do, to which images, with which model.
//
// Image fields carry encoded images as they arrive from callers: either a
// data URI ("data:image/png;base64,...") or bare base64.
type Request struct {
	Operations          []OperationType
	CustomInstruction   string
	NegativeInstruction string

	SourceImage    string
	ReferenceImage string
	MaskImage      string

	Size         SizePolicy
	VariantCount int
	Model        ProviderModel
}

// ModeOf derives the template mode. Generation wins over edit, edit over variation.
func ModeOf(ops []OperationType) Mode {
	switch {
	case contains(ops, OpGenerate):
		return ModeGeneration
	case contains(ops, OpEdit):
		return ModeEdit
	case contains(ops, OpVariation):
		return ModeVariation
	default:
		return ModeEnhancement
	}
}

// Mode is ModeOf(r.Operations).
func (r *Request) Mode() Mode {
	return ModeOf(r.Operations)
}

// Has reports whether op is among the requested operations.
func (r *Request) Has(op OperationType) bool {
	return contains(r.Operations, op)
}

func contains(ops []OperationType, op OperationType) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

// Variants is the number of generation attempts to dispatch.
func (r *Request) Variants() int {
	if !r.Mode().FansOut() || r.VariantCount < 1 {
		return 1
	}
	return r.VariantCount
}

// HasReference reports whether a reference image is attached.
func (r *Request) HasReference() bool { return strings.TrimSpace(r.ReferenceImage) != "" }

// HasMask reports whether a mask image is attached.
func (r *Request) HasMask() bool { return strings.TrimSpace(r.MaskImage) != "" }

// RequiresInstruction reports whether the mode cannot run without free text.
func (r *Request) RequiresInstruction() bool {
	m := r.Mode()
	return m == ModeEdit || m == ModeGeneration
}

// Validate checks the request shape. It never touches the network, so every
// InvalidInput failure is caught before any provider call.
func (r *Request) Validate() error {
	if len(r.Operations) == 0 {
		return apperr.Invalid("at least one operation is required")
	}
	for _, op := range r.Operations {
		if !op.Valid() {
			return apperr.Invalid("unknown operation %q", string(op))
		}
	}
	if r.VariantCount < 0 || r.VariantCount > MaxVariants {
		return apperr.Invalid("variant count must be between 1 and %d, got %d", MaxVariants, r.VariantCount)
	}
	if !r.Model.Valid() {
		return apperr.Invalid("unknown provider model %q", string(r.Model))
	}
	if err := r.Size.Validate(); err != nil {
		return err
	}
	if r.RequiresInstruction() && strings.TrimSpace(r.CustomInstruction) == "" {
		if r.Mode() == ModeGeneration {
			return apperr.Invalid("describe the image you want to generate")
		}
		return apperr.Invalid("describe the edit you want to make")
	}
	if r.Mode() != ModeGeneration && strings.TrimSpace(r.SourceImage) == "" {
		return apperr.Invalid("a source image is required for %s", r.Mode())
	}
	return nil
}

// Summary is a short loggable description that never includes image data.
func (r *Request) Summary() string {
	ops := make([]string, len(r.Operations))
	for i, op := range r.Operations {
		ops[i] = string(op)
	}
	return fmt.Sprintf("mode=%s ops=%s variants=%d model=%s size=%s",
		r.Mode(), strings.Join(ops, ","), r.Variants(), r.Model, r.Size)
}
