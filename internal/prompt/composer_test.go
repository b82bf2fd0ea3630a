package prompt

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/enhance"
)

func TestCompose_Deterministic(t *testing.T) {
	c := NewComposer(nil)
	in := Input{
		Operations:          []enhance.OperationType{enhance.OpRestore, enhance.OpColorize},
		CustomInstruction:   "keep the grain",
		NegativeInstruction: "text overlays",
	}

	first, err := c.Compose(context.Background(), in)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := c.Compose(context.Background(), in)
		if err != nil {
			t.Fatalf("Compose() error = %v", err)
		}
		if again != first {
			t.Fatalf("Compose() not deterministic:\n%q\nvs\n%q", again.Text, first.Text)
		}
	}

	if !strings.Contains(first.Text, OperationText(enhance.OpRestore)+" "+OperationText(enhance.OpColorize)) {
		t.Errorf("operations not space-joined in order:\n%s", first.Text)
	}
	if !strings.Contains(first.Text, "User Instruction: keep the grain") {
		t.Errorf("missing user instruction:\n%s", first.Text)
	}
	if !strings.Contains(first.Text, "NEGATIVE PROMPT (STRICTLY AVOID): text overlays") {
		t.Errorf("missing negative section:\n%s", first.Text)
	}
	if first.Negative != "text overlays" {
		t.Errorf("Negative = %q", first.Negative)
	}
}

func TestCompose_RefinementFailSoft(t *testing.T) {
	failures := map[string]Refiner{
		"error": RefinerFunc(func(context.Context, string, bool) (Refinement, error) {
			return Refinement{}, errors.New("connection reset")
		}),
		"empty": RefinerFunc(func(context.Context, string, bool) (Refinement, error) {
			return Refinement{AutoNegative: "blur"}, nil
		}),
		"panic": RefinerFunc(func(context.Context, string, bool) (Refinement, error) {
			panic("malformed")
		}),
	}

	in := Input{
		Operations:        []enhance.OperationType{enhance.OpEdit},
		CustomInstruction: "add a red scarf",
	}
	want, err := NewComposer(nil).Compose(context.Background(), in)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	for name, r := range failures {
		t.Run(name, func(t *testing.T) {
			got, err := NewComposer(r).Compose(context.Background(), in)
			if err != nil {
				t.Fatalf("Compose() error = %v, want nil", err)
			}
			if got.Refined {
				t.Error("Refined = true after failed refinement")
			}
			if got.Text != want.Text {
				t.Errorf("Text differs from unrefined compose:\n%s\nwant:\n%s", got.Text, want.Text)
			}
			if got.Negative != "" {
				t.Errorf("Negative = %q, want empty", got.Negative)
			}
		})
	}
}

func TestRefine_ReturnsRawOnFailure(t *testing.T) {
	r := RefinerFunc(func(context.Context, string, bool) (Refinement, error) {
		return Refinement{}, errors.New("bad json")
	})
	got := Refine(context.Background(), r, "raw text", false)
	if got.Instruction != "raw text" || got.Refined {
		t.Errorf("Refine() = %+v, want raw passthrough", got)
	}
}

func TestCompose_EditWithoutTextIsInvalid(t *testing.T) {
	var calls atomic.Int32
	r := RefinerFunc(func(context.Context, string, bool) (Refinement, error) {
		calls.Add(1)
		return Refinement{Instruction: "x"}, nil
	})

	for _, op := range []enhance.OperationType{enhance.OpEdit, enhance.OpGenerate} {
		_, err := NewComposer(r).Compose(context.Background(), Input{
			Operations:        []enhance.OperationType{op},
			CustomInstruction: "  ",
		})
		if apperr.KindOf(err) != apperr.KindInvalidInput {
			t.Errorf("%s: KindOf() = %v, want InvalidInput", op, apperr.KindOf(err))
		}
	}
	if calls.Load() != 0 {
		t.Errorf("refiner called %d times, want 0", calls.Load())
	}
}

func TestCompose_GenerationWithReferenceUsesRefinement(t *testing.T) {
	var gotRef bool
	r := RefinerFunc(func(_ context.Context, raw string, hasReference bool) (Refinement, error) {
		gotRef = hasReference
		return Refinement{Instruction: "X", AutoNegative: "Y"}, nil
	})

	out, err := NewComposer(r).Compose(context.Background(), Input{
		Operations:        []enhance.OperationType{enhance.OpGenerate},
		CustomInstruction: "a lynx on a rooftop",
		HasReference:      true,
	})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if !gotRef {
		t.Error("refiner did not receive hasReference = true")
	}
	if !strings.Contains(out.Text, `"X"`) {
		t.Errorf("Text does not contain refined instruction:\n%s", out.Text)
	}
	if out.Negative != "Y" {
		t.Errorf("Negative = %q, want Y", out.Negative)
	}
	if !out.Refined {
		t.Error("Refined = false")
	}
	if !strings.Contains(out.Text, "REFERENCE IMAGE") {
		t.Errorf("generation template missing reference guidance:\n%s", out.Text)
	}
}

func TestCompose_ExplicitNegativeWins(t *testing.T) {
	r := RefinerFunc(func(context.Context, string, bool) (Refinement, error) {
		return Refinement{Instruction: "X", AutoNegative: "Y"}, nil
	})
	out, err := NewComposer(r).Compose(context.Background(), Input{
		Operations:          []enhance.OperationType{enhance.OpVariation},
		CustomInstruction:   "in winter",
		NegativeInstruction: "people",
	})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if out.Negative != "people" {
		t.Errorf("Negative = %q, want people", out.Negative)
	}
}

func TestCompose_EnhancementSkipsRefinement(t *testing.T) {
	var calls int
	r := RefinerFunc(func(context.Context, string, bool) (Refinement, error) {
		calls++
		return Refinement{Instruction: "X"}, nil
	})
	_, err := NewComposer(r).Compose(context.Background(), Input{
		Operations:        []enhance.OperationType{enhance.OpGeneral},
		CustomInstruction: "a bit warmer",
	})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if calls != 0 {
		t.Errorf("refiner called %d times for plain enhancement", calls)
	}
}

func TestCompose_ModeTemplates(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want []string
		deny []string
	}{
		{
			name: "masked edit with reference",
			in: Input{
				Operations:        []enhance.OperationType{enhance.OpEdit},
				CustomInstruction: "replace the cup with a teapot",
				HasReference:      true,
				HasMask:           true,
			},
			want: []string{"absolute source of truth", "Image 2: a REFERENCE IMAGE", "Image 3: a MASK", "MASK INSTRUCTIONS (CRITICAL)", "AND confine it within the provided mask", "Output ONLY the edited image."},
		},
		{
			name: "plain edit",
			in: Input{
				Operations:        []enhance.OperationType{enhance.OpEdit},
				CustomInstruction: "remove the car",
			},
			want: []string{"TASK: remove the car", "absolute source of truth"},
			deny: []string{"MASK", "REFERENCE IMAGE"},
		},
		{
			name: "variation",
			in:   Input{Operations: []enhance.OperationType{enhance.OpVariation}},
			want: []string{"strongly inspired by the provided input image"},
			deny: []string{"User Instruction"},
		},
		{
			name: "generation",
			in: Input{
				Operations:        []enhance.OperationType{enhance.OpGenerate},
				CustomInstruction: "a lighthouse at dusk",
			},
			want: []string{`"a lighthouse at dusk"`, "no source image", "Output ONLY the generated image."},
			deny: []string{"REFERENCE IMAGE"},
		},
		{
			name: "enhancement with mask",
			in:   Input{Operations: []enhance.OperationType{enhance.OpRemoveText}, HasMask: true},
			want: []string{"source of truth", "WHITE region of the provided mask", "Output ONLY the processed image."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewComposer(nil).Compose(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("Compose() error = %v", err)
			}
			for _, s := range tt.want {
				if !strings.Contains(out.Text, s) {
					t.Errorf("Text missing %q:\n%s", s, out.Text)
				}
			}
			for _, s := range tt.deny {
				if strings.Contains(out.Text, s) {
					t.Errorf("Text unexpectedly contains %q:\n%s", s, out.Text)
				}
			}
		})
	}
}

func TestOperationTextCoversAllOperations(t *testing.T) {
	for _, op := range enhance.AllOperations {
		if OperationText(op) == "" {
			t.Errorf("no canned text for %q", op)
		}
	}
}
