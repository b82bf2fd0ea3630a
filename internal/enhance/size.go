package enhance

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fpang/lynx-studio/internal/apperr"
)

// SizeKind selects how the output size is expressed to the provider.
type SizeKind int

const (
	// SizeMatchSource leaves sizing to the provider default.
	SizeMatchSource SizeKind = iota
	// SizeAspectRatio requests one of the named ratios.
	SizeAspectRatio
	// SizeExplicit requests an exact width and height.
	SizeExplicit
)

// NamedRatios are the aspect ratio tokens accepted by SizeAspectRatio.
var NamedRatios = []string{"1:1", "3:4", "4:3", "16:9", "9:16"}

// SizePolicy is the requested output size.
type SizePolicy struct {
	Kind   SizeKind
	Ratio  string
	Width  int
	Height int
}

// MatchSource is the zero SizePolicy.
var MatchSource = SizePolicy{Kind: SizeMatchSource}

// Ratio returns a named-ratio policy.
func Ratio(token string) SizePolicy {
	return SizePolicy{Kind: SizeAspectRatio, Ratio: token}
}

// Explicit returns an explicit width x height policy.
func Explicit(width, height int) SizePolicy {
	return SizePolicy{Kind: SizeExplicit, Width: width, Height: height}
}

// ParseSizePolicy accepts "auto" (or ""), a named ratio such as "16:9", or
// explicit dimensions such as "1920x1080".
func ParseSizePolicy(s string) (SizePolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "auto" {
		return MatchSource, nil
	}
	for _, r := range NamedRatios {
		if s == r {
			return Ratio(r), nil
		}
	}
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return SizePolicy{}, apperr.Invalid("unrecognised size %q: use auto, a ratio (%s) or WIDTHxHEIGHT", s, strings.Join(NamedRatios, ", "))
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return SizePolicy{}, apperr.Invalid("invalid width in %q", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return SizePolicy{}, apperr.Invalid("invalid height in %q", s)
	}
	p := Explicit(width, height)
	return p, p.Validate()
}

// Validate rejects non-positive explicit dimensions and unknown ratios.
func (p SizePolicy) Validate() error {
	switch p.Kind {
	case SizeMatchSource:
		return nil
	case SizeAspectRatio:
		for _, r := range NamedRatios {
			if p.Ratio == r {
				return nil
			}
		}
		return apperr.Invalid("unknown aspect ratio %q", p.Ratio)
	case SizeExplicit:
		if p.Width <= 0 || p.Height <= 0 {
			return apperr.Invalid("output dimensions must be positive, got %dx%d", p.Width, p.Height)
		}
		return nil
	}
	return apperr.Invalid("unknown size kind %d", int(p.Kind))
}

func (p SizePolicy) String() string {
	switch p.Kind {
	case SizeAspectRatio:
		return p.Ratio
	case SizeExplicit:
		return fmt.Sprintf("%dx%d", p.Width, p.Height)
	default:
		return "auto"
	}
}
