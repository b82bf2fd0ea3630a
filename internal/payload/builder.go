// Package payload turns a composed instruction and encoded images into the
// ordered part list a multimodal provider expects.
package payload

import (
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/enhance"
)

// Part is one content part: exactly one of inline image data or text.
type Part struct {
	MIMEType string
	// Data is base64 without any data-URI prefix.
	Data string
	Text string
}

// IsImage reports whether the part carries inline image data.
func (p Part) IsImage() bool { return p.Data != "" }

// Payload is a provider-neutral request body.
type Payload struct {
	Parts []Part
	// AspectRatio is the size directive, "" to let the provider decide.
	AspectRatio string
}

// Images returns the number of image parts.
func (p *Payload) Images() int {
	n := 0
	for _, part := range p.Parts {
		if part.IsImage() {
			n++
		}
	}
	return n
}

// Input is what Build consumes. Images are data URIs or bare base64.
type Input struct {
	Source      string
	Reference   string
	Mask        string
	Instruction string
	Size        enhance.SizePolicy
}

// Options tune Build.
type Options struct {
	// NormalizeMask binarizes the mask and scales it to the source dimensions.
	NormalizeMask bool
}

// Build assembles the payload. Image order is source, reference, mask; the
// instruction text is always last.
func Build(in Input, opts Options) (*Payload, error) {
	if strings.TrimSpace(in.Instruction) == "" {
		return nil, apperr.Invalid("instruction text is empty")
	}
	directive, err := SizeDirective(in.Size)
	if err != nil {
		return nil, err
	}

	p := &Payload{AspectRatio: directive}

	if in.Source != "" {
		part, err := imagePart(in.Source, "image/jpeg")
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInvalidInput, err, "source image")
		}
		p.Parts = append(p.Parts, part)
	}
	if in.Reference != "" {
		part, err := imagePart(in.Reference, "image/jpeg")
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInvalidInput, err, "reference image")
		}
		p.Parts = append(p.Parts, part)
	}
	if in.Mask != "" {
		part, err := imagePart(in.Mask, "image/png")
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInvalidInput, err, "mask image")
		}
		if opts.NormalizeMask && in.Source != "" {
			part = normalizedMaskPart(part, p.Parts[0])
		}
		p.Parts = append(p.Parts, part)
	}

	p.Parts = append(p.Parts, Part{Text: in.Instruction})
	return p, nil
}

// SizeDirective renders the size policy: "w:h" for explicit sizes, the ratio
// token for named ratios, "" for match-source.
func SizeDirective(s enhance.SizePolicy) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	switch s.Kind {
	case enhance.SizeExplicit:
		return strconv.Itoa(s.Width) + ":" + strconv.Itoa(s.Height), nil
	case enhance.SizeAspectRatio:
		return s.Ratio, nil
	}
	return "", nil
}

var dataURIPattern = regexp.MustCompile(`^data:(image/[a-zA-Z0-9.+-]+);base64,`)

// StripDataURI removes a data-URI prefix and returns the declared MIME type
// (empty when the input was bare base64) and the base64 payload.
func StripDataURI(s string) (mimeType, data string) {
	s = strings.TrimSpace(s)
	if m := dataURIPattern.FindStringSubmatch(s); m != nil {
		mimeType = strings.ToLower(m[1])
		if mimeType == "image/jpg" {
			mimeType = "image/jpeg"
		}
		return mimeType, s[len(m[0]):]
	}
	return "", s
}

// EncodeDataURI renders raw bytes as a data URI.
func EncodeDataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DataURI returns s as a data URI, using defaultMIME when s is bare base64.
func DataURI(s, defaultMIME string) string {
	mimeType, data := StripDataURI(s)
	if mimeType == "" {
		mimeType = defaultMIME
	}
	return "data:" + mimeType + ";base64," + data
}

// Decode strips any data-URI prefix and decodes the base64 payload.
func Decode(s string) (mimeType string, data []byte, err error) {
	mimeType, b64 := StripDataURI(s)
	data, err = base64.StdEncoding.DecodeString(b64)
	return mimeType, data, err
}

func imagePart(encoded, defaultMIME string) (Part, error) {
	mimeType, data := StripDataURI(encoded)
	if data == "" {
		return Part{}, apperr.Invalid("image data is empty")
	}
	if mimeType == "" {
		mimeType = defaultMIME
	}
	return Part{MIMEType: mimeType, Data: data}, nil
}

func normalizedMaskPart(mask, source Part) Part {
	srcBytes, err := base64.StdEncoding.DecodeString(source.Data)
	if err != nil {
		log.Debug().Err(err).Msg("Source not decodable, embedding mask unchanged")
		return mask
	}
	maskBytes, err := base64.StdEncoding.DecodeString(mask.Data)
	if err != nil {
		log.Debug().Err(err).Msg("Mask not decodable, embedding unchanged")
		return mask
	}
	out, err := NormalizeMask(maskBytes, srcBytes)
	if err != nil {
		log.Warn().Err(err).Msg("Mask normalization failed, embedding unchanged")
		return mask
	}
	return Part{MIMEType: "image/png", Data: base64.StdEncoding.EncodeToString(out)}
}
