package enhance

import (
	"strings"

	"github.com/fpang/lynx-studio/internal/apperr"
)

// OperationType tags one enhancement kind. The string value is the CLI spelling.
type OperationType string

const (
	OpGeneral          OperationType = "general"
	OpRestore          OperationType = "restore"
	OpColorize         OperationType = "colorize"
	OpLighting         OperationType = "lighting"
	OpCreative         OperationType = "creative"
	OpUpscale          OperationType = "upscale"
	OpVectorize        OperationType = "vectorize"
	OpRemoveSubject    OperationType = "remove-subject"
	OpRemoveText       OperationType = "remove-text"
	OpRemoveBackground OperationType = "remove-background"
	OpRemoveWatermark  OperationType = "remove-watermark"
	OpVariation        OperationType = "variation"
	OpEdit             OperationType = "edit"
	OpGenerate         OperationType = "generate"
	OpLookBW           OperationType = "look-bw"
	OpLookDark         OperationType = "look-dark"
	OpLookRealism      OperationType = "look-realism"
)

// AllOperations lists every operation in display order.
var AllOperations = []OperationType{
	OpGeneral, OpRestore, OpColorize, OpLighting, OpCreative, OpUpscale,
	OpVectorize, OpRemoveSubject, OpRemoveText, OpRemoveBackground,
	OpRemoveWatermark, OpVariation, OpEdit, OpGenerate,
	OpLookBW, OpLookDark, OpLookRealism,
}

// Valid reports whether op is a known operation.
func (op OperationType) Valid() bool {
	for _, o := range AllOperations {
		if o == op {
			return true
		}
	}
	return false
}

// ParseOperations parses CLI tags, accepting comma-separated values in any
// element. Duplicates are dropped, first occurrence keeps its position.
func ParseOperations(tags []string) ([]OperationType, error) {
	seen := make(map[OperationType]bool)
	var ops []OperationType
	for _, raw := range tags {
		for _, part := range strings.Split(raw, ",") {
			tag := OperationType(strings.ToLower(strings.TrimSpace(part)))
			if tag == "" {
				continue
			}
			if !tag.Valid() {
				return nil, apperr.Invalid("unknown operation %q", part)
			}
			if seen[tag] {
				continue
			}
			seen[tag] = true
			ops = append(ops, tag)
		}
	}
	return ops, nil
}
