package prompt

import (
	"strings"

	"github.com/fpang/lynx-studio/internal/enhance"
)

// operationText maps each operation to its canned instruction sentence.
var operationText = map[enhance.OperationType]string{
	enhance.OpGeneral:          "Enhance overall quality: improve sharpness, resolution, details, noise reduction, and contrast.",
	enhance.OpRestore:          "Restore image: fix scratches, tears, creases, and blurriness so it looks like a pristine modern photo.",
	enhance.OpColorize:         "Colorize: apply realistic, vibrant, and historically accurate colors to this black and white image.",
	enhance.OpLighting:         "Fix lighting: balance shadows and highlights, correct exposure, and apply studio-quality lighting.",
	enhance.OpCreative:         "Creative stylization: apply a cinematic look with dramatic lighting and color grading.",
	enhance.OpUpscale:          "Upscale: generate a high-fidelity, high-resolution version with extreme sharpness and fine details.",
	enhance.OpVectorize:        "Vectorize: convert this image into a clean vector illustration style. Eliminate blur, noise, and pixelation. Use sharp defined lines and solid flat colors with perfect edges.",
	enhance.OpRemoveSubject:    "Remove the main subject: cleanly erase the foreground person or object and inpaint the background naturally.",
	enhance.OpRemoveText:       "Remove text: erase all visible text, subtitles, and logos. Inpaint the area to match the background texture perfectly.",
	enhance.OpRemoveBackground: "Remove background: keep the main subject sharp and replace the background with a clean solid color or transparent look.",
	enhance.OpRemoveWatermark:  "Remove watermarks: detect and remove all semi-transparent text, copyright patterns, digital stamps, and logos overlaying the image. Inpaint the obscured pixels to match the surrounding texture seamlessly.",
	enhance.OpVariation:        "Create a new image inspired by this one, keeping a similar artistic style, theme, and color scheme while producing an original alternative. Do not copy the image; reimagine it with a fresh composition.",
	enhance.OpEdit:             "Execute the user's editing instruction precisely on the PROVIDED INPUT IMAGE. Modify ONLY what is requested and preserve the rest of the image's structure, lighting, and style exactly.",
	enhance.OpGenerate:         "Generate a high-quality, photorealistic image based on the user's description. Pay close attention to lighting, texture, and composition.",
	enhance.OpLookBW:           "Cinematic black-and-white photo, full-frame camera, 85mm lens, f/1.8, shallow depth of field, low-key dramatic lighting, strong contrast, rim lighting, soft background bokeh, subtle film grain, moody editorial look.",
	enhance.OpLookDark:         "Cinematic full-frame camera, 85mm lens, f/1.8, shallow depth of field, low-key dramatic lighting, strong contrast, rim lighting, soft background bokeh, subtle film grain, dark modern atmosphere.",
	enhance.OpLookRealism:      "Cinematic, moody realism with soft dramatic lighting and strong contrast. Shallow depth of field, natural color grading leaning toward cool neutrals, film-like texture, realistic skin tones, and gentle shadows.",
}

// OperationText returns the canned instruction for op, or "" if op is unknown.
func OperationText(op enhance.OperationType) string {
	return operationText[op]
}

// joinOperations space-joins the canned instructions in caller order.
func joinOperations(ops []enhance.OperationType) string {
	parts := make([]string, 0, len(ops))
	for _, op := range ops {
		if s := operationText[op]; s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
