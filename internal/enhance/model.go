package enhance

// ProviderModel selects the backend that handles a request.
type ProviderModel string

const (
	// ModelGeminiFlashImage is the fast, low-cost multimodal model.
	ModelGeminiFlashImage ProviderModel = "gemini-2.5-flash-image"
	// ModelGeminiProImage is the high-quality multimodal model.
	ModelGeminiProImage ProviderModel = "gemini-3-pro-image-preview"
	// ModelFalSuperResolution is the queue-based super-resolution service.
	ModelFalSuperResolution ProviderModel = "fal-ai/drct-super-resolution"
	// ModelCloudinary is the transformation-URL CDN.
	ModelCloudinary ProviderModel = "cloudinary-ai"
)

// DefaultModel is used when the caller does not pick one.
const DefaultModel = ModelGeminiFlashImage

// Models lists every supported provider model.
var Models = []ProviderModel{ModelGeminiFlashImage, ModelGeminiProImage, ModelFalSuperResolution, ModelCloudinary}

// Valid reports whether m is a supported model.
func (m ProviderModel) Valid() bool {
	for _, v := range Models {
		if v == m {
			return true
		}
	}
	return false
}

// IsGemini reports whether m is served by the multimodal generation provider.
func (m ProviderModel) IsGemini() bool {
	return m == ModelGeminiFlashImage || m == ModelGeminiProImage
}
