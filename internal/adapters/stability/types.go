package stability

const (
	EngineV16  = "v1-6"
	EngineSDXL = "sdxl"

	samplerEulerAncestral = "K_EULER_ANCESTRAL"
	initImageStrength     = "IMAGE_STRENGTH"

	defaultSteps         = 30
	defaultSamples       = 1
	defaultImageStrength = 0.35
)

type engineSpec struct {
	path     string
	cfgScale int
}

var engines = map[string]engineSpec{
	EngineV16: {
		path:     "/v1/generation/stable-diffusion-v1-6/image-to-image",
		cfgScale: 9,
	},
	EngineSDXL: {
		path:     "/v1/generation/stable-diffusion-xl-1024-v1-0/image-to-image",
		cfgScale: 7,
	},
}

type stabilityArtifact struct {
	Base64       string `json:"base64"`
	Seed         int64  `json:"seed"`
	FinishReason string `json:"finishReason"`
}

type stabilityResponse struct {
	Artifacts []stabilityArtifact `json:"artifacts"`
}

type stabilityAPIError struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Message string `json:"message"`
}
