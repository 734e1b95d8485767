package analysis

// generateContent request and response bodies, trimmed to the fields used.

const systemInstruction = "You are a consultant radiologist. Analyze the attached medical image and " +
	"report findings and the likely diagnosis. State that the analysis is advisory and must be " +
	"reviewed by a qualified physician."

const userPrompt = "Analyze this medical image and return the result in the requested JSON format."

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type schema struct {
	Type       string            `json:"type"`
	Properties map[string]schema `json:"properties,omitempty"`
	Items      *schema           `json:"items,omitempty"`
	Enum       []string          `json:"enum,omitempty"`
	Required   []string          `json:"required,omitempty"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseSchema   schema  `json:"responseSchema"`
}

type generateRequest struct {
	SystemInstruction content          `json:"systemInstruction"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

var reportSchema = schema{
	Type: "OBJECT",
	Properties: map[string]schema{
		"diagnosis":       {Type: "STRING"},
		"confidence":      {Type: "STRING"},
		"findings":        {Type: "ARRAY", Items: &schema{Type: "STRING"}},
		"recommendations": {Type: "ARRAY", Items: &schema{Type: "STRING"}},
		"summary":         {Type: "STRING"},
		"severity":        {Type: "STRING", Enum: []string{"Low", "Moderate", "High", "Critical"}},
	},
	Required: []string{"diagnosis", "confidence", "findings", "recommendations", "summary", "severity"},
}

func buildRequest(imageB64, mimeType string, opts Options) generateRequest {
	temperature := DefaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxOutputTokens
	}
	return generateRequest{
		SystemInstruction: content{Parts: []part{{Text: systemInstruction}}},
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{InlineData: &inlineData{MimeType: mimeType, Data: imageB64}},
				{Text: userPrompt},
			},
		}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			Temperature:      temperature,
			MaxOutputTokens:  maxTokens,
			ResponseSchema:   reportSchema,
		},
	}
}
