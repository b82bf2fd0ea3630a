package main

// EnhanceEvent is the input payload from an API or async invocation. Image
// fields are S3 keys in Bucket (or the default media bucket).
type EnhanceEvent struct {
	SessionID    string   `json:"sessionId"`
	Bucket       string   `json:"bucket,omitempty"`
	Key          string   `json:"key,omitempty"` // source image; omitted for generate
	ReferenceKey string   `json:"referenceKey,omitempty"`
	MaskKey      string   `json:"maskKey,omitempty"`
	Operations   []string `json:"operations"`
	Prompt       string   `json:"prompt,omitempty"`
	Negative     string   `json:"negative,omitempty"`
	Size         string   `json:"size,omitempty"`
	Count        int      `json:"count,omitempty"`
	Model        string   `json:"model,omitempty"`
}

// EnhanceResult is returned to the caller.
type EnhanceResult struct {
	RequestID   string   `json:"requestId,omitempty"`
	OutputKeys  []string `json:"outputKeys"`
	OutputURLs  []string `json:"outputUrls,omitempty"`
	Instruction string   `json:"instruction,omitempty"`
	Negative    string   `json:"negative,omitempty"`
	Failures    int      `json:"failures,omitempty"`
	UsageToday  int      `json:"usageToday"`
	ErrorKind   string   `json:"errorKind,omitempty"`
	Error       string   `json:"error,omitempty"`
}
