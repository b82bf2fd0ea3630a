// Package gemini is a REST client for the Gemini multimodal image models.
//
// It calls generateContent directly over HTTP so the request carries the
// image-specific generation config (response modalities, imageConfig) and
// the raw error envelope can be classified at this boundary.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/payload"
	"github.com/fpang/lynx-studio/internal/provider"
)

// DefaultBaseURL is the Gemini REST API base URL.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client calls generateContent on an image model.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient returns a client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // Image generation can take 10-60s
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// --- REST API request/response types ---

type request struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
	SafetySettings   []safetySetting   `json:"safetySettings,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string    `json:"text,omitempty"`
	InlineData *blobData `json:"inlineData,omitempty"`
}

type blobData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type response struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
}

type candidate struct {
	Content       content `json:"content"`
	FinishReason  string  `json:"finishReason,omitempty"`
	FinishMessage string  `json:"finishMessage,omitempty"`
}

type promptFeedback struct {
	BlockReason        string `json:"blockReason,omitempty"`
	BlockReasonMessage string `json:"blockReasonMessage,omitempty"`
}

// harmCategories are disabled on every request.
var harmCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
	"HARM_CATEGORY_CIVIC_INTEGRITY",
}

func blockNone() []safetySetting {
	s := make([]safetySetting, len(harmCategories))
	for i, c := range harmCategories {
		s[i] = safetySetting{Category: c, Threshold: "BLOCK_NONE"}
	}
	return s
}

// safetyReasons are finish or block reasons that mean a policy refusal.
var safetyReasons = map[string]bool{
	"SAFETY":                   true,
	"IMAGE_SAFETY":             true,
	"PROHIBITED_CONTENT":       true,
	"IMAGE_PROHIBITED_CONTENT": true,
	"BLOCKLIST":                true,
	"SPII":                     true,
	"RECITATION":               true,
}

func newRequest(p *payload.Payload) request {
	parts := make([]part, 0, len(p.Parts))
	for _, pp := range p.Parts {
		if pp.IsImage() {
			parts = append(parts, part{InlineData: &blobData{MIMEType: pp.MIMEType, Data: pp.Data}})
		} else {
			parts = append(parts, part{Text: pp.Text})
		}
	}
	req := request{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
		SafetySettings: blockNone(),
	}
	if p.AspectRatio != "" {
		req.GenerationConfig.ImageConfig = &imageConfig{AspectRatio: p.AspectRatio}
	}
	return req
}

// Generate sends the payload to model and returns the first inline image.
// Failures are *apperr.Error values classified from the HTTP status, the
// error envelope, and the candidate finish reason.
func (c *Client) Generate(ctx context.Context, model string, p *payload.Payload) (*provider.Image, error) {
	if c.apiKey == "" {
		return nil, apperr.MissingCredentials("Gemini")
	}

	startTime := time.Now()
	log.Debug().
		Str("model", model).
		Int("images", p.Images()).
		Str("aspectRatio", p.AspectRatio).
		Msg("Sending generateContent request")

	body, err := json.Marshal(newRequest(p))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.TransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, err, "failed to read response")
	}

	if resp.StatusCode != http.StatusOK {
		e := provider.ClassifyHTTP(resp.StatusCode, resp.Header, respBody)
		log.Warn().
			Int("status", resp.StatusCode).
			Str("kind", e.Kind.String()).
			Dur("retryAfter", e.RetryAfter).
			Str("body", truncateString(string(respBody), 500)).
			Msg("Gemini API returned error")
		return nil, e
	}

	var gr response
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return nil, apperr.Wrap(apperr.KindNoImage, err, "failed to parse response")
	}

	img, err := extractImage(&gr)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("model", model).
		Int("outputBytes", len(img.Data)).
		Str("outputMime", img.MIMEType).
		Dur("duration", time.Since(startTime)).
		Msg("Gemini image generation complete")
	return img, nil
}

// extractImage returns the first inline image, or a NoImage or ContentRejected error.
func extractImage(gr *response) (*provider.Image, error) {
	var text strings.Builder
	finishReason := ""
	for _, cand := range gr.Candidates {
		if finishReason == "" {
			finishReason = cand.FinishReason
		}
		for _, pt := range cand.Content.Parts {
			if pt.InlineData != nil && pt.InlineData.Data != "" {
				data, err := base64.StdEncoding.DecodeString(pt.InlineData.Data)
				if err != nil {
					return nil, apperr.Wrap(apperr.KindNoImage, err, "failed to decode image data")
				}
				mimeType := pt.InlineData.MIMEType
				if mimeType == "" {
					mimeType = http.DetectContentType(data)
				}
				return &provider.Image{Data: data, MIMEType: mimeType}, nil
			}
			if pt.Text != "" {
				text.WriteString(pt.Text)
			}
		}
	}

	if pf := gr.PromptFeedback; pf != nil && pf.BlockReason != "" {
		msg := "Request blocked. Reason: " + pf.BlockReason
		if pf.BlockReasonMessage != "" {
			msg += " (" + pf.BlockReasonMessage + ")"
		}
		return nil, &apperr.Error{Kind: apperr.KindContentRejected, Message: msg, FinishReason: pf.BlockReason}
	}

	if safetyReasons[finishReason] {
		msg := "Generation failed. Reason: " + finishReason + " (safety filters blocked the request despite settings)"
		if t := strings.TrimSpace(text.String()); t != "" {
			msg += ": " + truncateString(t, 300)
		}
		return nil, &apperr.Error{Kind: apperr.KindContentRejected, Message: msg, FinishReason: finishReason}
	}

	if t := strings.TrimSpace(text.String()); t != "" {
		return nil, &apperr.Error{Kind: apperr.KindNoImage, Message: truncateString(t, 500), FinishReason: finishReason}
	}
	if finishReason != "" {
		return nil, &apperr.Error{Kind: apperr.KindNoImage, Message: "Generation failed. Reason: " + finishReason, FinishReason: finishReason}
	}
	return nil, apperr.New(apperr.KindNoImage, "no image produced")
}

// truncateString truncates a string to maxLen, appending "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
