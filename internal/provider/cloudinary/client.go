// Package cloudinary uploads an image to Cloudinary and downloads it back
// through a URL-encoded chain of AI transformations.
package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/enhance"
	"github.com/fpang/lynx-studio/internal/provider"
)

const (
	DefaultAPIURL      = "https://api.cloudinary.com"
	DefaultDeliveryURL = "https://res.cloudinary.com"
)

// Credentials identify a Cloudinary account.
type Credentials struct {
	CloudName string
	APIKey    string
	APISecret string
}

// Valid reports whether every field is set.
func (c Credentials) Valid() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// Client uploads and transforms images.
type Client struct {
	creds       Credentials
	apiURL      string
	deliveryURL string
	httpClient  *http.Client
	now         func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithURLs overrides the upload API and delivery base URLs.
func WithURLs(api, delivery string) Option {
	return func(c *Client) {
		c.apiURL = strings.TrimRight(api, "/")
		c.deliveryURL = strings.TrimRight(delivery, "/")
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithClock replaces the clock used for the upload timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(creds Credentials, opts ...Option) *Client {
	c := &Client{
		creds:       creds,
		apiURL:      DefaultAPIURL,
		deliveryURL: DefaultDeliveryURL,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		now:         time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// effects maps operations onto Cloudinary transformation tokens. Operations
// absent from the table contribute nothing.
var effects = map[enhance.OperationType]string{
	enhance.OpGeneral:          "e_improve",
	enhance.OpRestore:          "e_gen_restore",
	enhance.OpUpscale:          "e_upscale",
	enhance.OpVectorize:        "e_cartoonify:line_strength:20:color_reduction:50",
	enhance.OpRemoveBackground: "e_background_removal",
	enhance.OpColorize:         "e_colorize",
	enhance.OpRemoveSubject:    "e_gen_remove:prompt_subject",
	enhance.OpLighting:         "e_improve:outdoor",
	enhance.OpCreative:         "e_art:incognito",
}

// Transformations returns the ordered token list for ops. Quality is pinned
// to q_auto:best unless the creative effect is requested, and an empty
// result falls back to e_improve.
func Transformations(ops []enhance.OperationType) []string {
	var out []string
	creative := false
	for _, op := range ops {
		if op == enhance.OpCreative {
			creative = true
		}
	}
	if !creative {
		out = append(out, "q_auto:best")
	}
	for _, op := range ops {
		if t, ok := effects[op]; ok {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		out = append(out, "e_improve")
	}
	return out
}

// Sign returns the hex SHA-1 of the params sorted by key and joined as
// k=v pairs, followed by the secret.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}

// Enhance uploads image (a data URI) and fetches the transformed result.
func (c *Client) Enhance(ctx context.Context, image string, ops []enhance.OperationType, onStatus provider.StatusFunc) (*provider.Image, error) {
	if !c.creds.Valid() {
		return nil, apperr.MissingCredentials("Cloudinary")
	}
	report := func(s string) {
		if onStatus != nil {
			onStatus(s)
		}
	}

	report("Uploading to Cloudinary...")
	publicID, err := c.upload(ctx, image)
	if err != nil {
		return nil, err
	}

	report("Applying AI transformations...")
	url := c.DeliveryURL(publicID, Transformations(ops))
	log.Info().Str("publicId", publicID).Str("url", url).Msg("Cloudinary transformation requested")

	report("Downloading processed image...")
	return provider.Fetch(ctx, c.httpClient, url)
}

// DeliveryURL builds the transformation URL for publicID.
func (c *Client) DeliveryURL(publicID string, transformations []string) string {
	return fmt.Sprintf("%s/%s/image/upload/%s/%s", c.deliveryURL, c.creds.CloudName, strings.Join(transformations, "/"), publicID)
}

func (c *Client) upload(ctx context.Context, image string) (string, error) {
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	signature := Sign(map[string]string{"timestamp": timestamp}, c.creds.APISecret)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range [][2]string{
		{"file", image},
		{"api_key", c.creds.APIKey},
		{"timestamp", timestamp},
		{"signature", signature},
	} {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("write form field %s: %w", f[0], err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/v1_1/%s/image/upload", c.apiURL, c.creds.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", provider.TransportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e := provider.ReadError(resp)
		e.Message = "Cloudinary Upload Failed: " + e.Message
		return "", e
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Wrap(apperr.KindNetwork, err, "read upload response")
	}
	var out struct {
		PublicID string `json:"public_id"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.PublicID == "" {
		return "", apperr.New(apperr.KindProviderServerError, "Cloudinary upload returned no public_id")
	}
	return out.PublicID, nil
}
