// Package fal submits super-resolution jobs to the fal.ai queue API and polls
// them to completion.
package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/enhance"
	"github.com/fpang/lynx-studio/internal/provider"
	"github.com/fpang/lynx-studio/internal/retry"
)

// DefaultBaseURL is the fal queue endpoint.
const DefaultBaseURL = "https://queue.fal.run"

// DefaultSteps is the DRCT sampling step count.
const DefaultSteps = 20

// Queue statuses.
const (
	statusInQueue    = "IN_QUEUE"
	statusInProgress = "IN_PROGRESS"
	statusCompleted  = "COMPLETED"
	statusFailed     = "FAILED"
)

// Client talks to the fal queue.
type Client struct {
	key          string
	baseURL      string
	model        string
	httpClient   *http.Client
	pollInterval time.Duration
	timeout      time.Duration
	sleeper      retry.Sleeper
	now          func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the queue base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithPolling sets the poll interval and the overall job timeout.
func WithPolling(interval, timeout time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithSleeper replaces the poll sleeper.
func WithSleeper(s retry.Sleeper) Option {
	return func(c *Client) { c.sleeper = s }
}

// WithClock replaces the clock used for the job timeout.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient returns a client authenticated with key.
func NewClient(key string, opts ...Option) *Client {
	c := &Client{
		key:          key,
		baseURL:      DefaultBaseURL,
		model:        string(enhance.ModelFalSuperResolution),
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		pollInterval: time.Second,
		timeout:      3 * time.Minute,
		sleeper:      retry.RealSleeper,
		now:          time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type submitRequest struct {
	ImageURL string `json:"image_url"`
	Steps    int    `json:"steps"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
}

type statusResponse struct {
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position,omitempty"`
	Logs          []struct {
		Message string `json:"message"`
	} `json:"logs,omitempty"`
	Images []struct {
		URL string `json:"url"`
	} `json:"images,omitempty"`
	Error string `json:"error,omitempty"`
}

// Upscale submits image (a data URI or URL), waits for the job, and
// downloads the result. Progress is reported through onStatus.
func (c *Client) Upscale(ctx context.Context, image string, onStatus provider.StatusFunc) (*provider.Image, error) {
	if c.key == "" {
		return nil, apperr.MissingCredentials("fal.ai")
	}
	report := func(s string) {
		if onStatus != nil {
			onStatus(s)
		}
	}

	report("Uploading image to Fal.ai...")
	id, err := c.submit(ctx, image)
	if err != nil {
		return nil, err
	}
	log.Info().Str("requestId", id).Str("model", c.model).Msg("fal job submitted")

	report("Job queued...")
	url, err := c.wait(ctx, id, report)
	if err != nil {
		return nil, err
	}

	report("Downloading result...")
	return provider.Fetch(ctx, c.httpClient, url)
}

func (c *Client) submit(ctx context.Context, image string) (string, error) {
	body, err := json.Marshal(submitRequest{ImageURL: image, Steps: DefaultSteps})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+c.model, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out submitResponse
	if err := c.do(ctx, req, &out); err != nil {
		return "", err
	}
	if out.RequestID == "" {
		return "", apperr.New(apperr.KindProviderServerError, "fal returned no request_id")
	}
	return out.RequestID, nil
}

// wait polls the job until it completes, fails, or the timeout passes.
func (c *Client) wait(ctx context.Context, id string, report func(string)) (string, error) {
	deadline := c.now().Add(c.timeout)
	statusURL := fmt.Sprintf("%s/%s/requests/%s", c.baseURL, c.model, id)

	for c.now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return "", fmt.Errorf("create status request: %w", err)
		}
		var st statusResponse
		if err := c.do(ctx, req, &st); err != nil {
			return "", err
		}

		switch st.Status {
		case statusInQueue:
			if st.QueuePosition > 0 {
				report(fmt.Sprintf("Waiting in queue (Position: %d)...", st.QueuePosition))
			} else {
				report("Waiting in queue...")
			}
		case statusInProgress:
			if hasLog(st, "Generating") {
				report("Generating pixels...")
			} else {
				report("Processing...")
			}
		case statusCompleted:
			if len(st.Images) == 0 || st.Images[0].URL == "" {
				return "", apperr.New(apperr.KindNoImage, "No image URL returned from Fal.ai")
			}
			return st.Images[0].URL, nil
		case statusFailed:
			msg := st.Error
			if msg == "" {
				msg = "Fal generation failed"
			}
			return "", apperr.New(apperr.KindProviderServerError, "%s", msg)
		}

		if err := c.sleeper.Sleep(ctx, c.pollInterval); err != nil {
			return "", provider.TransportError(ctx, err)
		}
	}
	return "", apperr.New(apperr.KindTimeout, "Fal generation timed out after %s", c.timeout)
}

func hasLog(st statusResponse, needle string) bool {
	for _, l := range st.Logs {
		if strings.Contains(l.Message, needle) {
			return true
		}
	}
	return false
}

func (c *Client) do(ctx context.Context, req *http.Request, out any) error {
	req.Header.Set("Authorization", "Key "+c.key)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.TransportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e := provider.ReadError(resp)
		log.Warn().Int("status", resp.StatusCode).Str("url", req.URL.Path).Msg("fal API returned error")
		return e
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(apperr.KindNetwork, err, "read fal response")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Wrap(apperr.KindProviderServerError, err, "decode fal response")
	}
	return nil
}
