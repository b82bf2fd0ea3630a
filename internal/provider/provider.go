// Package provider holds what the provider clients share: the decoded image
// result and the HTTP error classifier that maps provider responses onto the
// apperr taxonomy.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/payload"
)

// Image is a decoded provider result.
type Image struct {
	Data     []byte
	MIMEType string
}

// DataURI renders the image as a data URI.
func (i *Image) DataURI() string {
	return payload.EncodeDataURI(i.MIMEType, i.Data)
}

// StatusFunc receives human-readable progress updates.
type StatusFunc func(status string)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// googleEnvelope is the Google API error body, also used loosely by other providers.
type googleEnvelope struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		} `json:"details"`
	} `json:"error"`
	Detail  any    `json:"detail"`
	Message string `json:"message"`
}

var retryInText = regexp.MustCompile(`(?i)retry in ([0-9]+(?:\.[0-9]+)?)\s*s`)

// ClassifyHTTP maps a non-2xx response to an *apperr.Error. It inspects the
// status code, the Google error status, quota and overload markers, the
// RetryInfo retryDelay, and a Retry-After header when present.
func ClassifyHTTP(status int, header http.Header, body []byte) *apperr.Error {
	msg, apiStatus, retryDelay := parseErrorBody(body)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	if retryDelay == 0 && header != nil {
		if s, err := strconv.Atoi(header.Get("Retry-After")); err == nil && s > 0 {
			retryDelay = time.Duration(s) * time.Second
		}
	}

	e := &apperr.Error{
		StatusCode: status,
		RetryAfter: retryDelay,
		Message:    fmt.Sprintf("%d %s", status, truncate(msg, 300)),
	}
	if apiStatus != "" {
		e.Message = fmt.Sprintf("%d %s: %s", status, apiStatus, truncate(msg, 300))
	}

	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusTooManyRequests,
		apiStatus == "RESOURCE_EXHAUSTED",
		strings.Contains(lower, "quota"),
		strings.Contains(lower, "resource exhausted"):
		e.Kind = apperr.KindRateLimited
	case status == http.StatusServiceUnavailable,
		apiStatus == "UNAVAILABLE",
		strings.Contains(lower, "overloaded"):
		e.Kind = apperr.KindOverloaded
	case status >= 400 && status < 500:
		e.Kind = apperr.KindProviderClientError
	case status >= 500:
		e.Kind = apperr.KindProviderServerError
	default:
		e.Kind = apperr.KindUnknown
	}
	return e
}

func parseErrorBody(body []byte) (msg, apiStatus string, retryDelay time.Duration) {
	var env googleEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		switch {
		case env.Error != nil:
			msg, apiStatus = env.Error.Message, env.Error.Status
			for _, d := range env.Error.Details {
				if d.RetryDelay != "" {
					if dur, err := time.ParseDuration(d.RetryDelay); err == nil {
						retryDelay = dur
					}
				}
			}
		case env.Detail != nil:
			msg = detailString(env.Detail)
		case env.Message != "":
			msg = env.Message
		}
	}
	if retryDelay == 0 {
		text := msg
		if text == "" {
			text = string(body)
		}
		if m := retryInText.FindStringSubmatch(text); m != nil {
			if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
				retryDelay = time.Duration(secs * float64(time.Second))
			}
		}
	}
	return msg, apiStatus, retryDelay
}

// detailString flattens fal's "detail" field, which is either a string or a
// list of validation objects.
func detailString(d any) string {
	switch v := d.(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				if s, ok := m["msg"].(string); ok {
					parts = append(parts, s)
					continue
				}
			}
			b, _ := json.Marshal(item)
			parts = append(parts, string(b))
		}
		return strings.Join(parts, "; ")
	}
	b, _ := json.Marshal(d)
	return string(b)
}

// ReadError reads a bounded error body from resp and classifies it.
func ReadError(resp *http.Response) *apperr.Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return ClassifyHTTP(resp.StatusCode, resp.Header, body)
}

// TransportError classifies an error returned by http.Client.Do.
func TransportError(ctx context.Context, err error) *apperr.Error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperr.Wrap(apperr.KindTimeout, err, "request deadline exceeded")
		}
		return apperr.Wrap(apperr.KindCancelled, err, "request cancelled")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Wrap(apperr.KindNetwork, err, "request timed out")
	}
	return apperr.Wrap(apperr.KindNetwork, err, "request failed")
}

// Fetch downloads url and returns its bytes and content type.
func Fetch(ctx context.Context, client *http.Client, url string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create fetch request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, TransportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ReadError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, err, "read result body")
	}
	mimeType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	return &Image{Data: data, MIMEType: mimeType}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
