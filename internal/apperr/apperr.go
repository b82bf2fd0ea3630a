// Package apperr defines the closed error taxonomy surfaced by the studio
// pipeline. Provider clients classify failures into a Kind once, at the HTTP
// boundary; everything downstream switches on the Kind instead of sniffing
// error strings.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind categorizes a pipeline failure.
type Kind int

const (
	// KindUnknown is an unclassified failure. Treated as permanent.
	KindUnknown Kind = iota
	// KindMissingCredentials indicates no provider key is configured.
	KindMissingCredentials
	// KindInvalidInput indicates the request itself is malformed.
	KindInvalidInput
	// KindRateLimited indicates HTTP 429 or a quota / resource-exhausted marker.
	KindRateLimited
	// KindOverloaded indicates HTTP 503 or an "overloaded" marker.
	KindOverloaded
	// KindContentRejected indicates the provider declined for policy reasons.
	KindContentRejected
	// KindNoImage indicates a successful response that carried no image.
	KindNoImage
	// KindProviderClientError is any non-429 4xx.
	KindProviderClientError
	// KindProviderServerError is a 5xx other than 503.
	KindProviderServerError
	// KindNetwork is a transport failure before any HTTP status was received.
	KindNetwork
	// KindAllVariantsFailed means every attempt of a multi-variant request failed.
	KindAllVariantsFailed
	// KindTimeout is the queue provider's polling deadline.
	KindTimeout
	// KindCancelled means the caller cancelled the request.
	KindCancelled
)

var kindNames = map[Kind]string{
	KindUnknown:             "Unknown",
	KindMissingCredentials:  "MissingCredentials",
	KindInvalidInput:        "InvalidInput",
	KindRateLimited:         "RateLimited",
	KindOverloaded:          "Overloaded",
	KindContentRejected:     "ContentRejected",
	KindNoImage:             "NoImage",
	KindProviderClientError: "ProviderClientError",
	KindProviderServerError: "ProviderServerError",
	KindNetwork:             "Network",
	KindAllVariantsFailed:   "AllVariantsFailed",
	KindTimeout:             "Timeout",
	KindCancelled:           "Cancelled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a classified pipeline failure.
type Error struct {
	Kind    Kind
	Message string

	// StatusCode is the HTTP status that produced the error, 0 if none.
	StatusCode int
	// RetryAfter is the provider-suggested wait, 0 if the provider gave none.
	RetryAfter time.Duration
	// FinishReason is the provider's machine-readable reason for an empty response.
	FinishReason string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind, so errors.Is(err, ErrCancelled) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons. They match any *Error of the same Kind.
var (
	ErrMissingCredentials = &Error{Kind: KindMissingCredentials}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput}
	ErrCancelled          = &Error{Kind: KindCancelled}
	ErrTimeout            = &Error{Kind: KindTimeout}
)

// New returns an *Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind wrapping err.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Invalid is shorthand for New(KindInvalidInput, ...).
func Invalid(format string, args ...any) *Error {
	return New(KindInvalidInput, format, args...)
}

// MissingCredentials reports that the named provider has no key configured.
func MissingCredentials(provider string) *Error {
	return New(KindMissingCredentials, "MISSING_API_KEY: no %s credentials configured", provider)
}

// Cancelled reports a cooperative cancellation.
func Cancelled() *Error {
	return &Error{Kind: KindCancelled, Message: "request cancelled"}
}

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Transient reports whether a failure of this kind is expected to clear by waiting.
func (k Kind) Transient() bool {
	return k == KindRateLimited || k == KindOverloaded
}

// hasKind walks the whole chain looking for any *Error of kind k.
func hasKind(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == k {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

const quotaMessage = "Rate limit exceeded. Please wait a moment before trying again."

// UserMessage renders err as the single human-readable line shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if hasKind(err, KindRateLimited) || hasKind(err, KindOverloaded) {
		return quotaMessage
	}
	e := As(err)
	if e == nil {
		return err.Error()
	}
	switch e.Kind {
	case KindMissingCredentials:
		return "No API key configured. Set one and try again."
	case KindCancelled:
		return "Processing cancelled."
	case KindTimeout:
		return "The request timed out. Please try again."
	case KindAllVariantsFailed:
		if e.Err != nil {
			return "All variations failed: " + UserMessage(e.Err)
		}
		return "All variations failed."
	case KindProviderClientError:
		return e.Error()
	}
	return e.Message
}
