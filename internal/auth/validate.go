package auth

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/metrics"
)

// ValidationModel is the cheap text model used to probe a key.
const ValidationModel = "gemini-3-flash-preview"

// ValidateAPIKey makes a minimal generateContent call to verify the client's
// key. Failures are classified into the apperr taxonomy.
func ValidateAPIKey(ctx context.Context, client *genai.Client) error {
	log.Debug().Msg("Validating API key with Gemini API")

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, ValidationModel, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	var verr error
	switch {
	case err != nil:
		verr = classifyError(err)
	case resp == nil || len(resp.Candidates) == 0:
		log.Warn().Msg("API key validation returned empty response")
		verr = apperr.New(apperr.KindUnknown, "API returned empty response")
	}

	metrics.New(metrics.Namespace).
		Dimension("Result", validationResult(verr)).
		Metric("ApiKeyValidationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("ApiKeyValidationResult").
		Flush()

	if verr != nil {
		return verr
	}
	log.Info().Dur("duration", elapsed).Msg("API key validated successfully")
	return nil
}

func validationResult(err error) string {
	if err == nil {
		return "success"
	}
	switch apperr.KindOf(err) {
	case apperr.KindMissingCredentials, apperr.KindProviderClientError:
		return "invalid"
	case apperr.KindNetwork, apperr.KindProviderServerError, apperr.KindOverloaded:
		return "network_error"
	case apperr.KindRateLimited:
		return "quota"
	}
	return "unknown"
}

// classifyError maps an SDK error onto a Kind.
func classifyError(err error) error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}
	log.Error().Err(err).Msg("Network error during API validation")
	return apperr.Wrap(apperr.KindNetwork, err, "Network error - check your internet connection")
}

func classifyAPIError(err *genai.APIError) error {
	e := &apperr.Error{StatusCode: err.Code, Message: err.Message, Err: err}
	switch {
	case err.Code == 400, err.Code == 401, err.Code == 403:
		e.Kind = apperr.KindMissingCredentials
		e.Message = "API key is invalid, expired, or lacks permissions"
	case err.Code == 429:
		e.Kind = apperr.KindRateLimited
		e.Message = "API rate limit exceeded - try again later"
	case err.Code == 503:
		e.Kind = apperr.KindOverloaded
		e.Message = "Gemini API is overloaded - try again later"
	case err.Code >= 500:
		e.Kind = apperr.KindProviderServerError
		e.Message = "Gemini API server error - try again later"
	default:
		e.Kind = apperr.KindProviderClientError
	}
	log.Error().Int("code", err.Code).Str("kind", e.Kind.String()).Msg("Google API error during validation")
	return e
}
