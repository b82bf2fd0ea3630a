package cli

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/auth"
)

// CheckGemini verifies the configured Gemini key with a minimal call.
func CheckGemini(ctx context.Context, s *Studio) error {
	if s.Genai == nil {
		return apperr.MissingCredentials("Gemini")
	}
	return auth.ValidateAPIKey(ctx, s.Genai)
}

// Fatal logs err with guidance for its kind and exits.
func Fatal(err error) {
	msg := apperr.UserMessage(err)
	switch apperr.KindOf(err) {
	case apperr.KindMissingCredentials:
		log.Error().Err(err).Msg("No API key configured. Set the provider's key in the environment or under ~/.lynx-studio/")
	case apperr.KindInvalidInput:
		log.Error().Msg(msg)
	case apperr.KindNetwork:
		log.Error().Err(err).Msg("Network error. Please check your internet connection")
	case apperr.KindCancelled:
		log.Warn().Msg(msg)
	default:
		log.Error().Err(err).Str("kind", apperr.KindOf(err).String()).Msg(msg)
	}
	os.Exit(1)
}
