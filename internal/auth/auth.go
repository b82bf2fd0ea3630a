// Package auth resolves provider credentials from the environment or from
// GPG-encrypted files under ~/.lynx-studio.
package auth

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fpang/lynx-studio/internal/apperr"
)

const credentialDir = ".lynx-studio"

// Credentials supplies an API key.
type Credentials interface {
	APIKey() string
	HasKey() bool
}

// Static is a fixed key.
type Static string

func (s Static) APIKey() string { return string(s) }
func (s Static) HasKey() bool   { return s != "" }

// Source looks a key up in an environment variable first and then in
// ~/.lynx-studio/<File>. The result is resolved once and cached.
type Source struct {
	// Name labels the provider in logs and errors.
	Name string
	// EnvVar is checked first.
	EnvVar string
	// File is the GPG-encrypted fallback, relative to the credential dir.
	File string

	once sync.Once
	key  string
}

// NewSource returns a source for the named provider.
func NewSource(name, envVar, file string) *Source {
	return &Source{Name: name, EnvVar: envVar, File: file}
}

// Gemini returns the Gemini key source.
func Gemini() *Source { return NewSource("Gemini", "GEMINI_API_KEY", "gemini.gpg") }

// Fal returns the fal.ai key source.
func Fal() *Source { return NewSource("fal.ai", "FAL_KEY", "fal.gpg") }

// CloudinarySecret returns the Cloudinary API secret source.
func CloudinarySecret() *Source {
	return NewSource("Cloudinary", "CLOUDINARY_API_SECRET", "cloudinary.gpg")
}

func (s *Source) APIKey() string {
	s.once.Do(func() { s.key = s.resolve() })
	return s.key
}

func (s *Source) HasKey() bool { return s.APIKey() != "" }

func (s *Source) resolve() string {
	if s.EnvVar != "" {
		if key := os.Getenv(s.EnvVar); key != "" {
			log.Debug().Str("provider", s.Name).Str("env", s.EnvVar).Msg("Using API key from environment variable")
			return key
		}
	}
	if s.File == "" {
		return ""
	}
	key, err := decryptFile(s.File)
	if err != nil {
		log.Debug().Err(err).Str("provider", s.Name).Msg("No GPG credentials available")
		return ""
	}
	log.Debug().Str("provider", s.Name).Msg("Using API key from GPG encrypted file")
	return key
}

// RequireKey returns the key or a MissingCredentials error naming provider.
func RequireKey(c Credentials, provider string) (string, error) {
	if c == nil || !c.HasKey() {
		return "", apperr.MissingCredentials(provider)
	}
	return c.APIKey(), nil
}

// decryptFile decrypts name from the credential directory with gpg.
func decryptFile(name string) (string, error) {
	credPath, err := credentialPath(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(credPath); os.IsNotExist(err) {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}

	args := []string{"--decrypt", "--quiet"}
	if p := passphrasePath(); p != "" {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", p)
	}
	args = append(args, credPath)

	output, err := exec.Command("gpg", args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("GPG decryption failed: %s", string(exitErr.Stderr))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// credentialPath returns ~/.lynx-studio/<name>.
func credentialPath(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, name), nil
}

// passphrasePath returns ~/.lynx-studio/.gpg-passphrase when it exists and is
// readable only by its owner.
func passphrasePath() string {
	p, err := credentialPath(".gpg-passphrase")
	if err != nil {
		return ""
	}
	fi, err := os.Stat(p)
	if err != nil {
		return ""
	}
	if mode := fi.Mode().Perm(); mode&0o077 != 0 {
		log.Warn().
			Str("passphrase_file", p).
			Str("permissions", fmt.Sprintf("%04o", mode)).
			Msg("Passphrase file has insecure permissions (should be 0600); skipping")
		return ""
	}
	return p
}
