package tts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

// Common synthesis errors. The CLI matches on these with errors.Is to pick
// exit messages, so wrap rather than replace them.
var (
	// ErrEmptyText indicates there was no text to speak
	ErrEmptyText = errors.New("no text provided")

	// ErrCredentialMissing indicates the remote backend was requested without an API key
	ErrCredentialMissing = errors.New("OpenAI API key not configured")

	// ErrInvalidVoice indicates a voice the selected backend does not offer
	ErrInvalidVoice = errors.New("invalid voice")

	// ErrInvalidFormat indicates an audio format the selected backend cannot produce
	ErrInvalidFormat = errors.New("invalid audio format")

	// ErrStreamingUnsupported indicates the selected backend cannot stream audio
	ErrStreamingUnsupported = errors.New("selected backend does not support streaming")

	// ErrEngineUnavailable indicates the backend binary or service cannot be used on this system
	ErrEngineUnavailable = errors.New("synthesis backend unavailable")
)

// Remote synthesis failures by cause. The HTTP client wraps exactly one of
// these around the response detail so callers can tell a bad key from a
// throttle from a network fault.
var (
	// ErrRemoteAuth indicates the service rejected the configured credentials
	ErrRemoteAuth = errors.New("remote backend rejected credentials")

	// ErrRemoteRateLimited indicates the service throttled the request
	ErrRemoteRateLimited = errors.New("remote backend rate limited the request")

	// ErrRemoteRequest indicates the service rejected the request as malformed
	ErrRemoteRequest = errors.New("remote backend rejected the request")

	// ErrRemoteTransport indicates the service could not be reached or failed mid-flight
	ErrRemoteTransport = errors.New("remote backend unreachable")
)

// InvalidFormatError builds an ErrInvalidFormat listing what would have
// been accepted.
func InvalidFormatError(got string, accepted []Format) error {
	names := make([]string, len(accepted))
	for i, f := range accepted {
		names[i] = string(f)
	}
	return fmt.Errorf("%w: %q (accepted: %s)", ErrInvalidFormat, got, strings.Join(names, ", "))
}

// InvalidVoiceError builds an ErrInvalidVoice, suggesting the closest
// known voice when the input looks like a typo.
func InvalidVoiceError(got string, known []string) error {
	matches := fuzzy.Find(got, known)
	if len(matches) > 0 {
		return fmt.Errorf("%w: %q (did you mean %q?)", ErrInvalidVoice, got, matches[0].Str)
	}
	return fmt.Errorf("%w: %q", ErrInvalidVoice, got)
}
