package tts

import (
	"strings"
)

// Format identifies the audio container or encoding of a synthesized clip.
type Format string

// Formats the dispatcher knows about. Which of these a given backend can
// actually produce is the backend's business; see Engine.Synthesize.
const (
	FormatMP3  Format = "mp3"
	FormatOpus Format = "opus"
	FormatAAC  Format = "aac"
	FormatFLAC Format = "flac"
	FormatWAV  Format = "wav"
	FormatPCM  Format = "pcm"
	FormatAIFF Format = "aiff"
	FormatM4A  Format = "m4a"
)

// DefaultFormat is used when no format is requested explicitly.
const DefaultFormat = FormatMP3

// DefaultInstructions is the delivery-style prompt applied when the user
// neither provides instructions nor disables them.
const DefaultInstructions = "Speak in a cheerful and positive tone."

// KnownFormats lists every format the CLI accepts, in display order.
var KnownFormats = []Format{
	FormatMP3,
	FormatOpus,
	FormatAAC,
	FormatFLAC,
	FormatWAV,
	FormatPCM,
	FormatAIFF,
	FormatM4A,
}

// ParseFormat normalizes a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range KnownFormats {
		if f == known {
			return f, nil
		}
	}
	return "", InvalidFormatError(string(f), KnownFormats)
}

// Request describes a single synthesis invocation. The four fields below
// are exactly the ones that shape the audible result; they are also the
// only inputs to the cache fingerprint.
type Request struct {
	// Text is the literal text to speak. Not normalized: differing
	// whitespace or case produces a different clip.
	Text string

	// Voice names the backend voice, or "" for the backend default.
	Voice string

	// Instructions is a delivery-style prompt. Backends that cannot
	// honor it ignore it.
	Instructions string

	// Format is the requested audio encoding.
	Format Format
}

// Validate rejects requests that no backend could serve.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

// Clip is a fully synthesized audio artifact. Format reports the encoding
// actually produced, which may differ from the requested one when a
// backend substitutes its native format.
type Clip struct {
	Data   []byte
	Format Format
}

// Credential carries the remote API key, resolved from the environment or
// the config file before backend selection runs.
type Credential struct {
	APIKey string
}

// Present reports whether a usable key was configured.
func (c Credential) Present() bool {
	return strings.TrimSpace(c.APIKey) != ""
}
