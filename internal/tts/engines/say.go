package engines

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/osay/internal/tts"
	"github.com/google/uuid"
)

// sayFormats is what the macOS synthesizer writes natively. Anything else
// must be coerced before the request reaches this engine.
var sayFormats = []tts.Format{
	tts.FormatAIFF,
	tts.FormatM4A,
	tts.FormatWAV,
}

// SayConfig holds configuration for the macOS say engine.
type SayConfig struct {
	// Binary overrides the synthesizer command. Defaults to "say".
	Binary string

	// Timeout bounds one synthesis run. Defaults to 60s; long texts take
	// a while but the command never blocks on the network.
	Timeout time.Duration

	// TempDir holds the intermediate audio file. Defaults to the system
	// temp directory.
	TempDir string
}

// Say is the offline fallback engine. It shells out to the macOS say
// command, which writes an audio file that is read back and returned.
// Always buffered; instructions are not supported and are ignored.
type Say struct {
	binary  string
	timeout time.Duration
	tempDir string
}

// NewSay creates the local fallback engine.
func NewSay(config SayConfig) *Say {
	if config.Binary == "" {
		config.Binary = "say"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}
	return &Say{
		binary:  config.Binary,
		timeout: config.Timeout,
		tempDir: config.TempDir,
	}
}

// Name identifies the engine in logs and cache metadata.
func (s *Say) Name() string { return "say" }

// Available reports whether the synthesizer command can run here.
func (s *Say) Available() bool {
	_, err := exec.LookPath(s.binary)
	return err == nil
}

// Synthesize speaks text into a temp file via say -o and returns the file
// contents. The request format must already be one of the native formats;
// see CoerceSayFormat.
func (s *Say) Synthesize(ctx context.Context, req tts.Request) (tts.Clip, error) {
	format := req.Format
	if format == "" {
		format = tts.FormatAIFF
	}
	if !nativeSayFormat(format) {
		return tts.Clip{}, tts.InvalidFormatError(string(format), sayFormats)
	}
	if req.Instructions != "" {
		log.Debug("say cannot follow instructions, ignoring", "instructions", req.Instructions)
	}

	if _, err := exec.LookPath(s.binary); err != nil {
		return tts.Clip{}, fmt.Errorf("%w: %q not found (the local backend requires macOS)", tts.ErrEngineUnavailable, s.binary)
	}

	outPath := filepath.Join(s.tempDir, "osay-"+uuid.NewString()+"."+string(format))
	defer os.Remove(outPath) //nolint:errcheck

	args := []string{"-o", outPath}
	if format == tts.FormatM4A {
		// The extension alone is not enough for AAC output.
		args = append(args, "--file-format=m4af")
	}
	if req.Voice != "" {
		args = append(args, "-v", req.Voice)
	}
	// Text goes in on stdin rather than argv, so long inputs cannot blow
	// the argument list.
	args = append(args, "-f", "-")

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.binary, args...)
	// Stdin is wired up before the process starts.
	cmd.Stdin = strings.NewReader(req.Text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return tts.Clip{}, fmt.Errorf("say timed out: %w", ctx.Err())
		}
		return tts.Clip{}, sayError(err, req.Voice, stderr.String())
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("say produced no audio file: %w", err)
	}
	if len(data) == 0 {
		return tts.Clip{}, errors.New("say produced an empty audio file")
	}

	log.Debug("synthesized audio", "engine", "say", "bytes", len(data), "format", format)
	return tts.Clip{Data: data, Format: format}, nil
}

// Voices lists the installed system voices by parsing say -v ?. Each line
// looks like "Samantha  en_US  # Hello! My name is Samantha." and the name
// may contain spaces.
func (s *Say) Voices(ctx context.Context) ([]string, error) {
	if _, err := exec.LookPath(s.binary); err != nil {
		return nil, fmt.Errorf("%w: %q not found", tts.ErrEngineUnavailable, s.binary)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.binary, "-v", "?")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("unable to list voices: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	var voices []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		if name := parseVoiceLine(line); name != "" {
			voices = append(voices, name)
		}
	}
	return voices, nil
}

// localeRe matches the language tag column, e.g. en_US or zh_CN.
var localeRe = regexp.MustCompile(`^[a-z]{2,3}[_-][A-Za-z]{2,}$`)

// parseVoiceLine extracts the voice name from one line of say -v ? output.
func parseVoiceLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	if i := strings.Index(line, "#"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}

	fields := strings.Fields(line)
	for i, f := range fields {
		if i > 0 && localeRe.MatchString(f) {
			return strings.Join(fields[:i], " ")
		}
	}
	return strings.Join(fields, " ")
}

// sayError distinguishes an unknown voice from other failures. say reports
// bad voices on stderr as: Voice `foo' not found.
func sayError(err error, voice, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if voice != "" && strings.Contains(stderr, "not found") {
		return tts.InvalidVoiceError(voice, nil)
	}
	if stderr != "" {
		return fmt.Errorf("say failed: %w: %s", err, stderr)
	}
	return fmt.Errorf("say failed: %w", err)
}

// nativeSayFormat reports whether say can write the format directly.
func nativeSayFormat(f tts.Format) bool {
	for _, native := range sayFormats {
		if f == native {
			return true
		}
	}
	return false
}

// CoerceSayFormat adapts a requested format for the local backend. An
// explicitly requested format must be native, since silently producing a
// different encoding than asked for would violate user intent. A defaulted
// format quietly becomes aiff, matching what the synthesizer speaks best.
func CoerceSayFormat(format tts.Format, explicit bool) (tts.Format, error) {
	if nativeSayFormat(format) {
		return format, nil
	}
	if explicit {
		return "", tts.InvalidFormatError(string(format), sayFormats)
	}
	if format != "" && format != tts.DefaultFormat {
		log.Warn("format not supported by the local backend, using aiff", "requested", format)
	}
	return tts.FormatAIFF, nil
}

var _ tts.Engine = (*Say)(nil)
