package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// ErrPlayerUnavailable is returned when no playback binary can be found.
var ErrPlayerUnavailable = errors.New("no audio player found")

// Player renders audio to the listener. Exactly one of the three methods
// runs per invocation; all of them block until playback finishes or the
// context is cancelled.
type Player interface {
	// PlayBytes plays a complete in-memory clip.
	PlayBytes(ctx context.Context, data []byte, format string) error

	// PlayFile plays an audio file from disk.
	PlayFile(ctx context.Context, path, format string) error

	// PlayStream consumes raw PCM (see pcm.go for the shape) in a single
	// pass, starting playback as soon as the first chunk arrives. A
	// mid-stream error stops playback and propagates.
	PlayStream(ctx context.Context, stream io.Reader) error
}

// playerCommand describes one candidate playback binary.
type playerCommand struct {
	name string
	args func(path string) []string
}

// filePlayers in preference order. afplay ships with macOS; the others
// cover Linux and anywhere ffmpeg or mpv is installed.
var filePlayers = []playerCommand{
	{"afplay", func(path string) []string {
		return []string{path}
	}},
	{"ffplay", func(path string) []string {
		return []string{"-autoexit", "-nodisp", "-loglevel", "error", path}
	}},
	{"mpv", func(path string) []string {
		return []string{"--no-video", "--really-quiet", path}
	}},
}

// streamPlayers accept raw PCM on stdin.
var streamPlayers = []playerCommand{
	{"ffplay", func(string) []string {
		return []string{
			"-autoexit", "-nodisp", "-loglevel", "error",
			"-f", "s16le", "-ar", strconv.Itoa(SampleRate), "-ac", strconv.Itoa(Channels),
			"-i", "-",
		}
	}},
	{"aplay", func(string) []string {
		return []string{"-q", "-f", "S16_LE", "-r", strconv.Itoa(SampleRate), "-c", strconv.Itoa(Channels)}
	}},
	{"mpv", func(string) []string {
		return []string{
			"--no-video", "--really-quiet",
			"--demuxer=rawaudio",
			"--demuxer-rawaudio-format=s16le",
			"--demuxer-rawaudio-rate=" + strconv.Itoa(SampleRate),
			"--demuxer-rawaudio-channels=" + strconv.Itoa(Channels),
			"-",
		}
	}},
}

// ExecPlayer plays audio by shelling out to whatever player binary is
// installed. Buffered clips are written to a temp file first; streams are
// piped straight into the player's stdin.
type ExecPlayer struct {
	tempDir  string
	lookPath func(string) (string, error)
}

// NewExecPlayer creates a player that discovers binaries on PATH.
func NewExecPlayer() *ExecPlayer {
	return &ExecPlayer{
		tempDir:  os.TempDir(),
		lookPath: exec.LookPath,
	}
}

// PlayBytes writes the clip to a temp file and plays it. The temp file is
// removed when playback ends, whatever the outcome.
func (p *ExecPlayer) PlayBytes(ctx context.Context, data []byte, format string) error {
	if len(data) == 0 {
		return errors.New("no audio data to play")
	}

	path := filepath.Join(p.tempDir, "osay-"+uuid.NewString()+"."+format)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("unable to write playback temp file: %w", err)
	}
	defer os.Remove(path) //nolint:errcheck

	return p.PlayFile(ctx, path, format)
}

// PlayFile plays an audio file with the first available player binary and
// blocks until it finishes.
func (p *ExecPlayer) PlayFile(ctx context.Context, path, _ string) error {
	bin, candidate, err := p.find(filePlayers)
	if err != nil {
		return err
	}

	log.Debug("playing file", "player", candidate.name, "path", path)
	cmd := exec.CommandContext(ctx, bin, candidate.args(path)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return playbackError(candidate.name, err, stderr.String())
	}
	return nil
}

// PlayStream feeds PCM into a stdin-capable player. Playback starts on the
// first chunk; cancelling the context kills the player, which in turn
// stops the copy.
func (p *ExecPlayer) PlayStream(ctx context.Context, stream io.Reader) error {
	bin, candidate, err := p.find(streamPlayers)
	if err != nil {
		return err
	}

	log.Debug("playing stream", "player", candidate.name)
	cmd := exec.CommandContext(ctx, bin, candidate.args("")...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("unable to open player stdin: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return playbackError(candidate.name, err, stderr.String())
	}

	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := io.Copy(stdin, stream)
		stdin.Close() //nolint:errcheck
		copyDone <- copyErr
	}()

	waitErr := cmd.Wait()
	copyErr := <-copyDone

	if ctx.Err() != nil {
		return ctx.Err()
	}
	// A stream that dies mid-flight matters more than the player's exit
	// status: the listener already heard the part that arrived.
	if copyErr != nil && !errors.Is(copyErr, io.ErrClosedPipe) && !isBrokenPipe(copyErr) {
		return fmt.Errorf("audio stream ended early: %w", copyErr)
	}
	if waitErr != nil {
		return playbackError(candidate.name, waitErr, stderr.String())
	}
	return nil
}

func (p *ExecPlayer) find(candidates []playerCommand) (string, playerCommand, error) {
	tried := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if bin, err := p.lookPath(c.name); err == nil {
			return bin, c, nil
		}
		tried = append(tried, c.name)
	}
	return "", playerCommand{}, fmt.Errorf("%w (tried %s)", ErrPlayerUnavailable, strings.Join(tried, ", "))
}

func playbackError(player string, err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if stderr != "" {
		return fmt.Errorf("%s failed: %w: %s", player, err, stderr)
	}
	return fmt.Errorf("%s failed: %w", player, err)
}

// isBrokenPipe reports writes to a player that exited first. The player
// deciding it is done is not a stream failure.
func isBrokenPipe(err error) bool {
	return strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "file already closed")
}

var _ Player = (*ExecPlayer)(nil)
