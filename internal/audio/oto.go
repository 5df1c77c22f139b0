//go:build !nocgo
// +build !nocgo

package audio

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// NewStreamSink returns the preferred PCM stream sink. With cgo available
// this is the oto audio device, which needs no external binary and starts
// playing the moment the first chunk arrives. Buffered playback and any
// oto failure still go through the fallback player.
func NewStreamSink(fallback Player) Player {
	return &otoSink{fallback: fallback}
}

type otoSink struct {
	fallback Player
}

func (s *otoSink) PlayBytes(ctx context.Context, data []byte, format string) error {
	return s.fallback.PlayBytes(ctx, data, format)
}

func (s *otoSink) PlayFile(ctx context.Context, path, format string) error {
	return s.fallback.PlayFile(ctx, path, format)
}

// PlayStream pulls PCM from the reader straight into the audio device.
// oto drains the reader itself, so this is a true single-pass consume:
// nothing is buffered beyond the device's own ring buffer.
func (s *otoSink) PlayStream(ctx context.Context, stream io.Reader) error {
	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		log.Debug("audio device unavailable, using external player", "err", err)
		return s.fallback.PlayStream(ctx, stream)
	}

	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	player := octx.NewPlayer(stream)
	defer player.Close() //nolint:errcheck
	player.Play()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if player.IsPlaying() {
				continue
			}
			if err := player.Err(); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			return nil
		}
	}
}

var _ Player = (*otoSink)(nil)
