package tts

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/osay/internal/audio"
	"github.com/dgnsrekt/osay/internal/cache"
)

// Controller runs one synthesis request end to end: cache check, backend
// call, cache insert, playback. The backend is chosen before the
// controller is built and never switched mid-request.
type Controller struct {
	engine Engine
	store  *cache.Store // nil disables caching
	player audio.Player
}

// NewController wires a selected engine to the cache and player. Pass a
// nil store to synthesize without caching.
func NewController(engine Engine, store *cache.Store, player audio.Player) *Controller {
	return &Controller{engine: engine, store: store, player: player}
}

// Speak synthesizes the request buffered and plays it. A cached clip with
// the same fingerprint short-circuits the backend entirely. A cache write
// failure degrades to uncached playback instead of failing the request.
func (c *Controller) Speak(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	var fingerprint string
	if c.store != nil {
		fingerprint = ComputeFingerprint(req).Hex()
		if entry, ok := c.store.Lookup(fingerprint); ok {
			// A clip only counts as cached for the backend that made it.
			// The same text and format sound different per synthesizer,
			// and an explicit override must not replay the other one.
			if entry.Provider == c.engine.Name() {
				log.Info("playing cached audio", "id", entry.ID)
				return c.player.PlayFile(ctx, entry.Path(), entry.Format)
			}
			log.Debug("cached audio is from another backend, resynthesizing",
				"id", entry.ID, "cached", entry.Provider, "engine", c.engine.Name())
		}
	}

	clip, err := c.engine.Synthesize(ctx, req)
	if err != nil {
		return err
	}

	if c.store != nil {
		entry, err := c.store.Insert(clip.Data, cache.Entry{
			Fingerprint:  fingerprint,
			Text:         req.Text,
			Voice:        req.Voice,
			Instructions: req.Instructions,
			Format:       string(clip.Format),
			Provider:     c.engine.Name(),
		})
		if err != nil {
			log.Warn("unable to cache audio, playing uncached", "err", err)
		} else {
			log.Info("cached audio", "id", entry.ID)
		}
	}

	return c.player.PlayBytes(ctx, clip.Data, string(clip.Format))
}

// Stream synthesizes incrementally and plays chunks as they arrive. The
// cache is bypassed: a stream is consumed exactly once and is gone.
func (c *Controller) Stream(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	streamer, ok := c.engine.(StreamingEngine)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamingUnsupported, c.engine.Name())
	}

	stream, err := streamer.SynthesizeStream(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close() //nolint:errcheck

	return c.player.PlayStream(ctx, stream)
}

// SaveTo synthesizes buffered and writes the clip to path. No playback,
// no caching: the file is the delivery.
func (c *Controller) SaveTo(ctx context.Context, req Request, path string) error {
	if err := req.Validate(); err != nil {
		return err
	}

	clip, err := c.engine.Synthesize(ctx, req)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, clip.Data, 0o644); err != nil {
		return fmt.Errorf("unable to write audio file: %w", err)
	}
	log.Info("wrote audio", "path", path, "bytes", len(clip.Data), "format", clip.Format)
	return nil
}
