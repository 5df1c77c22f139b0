package tts

import (
	"context"
	"io"
)

// Engine is the contract for synthesis backends. Implementations include
// the OpenAI speech API (online) and the macOS say command (offline).
// Engines are stateless between calls; each invocation of the CLI builds
// one engine and issues one request through it.
type Engine interface {
	// Name identifies the backend in logs and cache metadata.
	Name() string

	// Synthesize renders text to a complete in-memory clip. The returned
	// Clip reports the format actually produced, which may differ from
	// req.Format when the backend substitutes its native encoding.
	Synthesize(ctx context.Context, req Request) (Clip, error)

	// Voices lists the voice names the backend accepts. Online backends
	// may answer from a static table; offline ones may shell out.
	Voices(ctx context.Context) ([]string, error)
}

// StreamingEngine is implemented by backends that can hand over audio
// while synthesis is still in progress.
type StreamingEngine interface {
	Engine

	// SynthesizeStream starts synthesis and returns a reader over raw
	// PCM (16-bit little-endian, mono). The caller owns the reader;
	// closing it abandons the remainder of the stream. Streamed audio
	// is never cached.
	SynthesizeStream(ctx context.Context, req Request) (io.ReadCloser, error)
}
