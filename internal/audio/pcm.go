package audio

// Stream format constants. The remote backend's incremental delivery is
// raw PCM at exactly this shape, so the stream sink is hardwired to it.
const (
	// SampleRate of streamed PCM in Hz
	SampleRate = 24000
	// Channels in streamed PCM (mono)
	Channels = 1
	// BitDepth per sample
	BitDepth = 16
	// BytesPerSample derived from BitDepth
	BytesPerSample = BitDepth / 8
)
