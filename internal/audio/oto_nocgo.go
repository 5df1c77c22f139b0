//go:build nocgo
// +build nocgo

package audio

// NewStreamSink returns the fallback player unchanged. Builds without cgo
// have no direct audio device access, so streams go through a stdin-fed
// external player instead.
func NewStreamSink(fallback Player) Player {
	return fallback
}
