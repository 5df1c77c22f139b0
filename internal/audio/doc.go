// Package audio renders synthesized clips to the listener. Buffered clips
// go through an external player binary (afplay, ffplay, mpv, aplay);
// streamed PCM goes to the oto audio device when cgo is available, or to a
// stdin-fed external player otherwise.
package audio
