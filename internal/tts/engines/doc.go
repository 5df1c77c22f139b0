// Package engines contains the synthesis backends: OpenAI's speech API
// (online, buffered or streaming) and the macOS say command (offline,
// buffered only). Both implement the Engine interface from internal/tts.
package engines
