// Package cache stores synthesized audio clips on disk, addressed by the
// fingerprint of the request that produced them. The backing directory is
// the source of truth: each clip is an audio file plus a JSON sidecar, and
// the index is rebuilt by scanning on open. Capacity is enforced FIFO.
package cache
