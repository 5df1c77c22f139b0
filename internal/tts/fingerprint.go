package tts

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// ShortIDLength is how many hex characters of the fingerprint form a cache
// ID. Eight characters keeps IDs typeable while leaving collisions across
// a handful of cached clips vanishingly rare.
const ShortIDLength = 8

// Fingerprint is the SHA-256 digest of the request fields that shape the
// audible result. Two requests with equal fingerprints produce the same
// clip, so the cache stores each fingerprint at most once.
type Fingerprint [sha256.Size]byte

// ComputeFingerprint hashes text, voice, instructions and format. Every
// field is length-prefixed before hashing so adjacent fields cannot bleed
// into each other ("ab"+"c" must not hash like "a"+"bc").
func ComputeFingerprint(req Request) Fingerprint {
	h := sha256.New()
	for _, field := range []string{
		req.Text,
		req.Voice,
		req.Instructions,
		string(req.Format),
	} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(field)))
		h.Write(n[:])
		h.Write([]byte(field))
	}

	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// Hex returns the full digest as lowercase hex.
func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

// ShortID returns the leading n hex characters of the digest. IDs derived
// this way can be lengthened deterministically when two cached clips would
// otherwise share a prefix.
func (f Fingerprint) ShortID(n int) string {
	s := f.Hex()
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}
