package hashing

import (
	"github.com/zeebo/blake3"
)

// FingerprintSize is the length in bytes of a PAR3 fingerprint: BLAKE3
// truncated to 128 bits.
const FingerprintSize = 16

// Fingerprint is a 16-byte truncated BLAKE3 content address.
type Fingerprint [FingerprintSize]byte

// BLAKE3Fingerprint computes the one-shot BLAKE3-128 fingerprint of data.
func BLAKE3Fingerprint(data []byte) Fingerprint {
	sum := blake3.Sum256(data)
	var fp Fingerprint
	copy(fp[:], sum[:FingerprintSize])
	return fp
}

// FingerprintHasher is a streaming BLAKE3-128 accumulator, used when a
// packet body or block is assembled incrementally.
type FingerprintHasher struct {
	h *blake3.Hasher
}

// NewFingerprintHasher returns a ready-to-use streaming hasher.
func NewFingerprintHasher() *FingerprintHasher {
	return &FingerprintHasher{h: blake3.New()}
}

// Write implements io.Writer; it never returns an error.
func (f *FingerprintHasher) Write(p []byte) (int, error) {
	return f.h.Write(p)
}

// Reset clears the hasher so it can be reused.
func (f *FingerprintHasher) Reset() {
	f.h.Reset()
}

// FinalizeTo16 finalizes the hash and truncates it to 16 bytes, leaving the
// hasher usable for further writes per BLAKE3's tree-finalization semantics.
func (f *FingerprintHasher) FinalizeTo16() Fingerprint {
	var fp Fingerprint
	digest := f.h.Digest()
	_, _ = digest.Read(fp[:])
	return fp
}
