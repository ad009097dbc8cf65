package hashing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCRC64SeedChaining(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	whole := CRC64(data, 0)

	chained := CRC64(data[len(data)/2:], CRC64(data[:len(data)/2], 0))
	require.Equal(t, whole, chained)
}

func TestCRC64EmptyInputIsSeed(t *testing.T) {
	require.Equal(t, uint64(0), CRC64(nil, 0))
	require.Equal(t, uint64(0xAABBCCDD), CRC64(nil, 0xAABBCCDD))
}

func TestRollingWindowMatchesDirectCRC(t *testing.T) {
	const windowSize = 16
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i * 37)
	}

	rw := NewRollingWindow(windowSize, data[:windowSize])
	require.Equal(t, CRC64(data[:windowSize], 0), rw.Sum())

	for i := 1; i+windowSize <= len(data); i++ {
		got := rw.Roll(data[i-1], data[i+windowSize-1])
		want := CRC64(data[i:i+windowSize], 0)
		require.Equalf(t, want, got, "window starting at byte %d", i)
	}
}

func TestRollingWindowResetReseedsWithoutRebuildingTable(t *testing.T) {
	const windowSize = 8
	a := []byte("AAAAAAAA")
	b := []byte("BBBBBBBB")

	rw := NewRollingWindow(windowSize, a)
	require.Equal(t, CRC64(a, 0), rw.Sum())

	rw.Reset(b)
	require.Equal(t, CRC64(b, 0), rw.Sum())

	// The exit table survives the reset: rolling b one byte still matches
	// a direct CRC of the shifted window.
	shifted := append(append([]byte{}, b[1:]...), 'C')
	got := rw.Roll(b[0], 'C')
	require.Equal(t, CRC64(shifted, 0), got)
}

func TestRollingWindowUniformBytesAreStable(t *testing.T) {
	const windowSize = 32
	window := make([]byte, windowSize+1)
	for i := range window {
		window[i] = 0xAA
	}

	rw := NewRollingWindow(windowSize, window[:windowSize])
	before := rw.Sum()
	after := rw.Roll(0xAA, 0xAA)
	require.Equal(t, before, after, "a uniform window's CRC must not change when rolling over identical bytes")
}

func TestRollingWindowPanicsOnWrongLength(t *testing.T) {
	require.Panics(t, func() { NewRollingWindow(8, make([]byte, 7)) })

	rw := NewRollingWindow(8, make([]byte, 8))
	require.Panics(t, func() { rw.Reset(make([]byte, 7)) })
}

func TestBLAKE3FingerprintIsDeterministicAndSensitive(t *testing.T) {
	a := BLAKE3Fingerprint([]byte("par3"))
	b := BLAKE3Fingerprint([]byte("par3"))
	c := BLAKE3Fingerprint([]byte("par4"))

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a[:], FingerprintSize)
}

func TestFingerprintHasherMatchesOneShot(t *testing.T) {
	data := []byte("streamed body bytes for a recovery data packet")

	h := NewFingerprintHasher()
	_, err := h.Write(data[:10])
	require.NoError(t, err)
	_, err = h.Write(data[10:])
	require.NoError(t, err)

	require.Equal(t, BLAKE3Fingerprint(data), h.FinalizeTo16())
}

func TestFingerprintHasherResetAllowsReuse(t *testing.T) {
	h := NewFingerprintHasher()
	_, _ = h.Write([]byte("first"))
	first := h.FinalizeTo16()

	h.Reset()
	_, _ = h.Write([]byte("second"))
	second := h.FinalizeTo16()

	require.Equal(t, BLAKE3Fingerprint([]byte("first")), first)
	require.Equal(t, BLAKE3Fingerprint([]byte("second")), second)
}
