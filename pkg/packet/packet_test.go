package packet

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/par3/pkg/hashing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	body := EncodeCreator("par3toolkit/1.0")
	raw := Encode(0xAABBCCDD, TypeCreator, body)

	pkt, reason := Decode(raw)
	require.Equal(t, SkipNone, reason)
	require.Equal(t, uint64(len(raw)), pkt.Length)
	require.Equal(t, uint64(0xAABBCCDD), pkt.SetID)
	require.Equal(t, TypeCreator, pkt.Type)
	require.Equal(t, "par3toolkit/1.0", DecodeCreator(pkt.Body))
}

func TestDecodeRejectsBadFingerprint(t *testing.T) {
	raw := Encode(1, TypeComment, EncodeComment("hi"))
	raw[len(raw)-1] ^= 0xFF // corrupt the body, invalidating the fingerprint
	_, reason := Decode(raw)
	require.Equal(t, SkipFingerprintMismatch, reason)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	raw := Encode(1, TypeComment, EncodeComment("hi"))
	raw[0] = 'X'
	_, reason := Decode(raw)
	require.Equal(t, SkipBadMagic, reason)
}

func TestStartBodyRoundTrip(t *testing.T) {
	b := StartBody{
		ParentSetID:  0,
		BlockSize:    4096,
		GaloisWidth:  1,
		Generator:    0x11D,
	}
	body := EncodeStart(b)
	got, err := DecodeStart(body)
	require.NoError(t, err)
	require.Equal(t, b.BlockSize, got.BlockSize)
	require.Equal(t, b.GaloisWidth, got.GaloisWidth)
	require.Equal(t, b.Generator, got.Generator)
}

func TestStartBodyAcceptsLegacyPrefix(t *testing.T) {
	b := StartBody{BlockSize: 65536, GaloisWidth: 2, Generator: 0x1100B}
	body := EncodeStart(b)
	legacy := append(make([]byte, 8), body...)
	got, err := DecodeStart(legacy)
	require.NoError(t, err)
	require.Equal(t, b.Generator, got.Generator)
}

func TestChunkDescriptorRoundTrip(t *testing.T) {
	const blockSize = 4096
	var tailFP hashing.Fingerprint
	copy(tailFP[:], bytes.Repeat([]byte{0x42}, 16))

	chunks := []ChunkDescriptor{
		{Size: 0, UnprotectedSpan: 12},
		{Size: blockSize, HasFirstBlock: true, FirstBlockIndex: 3},
		{Size: blockSize + 58, HasFirstBlock: true, FirstBlockIndex: 5, HasTail: true, TailCRC: 7, TailFP: tailFP, TailBlock: 9, TailOffset: 0},
		{Size: 10, InlineBytes: []byte("0123456789")},
	}
	fb := FileBody{Name: "a.bin", Chunks: chunks}
	encoded := EncodeFile(fb, blockSize)
	decoded, err := DecodeFile(encoded, blockSize)
	require.NoError(t, err)
	require.Equal(t, chunks, decoded.Chunks)
}

func TestIncrementalReaderToleratesNoise(t *testing.T) {
	p1 := Encode(1, TypeCreator, EncodeCreator("x"))
	p2 := Encode(1, TypeComment, EncodeComment("y"))

	var buf bytes.Buffer
	buf.WriteString("garbage-before")
	buf.Write(p1)
	buf.WriteString("junk-in-the-middle-PAR3")
	buf.Write(p2)
	buf.WriteString("trailing")

	ir, err := NewIncrementalReader(&buf, 4096)
	require.NoError(t, err)

	pkt1, err := ir.Next()
	require.NoError(t, err)
	require.Equal(t, TypeCreator, pkt1.Type)

	pkt2, err := ir.Next()
	require.NoError(t, err)
	require.Equal(t, TypeComment, pkt2.Type)

	_, err = ir.Next()
	require.Equal(t, io.EOF, err)
}

func TestIncrementalReaderIgnoresOversizedPacket(t *testing.T) {
	big := Encode(1, TypeData, make([]byte, 8192))
	small := Encode(2, TypeComment, EncodeComment("small"))

	var buf bytes.Buffer
	buf.Write(big)
	buf.Write(small)

	ir, err := NewIncrementalReader(&buf, 1024)
	require.NoError(t, err)

	pkt, err := ir.Next()
	require.NoError(t, err)
	require.Equal(t, TypeComment, pkt.Type)
}

func TestIncrementalReaderSetCollectorAcceptsNil(t *testing.T) {
	p1 := Encode(1, TypeCreator, EncodeCreator("x"))

	var buf bytes.Buffer
	buf.Write(p1)

	ir, err := NewIncrementalReader(&buf, 4096)
	require.NoError(t, err)
	ir.SetCollector(nil) // must stay a no-op, not panic

	pkt, err := ir.Next()
	require.NoError(t, err)
	require.Equal(t, TypeCreator, pkt.Type)
}
