package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/par3/pkg/hashing"
)

// le is shorthand for the wire format's byte order: all integers are
// little-endian on disk.
var le = binary.LittleEndian

// --- Creator / Comment -----------------------------------------------------

// EncodeCreator/EncodeComment wrap a free-form UTF-8 string as a body.
func EncodeCreator(text string) []byte { return []byte(text) }
func EncodeComment(text string) []byte { return []byte(text) }

func DecodeCreator(body []byte) string { return string(body) }
func DecodeComment(body []byte) string { return string(body) }

// --- Start -------------------------------------------------------------

// StartBody anchors an InputSetID and declares the set's field parameters.
type StartBody struct {
	ParentSetID  uint64
	ParentRootFP hashing.Fingerprint
	BlockSize    uint64
	GaloisWidth  uint8 // 1 (GF(2^8)) or 2 (GF(2^16))
	Generator    uint32
}

// EncodeStart serializes a StartBody. The generator's low GaloisWidth bytes
// are stored; the implicit leading term (1 << 8*GaloisWidth) is not, since
// it is always set for a valid field polynomial.
func EncodeStart(b StartBody) []byte {
	buf := make([]byte, 33+int(b.GaloisWidth))
	le.PutUint64(buf[0:8], b.ParentSetID)
	copy(buf[8:24], b.ParentRootFP[:])
	le.PutUint64(buf[24:32], b.BlockSize)
	buf[32] = b.GaloisWidth
	genBytes := make([]byte, 4)
	le.PutUint32(genBytes, b.Generator)
	copy(buf[33:], genBytes[:b.GaloisWidth])
	return buf
}

// DecodeStart parses a StartBody, accepting both the current layout and the
// legacy layout with an extra 8-byte prefix.
func DecodeStart(body []byte) (*StartBody, error) {
	if b, ok := tryDecodeStart(body, 0); ok {
		return b, nil
	}
	if b, ok := tryDecodeStart(body, 8); ok {
		return b, nil
	}
	return nil, fmt.Errorf("packet: malformed start body (%d bytes)", len(body))
}

func tryDecodeStart(body []byte, prefix int) (*StartBody, bool) {
	if len(body) < prefix+33 {
		return nil, false
	}
	b := body[prefix:]
	width := b[32]
	if width != 1 && width != 2 {
		return nil, false
	}
	if len(b) != 33+int(width) {
		return nil, false
	}
	genBytes := make([]byte, 4)
	copy(genBytes, b[33:])
	generator := le.Uint32(genBytes) | uint32(1)<<(8*width)

	var rootFP hashing.Fingerprint
	copy(rootFP[:], b[8:24])
	return &StartBody{
		ParentSetID:  le.Uint64(b[0:8]),
		ParentRootFP: rootFP,
		BlockSize:    le.Uint64(b[24:32]),
		GaloisWidth:  width,
		Generator:    generator,
	}, true
}

// --- Cauchy matrix -------------------------------------------------------

// CauchyBody declares Cauchy-matrix FEC and carries optional row hints: an
// explicit list of recovery-row y-values to use instead of the default
// "top down from MAX" assignment.
type CauchyBody struct {
	RowHints []uint64
}

func EncodeCauchy(b CauchyBody) []byte {
	buf := make([]byte, 8+8*len(b.RowHints))
	le.PutUint64(buf[0:8], uint64(len(b.RowHints)))
	for i, h := range b.RowHints {
		le.PutUint64(buf[8+i*8:16+i*8], h)
	}
	return buf
}

func DecodeCauchy(body []byte) (*CauchyBody, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("packet: truncated cauchy body")
	}
	count := le.Uint64(body[0:8])
	if uint64(len(body)) != 8+8*count {
		return nil, fmt.Errorf("packet: cauchy body length mismatch")
	}
	hints := make([]uint64, count)
	for i := range hints {
		hints[i] = le.Uint64(body[8+i*8 : 16+i*8])
	}
	return &CauchyBody{RowHints: hints}, nil
}

// --- Chunk descriptors (embedded in File packets) -------------------------

// ChunkDescriptor is the wire form of one chunk entry inside a File packet
// body.
type ChunkDescriptor struct {
	Size uint64

	// Unprotected span size, valid iff Size == 0.
	UnprotectedSpan uint64

	// First block index, valid iff Size >= BlockSize.
	HasFirstBlock   bool
	FirstBlockIndex uint64

	// Tail descriptor, valid iff Size > 0 && Size % BlockSize >= 40.
	HasTail    bool
	TailCRC    uint64
	TailFP     hashing.Fingerprint
	TailBlock  uint64
	TailOffset uint64

	// Tiny inline tail bytes, valid iff Size > 0 && Size % BlockSize in [1,39].
	InlineBytes []byte
}

func encodeChunkDescriptor(buf []byte, c ChunkDescriptor, blockSize uint64) []byte {
	start := len(buf)
	buf = append(buf, make([]byte, 8)...)
	le.PutUint64(buf[start:start+8], c.Size)

	if c.Size == 0 {
		tmp := make([]byte, 8)
		le.PutUint64(tmp, c.UnprotectedSpan)
		return append(buf, tmp...)
	}
	if c.Size >= blockSize {
		tmp := make([]byte, 8)
		le.PutUint64(tmp, c.FirstBlockIndex)
		buf = append(buf, tmp...)
	}
	remainder := c.Size % blockSize
	if remainder >= 40 {
		tmp := make([]byte, 8+16+8+8)
		le.PutUint64(tmp[0:8], c.TailCRC)
		copy(tmp[8:24], c.TailFP[:])
		le.PutUint64(tmp[24:32], c.TailBlock)
		le.PutUint64(tmp[32:40], c.TailOffset)
		buf = append(buf, tmp...)
	} else if remainder >= 1 {
		buf = append(buf, c.InlineBytes...)
	}
	return buf
}

// decodeChunkDescriptor parses one descriptor starting at offset off,
// returning the descriptor and the offset immediately following it.
func decodeChunkDescriptor(body []byte, off int, blockSize uint64) (ChunkDescriptor, int, error) {
	if off+8 > len(body) {
		return ChunkDescriptor{}, 0, fmt.Errorf("packet: truncated chunk descriptor")
	}
	var c ChunkDescriptor
	c.Size = le.Uint64(body[off : off+8])
	off += 8

	if c.Size == 0 {
		if off+8 > len(body) {
			return ChunkDescriptor{}, 0, fmt.Errorf("packet: truncated unprotected span")
		}
		c.UnprotectedSpan = le.Uint64(body[off : off+8])
		return c, off + 8, nil
	}

	if c.Size >= blockSize {
		if off+8 > len(body) {
			return ChunkDescriptor{}, 0, fmt.Errorf("packet: truncated first block index")
		}
		c.HasFirstBlock = true
		c.FirstBlockIndex = le.Uint64(body[off : off+8])
		off += 8
	}

	remainder := c.Size % blockSize
	switch {
	case remainder >= 40:
		if off+40 > len(body) {
			return ChunkDescriptor{}, 0, fmt.Errorf("packet: truncated tail descriptor")
		}
		c.HasTail = true
		c.TailCRC = le.Uint64(body[off : off+8])
		copy(c.TailFP[:], body[off+8:off+24])
		c.TailBlock = le.Uint64(body[off+24 : off+32])
		c.TailOffset = le.Uint64(body[off+32 : off+40])
		off += 40
	case remainder >= 1:
		if off+int(remainder) > len(body) {
			return ChunkDescriptor{}, 0, fmt.Errorf("packet: truncated inline tail")
		}
		c.InlineBytes = append([]byte(nil), body[off:off+int(remainder)]...)
		off += int(remainder)
	}
	return c, off, nil
}

// --- File ----------------------------------------------------------------

// FileBody describes one input file.
type FileBody struct {
	Name        string
	First16KCRC uint64
	Fingerprint hashing.Fingerprint
	Options     []hashing.Fingerprint
	Chunks      []ChunkDescriptor
}

func EncodeFile(b FileBody, blockSize uint64) []byte {
	nameBytes := []byte(b.Name)
	buf := make([]byte, 0, 2+len(nameBytes)+8+16+1+16*len(b.Options)+64*len(b.Chunks))

	head := make([]byte, 2)
	le.PutUint16(head, uint16(len(nameBytes)))
	buf = append(buf, head...)
	buf = append(buf, nameBytes...)

	tail := make([]byte, 8+16+1)
	le.PutUint64(tail[0:8], b.First16KCRC)
	copy(tail[8:24], b.Fingerprint[:])
	tail[24] = byte(len(b.Options))
	buf = append(buf, tail...)

	for _, opt := range b.Options {
		buf = append(buf, opt[:]...)
	}
	for _, c := range b.Chunks {
		buf = encodeChunkDescriptor(buf, c, blockSize)
	}
	return buf
}

func DecodeFile(body []byte, blockSize uint64) (*FileBody, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("packet: truncated file body")
	}
	nameLen := int(le.Uint16(body[0:2]))
	off := 2
	if off+nameLen+8+16+1 > len(body) {
		return nil, fmt.Errorf("packet: truncated file body")
	}
	name := string(body[off : off+nameLen])
	off += nameLen

	crc := le.Uint64(body[off : off+8])
	off += 8
	var fp hashing.Fingerprint
	copy(fp[:], body[off:off+16])
	off += 16
	optCount := int(body[off])
	off++

	if off+16*optCount > len(body) {
		return nil, fmt.Errorf("packet: truncated file options")
	}
	options := make([]hashing.Fingerprint, optCount)
	for i := range options {
		copy(options[i][:], body[off+i*16:off+i*16+16])
	}
	off += 16 * optCount

	var chunks []ChunkDescriptor
	for off < len(body) {
		var c ChunkDescriptor
		var err error
		c, off, err = decodeChunkDescriptor(body, off, blockSize)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}

	return &FileBody{
		Name:        name,
		First16KCRC: crc,
		Fingerprint: fp,
		Options:     options,
		Chunks:      chunks,
	}, nil
}

// --- Directory -------------------------------------------------------------

// DirectoryBody describes one directory.
type DirectoryBody struct {
	Name     string
	Options  []hashing.Fingerprint
	Children []hashing.Fingerprint
}

func EncodeDirectory(b DirectoryBody) []byte {
	nameBytes := []byte(b.Name)
	buf := make([]byte, 0, 2+len(nameBytes)+1+16*len(b.Options)+16*len(b.Children))
	head := make([]byte, 2)
	le.PutUint16(head, uint16(len(nameBytes)))
	buf = append(buf, head...)
	buf = append(buf, nameBytes...)
	buf = append(buf, byte(len(b.Options)))
	for _, opt := range b.Options {
		buf = append(buf, opt[:]...)
	}
	for _, c := range b.Children {
		buf = append(buf, c[:]...)
	}
	return buf
}

func DecodeDirectory(body []byte) (*DirectoryBody, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("packet: truncated directory body")
	}
	nameLen := int(le.Uint16(body[0:2]))
	off := 2
	if off+nameLen+1 > len(body) {
		return nil, fmt.Errorf("packet: truncated directory body")
	}
	name := string(body[off : off+nameLen])
	off += nameLen
	optCount := int(body[off])
	off++
	if off+16*optCount > len(body) {
		return nil, fmt.Errorf("packet: truncated directory options")
	}
	options := make([]hashing.Fingerprint, optCount)
	for i := range options {
		copy(options[i][:], body[off+i*16:off+i*16+16])
	}
	off += 16 * optCount

	remaining := len(body) - off
	if remaining%16 != 0 {
		return nil, fmt.Errorf("packet: malformed directory child list")
	}
	children := make([]hashing.Fingerprint, remaining/16)
	for i := range children {
		copy(children[i][:], body[off+i*16:off+i*16+16])
	}
	return &DirectoryBody{Name: name, Options: options, Children: children}, nil
}

// --- Root ------------------------------------------------------------------

// RootBody declares the root of a set.
type RootBody struct {
	NextFreeBlockIndex uint64
	Attributes         uint8
	Options            []hashing.Fingerprint
	Children           []hashing.Fingerprint
}

func EncodeRoot(b RootBody) []byte {
	buf := make([]byte, 0, 8+1+4+16*len(b.Options)+16*len(b.Children))
	head := make([]byte, 8+1+4)
	le.PutUint64(head[0:8], b.NextFreeBlockIndex)
	head[8] = b.Attributes
	le.PutUint32(head[9:13], uint32(len(b.Options)))
	buf = append(buf, head...)
	for _, opt := range b.Options {
		buf = append(buf, opt[:]...)
	}
	for _, c := range b.Children {
		buf = append(buf, c[:]...)
	}
	return buf
}

func DecodeRoot(body []byte) (*RootBody, error) {
	if len(body) < 13 {
		return nil, fmt.Errorf("packet: truncated root body")
	}
	next := le.Uint64(body[0:8])
	attrs := body[8]
	optCount := int(le.Uint32(body[9:13]))
	off := 13
	if off+16*optCount > len(body) {
		return nil, fmt.Errorf("packet: truncated root options")
	}
	options := make([]hashing.Fingerprint, optCount)
	for i := range options {
		copy(options[i][:], body[off+i*16:off+i*16+16])
	}
	off += 16 * optCount
	remaining := len(body) - off
	if remaining%16 != 0 {
		return nil, fmt.Errorf("packet: malformed root child list")
	}
	children := make([]hashing.Fingerprint, remaining/16)
	for i := range children {
		copy(children[i][:], body[off+i*16:off+i*16+16])
	}
	return &RootBody{NextFreeBlockIndex: next, Attributes: attrs, Options: options, Children: children}, nil
}

// --- External Data -----------------------------------------------------

// ExternalDataEntry is one block's authoritative checksum pair.
type ExternalDataEntry struct {
	CRC uint64
	FP  hashing.Fingerprint
}

// ExternalDataBody carries checksums for a contiguous run of full-size
// blocks.
type ExternalDataBody struct {
	FirstBlockIndex uint64
	Entries         []ExternalDataEntry
}

func EncodeExternalData(b ExternalDataBody) []byte {
	buf := make([]byte, 8+24*len(b.Entries))
	le.PutUint64(buf[0:8], b.FirstBlockIndex)
	for i, e := range b.Entries {
		off := 8 + i*24
		le.PutUint64(buf[off:off+8], e.CRC)
		copy(buf[off+8:off+24], e.FP[:])
	}
	return buf
}

func DecodeExternalData(body []byte) (*ExternalDataBody, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("packet: truncated external data body")
	}
	remaining := len(body) - 8
	if remaining%24 != 0 {
		return nil, fmt.Errorf("packet: malformed external data body")
	}
	entries := make([]ExternalDataEntry, remaining/24)
	for i := range entries {
		off := 8 + i*24
		entries[i].CRC = le.Uint64(body[off : off+8])
		copy(entries[i].FP[:], body[off+8:off+24])
	}
	return &ExternalDataBody{FirstBlockIndex: le.Uint64(body[0:8]), Entries: entries}, nil
}

// --- Data / Recovery Data --------------------------------------------------

// DataBody is simply the raw payload of one full or tail-packed block.
type DataBody struct {
	Payload []byte
}

func EncodeData(b DataBody) []byte { return b.Payload }
func DecodeData(body []byte) *DataBody {
	return &DataBody{Payload: body}
}

// RecoveryDataBody is one recovery block.
type RecoveryDataBody struct {
	RootFP             hashing.Fingerprint
	MatrixFP           hashing.Fingerprint
	RecoveryBlockIndex uint64
	Payload            []byte
}

func EncodeRecoveryData(b RecoveryDataBody) []byte {
	buf := make([]byte, 16+16+8+len(b.Payload))
	copy(buf[0:16], b.RootFP[:])
	copy(buf[16:32], b.MatrixFP[:])
	le.PutUint64(buf[32:40], b.RecoveryBlockIndex)
	copy(buf[40:], b.Payload)
	return buf
}

func DecodeRecoveryData(body []byte) (*RecoveryDataBody, error) {
	if len(body) < 40 {
		return nil, fmt.Errorf("packet: truncated recovery data body")
	}
	var b RecoveryDataBody
	copy(b.RootFP[:], body[0:16])
	copy(b.MatrixFP[:], body[16:32])
	b.RecoveryBlockIndex = le.Uint64(body[32:40])
	b.Payload = body[40:]
	return &b, nil
}
