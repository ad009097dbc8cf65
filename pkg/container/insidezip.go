// Package container's insidezip.go implements the "PAR inside ZIP/7z"
// mode: PAR3 packets are embedded as an unprotected chunk inside the
// archive itself rather than in separate files.
package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/flate"
)

// ZIP record signatures (little-endian on disk) needed to locate the
// central directory and, from it, the footer chunk boundary the
// PAR-inside-ZIP layout is planned around.
const (
	zipEOCDSignature        = 0x06054b50
	zipLocalFileSignature   = 0x04034b50
	zipEOCDMinSize          = 22
	zipEOCDMaxCommentLen    = 0xFFFF
	zipLocalHeaderFixedSize = 30
	zipFlagDataDescriptor   = 0x0008
	zipMethodDeflated       = 8
	zipMethodStored         = 0
)

// EOCD is the parsed End Of Central Directory record: the last fixed-format
// structure in a ZIP file, which names where the central directory begins
// and how large it is. The footer chunk a PAR-inside-ZIP layout protects
// runs from the central directory's start through end of file.
type EOCD struct {
	CentralDirOffset int64
	CentralDirSize   int64
	EntryCount       int
}

// LocateEOCD scans the trailing zipEOCDMaxCommentLen+zipEOCDMinSize bytes
// of data for the EOCD signature and parses it. ZIP readers must scan
// backward rather than assume a fixed offset because the EOCD record's
// trailing comment field is variable length.
func LocateEOCD(data []byte) (EOCD, error) {
	n := len(data)
	if n < zipEOCDMinSize {
		return EOCD{}, fmt.Errorf("container: file too short to contain a ZIP EOCD record (%d bytes)", n)
	}
	searchStart := n - zipEOCDMinSize - zipEOCDMaxCommentLen
	if searchStart < 0 {
		searchStart = 0
	}
	sig := make([]byte, 4)
	binary.LittleEndian.PutUint32(sig, zipEOCDSignature)

	for i := n - zipEOCDMinSize; i >= searchStart; i-- {
		if !bytes.Equal(data[i:i+4], sig) {
			continue
		}
		commentLen := int(binary.LittleEndian.Uint16(data[i+20 : i+22]))
		if i+zipEOCDMinSize+commentLen != n {
			continue // signature bytes happened to occur inside the comment
		}
		return EOCD{
			CentralDirOffset: int64(binary.LittleEndian.Uint32(data[i+16 : i+20])),
			CentralDirSize:   int64(binary.LittleEndian.Uint32(data[i+12 : i+16])),
			EntryCount:       int(binary.LittleEndian.Uint16(data[i+10 : i+12])),
		}, nil
	}
	return EOCD{}, fmt.Errorf("container: no ZIP EOCD record found")
}

// FooterBoundary returns the byte offset where a PAR-inside-ZIP layout's
// protected footer chunk begins: the start of the central directory, which
// runs unbroken through the EOCD record at end of file.
func (e EOCD) FooterBoundary() int64 {
	return e.CentralDirOffset
}

// DeflatedEntryLength returns the number of compressed bytes r's deflate
// stream consumes, for the case a ZIP local file header was written with
// the streaming flag (general-purpose bit 3): sizes are unknown until the
// entry's data descriptor is read, which in turn requires decompressing
// the stream to find where it ends. No PAR3 component needs the
// decompressed bytes themselves, only where the compressed stream stops.
// This is a
// best-effort measurement: compress/flate's internal bit reader may read
// slightly ahead of the true end of stream, so callers that need the exact
// boundary should prefer a data descriptor or central-directory record
// when one is available and fall back to this only when neither is.
func DeflatedEntryLength(r io.Reader) (int64, error) {
	counted := &countingReader{r: r}
	fr := flate.NewReader(counted)
	defer fr.Close()
	if _, err := io.Copy(io.Discard, fr); err != nil {
		return 0, fmt.Errorf("container: scanning deflate stream: %w", err)
	}
	return counted.n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// LocalFileHeader is the parsed fixed-size portion of a ZIP local file
// header, enough to tell the data-chunk scanner which compression method
// an entry uses and whether its sizes are trustworthy yet.
type LocalFileHeader struct {
	Method            uint16
	CompressedSize    uint32
	NameLength        uint16
	ExtraLength       uint16
	HasDataDescriptor bool // sizes unknown until the trailing descriptor
}

// HeaderSize returns the total byte length of this entry's local header,
// name, and extra field — i.e. the offset from the header's start to
// where the entry's (possibly compressed) data begins.
func (h LocalFileHeader) HeaderSize() int64 {
	return zipLocalHeaderFixedSize + int64(h.NameLength) + int64(h.ExtraLength)
}

// ParseLocalFileHeader reads one ZIP local file header from the start of
// data. It does not validate the CRC-32 or decompress anything; it exists
// only to find entry boundaries while scanning a ZIP's data chunk for the
// PAR-inside-ZIP layout.
func ParseLocalFileHeader(data []byte) (LocalFileHeader, error) {
	if len(data) < zipLocalHeaderFixedSize {
		return LocalFileHeader{}, fmt.Errorf("container: truncated ZIP local file header (%d bytes)", len(data))
	}
	if binary.LittleEndian.Uint32(data[0:4]) != zipLocalFileSignature {
		return LocalFileHeader{}, fmt.Errorf("container: not a ZIP local file header")
	}
	flags := binary.LittleEndian.Uint16(data[6:8])
	return LocalFileHeader{
		Method:            binary.LittleEndian.Uint16(data[8:10]),
		CompressedSize:    binary.LittleEndian.Uint32(data[18:22]),
		NameLength:        binary.LittleEndian.Uint16(data[26:28]),
		ExtraLength:       binary.LittleEndian.Uint16(data[28:30]),
		HasDataDescriptor: flags&zipFlagDataDescriptor != 0,
	}, nil
}

// EntryDataLength returns how many compressed bytes follow this header's
// HeaderSize() offset, reading the rest of the entry's stream (starting at
// r) with DeflatedEntryLength only when the header's own CompressedSize is
// untrustworthy (HasDataDescriptor, method deflated) — stored entries with
// a known size never need the flate fallback at all.
func (h LocalFileHeader) EntryDataLength(r io.Reader) (int64, error) {
	if !h.HasDataDescriptor || h.Method == zipMethodStored {
		return int64(h.CompressedSize), nil
	}
	if h.Method != zipMethodDeflated {
		return 0, fmt.Errorf("container: cannot determine entry length for unsupported method %d without a data descriptor", h.Method)
	}
	return DeflatedEntryLength(r)
}

// InsideZipLayout describes the byte ranges of a PAR-inside-archive file: a
// protected data chunk, a protected footer chunk, an unprotected chunk
// holding the PAR3 packets, and a duplicated copy of the footer so the
// archive remains openable even if the trailing PAR3 packets are stripped.
type InsideZipLayout struct {
	DataOffset      int64
	DataLength      int64
	FooterOffset    int64
	FooterLength    int64
	PacketsOffset   int64
	PacketsLength   int64
	FooterDupOffset int64
}

// PlanInsideZip lays out the four regions back to back, starting at offset
// 0: data, footer, unprotected PAR3 packets, duplicated footer.
func PlanInsideZip(dataLength, footerLength, packetsLength int64) InsideZipLayout {
	footerOffset := dataLength
	packetsOffset := footerOffset + footerLength
	footerDupOffset := packetsOffset + packetsLength
	return InsideZipLayout{
		DataOffset:      0,
		DataLength:      dataLength,
		FooterOffset:    footerOffset,
		FooterLength:    footerLength,
		PacketsOffset:   packetsOffset,
		PacketsLength:   packetsLength,
		FooterDupOffset: footerDupOffset,
	}
}

// parSizeFunc estimates the total recovery-data size a block size would
// need to protect fileSize bytes at the caller's desired redundancy; the
// container package itself stays redundancy-scheme-agnostic; callers
// passing in a sizing callback based on pkg/rs keeps this package free of
// an import cycle back into the encoder.
type parSizeFunc func(blockSize int64) int64

// SelectBlockSize searches powers of two starting from sqrt(fileSize)*10
// for the block size whose (file+par) cost beats the best candidate found
// so far by enough margin to be worth the extra blocks: a candidate wins
// only while (file+par)*64 < (file+best_par)*63, favouring more blocks
// when the saving is below ~1.6%. The search stops the first time the
// inequality fails twice in a row, which avoids oscillating right at the
// saving boundary.
func SelectBlockSize(fileSize int64, parSize parSizeFunc) int64 {
	start := int64(math.Sqrt(float64(fileSize)) * 10)
	if start < 1 {
		start = 1
	}
	blockSize := nextPowerOfTwo(start)

	bestBlockSize := blockSize
	bestPar := parSize(blockSize)
	misses := 0

	for {
		blockSize *= 2
		par := parSize(blockSize)
		if (fileSize+par)*64 < (fileSize+bestPar)*63 {
			bestBlockSize = blockSize
			bestPar = par
			misses = 0
		} else {
			misses++
			if misses >= 2 {
				break
			}
		}
	}
	return bestBlockSize
}

func nextPowerOfTwo(v int64) int64 {
	p := int64(1)
	for p < v {
		p *= 2
	}
	return p
}
