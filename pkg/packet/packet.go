// Package packet implements the PAR3 packet codec: the common 48-byte
// header, fingerprint verification, and an incremental scanner tolerant of
// arbitrary interleaving with non-packet bytes.
package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/marmos91/par3/pkg/hashing"
	"github.com/marmos91/par3/pkg/metrics"
)

// HeaderSize is the fixed size of the packet header.
const HeaderSize = 48

// Magic is the fixed 8-byte packet magic, "PAR3\0PKT".
var Magic = [8]byte{'P', 'A', 'R', '3', 0, 'P', 'K', 'T'}

// Type is an 8-byte, space-padded ASCII packet type tag.
type Type [8]byte

// TypeFromString pads or truncates s to the 8-byte tag form.
func TypeFromString(s string) Type {
	var t Type
	for i := range t {
		t[i] = ' '
	}
	copy(t[:], s)
	return t
}

func (t Type) String() string {
	return string(bytes.TrimRight(t[:], " "))
}

// The packet types the core understands.
var (
	TypeCreator      = TypeFromString("PAR CRE")
	TypeComment      = TypeFromString("PAR COM")
	TypeStart        = TypeFromString("PAR STA")
	TypeCauchy       = TypeFromString("PAR CAU")
	TypeFile         = TypeFromString("PAR FIL")
	TypeDirectory    = TypeFromString("PAR DIR")
	TypeRoot         = TypeFromString("PAR ROO")
	TypeExternalData = TypeFromString("PAR EXT")
	TypeData         = TypeFromString("PAR DAT")
	TypeRecoveryData = TypeFromString("PAR REC")
)

// Packet is a decoded packet: header fields plus the raw, type-specific
// body bytes (offset 48 onward).
type Packet struct {
	Fingerprint hashing.Fingerprint
	Length      uint64
	SetID       uint64
	Type        Type
	Body        []byte
}

// SkipReason explains why the scanner declined to return a packet. Readers
// must treat every non-None reason as "ignore and keep scanning": PAR3's
// robustness to corruption depends on never hard-failing at this layer.
type SkipReason int

const (
	SkipNone SkipReason = iota
	SkipBadMagic
	SkipTooShort
	SkipFingerprintMismatch
	SkipTooLargeForBuffer
)

// Encode serializes a packet: header fields plus body, stamping the
// BLAKE3-128 fingerprint over everything from the length field onward.
func Encode(setID uint64, typ Type, body []byte) []byte {
	length := uint64(HeaderSize + len(body))
	buf := make([]byte, length)
	copy(buf[0:8], Magic[:])
	binary.LittleEndian.PutUint64(buf[24:32], length)
	binary.LittleEndian.PutUint64(buf[32:40], setID)
	copy(buf[40:48], typ[:])
	copy(buf[48:], body)

	fp := hashing.BLAKE3Fingerprint(buf[24:])
	copy(buf[8:24], fp[:])
	return buf
}

// Decode parses a single packet whose full declared length is available in
// buf (buf may be longer; only buf[:declaredLength] is consulted). It
// returns SkipNone and a populated Packet only when magic, length, and
// fingerprint all check out.
func Decode(buf []byte) (*Packet, SkipReason) {
	if len(buf) < HeaderSize {
		return nil, SkipTooShort
	}
	if !bytes.Equal(buf[0:8], Magic[:]) {
		return nil, SkipBadMagic
	}
	length := binary.LittleEndian.Uint64(buf[24:32])
	if length < HeaderSize || length > uint64(len(buf)) {
		return nil, SkipTooShort
	}

	computed := hashing.BLAKE3Fingerprint(buf[24:length])
	var stored hashing.Fingerprint
	copy(stored[:], buf[8:24])
	if computed != stored {
		return nil, SkipFingerprintMismatch
	}

	p := &Packet{
		Fingerprint: stored,
		Length:      length,
		SetID:       binary.LittleEndian.Uint64(buf[32:40]),
		Body:        buf[HeaderSize:length],
	}
	copy(p.Type[:], buf[40:48])
	return p, SkipNone
}

// ErrBufferTooSmall is returned by NewIncrementalReader when the requested
// buffer can't even hold one header.
var ErrBufferTooSmall = errors.New("packet: incremental reader buffer must be at least HeaderSize bytes")

// IncrementalReader slides a fixed-capacity buffer over an io.Reader,
// yielding packets one at a time and tolerating arbitrary non-packet bytes
// in between.
type IncrementalReader struct {
	r         io.Reader
	buf       []byte
	n         int // valid bytes in buf[:n]
	eof       bool
	collector *metrics.Collector
}

// SetCollector attaches a metrics collector so every packet the reader
// accepts or drops is recorded against par3_packets_scanned_total. A new
// reader starts with metrics.Default(); a nil collector disables recording
// entirely.
func (ir *IncrementalReader) SetCollector(c *metrics.Collector) {
	ir.collector = c
}

// NewIncrementalReader builds a reader with the given buffer capacity. Any
// packet whose declared length exceeds capacity is ignored.
func NewIncrementalReader(r io.Reader, capacity int) (*IncrementalReader, error) {
	if capacity < HeaderSize {
		return nil, ErrBufferTooSmall
	}
	return &IncrementalReader{r: r, buf: make([]byte, capacity), collector: metrics.Default()}, nil
}

// fill reads more bytes into buf[n:], growing n, until the reader is
// exhausted or the buffer is full.
func (ir *IncrementalReader) fill() error {
	for !ir.eof && ir.n < len(ir.buf) {
		k, err := ir.r.Read(ir.buf[ir.n:])
		ir.n += k
		if err != nil {
			if err == io.EOF {
				ir.eof = true
				return nil
			}
			return err
		}
		if k == 0 {
			// Non-EOF, non-error zero read: avoid spinning.
			return nil
		}
	}
	return nil
}

// shift discards the first `off` bytes of the live buffer, then tops it up
// from the underlying reader.
func (ir *IncrementalReader) shift(off int) error {
	copy(ir.buf, ir.buf[off:ir.n])
	ir.n -= off
	return ir.fill()
}

// Next returns the next valid packet, or io.EOF once the underlying reader
// is exhausted and no further magic occurrences remain.
func (ir *IncrementalReader) Next() (*Packet, error) {
	if err := ir.fill(); err != nil {
		return nil, err
	}
	for {
		idx := bytes.Index(ir.buf[:ir.n], Magic[:])
		if idx < 0 {
			// No magic in the live buffer. Keep the last len(Magic)-1
			// bytes (a magic could straddle the old/new boundary) and
			// refill.
			keep := len(Magic) - 1
			if ir.n < keep {
				keep = ir.n
			}
			if ir.eof && ir.n <= keep {
				return nil, io.EOF
			}
			if err := ir.shift(ir.n - keep); err != nil {
				return nil, err
			}
			if ir.eof && ir.n <= keep {
				return nil, io.EOF
			}
			continue
		}

		// Not enough bytes yet to read the header at idx.
		if idx+HeaderSize > ir.n {
			if ir.eof {
				return nil, io.EOF
			}
			if err := ir.shift(idx); err != nil {
				return nil, err
			}
			continue
		}

		length := binary.LittleEndian.Uint64(ir.buf[idx+24 : idx+32])
		if length < HeaderSize {
			// False-positive magic; skip past it and keep scanning.
			if err := ir.shift(idx + 1); err != nil {
				return nil, err
			}
			continue
		}
		if int(length) > len(ir.buf) {
			// Declared length exceeds buffer capacity: ignored.
			if err := ir.shift(idx + len(Magic)); err != nil {
				return nil, err
			}
			continue
		}
		if idx+int(length) > ir.n {
			if ir.eof {
				// Truncated packet at end of stream; treat as noise.
				if err := ir.shift(idx + 1); err != nil {
					return nil, err
				}
				continue
			}
			if err := ir.shift(idx); err != nil {
				return nil, err
			}
			continue
		}

		pkt, reason := Decode(ir.buf[idx : idx+int(length)])
		ir.collector.RecordPacketScanned(scanTag(ir.buf[idx:idx+int(length)]), reason == SkipNone)
		if reason == SkipNone {
			// Decode returns a body aliasing the live buffer; shift is about
			// to memmove and refill that buffer, so the caller needs its own
			// copy.
			pkt.Body = append([]byte(nil), pkt.Body...)
			if err := ir.shift(idx + int(length)); err != nil {
				return nil, err
			}
			return pkt, nil
		}
		// Magic matched but length/fingerprint didn't: false positive,
		// advance one byte past this occurrence and keep scanning.
		if err := ir.shift(idx + 1); err != nil {
			return nil, err
		}
	}
}

// scanTag best-effort extracts the type-tag bytes for metrics labeling, even
// from a candidate packet that failed fingerprint verification (as long as
// it's long enough to carry one).
func scanTag(buf []byte) string {
	if len(buf) < HeaderSize {
		return "truncated"
	}
	return string(bytes.TrimRight(buf[40:48], " "))
}
