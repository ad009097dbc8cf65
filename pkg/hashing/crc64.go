// Package hashing implements the two content-address primitives PAR3 needs:
// CRC-64-ISO (forward and rolling) and BLAKE3-128.
package hashing

// crcStep advances the internal (not-yet-complemented) CRC-64-ISO state by
// one byte, expanding the reflected polynomial's four set bits directly:
// A = (crc^b)<<56; crc = (crc>>8) ^ A ^ (A>>1) ^ (A>>3) ^ (A>>4).
func crcStep(crc uint64, b byte) uint64 {
	a := (crc ^ uint64(b)) << 56
	return (crc >> 8) ^ a ^ (a >> 1) ^ (a >> 3) ^ (a >> 4)
}

// CRC64 computes the CRC-64-ISO of data, continuing from seed (0 for a
// fresh checksum). The polynomial is the reflected CRC-64-ISO
// (0xD800000000000000; 0x1B in its non-reflected form).
func CRC64(data []byte, seed uint64) uint64 {
	crc := ^seed
	for _, b := range data {
		crc = crcStep(crc, b)
	}
	return ^crc
}

// updateZero advances the internal CRC state across n zero bytes, without
// the leading/trailing bit-flip crcStep normally applies. This is the
// primitive the rolling exit-tables are built from.
func updateZero(crc uint64, n int) uint64 {
	for i := 0; i < n; i++ {
		a := crc << 56
		crc = (crc >> 8) ^ a ^ (a >> 1) ^ (a >> 3) ^ (a >> 4)
	}
	return crc
}

// RollingWindow maintains a CRC-64-ISO over a fixed-size byte window that
// can be advanced one byte at a time, in O(1), using a precomputed
// per-window-size exit table.
type RollingWindow struct {
	size  int
	table [256]uint64
	mask  uint64
	crc   uint64
}

// NewRollingWindow builds the exit table for a window of the given size and
// seeds the rolling CRC from the initial window contents.
func NewRollingWindow(size int, initial []byte) *RollingWindow {
	if len(initial) != size {
		panic("hashing: initial window length must equal size")
	}
	rw := &RollingWindow{size: size}
	rw.table[0] = 0
	for i := 1; i < 256; i++ {
		rr := uint64(i) << 56
		rr = rr ^ (rr >> 1) ^ (rr >> 3) ^ (rr >> 4)
		rw.table[i] = updateZero(rr, size)
	}
	rw.mask = updateZero(^uint64(0), size) ^ ^uint64(0)
	rw.crc = CRC64(initial, 0)
	return rw
}

// Roll advances the window by one byte: byteOld is the byte sliding out of
// the window's front, byteNew is the byte sliding into its back.
func (rw *RollingWindow) Roll(byteOld, byteNew byte) uint64 {
	masked := rw.mask ^ rw.crc
	a := (masked ^ uint64(byteNew)) << 56
	masked = (masked >> 8) ^ a ^ (a >> 1) ^ (a >> 3) ^ (a >> 4)
	masked ^= rw.table[byteOld]
	rw.crc = rw.mask ^ masked
	return rw.crc
}

// Sum returns the CRC-64 of the window's current contents.
func (rw *RollingWindow) Sum() uint64 { return rw.crc }

// Reset reseeds the window from a fresh block of exactly Size() bytes,
// without rebuilding the exit table.
func (rw *RollingWindow) Reset(window []byte) {
	if len(window) != rw.size {
		panic("hashing: window length must equal size")
	}
	rw.crc = CRC64(window, 0)
}

// Size returns the window length this RollingWindow was built for.
func (rw *RollingWindow) Size() int { return rw.size }
