// Package gf implements GF(2^8) and GF(2^16) arithmetic for the Cauchy-matrix
// Reed-Solomon engine in pkg/rs.
package gf

import "fmt"

// Width selects which field a PAR3 set uses. The choice is driven by the
// total block count (input + recovery): sets of 256 blocks or fewer use
// GF(2^8); larger sets need GF(2^16).
type Width uint8

const (
	Width8  Width = 1
	Width16 Width = 2
)

// Generators are the two polynomials the format mandates.
const (
	Generator8  = 0x11D
	Generator16 = 0x1100B
)

// SelectWidth returns the field width for a set with the given total block
// count (input blocks + recovery blocks).
func SelectWidth(totalBlocks int) Width {
	if totalBlocks <= 256 {
		return Width8
	}
	return Width16
}

// Field is a GF(2^w) arithmetic engine with precomputed log/antilog tables.
type Field struct {
	width     Width
	bits      int    // 8 or 16
	max       uint32 // 2^bits - 1
	generator uint32
	log       []uint32 // log[0] is unused (log(0) undefined)
	ilog      []uint32 // antilog table, size 2*max to avoid modular wraparound
}

// New builds a Field for the given width and generator polynomial. Passing
// generator == 0 selects the format's mandated default for that width.
func New(width Width, generator uint32) (*Field, error) {
	var bits int
	switch width {
	case Width8:
		bits = 8
		if generator == 0 {
			generator = Generator8
		}
	case Width16:
		bits = 16
		if generator == 0 {
			generator = Generator16
		}
	default:
		return nil, fmt.Errorf("gf: invalid width %d", width)
	}

	max := uint32(1)<<bits - 1
	f := &Field{
		width:     width,
		bits:      bits,
		max:       max,
		generator: generator,
		log:       make([]uint32, max+1),
		ilog:      make([]uint32, int(max)*2),
	}
	f.buildTables()
	return f, nil
}

func (f *Field) buildTables() {
	x := uint32(1)
	for i := uint32(0); i < f.max; i++ {
		f.ilog[i] = x
		f.log[x] = i
		x <<= 1
		if x > f.max {
			x ^= f.generator
		}
	}
	// Mirror the antilog table past `max` so adding two logs (which can sum
	// to at most 2*max-2) can be looked up without an explicit modulo.
	for i := f.max; i < f.max*2; i++ {
		f.ilog[i] = f.ilog[i-f.max]
	}
}

// Width reports which field this is.
func (f *Field) Width() Width { return f.width }

// Generator returns the field's generator polynomial, leading term included.
func (f *Field) Generator() uint32 { return f.generator }

// Max returns 2^w - 1, the field's largest nonzero element.
func (f *Field) Max() uint32 { return f.max }

// Multiply returns x*y in the field.
func (f *Field) Multiply(x, y uint32) uint32 {
	if x == 0 || y == 0 {
		return 0
	}
	return f.ilog[f.log[x]+f.log[y]]
}

// Divide returns x/y in the field. Dividing by zero is a logic error in the
// caller; it panics so it is never silently wrong.
func (f *Field) Divide(x, y uint32) uint32 {
	if y == 0 {
		panic("gf: division by zero")
	}
	if x == 0 {
		return 0
	}
	diff := int64(f.log[x]) - int64(f.log[y])
	if diff < 0 {
		diff += int64(f.max)
	}
	return f.ilog[diff]
}

// Reciprocal returns 1/y. Panics on y == 0, matching Divide.
func (f *Field) Reciprocal(y uint32) uint32 {
	return f.Divide(1, y)
}
