// Package rs implements Cauchy-matrix Reed-Solomon erasure coding over the
// fields in pkg/gf: matrix construction, two interchangeable inversion
// strategies that must agree bit-for-bit, and streaming encode/decode over
// memory-bounded cohorts of blocks.
package rs

import (
	"fmt"

	"github.com/marmos91/par3/pkg/gf"
)

// Matrix is a dense matrix over a gf.Field, rows-major.
type Matrix struct {
	Field *gf.Field
	Rows  int
	Cols  int
	Data  [][]uint32
}

// NewMatrix allocates a zeroed Rows x Cols matrix.
func NewMatrix(field *gf.Field, rows, cols int) *Matrix {
	m := &Matrix{Field: field, Rows: rows, Cols: cols, Data: make([][]uint32, rows)}
	for i := range m.Data {
		m.Data[i] = make([]uint32, cols)
	}
	return m
}

// CauchyParams fixes the two disjoint value sets a Cauchy matrix is built
// from: X values index recovery rows, Y values index data columns.
type CauchyParams struct {
	X []uint32
	Y []uint32
}

// DefaultCauchyParams returns the format's default row/column assignment:
// data columns take the low values 0..dataCount-1, recovery rows take the
// high values, counting down from the field's maximum, unless rowHints
// overrides some of the recovery x-values.
func DefaultCauchyParams(field *gf.Field, dataCount, recoveryCount int, rowHints []uint64) (CauchyParams, error) {
	if dataCount+recoveryCount > int(field.Max())+1 {
		return CauchyParams{}, fmt.Errorf("rs: %d data + %d recovery blocks exceed field capacity %d", dataCount, recoveryCount, field.Max()+1)
	}
	y := make([]uint32, dataCount)
	for j := range y {
		y[j] = uint32(j)
	}
	x := make([]uint32, recoveryCount)
	for i := range x {
		if i < len(rowHints) {
			x[i] = uint32(rowHints[i])
		} else {
			x[i] = field.Max() - uint32(i)
		}
	}
	if err := validateDisjoint(x, y); err != nil {
		return CauchyParams{}, err
	}
	return CauchyParams{X: x, Y: y}, nil
}

func validateDisjoint(x, y []uint32) error {
	seen := make(map[uint32]bool, len(x)+len(y))
	for _, v := range y {
		if seen[v] {
			return fmt.Errorf("rs: duplicate column value %d", v)
		}
		seen[v] = true
	}
	for _, v := range x {
		if seen[v] {
			return fmt.Errorf("rs: recovery row value %d collides with a data column", v)
		}
		seen[v] = true
	}
	return nil
}

// BuildCauchy constructs the recoveryCount x dataCount Cauchy generator
// matrix: M[i][j] = 1 / (x_i XOR y_j).
func BuildCauchy(field *gf.Field, p CauchyParams) *Matrix {
	m := NewMatrix(field, len(p.X), len(p.Y))
	for i, xi := range p.X {
		for j, yj := range p.Y {
			m.Data[i][j] = field.Reciprocal(xi ^ yj)
		}
	}
	return m
}

// Sub returns the square submatrix picking the given row and column
// indices, in order, used to invert only the rows/columns a particular
// erasure pattern actually needs.
func (m *Matrix) Sub(rows, cols []int) *Matrix {
	s := NewMatrix(m.Field, len(rows), len(cols))
	for i, r := range rows {
		for j, c := range cols {
			s.Data[i][j] = m.Data[r][c]
		}
	}
	return s
}
