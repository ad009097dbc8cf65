package rs

import "fmt"

// Invert computes m^-1 by Gauss-Jordan elimination with partial pivoting
// over m.Field. This is the reference inversion strategy: every other
// strategy (fast Cauchy inversion included) must agree with it bit for bit
// on any solvable system.
func (m *Matrix) Invert() (*Matrix, error) {
	if m.Rows != m.Cols {
		return nil, fmt.Errorf("rs: cannot invert a %dx%d non-square matrix", m.Rows, m.Cols)
	}
	n := m.Rows
	field := m.Field

	aug := make([][]uint32, n)
	for i := 0; i < n; i++ {
		aug[i] = make([]uint32, 2*n)
		copy(aug[i][:n], m.Data[i])
		aug[i][n+i] = 1
	}

	for col := 0; col < n; col++ {
		pivot := -1
		for row := col; row < n; row++ {
			if aug[row][col] != 0 {
				pivot = row
				break
			}
		}
		if pivot < 0 {
			return nil, fmt.Errorf("rs: matrix is singular at column %d", col)
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		inv := field.Reciprocal(aug[col][col])
		for k := 0; k < 2*n; k++ {
			aug[col][k] = field.Multiply(aug[col][k], inv)
		}

		for row := 0; row < n; row++ {
			if row == col || aug[row][col] == 0 {
				continue
			}
			factor := aug[row][col]
			for k := 0; k < 2*n; k++ {
				aug[row][k] ^= field.Multiply(factor, aug[col][k])
			}
		}
	}

	out := NewMatrix(field, n, n)
	for i := 0; i < n; i++ {
		copy(out.Data[i], aug[i][n:])
	}
	return out, nil
}
