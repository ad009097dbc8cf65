package rs

import (
	"fmt"

	"github.com/marmos91/par3/pkg/gf"
)

// FastCauchyInvert computes the inverse of the Cauchy matrix built from x
// and y using the closed-form Cauchy inverse, instead of Gauss-Jordan
// elimination. It exists purely as a performance path for the common case
// (inverting the submatrix selected by a specific erasure pattern); it must
// produce bit-identical results to (*Matrix).Invert on the same matrix.
//
// The formula (letting ^ denote GF addition/subtraction, which coincide):
//
//	D[j][i] = ( prod_k(x[i]^y[k]) * prod_k(x[k]^y[j]) ) /
//	          ( (x[i]^y[j]) * prod_{k!=i}(x[i]^x[k]) * prod_{k!=j}(y[j]^y[k]) )
func FastCauchyInvert(field *gf.Field, x, y []uint32) (*Matrix, error) {
	n := len(x)
	if len(y) != n {
		return nil, fmt.Errorf("rs: x and y value sets must be the same length (%d vs %d)", n, len(y))
	}

	numA := make([]uint32, n)   // prod_k (x[i] ^ y[k])
	denomA := make([]uint32, n) // prod_{k!=i} (x[i] ^ x[k])
	for i := 0; i < n; i++ {
		na := uint32(1)
		for k := 0; k < n; k++ {
			na = field.Multiply(na, x[i]^y[k])
		}
		numA[i] = na

		da := uint32(1)
		for k := 0; k < n; k++ {
			if k == i {
				continue
			}
			da = field.Multiply(da, x[i]^x[k])
		}
		denomA[i] = da
	}

	numB := make([]uint32, n)   // prod_k (x[k] ^ y[j])
	denomB := make([]uint32, n) // prod_{k!=j} (y[j] ^ y[k])
	for j := 0; j < n; j++ {
		nb := uint32(1)
		for k := 0; k < n; k++ {
			nb = field.Multiply(nb, x[k]^y[j])
		}
		numB[j] = nb

		db := uint32(1)
		for k := 0; k < n; k++ {
			if k == j {
				continue
			}
			db = field.Multiply(db, y[j]^y[k])
		}
		denomB[j] = db
	}

	out := NewMatrix(field, n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			numer := field.Multiply(numA[i], numB[j])
			denom := field.Multiply(field.Multiply(denomA[i], denomB[j]), x[i]^y[j])
			out.Data[j][i] = field.Divide(numer, denom)
		}
	}
	return out, nil
}
