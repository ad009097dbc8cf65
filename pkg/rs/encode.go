package rs

import (
	"fmt"

	"github.com/marmos91/par3/pkg/bufpool"
	"github.com/marmos91/par3/pkg/gf"
)

// DataSource supplies one data block's bytes at a time, in column order,
// so Encode never needs every data block resident in memory at once: only
// the recovery accumulators and one data block are live simultaneously.
// Each slice is exactly blockSize bytes.
type DataSource func(column int) ([]byte, error)

// Encode computes every recovery block by streaming each data block through
// once and accumulating its weighted contribution into every recovery
// accumulator. Each data block is promoted to a parity-protected region
// (gf.RegionSize(blockSize) bytes, with gf.CreateParity stamping its
// trailing word) before the elementwise multiply-accumulate: the parity
// fold is GF-linear in the same field the Cauchy coefficients live in, so
// it rides along through the whole linear combination for free, and
// gf.CheckParity on the finished accumulator catches an accumulation gone
// wrong without needing to reread any source block. recovery must already
// be allocated, one blockSize-length slice per row of params.X.
func Encode(field *gf.Field, params CauchyParams, blockSize int, source DataSource, recovery [][]byte) error {
	matrix := BuildCauchy(field, params)
	regionSize := gf.RegionSize(blockSize)

	regionPool := bufpool.New(regionSize)
	accPool := bufpool.New(regionSize)

	acc := make([][]byte, len(params.X))
	for i := range acc {
		acc[i] = accPool.Get()
	}
	defer func() {
		for _, a := range acc {
			accPool.Put(a)
		}
	}()

	for j := range params.Y {
		data, err := source(j)
		if err != nil {
			return err
		}
		region := regionPool.Get()
		copy(region, data)
		gf.CreateParity(field, region, blockSize)

		for i := range params.X {
			coeff := matrix.Data[i][j]
			if coeff == 0 {
				continue
			}
			field.RegionMultiplyAccumulate(acc[i], region, coeff, true)
		}
		regionPool.Put(region)
	}

	for i, a := range acc {
		if !gf.CheckParity(field, a, blockSize) {
			return fmt.Errorf("rs: recovery block %d failed its parity self-check", i)
		}
		copy(recovery[i], a[:blockSize])
	}
	return nil
}
