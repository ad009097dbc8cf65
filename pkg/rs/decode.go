package rs

import (
	"fmt"

	"github.com/marmos91/par3/pkg/bufpool"
	"github.com/marmos91/par3/pkg/gf"
	"github.com/marmos91/par3/pkg/par3err"
)

// Decode reconstructs every block named in missingData from a systematic
// Cauchy code: surviving data blocks plus exactly len(missingData) recovery
// blocks named by usedRecovery, whose values are supplied in recoveryData.
// availableData must hold every data column NOT present in missingData.
//
// The submatrix selecting usedRecovery rows and missingData columns out of
// the full Cauchy matrix is itself Cauchy, so its inverse is computed via
// the fast closed-form path; FastCauchyInvert is required to agree with
// (*Matrix).Invert bit for bit on this submatrix.
//
// Every surviving block (data or recovery) is promoted to a parity-protected
// region before entering the elementwise arithmetic, the same way Encode
// does: the fold is GF-linear in the same field the Cauchy coefficients
// live in, so a reconstructed region's own trailing word is automatically
// consistent with its content once the matrix solve is correct, and
// gf.CheckParity on the finished reconstruction catches a computation gone
// wrong without rereading any input.
func Decode(field *gf.Field, params CauchyParams, blockSize int,
	missingData, usedRecovery []int,
	availableData map[int][]byte, recoveryData map[int][]byte) (map[int][]byte, error) {

	if len(missingData) != len(usedRecovery) {
		return nil, fmt.Errorf("rs: need exactly %d recovery blocks to reconstruct %d missing data blocks, got %d",
			len(missingData), len(missingData), len(usedRecovery))
	}
	k := len(missingData)
	if k == 0 {
		return map[int][]byte{}, nil
	}

	full := BuildCauchy(field, params)

	x := make([]uint32, k)
	for i, ri := range usedRecovery {
		x[i] = params.X[ri]
	}
	y := make([]uint32, k)
	for j, dj := range missingData {
		y[j] = params.Y[dj]
	}

	sub, err := FastCauchyInvert(field, x, y)
	if err != nil {
		return nil, err
	}

	regionSize := gf.RegionSize(blockSize)
	regionPool := bufpool.New(regionSize)
	accPool := bufpool.New(regionSize)

	region := func(data []byte) []byte {
		r := regionPool.Get()
		copy(r, data)
		gf.CreateParity(field, r, blockSize)
		return r
	}

	// adjusted[i] = recoveryData[usedRecovery[i]] XOR-minus the contribution
	// of every surviving data block already folded into that recovery row.
	// All k accumulators are live simultaneously (the second loop below
	// reads every one of them for every output column), so they are
	// pooled rather than reused one at a time.
	adjusted := make([][]byte, k)
	defer func() {
		for _, a := range adjusted {
			accPool.Put(a)
		}
	}()
	for i, ri := range usedRecovery {
		rd, ok := recoveryData[ri]
		if !ok {
			return nil, fmt.Errorf("rs: missing recovery block %d", ri)
		}
		acc := accPool.Get()
		rdRegion := region(rd)
		copy(acc, rdRegion)
		regionPool.Put(rdRegion)
		for j := range params.Y {
			if contains(missingData, j) {
				continue
			}
			coeff := full.Data[ri][j]
			if coeff == 0 {
				continue
			}
			data, ok := availableData[j]
			if !ok {
				return nil, fmt.Errorf("rs: missing surviving data block %d", j)
			}
			r := region(data)
			field.RegionMultiplyAccumulate(acc, r, coeff, true)
			regionPool.Put(r)
		}
		adjusted[i] = acc
	}

	out := make(map[int][]byte, k)
	for j, dj := range missingData {
		buf := regionPool.Get()
		for i := 0; i < k; i++ {
			coeff := sub.Data[j][i]
			if coeff == 0 {
				continue
			}
			field.RegionMultiplyAccumulate(buf, adjusted[i], coeff, true)
		}
		if !gf.CheckParity(field, buf, blockSize) {
			regionPool.Put(buf)
			return nil, par3err.NewIntegrityError("rs: reconstructed block %d failed its parity self-check", dj)
		}
		result := make([]byte, blockSize)
		copy(result, buf[:blockSize])
		regionPool.Put(buf)
		out[dj] = result
	}
	return out, nil
}

func contains(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
