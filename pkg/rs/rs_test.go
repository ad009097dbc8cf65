package rs

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/par3/pkg/gf"
)

func field8(t *testing.T) *gf.Field {
	t.Helper()
	f, err := gf.New(gf.Width8, 0)
	require.NoError(t, err)
	return f
}

func TestFastCauchyInvertMatchesGaussian(t *testing.T) {
	field := field8(t)
	params, err := DefaultCauchyParams(field, 5, 3, nil)
	require.NoError(t, err)

	// Invert an arbitrary 3x3 submatrix picking 3 of the 5 data columns.
	cols := []int{0, 2, 4}
	full := BuildCauchy(field, params)
	square := full.Sub([]int{0, 1, 2}, cols)

	want, err := square.Invert()
	require.NoError(t, err)

	x := params.X
	y := []uint32{params.Y[0], params.Y[2], params.Y[4]}
	got, err := FastCauchyInvert(field, x, y)
	require.NoError(t, err)

	require.Equal(t, want.Data, got.Data)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	field := field8(t)
	const blockSize = 64
	const dataCount = 6
	const recoveryCount = 3

	params, err := DefaultCauchyParams(field, dataCount, recoveryCount, nil)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	data := make([][]byte, dataCount)
	for i := range data {
		data[i] = make([]byte, blockSize)
		rng.Read(data[i])
	}

	recovery := make([][]byte, recoveryCount)
	for i := range recovery {
		recovery[i] = make([]byte, blockSize)
	}
	err = Encode(field, params, blockSize, func(j int) ([]byte, error) { return data[j], nil }, recovery)
	require.NoError(t, err)

	// Lose data blocks 1 and 4; use the first two recovery blocks to fix them.
	missing := []int{1, 4}
	used := []int{0, 1}

	available := map[int][]byte{}
	for i, d := range data {
		if i != missing[0] && i != missing[1] {
			available[i] = d
		}
	}
	recoveryData := map[int][]byte{used[0]: recovery[used[0]], used[1]: recovery[used[1]]}

	reconstructed, err := Decode(field, params, blockSize, missing, used, available, recoveryData)
	require.NoError(t, err)

	require.Equal(t, data[1], reconstructed[1])
	require.Equal(t, data[4], reconstructed[4])
}

func TestEncodeDecodeRoundTripSingleErasure(t *testing.T) {
	field := field8(t)
	const blockSize = 32
	const dataCount = 4
	const recoveryCount = 2

	params, err := DefaultCauchyParams(field, dataCount, recoveryCount, nil)
	require.NoError(t, err)

	data := [][]byte{
		bytes40(0x01, blockSize),
		bytes40(0x02, blockSize),
		bytes40(0x03, blockSize),
		bytes40(0x04, blockSize),
	}
	recovery := make([][]byte, recoveryCount)
	for i := range recovery {
		recovery[i] = make([]byte, blockSize)
	}
	require.NoError(t, Encode(field, params, blockSize, func(j int) ([]byte, error) { return data[j], nil }, recovery))

	available := map[int][]byte{0: data[0], 1: data[1], 3: data[3]}
	recoveryData := map[int][]byte{0: recovery[0]}

	got, err := Decode(field, params, blockSize, []int{2}, []int{0}, available, recoveryData)
	require.NoError(t, err)
	require.Equal(t, data[2], got[2])
}

func bytes40(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestGaussianInvertRejectsSingular(t *testing.T) {
	field := field8(t)
	m := NewMatrix(field, 2, 2)
	m.Data[0] = []uint32{1, 1}
	m.Data[1] = []uint32{1, 1}
	_, err := m.Invert()
	require.Error(t, err)
}

func TestDefaultCauchyParamsRejectsOverflow(t *testing.T) {
	field := field8(t)
	_, err := DefaultCauchyParams(field, 250, 10, nil)
	require.Error(t, err)
}

func TestDefaultCauchyParamsHonorsRowHints(t *testing.T) {
	field := field8(t)
	params, err := DefaultCauchyParams(field, 4, 2, []uint64{200})
	require.NoError(t, err)
	require.Equal(t, uint32(200), params.X[0])
}
