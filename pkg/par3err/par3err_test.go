package par3err

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReturnCodeMapsEachKind(t *testing.T) {
	cases := []struct {
		err  error
		code Code
	}{
		{nil, CodeSuccess},
		{NewLogicError("chunk sum mismatch"), CodeLogicError},
		{NewInsufficientError("no Start Packet found"), CodeInsufficientMetadata},
		{NewIntegrityError("fingerprint mismatch"), CodeRepairFailed},
		{NewResourceError("path too long"), CodeOutOfMemory},
		{WrapIOError("x.par3", fmt.Errorf("boom")), CodeFileIOError},
		{errors.New("unstructured"), CodeLogicError},
	}
	for _, c := range cases {
		require.Equal(t, c.code, ReturnCode(c.err))
	}
}

func TestErrorUnwrapsToCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(Resource, "allocator failure", cause)
	require.ErrorIs(t, err, cause)
}

func TestWithPathAppearsInMessage(t *testing.T) {
	err := NewIntegrityError("fingerprint mismatch").WithPath("a.par3")
	require.Contains(t, err.Error(), "a.par3")
	require.Contains(t, err.Error(), "Integrity")
}

func TestCodedVerdictOverridesKindMapping(t *testing.T) {
	err := NewCoded(CodeRepairPossible, "%d file(s) need repair", 2)
	require.Equal(t, CodeRepairPossible, ReturnCode(err))

	wrapped := fmt.Errorf("verify: %w", err)
	require.Equal(t, CodeRepairPossible, ReturnCode(wrapped))
	require.Contains(t, wrapped.Error(), "2 file(s) need repair")
}

func TestKindOfUnwrapsThroughFmtErrorf(t *testing.T) {
	base := NewLogicError("bad offset")
	wrapped := fmt.Errorf("mapper: %w", base)
	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	require.Equal(t, Logic, kind)
}
