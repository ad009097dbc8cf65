package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewGraphStartsEmpty(t *testing.T) {
	g := NewGraph(4096)
	require.Equal(t, 4096, g.BlockSize)
	require.Equal(t, NoIndex, g.RootIndex)
	require.Empty(t, g.Files)
	require.Empty(t, g.Blocks)
}

func TestAddSliceThreadsBlockListInInsertionOrder(t *testing.T) {
	g := NewGraph(4096)
	f := g.NewFile("a.bin")
	c := g.NewChunk(f.Index)
	b := g.NewBlock()

	s1 := g.AddSlice(c.Index, b.Index, 0, 10, 0)
	s2 := g.AddSlice(c.Index, b.Index, 10, 5, 10)
	s3 := g.AddSlice(c.Index, b.Index, 15, 7, 15)

	got := g.SlicesOf(b.Index)
	require.Equal(t, []*Slice{s1, s2, s3}, got)
}

func TestAddSliceUpdatesBlockSizeToMaxExtent(t *testing.T) {
	g := NewGraph(100)
	f := g.NewFile("a.bin")
	c := g.NewChunk(f.Index)
	b := g.NewBlock()

	g.AddSlice(c.Index, b.Index, 0, 40, 0)
	require.Equal(t, 40, b.Size)

	// A later, shorter tail placed earlier in the block must not shrink Size.
	g.AddSlice(c.Index, b.Index, 0, 10, 5)
	require.Equal(t, 40, b.Size)

	g.AddSlice(c.Index, b.Index, 0, 20, 40)
	require.Equal(t, 60, b.Size)
}

func TestBlockStateHelpers(t *testing.T) {
	full := &Block{State: BlockHasFullData}
	require.True(t, full.IsFull())
	require.False(t, full.IsTailPacked())

	tail := &Block{State: BlockHasTailData | BlockAnyTailFound}
	require.False(t, tail.IsFull())
	require.True(t, tail.IsTailPacked())

	require.False(t, (&Block{}).IsFull())
}

func TestSlicesOfEmptyBlockIsEmpty(t *testing.T) {
	g := NewGraph(4096)
	b := g.NewBlock()
	require.Empty(t, g.SlicesOf(b.Index))
}

func TestNewFileChunkBlockIndicesAreSequential(t *testing.T) {
	g := NewGraph(4096)
	f0 := g.NewFile("a.bin")
	f1 := g.NewFile("b.bin")
	require.Equal(t, 0, f0.Index)
	require.Equal(t, 1, f1.Index)

	c0 := g.NewChunk(f0.Index)
	c1 := g.NewChunk(f0.Index)
	require.Equal(t, 0, c0.Index)
	require.Equal(t, 1, c1.Index)
	require.Equal(t, NoIndex, c0.TailSliceIndex)

	b0 := g.NewBlock()
	require.Equal(t, 0, b0.Index)
	require.Equal(t, NoIndex, b0.FirstSlice)
}

func TestNewDirectoryIndicesAreSequential(t *testing.T) {
	g := NewGraph(4096)
	root := g.NewDirectory("")
	sub := g.NewDirectory("sub")
	require.Equal(t, 0, root.Index)
	require.Equal(t, 1, sub.Index)
}
