package search

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/par3/pkg/hashing"
	"github.com/marmos91/par3/pkg/hostfs"
	"github.com/marmos91/par3/pkg/model"
)

func buildGraphWithOneBlock(blockSize int, content []byte) (*model.Graph, int) {
	g := model.NewGraph(blockSize)
	b := g.NewBlock()
	b.CRC = hashing.CRC64(content, 0)
	b.Fingerprint = hashing.BLAKE3Fingerprint(content)
	b.State |= model.BlockHasFullData
	return g, b.Index
}

func TestScanFindsAlignedBlock(t *testing.T) {
	const blockSize = 32
	content := bytes.Repeat([]byte{0x9A}, blockSize)
	// perturb one byte so it isn't a uniform region, which is irrelevant
	// here but keeps the fixture realistic.
	content[5] = 0x01

	g, blockIndex := buildGraphWithOneBlock(blockSize, content)
	idx := NewIndex(g)

	region := append(bytes.Repeat([]byte{0xFF}, 10), content...)
	region = append(region, bytes.Repeat([]byte{0xFF}, 10)...)

	matches, err := idx.Scan(context.Background(), region, Budget{})
	require.NoError(t, err)

	var found bool
	for _, m := range matches {
		if m.Kind == MatchFull && m.BlockIndex == blockIndex && m.Offset == 10 {
			found = true
		}
	}
	require.True(t, found, "expected a full-block match at offset 10, got %+v", matches)
}

func TestScanFindsUnalignedBlock(t *testing.T) {
	const blockSize = 32
	content := bytes.Repeat([]byte{0x5C}, blockSize)
	content[0] = 0x01
	content[blockSize-1] = 0x02

	g, blockIndex := buildGraphWithOneBlock(blockSize, content)
	idx := NewIndex(g)

	region := append(bytes.Repeat([]byte{0xEE}, 7), content...)

	matches, err := idx.Scan(context.Background(), region, Budget{})
	require.NoError(t, err)

	var found bool
	for _, m := range matches {
		if m.Kind == MatchFull && m.BlockIndex == blockIndex && m.Offset == 7 {
			found = true
		}
	}
	require.True(t, found)
}

// addTailSlice wires one tail of the given bytes into g, returning its slice.
func addTailSlice(g *model.Graph, tail []byte, tailOffset int) *model.Slice {
	f := g.NewFile("tails.bin")
	c := g.NewChunk(f.Index)
	b := g.NewBlock()
	b.State |= model.BlockHasTailData
	s := g.AddSlice(c.Index, b.Index, 0, int64(len(tail)), tailOffset)
	s.TailCRC = hashing.CRC64(tail[:40], 0)
	s.TailFP = hashing.BLAKE3Fingerprint(tail)
	c.TailSliceIndex = s.Index
	return s
}

func TestScanFindsTailByPrefixCRC(t *testing.T) {
	const blockSize = 64
	g := model.NewGraph(blockSize)
	tail := bytes.Repeat([]byte{0x03}, 50)
	tail[47] = 0x99 // differs beyond the 40 bytes the prefix CRC covers
	s := addTailSlice(g, tail, 0)

	idx := NewIndex(g)
	region := append(bytes.Repeat([]byte{0x00}, 4), tail...)

	matches, err := idx.Scan(context.Background(), region, Budget{})
	require.NoError(t, err)

	var found bool
	for _, m := range matches {
		if m.Kind == MatchTail && m.SliceIndex == s.Index && m.Offset == 4 {
			found = true
		}
	}
	require.True(t, found, "expected a tail match at offset 4, got %+v", matches)
}

func TestScanRejectsTailWithMatchingPrefixButDifferentBody(t *testing.T) {
	const blockSize = 64
	g := model.NewGraph(blockSize)
	tail := bytes.Repeat([]byte{0x07}, 50)
	addTailSlice(g, tail, 0)

	idx := NewIndex(g)

	// Same 40-byte prefix, different trailing 10 bytes: the prefix CRC hits
	// but the whole-tail fingerprint must reject it.
	impostor := append([]byte(nil), tail...)
	impostor[45] ^= 0xFF
	matches, err := idx.Scan(context.Background(), impostor, Budget{})
	require.NoError(t, err)
	for _, m := range matches {
		require.NotEqual(t, MatchTail, m.Kind, "prefix-only lookalike must not match: %+v", m)
	}
}

func TestScanChainsAdjacentBlocksAfterFirstMatch(t *testing.T) {
	const blockSize = 32
	g := model.NewGraph(blockSize)

	content := make([]byte, 4*blockSize)
	for i := range content {
		content[i] = byte(i * 13)
	}
	for i := 0; i < 4; i++ {
		b := g.NewBlock()
		w := content[i*blockSize : (i+1)*blockSize]
		b.CRC = hashing.CRC64(w, 0)
		b.Fingerprint = hashing.BLAKE3Fingerprint(w)
		b.State |= model.BlockHasFullData
	}

	idx := NewIndex(g)

	// Prepend 5 junk bytes: every block sits at offset 5 + i*blockSize.
	region := append(bytes.Repeat([]byte{0xFD}, 5), content...)
	matches, err := idx.Scan(context.Background(), region, Budget{})
	require.NoError(t, err)

	got := map[int]int64{}
	for _, m := range matches {
		if m.Kind == MatchFull {
			got[m.BlockIndex] = m.Offset
		}
	}
	for i := 0; i < 4; i++ {
		require.Equal(t, int64(5+i*blockSize), got[i], "block %d", i)
	}
}

func TestScanStopsWhenBudgetExpires(t *testing.T) {
	const blockSize = 32
	content := make([]byte, blockSize)
	for i := range content {
		content[i] = byte(i)
	}
	g, _ := buildGraphWithOneBlock(blockSize, content)
	idx := NewIndex(g)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := hostfs.NewFakeClock(start)
	clock.Advance(time.Second) // already past the deadline below

	region := make([]byte, 64<<10)
	for i := range region {
		region[i] = byte(i * 7)
	}
	_, err := idx.Scan(context.Background(), region, Budget{
		Deadline: start.Add(100 * time.Millisecond),
		Clock:    clock,
	})
	require.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestUniformRegion(t *testing.T) {
	require.True(t, UniformRegion(bytes.Repeat([]byte{0x00}, 100), 0, 100))
	data := bytes.Repeat([]byte{0x00}, 100)
	data[50] = 1
	require.False(t, UniformRegion(data, 0, 100))
}

func TestClassifyFile(t *testing.T) {
	g := model.NewGraph(16)
	f := g.NewFile("a.bin")
	c := g.NewChunk(f.Index)
	c.Kind = model.ChunkProtected
	c.HasFirstBlock = true
	c.FirstBlockIndex = 0
	c.Length = 32
	c.TailSliceIndex = model.NoIndex
	g.NewBlock()
	g.NewBlock()
	f.ChunkIndices = []int{c.Index}

	complete := map[int]bool{0: true, 1: true}
	require.Equal(t, StatusComplete, ClassifyFile(g, f, complete, false))

	oneMissing := map[int]bool{0: true, 1: false}
	require.Equal(t, StatusDamaged, ClassifyFile(g, f, oneMissing, false))
	require.Equal(t, StatusRepairable, ClassifyFile(g, f, oneMissing, true))

	none := map[int]bool{0: false, 1: false}
	require.Equal(t, StatusMissing, ClassifyFile(g, f, none, true))
}

func TestDetectRenamed(t *testing.T) {
	g := model.NewGraph(16)
	f := g.NewFile("a.bin")
	c := g.NewChunk(f.Index)
	c.Kind = model.ChunkProtected
	c.HasFirstBlock = true
	c.FirstBlockIndex = 0
	c.Length = 16
	c.TailSliceIndex = model.NoIndex
	g.NewBlock()
	f.ChunkIndices = []int{c.Index}

	require.True(t, DetectRenamed(g, f, map[int]bool{0: true}, false))
	require.False(t, DetectRenamed(g, f, map[int]bool{0: true}, true))
	require.False(t, DetectRenamed(g, f, map[int]bool{0: false}, false))
}
