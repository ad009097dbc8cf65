package mapper

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/par3/pkg/model"
)

const testBlockSize = 16

func mapFile(t *testing.T, m *Mapper, g *model.Graph, name string, content []byte) *model.File {
	t.Helper()
	f := g.NewFile(name)
	m.BeginFile(f)
	m.Feed(content)
	return m.EndFile()
}

func TestSimpleStrategyTinyTailIsInline(t *testing.T) {
	g := model.NewGraph(testBlockSize)
	m := New(g, StrategySimple)

	content := bytes.Repeat([]byte{0x01}, testBlockSize+5) // one full block + 5-byte tiny tail
	f := mapFile(t, m, g, "a.bin", content)

	require.Len(t, f.ChunkIndices, 1)
	c := g.Chunks[f.ChunkIndices[0]]
	require.True(t, c.HasFirstBlock)
	require.Equal(t, []byte{0x01, 0x01, 0x01, 0x01, 0x01}, c.InlineTail)
	require.Equal(t, model.NoIndex, c.TailSliceIndex)
}

func TestSimpleStrategyNeverDedups(t *testing.T) {
	g := model.NewGraph(testBlockSize)
	m := New(g, StrategySimple)

	block := bytes.Repeat([]byte{0xAB}, testBlockSize)
	f1 := mapFile(t, m, g, "a.bin", block)
	f2 := mapFile(t, m, g, "b.bin", block)

	c1 := g.Chunks[f1.ChunkIndices[0]]
	c2 := g.Chunks[f2.ChunkIndices[0]]
	require.NotEqual(t, c1.FirstBlockIndex, c2.FirstBlockIndex)
	require.Len(t, g.Blocks, 2)
}

func TestHashedStrategyDedupsIdenticalBlocks(t *testing.T) {
	g := model.NewGraph(testBlockSize)
	m := New(g, StrategyHashed)

	block := bytes.Repeat([]byte{0xCD}, testBlockSize)
	f1 := mapFile(t, m, g, "a.bin", block)
	f2 := mapFile(t, m, g, "b.bin", block)

	c1 := g.Chunks[f1.ChunkIndices[0]]
	c2 := g.Chunks[f2.ChunkIndices[0]]
	require.Equal(t, c1.FirstBlockIndex, c2.FirstBlockIndex)
	require.Len(t, g.Blocks, 1)

	slices := g.SlicesOf(c1.FirstBlockIndex)
	require.Len(t, slices, 2)
}

func TestHashedStrategySplitsChunkOnDedupDiscontinuity(t *testing.T) {
	g := model.NewGraph(testBlockSize)
	m := New(g, StrategyHashed)

	blockA := bytes.Repeat([]byte{0x11}, testBlockSize)
	blockB := bytes.Repeat([]byte{0x22}, testBlockSize)

	// First file establishes two distinct, contiguous blocks.
	_ = mapFile(t, m, g, "first.bin", append(append([]byte{}, blockA...), blockB...))
	require.Len(t, g.Blocks, 2)

	// Second file repeats blockB then blockA: block indices run [1, 0],
	// which is not contiguous, so the mapper must close a chunk between them.
	f2 := mapFile(t, m, g, "second.bin", append(append([]byte{}, blockB...), blockA...))

	require.Len(t, f2.ChunkIndices, 2)
	c1 := g.Chunks[f2.ChunkIndices[0]]
	c2 := g.Chunks[f2.ChunkIndices[1]]
	require.Equal(t, 1, c1.FirstBlockIndex)
	require.Equal(t, 0, c2.FirstBlockIndex)
	require.Len(t, g.Blocks, 2) // no new blocks allocated, fully deduped
}

func TestTailPackingReusesSpareCapacityAcrossFiles(t *testing.T) {
	// Use a block size large enough that two 40+ byte tails can share one
	// tail block.
	g2 := model.NewGraph(128)
	m2 := New(g2, StrategyHashed)

	tail1 := bytes.Repeat([]byte{0x44}, 40)
	tail2 := bytes.Repeat([]byte{0x55}, 40)

	f1 := mapFile(t, m2, g2, "t1.bin", tail1)
	f2 := mapFile(t, m2, g2, "t2.bin", tail2)

	c1 := g2.Chunks[f1.ChunkIndices[0]]
	c2 := g2.Chunks[f2.ChunkIndices[0]]
	require.NotEqual(t, model.NoIndex, c1.TailSliceIndex)
	require.NotEqual(t, model.NoIndex, c2.TailSliceIndex)

	s1 := g2.Slices[c1.TailSliceIndex]
	s2 := g2.Slices[c2.TailSliceIndex]
	require.Equal(t, s1.BlockIndex, s2.BlockIndex, "both 40-byte tails should pack into the same block")
	require.Equal(t, 0, s1.TailOffset)
	require.Equal(t, 40, s2.TailOffset)
	require.Len(t, g2.Blocks, 1)

	// Each tail's checksum must be its own, not the shared block's: reading
	// the second tail's CRC/FP back from the block rather than its slice
	// would silently return the first tail's values.
	require.NotEqual(t, s1.TailCRC, s2.TailCRC, "distinct tails sharing a block must keep distinct checksums")
	require.NotEqual(t, s1.TailFP, s2.TailFP)
}

func TestTailDedupReusesIdenticalTail(t *testing.T) {
	g := model.NewGraph(128)
	m := New(g, StrategyHashed)

	tail := bytes.Repeat([]byte{0x66}, 50)
	f1 := mapFile(t, m, g, "t1.bin", tail)
	f2 := mapFile(t, m, g, "t2.bin", tail)

	c1 := g.Chunks[f1.ChunkIndices[0]]
	c2 := g.Chunks[f2.ChunkIndices[0]]
	s1 := g.Slices[c1.TailSliceIndex]
	s2 := g.Slices[c2.TailSliceIndex]

	require.Equal(t, s1.BlockIndex, s2.BlockIndex)
	require.Equal(t, s1.TailOffset, s2.TailOffset, "identical tails should dedup onto the exact same slot")
	require.Len(t, g.Blocks, 1)
}

func TestSlideSearchFindsUnalignedBlock(t *testing.T) {
	g := model.NewGraph(testBlockSize)
	m := New(g, StrategySlideSearch)

	shared := bytes.Repeat([]byte{0x77}, testBlockSize)
	_ = mapFile(t, m, g, "first.bin", shared)
	require.Len(t, g.Blocks, 1)

	// Second file has the shared block sitting 3 bytes off-alignment, with
	// no natural chunk boundary: aligned scanning alone would never see it.
	prefix := bytes.Repeat([]byte{0x00}, 3)
	content := append(append([]byte{}, prefix...), shared...)
	content = append(content, 0x00) // pad so len > blockSize, forcing a shifted aligned window too
	f2 := mapFile(t, m, g, "second.bin", content)

	// The match should have been found via the slide, without minting a
	// second full block for the same bytes.
	require.Len(t, g.Blocks, 1, "slide search should dedup the shifted block instead of allocating a new one")
	require.NotEmpty(t, f2.ChunkIndices)
}

func TestFingerprintCoversFullFileContent(t *testing.T) {
	g := model.NewGraph(testBlockSize)
	m := New(g, StrategySimple)

	content := bytes.Repeat([]byte{0x09}, testBlockSize*2+3)
	f := mapFile(t, m, g, "a.bin", content)
	require.NotEqual(t, [16]byte{}, f.Fingerprint)
}
