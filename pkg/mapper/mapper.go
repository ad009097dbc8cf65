// Package mapper turns input files into the (Chunk, Slice, Block) graph
// with dedup and tail packing, per one of three strategies.
package mapper

import (
	"sort"

	"github.com/marmos91/par3/pkg/gf"
	"github.com/marmos91/par3/pkg/hashing"
	"github.com/marmos91/par3/pkg/model"
)

// Strategy selects one of the three mapping behaviors.
type Strategy int

const (
	// StrategySimple performs tail packing within a file but never
	// deduplicates full blocks.
	StrategySimple Strategy = iota
	// StrategyHashed deduplicates full, block-aligned blocks across the
	// whole input set by CRC-64 + fingerprint.
	StrategyHashed
	// StrategySlideSearch additionally rolls a window across unaligned
	// offsets to find blocks the aligned scan would miss.
	StrategySlideSearch
)

type crcEntry struct {
	crc        uint64
	blockIndex int
}

type tailEntry struct {
	size        int
	fingerprint hashing.Fingerprint
	blockIndex  int
}

// Mapper builds a model.Graph incrementally, one file at a time: a single
// capability with BeginFile/Feed/EndFile, strategy fixed at construction.
// There is no strategy switching mid-stream.
type Mapper struct {
	graph     *model.Graph
	strategy  Strategy
	blockSize int

	// crcIndex is kept sorted by crc for binary search.
	crcIndex []crcEntry
	// tailIndex is compared by (size, fingerprint) rather than block
	// fingerprint: a tail block's own checksum only describes its first
	// tail.
	tailIndex []tailEntry
	// tailBlocks lists indices of blocks that still have spare tail-packing
	// capacity, in the order they were opened.
	tailBlocks []int

	// current file state, reset by BeginFile.
	file       *model.File
	buf        []byte
	globalTail bool // tail packing scope: per-file (Simple) or global (others)
}

// New returns a Mapper that will build into graph using the given strategy.
func New(graph *model.Graph, strategy Strategy) *Mapper {
	return &Mapper{
		graph:      graph,
		strategy:   strategy,
		blockSize:  graph.BlockSize,
		globalTail: strategy != StrategySimple,
	}
}

// BeginFile starts mapping a new file.
func (m *Mapper) BeginFile(f *model.File) {
	m.file = f
	m.buf = m.buf[:0]
	if !m.globalTail {
		m.tailBlocks = nil
	}
}

// Feed appends bytes to the file's pending buffer. It may be called any
// number of times; the full content is processed at EndFile.
func (m *Mapper) Feed(data []byte) {
	m.buf = append(m.buf, data...)
}

// EndFile finalizes the current file: builds its Chunk/Slice/Block graph,
// computes its fingerprint over protected bytes in emission order, and
// returns it. The File's Size field is also set.
func (m *Mapper) EndFile() *model.File {
	f := m.file
	data := m.buf
	f.Size = int64(len(data))

	head := data
	if len(head) > 16<<10 {
		head = head[:16<<10]
	}
	f.First16KCRC = hashing.CRC64(head, 0)

	hasher := hashing.NewFingerprintHasher()
	bs := m.blockSize

	var (
		chunk         *model.Chunk
		expectedNext  = -1
		chunkStartOff int64
	)

	closeChunk := func(endOff int64) {
		if chunk == nil {
			return
		}
		chunk.Length = endOff - chunkStartOff
		f.ChunkIndices = append(f.ChunkIndices, chunk.Index)
		chunk = nil
	}

	openChunk := func(startOff int64, firstBlock int, hasBlock bool) {
		c := m.graph.NewChunk(f.Index)
		c.Offset = startOff
		c.Kind = model.ChunkProtected
		c.HasFirstBlock = hasBlock
		c.FirstBlockIndex = firstBlock
		chunk = c
		chunkStartOff = startOff
	}

	pos := int64(0)
	n := int64(len(data))

	for pos+int64(bs) <= n {
		window := data[pos : pos+int64(bs)]

		blockIndex, matched := -1, false
		skipped := 0
		if m.strategy != StrategySimple {
			blockIndex, matched = m.lookupFullBlock(window)
		}
		if !matched && m.strategy == StrategySlideSearch {
			// Roll forward up to bs-1 extra bytes looking for a
			// previously-seen full block at an unaligned offset.
			if found, shift := m.slideForMatch(data, pos, n); found >= 0 {
				blockIndex = found
				matched = true
				skipped = shift
			}
		}

		if matched && skipped > 0 {
			// Flush the skipped bytes as their own tail before resuming
			// at the matched, realigned position.
			closeChunk(pos)
			m.emitTail(f, data[pos:pos+int64(skipped)], pos)
			pos += int64(skipped)
			window = data[pos : pos+int64(bs)]
		}

		if !matched {
			b := m.graph.NewBlock()
			b.CRC = hashing.CRC64(window, 0)
			b.Fingerprint = hashing.BLAKE3Fingerprint(window)
			b.State |= model.BlockHasFullData | model.BlockFullFound | model.BlockChecksumKnown
			blockIndex = b.Index
			if m.strategy != StrategySimple {
				m.insertCRC(b.CRC, b.Index)
			}
		}

		if chunk == nil {
			openChunk(pos, blockIndex, true)
			expectedNext = blockIndex + 1
		} else if blockIndex == expectedNext {
			expectedNext++
		} else {
			// Chunk boundary rule: block indices not contiguous -> new chunk.
			closeChunk(pos)
			openChunk(pos, blockIndex, true)
			expectedNext = blockIndex + 1
		}

		m.graph.AddSlice(chunk.Index, blockIndex, pos, int64(bs), 0)
		hasher.Write(window)
		pos += int64(bs)
	}

	remainder := n - pos
	if remainder > 0 {
		if chunk == nil {
			openChunk(pos, 0, false)
		}
		tailBytes := data[pos:n]
		if remainder >= 40 {
			m.packTail(f, tailBytes, pos, chunk)
		} else {
			chunk.InlineTail = append([]byte(nil), tailBytes...)
		}
		hasher.Write(tailBytes)
		pos = n
	}
	closeChunk(pos)

	f.Fingerprint = hasher.FinalizeTo16()
	m.file = nil
	return f
}

// lookupFullBlock binary-searches the sorted CRC index, verifying the full
// fingerprint on a CRC hit.
func (m *Mapper) lookupFullBlock(window []byte) (int, bool) {
	return m.lookupByCRC(hashing.CRC64(window, 0), window)
}

// lookupByCRC is the shared binary-search-then-verify step, usable with a
// CRC computed either from scratch or incrementally via RollingWindow.
func (m *Mapper) lookupByCRC(crc uint64, window []byte) (int, bool) {
	i := sort.Search(len(m.crcIndex), func(i int) bool { return m.crcIndex[i].crc >= crc })
	if i >= len(m.crcIndex) || m.crcIndex[i].crc != crc {
		return -1, false
	}
	fp := hashing.BLAKE3Fingerprint(window)
	for j := i; j < len(m.crcIndex) && m.crcIndex[j].crc == crc; j++ {
		if m.graph.Blocks[m.crcIndex[j].blockIndex].Fingerprint == fp {
			return m.crcIndex[j].blockIndex, true
		}
	}
	return -1, false
}

func (m *Mapper) insertCRC(crc uint64, blockIndex int) {
	i := sort.Search(len(m.crcIndex), func(i int) bool { return m.crcIndex[i].crc >= crc })
	m.crcIndex = append(m.crcIndex, crcEntry{})
	copy(m.crcIndex[i+1:], m.crcIndex[i:])
	m.crcIndex[i] = crcEntry{crc: crc, blockIndex: blockIndex}
}

// slideForMatch rolls a CRC window across up to blockSize-1 positions
// starting at pos+1, looking for a previously-seen full block. It returns
// the matched block index and the byte shift at which it was found, or
// (-1, 0) if nothing matched before the window ran out of room.
func (m *Mapper) slideForMatch(data []byte, pos, n int64) (int, int) {
	bs := int64(m.blockSize)
	limit := bs - 1
	if pos+bs+limit > n {
		limit = n - pos - bs
	}
	if limit <= 0 || len(m.crcIndex) == 0 {
		return -1, 0
	}
	rw := hashing.NewRollingWindow(m.blockSize, data[pos+1:pos+1+bs])
	for shift := int64(1); ; shift++ {
		if blockIndex, ok := m.lookupByCRC(rw.Sum(), data[pos+shift:pos+shift+bs]); ok {
			return blockIndex, int(shift)
		}
		if shift == limit {
			break
		}
		rw.Roll(data[pos+shift], data[pos+shift+bs])
	}
	return -1, 0
}

// emitTail attaches a standalone tail (no preceding full blocks in this
// chunk) to a fresh chunk, used when slide-search skips over bytes between
// matched blocks.
func (m *Mapper) emitTail(f *model.File, tail []byte, offset int64) {
	c := m.graph.NewChunk(f.Index)
	c.Offset = offset
	c.Kind = model.ChunkProtected
	c.Length = int64(len(tail))
	if len(tail) >= 40 {
		m.packTail(f, tail, offset, c)
	} else {
		c.InlineTail = append([]byte(nil), tail...)
	}
	f.ChunkIndices = append(f.ChunkIndices, c.Index)
}

// packTail implements the tail-packing and tail-dedup
// policy: reuse a block with spare capacity, or dedup against
// an existing tail of identical size and fingerprint, before opening a new
// tail block.
func (m *Mapper) packTail(f *model.File, tail []byte, fileOffset int64, chunk *model.Chunk) {
	size := len(tail)
	fp := hashing.BLAKE3Fingerprint(tail)
	crc40 := hashing.CRC64(tail[:40], 0)

	if m.strategy != StrategySimple {
		for _, te := range m.tailIndex {
			if te.size == size && te.fingerprint == fp {
				block := m.graph.Blocks[te.blockIndex]
				tailOffset := m.findSliceForTailReuse(block, size)
				slice := m.graph.AddSlice(chunk.Index, block.Index, fileOffset, int64(size), tailOffset)
				slice.TailCRC = crc40
				slice.TailFP = fp
				chunk.TailSliceIndex = slice.Index
				return
			}
		}
	}

	blockIndex, tailOffset := m.findTailCapacity(size)
	var block *model.Block
	if blockIndex < 0 {
		block = m.graph.NewBlock()
		m.tailBlocks = append(m.tailBlocks, block.Index)
		tailOffset = 0
	} else {
		block = m.graph.Blocks[blockIndex]
	}

	block.State |= model.BlockHasTailData
	if tailOffset == 0 {
		// The block's own CRC/fingerprint mirror its first tail's, kept for
		// any caller that still looks at the block rather than the slice
		// (e.g. dedup's tailIndex entry below).
		block.CRC = crc40
		block.Fingerprint = fp
	}
	slice := m.graph.AddSlice(chunk.Index, block.Index, fileOffset, int64(size), tailOffset)
	slice.TailCRC = crc40
	slice.TailFP = fp
	chunk.TailSliceIndex = slice.Index

	if m.strategy != StrategySimple {
		m.tailIndex = append(m.tailIndex, tailEntry{size: size, fingerprint: fp, blockIndex: block.Index})
	}
}

// findTailCapacity returns the first tail block with at least `size` bytes
// of spare room, or (-1, 0) if none qualifies.
func (m *Mapper) findTailCapacity(size int) (int, int) {
	for _, bi := range m.tailBlocks {
		b := m.graph.Blocks[bi]
		if m.blockSize-b.Size >= size {
			return bi, b.Size
		}
	}
	return -1, 0
}

// findSliceForTailReuse returns the tail_offset of any existing slice of
// the given size already packed into block, for dedup reuse.
func (m *Mapper) findSliceForTailReuse(block *model.Block, size int) int {
	for _, s := range m.graph.SlicesOf(block.Index) {
		if int(s.Length) == size {
			return s.TailOffset
		}
	}
	return 0
}

// SelectField returns the GF field the mapper's resulting block count
// requires, given an additional recovery-block count.
func SelectField(graph *model.Graph, recoveryBlocks int) (gf.Width, error) {
	total := len(graph.Blocks) + recoveryBlocks
	width := gf.SelectWidth(total)
	_, err := gf.New(width, 0)
	return width, err
}
