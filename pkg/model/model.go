// Package model holds the (File, Directory, Chunk, Slice, Block) graph that
// the mapper, search, and repair packages all share. Slices
// form singly-linked lists rooted at their block; they are represented as
// arena indices rather than pointers so the graph stays relocatable while
// the arena grows during dedup.
package model

import "github.com/marmos91/par3/pkg/hashing"

// NoIndex is the "end of list" / "unset" sentinel for arena indices.
const NoIndex = -1

// Block state bits.
const (
	BlockHasFullData   uint8 = 0x01
	BlockHasTailData   uint8 = 0x02
	BlockFullFound     uint8 = 0x04
	BlockAnyTailFound  uint8 = 0x08
	BlockAllTailsFound uint8 = 0x10
	BlockChecksumKnown uint8 = 0x40
)

// Block is a fixed-size storage cell of BlockSize bytes.
type Block struct {
	Index int

	// Size is the number of bytes currently assigned: block_size for a
	// full block, or the running max(tail_offset+length) for a tail block.
	Size int

	CRC         uint64
	Fingerprint hashing.Fingerprint
	State       uint8

	// FirstSlice is the arena index of the first Slice threaded onto this
	// block's singly-linked list, in insertion order. NoIndex if empty.
	FirstSlice int
}

// IsFull reports whether the block holds a single full-size slice.
func (b *Block) IsFull() bool { return b.State&BlockHasFullData != 0 }

// IsTailPacked reports whether the block holds one or more tail slices.
func (b *Block) IsTailPacked() bool { return b.State&BlockHasTailData != 0 }

// Slice is the (file, offset, length) tuple naming one chunk-sized
// contribution to a block.
type Slice struct {
	Index int

	ChunkIndex int
	BlockIndex int

	FileOffset int64
	Length     int64

	// TailOffset is this slice's byte offset inside its block. For a full
	// slice this is always 0.
	TailOffset int

	// TailCRC and TailFP are this slice's own 40-byte-prefix CRC and
	// whole-tail fingerprint, valid only for a tail slice (TailOffset's
	// block is tail-packed). Stored per-slice rather than read back off the
	// shared block, since a tail block can hold more than one tail and each
	// keeps its own checksum.
	TailCRC uint64
	TailFP  hashing.Fingerprint

	// Next is the arena index of the next slice sharing this block, or
	// NoIndex at the end of the list.
	Next int
}

// ChunkKind distinguishes the two roles a Chunk can play.
type ChunkKind int

const (
	ChunkProtected ChunkKind = iota
	ChunkUnprotected
)

// Chunk is a contiguous byte range of a specific file.
type Chunk struct {
	Index int

	FileIndex int
	Offset    int64
	Length    int64
	Kind      ChunkKind

	// FirstBlockIndex is the index of the first full block this chunk's
	// full-block run starts at. Valid only when Kind == ChunkProtected and
	// the chunk spans at least one full block.
	HasFirstBlock   bool
	FirstBlockIndex int

	// TailSliceIndex, when >= 0, names this chunk's tail contribution in
	// the Slice arena (a tail of >= 40 bytes living in a tail-packed
	// block). NoIndex if the chunk has no tail or the tail is tiny.
	TailSliceIndex int

	// InlineTail holds tiny-tail bytes (1..39) that never touch a block,
	// inlined directly in the File packet's chunk descriptor.
	InlineTail []byte

	// UnprotectedSpan is the byte count of an unprotected chunk (Kind ==
	// ChunkUnprotected): used by "PAR inside" containers.
	UnprotectedSpan int64
}

// File is one input file.
type File struct {
	Index int

	Name        string
	Size        int64
	Fingerprint hashing.Fingerprint
	First16KCRC uint64

	ChunkIndices []int
}

// Directory is a named list of children.
type Directory struct {
	Index int

	Name    string
	FileIdx []int
	DirIdx  []int
}

// Graph is the arena holding every File, Directory, Chunk, Slice, and Block
// produced by the mapper for one input set.
type Graph struct {
	BlockSize int

	Files       []*File
	Directories []*Directory
	Chunks      []*Chunk
	Slices      []*Slice
	Blocks      []*Block

	RootIndex int // index into Directories naming the root marker
}

// NewGraph returns an empty Graph for the given block size.
func NewGraph(blockSize int) *Graph {
	return &Graph{BlockSize: blockSize, RootIndex: NoIndex}
}

// NewFile appends a new File and returns it.
func (g *Graph) NewFile(name string) *File {
	f := &File{Index: len(g.Files), Name: name}
	g.Files = append(g.Files, f)
	return f
}

// NewDirectory appends a new Directory and returns it.
func (g *Graph) NewDirectory(name string) *Directory {
	d := &Directory{Index: len(g.Directories), Name: name}
	g.Directories = append(g.Directories, d)
	return d
}

// NewChunk appends a new Chunk bound to fileIndex and returns it.
func (g *Graph) NewChunk(fileIndex int) *Chunk {
	c := &Chunk{Index: len(g.Chunks), FileIndex: fileIndex, TailSliceIndex: NoIndex}
	g.Chunks = append(g.Chunks, c)
	return c
}

// NewBlock appends a new Block and returns it.
func (g *Graph) NewBlock() *Block {
	b := &Block{Index: len(g.Blocks), FirstSlice: NoIndex}
	g.Blocks = append(g.Blocks, b)
	return b
}

// AddSlice appends a new Slice for chunk->block and threads it onto the
// block's slice list in insertion order.
func (g *Graph) AddSlice(chunkIndex, blockIndex int, fileOffset, length int64, tailOffset int) *Slice {
	s := &Slice{
		Index:      len(g.Slices),
		ChunkIndex: chunkIndex,
		BlockIndex: blockIndex,
		FileOffset: fileOffset,
		Length:     length,
		TailOffset: tailOffset,
		Next:       NoIndex,
	}
	g.Slices = append(g.Slices, s)

	block := g.Blocks[blockIndex]
	if block.FirstSlice == NoIndex {
		block.FirstSlice = s.Index
	} else {
		last := g.Slices[block.FirstSlice]
		for last.Next != NoIndex {
			last = g.Slices[last.Next]
		}
		last.Next = s.Index
	}

	end := tailOffset + int(length)
	if end > block.Size {
		block.Size = end
	}
	return s
}

// SlicesOf iterates a block's slice list in insertion order.
func (g *Graph) SlicesOf(blockIndex int) []*Slice {
	var out []*Slice
	for idx := g.Blocks[blockIndex].FirstSlice; idx != NoIndex; {
		s := g.Slices[idx]
		out = append(out, s)
		idx = s.Next
	}
	return out
}
