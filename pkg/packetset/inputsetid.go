package packetset

import (
	"encoding/binary"

	"github.com/marmos91/par3/pkg/hashing"
	"github.com/marmos91/par3/pkg/model"
)

// DeriveInputSetID mints a set's identity in two stages: first hash every
// file's name, size, fingerprint, and chunk layout (plus every directory's
// name, plus the base path if the set records absolute paths) down to an
// 8-byte seed; then fold that seed together with the parent set's identity
// and the new set's own field parameters into the final InputSetID. The
// derivation is deterministic, so two scans of the same tree agree.
func DeriveInputSetID(graph *model.Graph, absolutePath string, parentSetID uint64, parentRootFP hashing.Fingerprint, blockSize uint64, galoisWidth uint8, generator uint32) uint64 {
	seed := contentSeed(graph, absolutePath)

	h := hashing.NewFingerprintHasher()
	h.Write(seed[:])

	var buf8 [8]byte
	binary.LittleEndian.PutUint64(buf8[:], parentSetID)
	h.Write(buf8[:])
	h.Write(parentRootFP[:])
	binary.LittleEndian.PutUint64(buf8[:], blockSize)
	h.Write(buf8[:])
	h.Write([]byte{galoisWidth})

	genBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(genBytes, generator)
	h.Write(genBytes[:galoisWidth])

	fp := h.FinalizeTo16()
	return binary.LittleEndian.Uint64(fp[:8])
}

// contentSeed hashes the input set's content in a fixed field order,
// directories after files, truncated to 8 bytes.
func contentSeed(graph *model.Graph, absolutePath string) [8]byte {
	h := hashing.NewFingerprintHasher()
	var buf8 [8]byte

	for _, f := range graph.Files {
		h.Write([]byte(f.Name))
		h.Write([]byte{0})
		binary.LittleEndian.PutUint64(buf8[:], uint64(f.Size))
		h.Write(buf8[:])
		h.Write(f.Fingerprint[:])

		if f.Size > 0 {
			for _, ci := range f.ChunkIndices {
				c := graph.Chunks[ci]
				binary.LittleEndian.PutUint64(buf8[:], uint64(c.Length))
				h.Write(buf8[:])

				if c.HasFirstBlock {
					binary.LittleEndian.PutUint64(buf8[:], uint64(c.FirstBlockIndex))
					h.Write(buf8[:])
				}
				if c.TailSliceIndex != model.NoIndex {
					s := graph.Slices[c.TailSliceIndex]
					binary.LittleEndian.PutUint64(buf8[:], uint64(s.BlockIndex))
					h.Write(buf8[:])
					binary.LittleEndian.PutUint64(buf8[:], uint64(s.TailOffset))
					h.Write(buf8[:])
				}
			}
		}
	}

	for _, d := range graph.Directories {
		h.Write([]byte(d.Name))
		h.Write([]byte{0})
	}

	if absolutePath != "" {
		h.Write([]byte(absolutePath))
		h.Write([]byte{0})
	}

	fp := h.FinalizeTo16()
	var seed [8]byte
	copy(seed[:], fp[:8])
	return seed
}
