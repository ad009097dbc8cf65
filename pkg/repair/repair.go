// Package repair implements the repair driver: given which blocks a scan
// found and which it didn't, it selects recovery blocks, reconstructs every
// lost data block via pkg/rs, and distributes the reconstructed bytes back
// into target files.
package repair

import (
	"fmt"
	"sort"
	"time"

	"github.com/marmos91/par3/pkg/gf"
	"github.com/marmos91/par3/pkg/metrics"
	"github.com/marmos91/par3/pkg/model"
	"github.com/marmos91/par3/pkg/rs"
)

// ErrNotPossible is returned when more blocks are lost than there are
// recovery blocks with payload available to cover them.
var ErrNotPossible = fmt.Errorf("repair: lost block count exceeds available recovery blocks")

// SelectRecoveryBlocks picks exactly count recovery-block indices to use,
// preferring the lowest-indexed available rows. This keeps the chosen
// submatrix, and therefore the repair outcome, stable across repeated
// repair attempts against the same PAR set.
func SelectRecoveryBlocks(available []int, count int) ([]int, error) {
	if count > len(available) {
		return nil, ErrNotPossible
	}
	sorted := append([]int(nil), available...)
	sort.Ints(sorted)
	return sorted[:count], nil
}

// Plan is the result of running the repair driver's matrix-solve stage: the
// reconstructed bytes for every block that was missing, keyed by block
// index.
type Plan struct {
	Reconstructed map[int][]byte
}

// Reconstruct counts lost blocks,
// picks recovery rows, builds the Cauchy submatrix, and solves for every
// missing data block's bytes. availableData must hold every data block NOT
// in missingData; recoveryData must hold every block named by the
// selected recovery rows (a subset of recoveryAvailable is fine — only
// len(missingData) rows are used).
func Reconstruct(field *gf.Field, params rs.CauchyParams, blockSize int,
	missingData []int, recoveryAvailable []int,
	availableData map[int][]byte, recoveryData map[int][]byte) (Plan, error) {

	m := len(missingData)
	if m == 0 {
		return Plan{Reconstructed: map[int][]byte{}}, nil
	}

	usedRecovery, err := SelectRecoveryBlocks(recoveryAvailable, m)
	if err != nil {
		return Plan{}, err
	}

	data := make(map[int][]byte, len(availableData))
	for k, v := range availableData {
		data[k] = v
	}
	recovery := make(map[int][]byte, len(usedRecovery))
	for _, ri := range usedRecovery {
		rd, ok := recoveryData[ri]
		if !ok {
			return Plan{}, fmt.Errorf("repair: selected recovery block %d has no payload", ri)
		}
		recovery[ri] = rd
	}

	start := time.Now()
	reconstructed, err := rs.Decode(field, params, blockSize, missingData, usedRecovery, data, recovery)
	metrics.Default().ObserveDecodeSeconds(time.Since(start).Seconds())
	if err != nil {
		return Plan{}, err
	}
	return Plan{Reconstructed: reconstructed}, nil
}

// Distribute writes every slice of each
// reconstructed block into its owning file at the slice's recorded offset,
// via the supplied writeAt callback (fileIndex, fileOffset, data). Tiny
// chunk tails that were never block-resident are not covered here — they
// come straight from the chunk descriptor's InlineTail, via RestoreFiles.
func Distribute(graph *model.Graph, plan Plan, writeAt func(fileIndex int, fileOffset int64, data []byte) error) error {
	for blockIndex, data := range plan.Reconstructed {
		for _, slice := range graph.SlicesOf(blockIndex) {
			chunk := graph.Chunks[slice.ChunkIndex]
			start := slice.TailOffset
			end := start + int(slice.Length)
			if end > len(data) {
				return fmt.Errorf("repair: slice %d reads past reconstructed block %d (%d > %d)", slice.Index, blockIndex, end, len(data))
			}
			if err := writeAt(chunk.FileIndex, slice.FileOffset, data[start:end]); err != nil {
				return err
			}
		}
	}
	return nil
}

// RestoreFiles rebuilds every file NOT marked intact, slice by slice:
// reconstructed blocks come from plan, everything else from available
// (which holds surviving blocks wherever they were actually found — a
// block that only survives inside a renamed copy still restores the
// recorded file). Tiny inline tails are written straight from their chunk
// descriptors. Files marked intact are never touched.
func RestoreFiles(graph *model.Graph, plan Plan, available map[int][]byte, intact map[int]bool, writeAt func(fileIndex int, fileOffset int64, data []byte) error) error {
	if err := Distribute(graph, plan, writeAt); err != nil {
		return err
	}

	for _, s := range graph.Slices {
		chunk := graph.Chunks[s.ChunkIndex]
		if intact[chunk.FileIndex] {
			continue
		}
		if _, ok := plan.Reconstructed[s.BlockIndex]; ok {
			continue // already written by Distribute
		}
		data, ok := available[s.BlockIndex]
		if !ok {
			return fmt.Errorf("repair: block %d needed by %s is neither present nor reconstructed", s.BlockIndex, graph.Files[chunk.FileIndex].Name)
		}
		start := s.TailOffset
		end := start + int(s.Length)
		if end > len(data) {
			return fmt.Errorf("repair: slice %d reads past block %d (%d > %d)", s.Index, s.BlockIndex, end, len(data))
		}
		if err := writeAt(chunk.FileIndex, s.FileOffset, data[start:end]); err != nil {
			return err
		}
	}

	for _, f := range graph.Files {
		if intact[f.Index] {
			continue
		}
		for _, ci := range f.ChunkIndices {
			c := graph.Chunks[ci]
			if len(c.InlineTail) == 0 {
				continue
			}
			off := c.Offset + c.Length - int64(len(c.InlineTail))
			if err := writeAt(f.Index, off, c.InlineTail); err != nil {
				return err
			}
		}
	}
	return nil
}
