package search

import "github.com/marmos91/par3/pkg/model"

// FileStatus is the five-way verdict a verify pass reports per input file:
// intact, damaged but fixable, damaged beyond repair, entirely absent, or
// present unchanged under a different name.
type FileStatus int

const (
	StatusComplete FileStatus = iota
	StatusRepairable
	StatusDamaged
	StatusMissing
	StatusRenamed
)

func (s FileStatus) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusRepairable:
		return "repairable"
	case StatusDamaged:
		return "damaged"
	case StatusMissing:
		return "missing"
	case StatusRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// RequiredBlocks returns every block index the file's protected chunks
// depend on: the contiguous run of full blocks starting at each chunk's
// first block index, plus any tail block. Chunks whose tail is inlined
// (no block) contribute nothing here — there is nothing to verify on disk.
func RequiredBlocks(graph *model.Graph, f *model.File) []int {
	var out []int
	for _, ci := range f.ChunkIndices {
		c := graph.Chunks[ci]
		if c.Kind != model.ChunkProtected {
			continue
		}
		if c.HasFirstBlock {
			fullBlocks := int(c.Length) / graph.BlockSize
			for i := 0; i < fullBlocks; i++ {
				out = append(out, c.FirstBlockIndex+i)
			}
		}
		if c.TailSliceIndex != model.NoIndex {
			out = append(out, graph.Slices[c.TailSliceIndex].BlockIndex)
		}
	}
	return out
}

// ClassifyFile derives a FileStatus from how many of a file's required
// blocks were located during a verify scan, and whether the lost ones can
// still be reconstructed from recovery data (a decision the caller makes,
// since it depends on how many recovery blocks are available and how many
// other files in the same set are also missing blocks).
func ClassifyFile(graph *model.Graph, f *model.File, found map[int]bool, recoverable bool) FileStatus {
	required := RequiredBlocks(graph, f)
	if len(required) == 0 {
		return StatusComplete
	}

	missing := 0
	for _, bi := range required {
		if !found[bi] {
			missing++
		}
	}

	switch {
	case missing == 0:
		return StatusComplete
	case missing == len(required):
		return StatusMissing
	case recoverable:
		return StatusRepairable
	default:
		return StatusDamaged
	}
}

// DetectRenamed reports whether a file absent from its recorded path was
// nonetheless found, byte-for-byte, somewhere else during the scan: every
// required block was located, but not under the file's own name.
func DetectRenamed(graph *model.Graph, f *model.File, found map[int]bool, pathExists bool) bool {
	if pathExists {
		return false
	}
	required := RequiredBlocks(graph, f)
	for _, bi := range required {
		if !found[bi] {
			return false
		}
	}
	return true
}
