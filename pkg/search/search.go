// Package search implements the slide-window verification scan: given a
// byte region pulled from the host filesystem, find which known blocks (or
// block tails) it contains, without assuming the data is aligned or even
// contiguous with the original layout.
package search

import (
	"context"
	"sort"
	"time"

	"github.com/marmos91/par3/pkg/hashing"
	"github.com/marmos91/par3/pkg/hostfs"
	"github.com/marmos91/par3/pkg/metrics"
	"github.com/marmos91/par3/pkg/model"
)

// checkSlideInterval bounds how often the scan checks the context/budget
// deadline, so a cancellation is noticed without paying a syscall per byte.
const checkSlideInterval = 4096

// MatchKind distinguishes a full-block hit from a tail hit.
type MatchKind int

const (
	MatchFull MatchKind = iota
	MatchTail
)

// Match is one located occurrence of a known block (or tail) inside a
// scanned byte region.
type Match struct {
	Offset     int64
	BlockIndex int
	Kind       MatchKind

	// SliceIndex names the specific tail slice this match corresponds to,
	// valid only when Kind == MatchTail (model.NoIndex otherwise): a
	// tail-packed block can hold more than one distinct tail, so a full
	// block is not "found" until every one of its tails has its own match.
	SliceIndex int
}

// Index is the sorted lookup structure the slide scan searches against: one
// sorted CRC list for full blocks, one for 40-byte tail prefixes, each
// entry carrying the fingerprint that confirms or rejects a CRC hit.
type Index struct {
	blockSize int

	fullCRC []crcRef
	tailCRC []crcRef

	// fullByBlock lets a confirmed match at offset p probe for block b+1 at
	// p+blockSize directly, instead of sliding across it byte by byte.
	fullByBlock map[int]crcRef

	collector *metrics.Collector
}

// SetCollector attaches a metrics collector so every match the scan makes
// is recorded against par3_blocks_found_total, labeled by match kind.
// NewIndex starts with metrics.Default(); a nil collector disables
// recording.
func (idx *Index) SetCollector(c *metrics.Collector) {
	idx.collector = c
}

type crcRef struct {
	crc         uint64
	blockIndex  int
	fingerprint hashing.Fingerprint
	sliceIndex  int

	// length is the window the fingerprint covers: the block size for a
	// full block, the tail's own byte count for a tail slice. Tail CRCs
	// cover only the first 40 bytes, so a CRC hit is confirmed by hashing
	// the full length, not the CRC window.
	length int
}

// NewIndex builds a search Index from every block in graph. Tail blocks are
// indexed one entry per tail slice, by the CRC-64 of that slice's own first
// 40 bytes — a tail block can hold more than one tail, and each keeps its
// own checksum, so indexing the shared block's single CRC would only ever
// match whichever tail happened to be first into that block.
func NewIndex(graph *model.Graph) *Index {
	idx := &Index{
		blockSize:   graph.BlockSize,
		fullByBlock: make(map[int]crcRef),
		collector:   metrics.Default(),
	}
	for _, b := range graph.Blocks {
		if b.IsFull() {
			ref := crcRef{crc: b.CRC, blockIndex: b.Index, fingerprint: b.Fingerprint, sliceIndex: model.NoIndex, length: graph.BlockSize}
			idx.fullCRC = append(idx.fullCRC, ref)
			idx.fullByBlock[b.Index] = ref
		}
	}
	for _, s := range graph.Slices {
		if graph.Blocks[s.BlockIndex].IsTailPacked() && s.Length < int64(graph.BlockSize) {
			idx.tailCRC = append(idx.tailCRC, crcRef{crc: s.TailCRC, blockIndex: s.BlockIndex, fingerprint: s.TailFP, sliceIndex: s.Index, length: int(s.Length)})
		}
	}
	sort.Slice(idx.fullCRC, func(i, j int) bool { return idx.fullCRC[i].crc < idx.fullCRC[j].crc })
	sort.Slice(idx.tailCRC, func(i, j int) bool { return idx.tailCRC[i].crc < idx.tailCRC[j].crc })
	return idx
}

// lookupAll returns every ref whose CRC equals crc. Distinct tails can share
// a 40-byte prefix CRC, and unrelated blocks can collide on CRC-64, so all
// candidates must be fingerprint-checked, not just the first.
func lookupAll(list []crcRef, crc uint64) []crcRef {
	i := sort.Search(len(list), func(i int) bool { return list[i].crc >= crc })
	j := i
	for j < len(list) && list[j].crc == crc {
		j++
	}
	return list[i:j]
}

// Budget bounds how much wall-clock time a Scan may spend, so a damaged or
// adversarial input can't wedge a verify pass indefinitely.
type Budget struct {
	Deadline time.Time // zero value means unbounded

	// Clock overrides the wall clock the deadline is checked against.
	// Nil means time.Now; tests substitute a hostfs.FakeClock.
	Clock hostfs.Clock
}

func (b Budget) expired() bool {
	if b.Deadline.IsZero() {
		return false
	}
	now := time.Now()
	if b.Clock != nil {
		now = b.Clock.Now()
	}
	return now.After(b.Deadline)
}

// ErrBudgetExceeded is returned by Scan when the wall-clock budget runs out
// before the region is fully scanned.
var ErrBudgetExceeded = errBudgetExceeded{}

type errBudgetExceeded struct{}

func (errBudgetExceeded) Error() string { return "search: slide scan exceeded its time budget" }

// Scan slides two rolling CRC-64 windows, one block_size wide and one
// 40 bytes wide, across data and reports every full-block or tail match
// found, at whatever byte offset it occurs. Overlapping matches are all
// reported; choosing among them is the caller's job.
//
// Two shortcuts keep the scan near-linear on realistic damage: a uniform
// run of a single repeated byte is skipped in one step, and after a
// confirmed block the next block in index order is probed at the adjacent
// offset first — a hit skips the slide across that whole block.
func (idx *Index) Scan(ctx context.Context, data []byte, budget Budget) ([]Match, error) {
	var matches []Match
	n := int64(len(data))
	bs := int64(idx.blockSize)

	var full *hashing.RollingWindow
	if bs > 0 && n >= bs {
		full = hashing.NewRollingWindow(idx.blockSize, data[0:bs])
	}
	var tail *hashing.RollingWindow
	if n >= 40 {
		tail = hashing.NewRollingWindow(40, data[0:40])
	}

	// resetAt reseeds both windows at pos after a skip, dropping whichever
	// no longer fits before the end of the region.
	resetAt := func(pos int64) {
		if full != nil {
			if pos+bs <= n {
				full.Reset(data[pos : pos+bs])
			} else {
				full = nil
			}
		}
		if tail != nil {
			if pos+40 <= n {
				tail.Reset(data[pos : pos+40])
			} else {
				tail = nil
			}
		}
	}

	pos := int64(0)
	for {
		if pos%checkSlideInterval == 0 {
			select {
			case <-ctx.Done():
				return matches, ctx.Err()
			default:
			}
			if budget.expired() {
				return matches, ErrBudgetExceeded
			}
		}

		if full != nil && pos+bs <= n && UniformRegion(data, pos, bs) {
			end := pos + bs
			for end < n && data[end] == data[pos] {
				end++
			}
			// Skip ahead to the last window that still overlaps the run's
			// trailing edge: every window fully inside a uniform run is
			// identical, so only the run's boundary needs checking.
			if next := end - bs; next > pos {
				pos = next
				resetAt(pos)
			}
		}

		jumped := false
		if full != nil && pos+bs <= n {
			if ref, ok := idx.confirmFull(data, pos, full.Sum()); ok {
				matches = append(matches, Match{Offset: pos, BlockIndex: ref.blockIndex, Kind: MatchFull, SliceIndex: model.NoIndex})
				idx.collector.RecordBlockFound("full")

				// Chunk continuation: the block after this one, if known,
				// most likely sits immediately adjacent. Confirmed hits are
				// consumed without sliding; the slide resumes at the first
				// offset that doesn't continue the chain.
				q := pos
				for q+2*bs <= n {
					next, ok := idx.fullByBlock[ref.blockIndex+1]
					if !ok {
						break
					}
					w := data[q+bs : q+2*bs]
					if hashing.CRC64(w, 0) != next.crc || hashing.BLAKE3Fingerprint(w) != next.fingerprint {
						break
					}
					q += bs
					ref = next
					matches = append(matches, Match{Offset: q, BlockIndex: ref.blockIndex, Kind: MatchFull, SliceIndex: model.NoIndex})
					idx.collector.RecordBlockFound("full")
				}
				if q > pos {
					pos = q + bs
					resetAt(pos)
					jumped = true
				}
			}
		}
		if !jumped && tail != nil && pos+40 <= n {
			for _, ref := range lookupAll(idx.tailCRC, tail.Sum()) {
				end := pos + int64(ref.length)
				if end > n {
					continue
				}
				if hashing.BLAKE3Fingerprint(data[pos:end]) == ref.fingerprint {
					matches = append(matches, Match{Offset: pos, BlockIndex: ref.blockIndex, Kind: MatchTail, SliceIndex: ref.sliceIndex})
					idx.collector.RecordBlockFound("tail")
				}
			}
		}
		if jumped {
			if full == nil && tail == nil {
				break
			}
			continue
		}

		if full != nil && pos+bs < n {
			full.Roll(data[pos], data[pos+bs])
		}
		if tail != nil && pos+40 < n {
			tail.Roll(data[pos], data[pos+40])
		}
		if (full == nil || pos+bs >= n) && (tail == nil || pos+40 >= n) {
			break
		}
		pos++
	}
	return matches, nil
}

// confirmFull fingerprint-checks every full-block ref sharing the rolled
// window's CRC and returns the first that verifies.
func (idx *Index) confirmFull(data []byte, pos int64, crc uint64) (crcRef, bool) {
	for _, ref := range lookupAll(idx.fullCRC, crc) {
		if hashing.BLAKE3Fingerprint(data[pos:pos+int64(ref.length)]) == ref.fingerprint {
			return ref, true
		}
	}
	return crcRef{}, false
}

// AggregateTailCompleteness folds a batch of matches into each touched
// block's State bits: BlockAnyTailFound as soon as one of its tails is
// matched, BlockAnyTailFound|BlockAllTailsFound only once every distinct
// TailOffset the block holds has a match. A tail block can be shared by
// several unrelated tails (spare-capacity packing) or by several slices
// deduped onto the same tail (same TailOffset), so completeness is judged
// by offset coverage, not match count.
func AggregateTailCompleteness(graph *model.Graph, matches []Match) {
	touched := make(map[int]map[int]bool) // blockIndex -> set of matched TailOffsets
	for _, m := range matches {
		if m.Kind != MatchTail || m.SliceIndex == model.NoIndex {
			continue
		}
		s := graph.Slices[m.SliceIndex]
		offsets := touched[s.BlockIndex]
		if offsets == nil {
			offsets = make(map[int]bool)
			touched[s.BlockIndex] = offsets
		}
		offsets[s.TailOffset] = true
	}

	for blockIndex, matchedOffsets := range touched {
		b := graph.Blocks[blockIndex]
		b.State |= model.BlockAnyTailFound

		want := make(map[int]bool)
		for _, s := range graph.SlicesOf(blockIndex) {
			want[s.TailOffset] = true
		}
		complete := true
		for off := range want {
			if !matchedOffsets[off] {
				complete = false
				break
			}
		}
		if complete {
			b.State |= model.BlockAllTailsFound
		}
	}
}

// UniformRegion reports whether data[off:off+length] consists of a single
// repeated byte, which the caller can then skip scanning byte-by-byte —
// sparse files and padding regions are common and a single equality check
// suffices for the whole span.
func UniformRegion(data []byte, off, length int64) bool {
	if length <= 1 {
		return true
	}
	first := data[off]
	for i := off + 1; i < off+length; i++ {
		if data[i] != first {
			return false
		}
	}
	return true
}
