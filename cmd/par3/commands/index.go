package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/marmos91/par3/internal/logger"
	"github.com/marmos91/par3/pkg/config"
	"github.com/marmos91/par3/pkg/container"
	"github.com/marmos91/par3/pkg/hashing"
	"github.com/marmos91/par3/pkg/hostfs"
	"github.com/marmos91/par3/pkg/model"
	"github.com/marmos91/par3/pkg/packet"
	"github.com/marmos91/par3/pkg/packetset"
	"github.com/marmos91/par3/pkg/par3err"
	"github.com/spf13/afero"
)

// loadedSet is everything verify/repair need from a set's critical packets,
// decoded back out of whichever PAR3 files carry them.
type loadedSet struct {
	SetID     uint64
	Graph     *model.Graph
	Width     uint8
	Generator uint32
	RowHints  []uint64
	RootFP    hashing.Fingerprint
	MatrixFP  hashing.Fingerprint
	Creator   string
	Comment   string
}

// readerBufferSize bounds the incremental packet scanner's working set,
// large enough to hold the biggest File packet a reasonably sized set
// produces without growing unbounded.
const readerBufferSize = 4 << 20

// packetFilter dedups packet fingerprints while scanning more than one
// file. Recovery and archive volumes repeat the critical-packet bundle many
// times over, and every repeat would otherwise be re-decoded and re-offered
// to the Manager.
type packetFilter interface {
	SeenOrMark(fp hashing.Fingerprint) (bool, error)
	Close() error
}

// memFilter keeps the seen-set in a plain map; the default when the memory
// budget allows it.
type memFilter map[hashing.Fingerprint]struct{}

func (f memFilter) SeenOrMark(fp hashing.Fingerprint) (bool, error) {
	if _, ok := f[fp]; ok {
		return true, nil
	}
	f[fp] = struct{}{}
	return false, nil
}

func (f memFilter) Close() error { return nil }

// diskFilter spills the seen-set to a temporary packetset.DiskIndex when the
// configured memory limit is too tight to hold one entry per scanned packet.
type diskFilter struct {
	idx *packetset.DiskIndex
	dir string
}

func (f *diskFilter) SeenOrMark(fp hashing.Fingerprint) (bool, error) {
	return f.idx.SeenOrMark(fp)
}

func (f *diskFilter) Close() error {
	err := f.idx.Close()
	os.RemoveAll(f.dir)
	return err
}

// newPacketFilter picks the filter backend from the memory budget against
// the total size of the PAR3 files about to be scanned: a worst case of one
// fingerprint entry per 48-byte packet header would exceed the budget well
// before the scan does, so the seen-set spills to disk once the files
// outgrow it.
func newPacketFilter(cfg *config.Config, totalParBytes int64) packetFilter {
	if cfg == nil || int64(cfg.Memory.Limit) <= 0 || totalParBytes <= int64(cfg.Memory.Limit) {
		return memFilter{}
	}
	dir, err := os.MkdirTemp("", "par3-scan-*")
	if err != nil {
		return memFilter{}
	}
	idx, err := packetset.OpenDiskIndex(dir)
	if err != nil {
		os.RemoveAll(dir)
		return memFilter{}
	}
	logger.Debug("packet scan seen-set spilled to disk", logger.Size(totalParBytes))
	return &diskFilter{idx: idx, dir: dir}
}

// scanPacketsInto feeds every critical packet found in path into mgr. Data
// and Recovery payloads are skipped here — their consumers read them back
// per volume, keyed by block index, and buffering every payload body during
// a metadata scan would defeat the memory budget entirely.
func scanPacketsInto(fs *hostfs.FS, mgr *packetset.Manager, filter packetFilter, path string) error {
	f, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader, err := packet.NewIncrementalReader(f, readerBufferSize)
	if err != nil {
		return err
	}
	for {
		pkt, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("scan %s: %w", path, err)
		}
		if pkt.Type == packet.TypeData || pkt.Type == packet.TypeRecoveryData {
			continue
		}
		if filter != nil {
			seen, err := filter.SeenOrMark(pkt.Fingerprint)
			if err != nil {
				return err
			}
			if seen {
				continue
			}
		}
		mgr.Ingest(pkt)
	}
}

// loadIndex decodes a single index file into a loadedSet. Kept as the plain
// path for callers that already know which file to read; loadSet is the
// base-name entry point verify/repair use.
func loadIndex(fs *hostfs.FS, path string) (*loadedSet, error) {
	mgr := packetset.NewManager()
	if err := scanPacketsInto(fs, mgr, nil, path); err != nil {
		return nil, err
	}
	return decodeLoadedSet(mgr)
}

// loadSet gathers the set's critical packets from every PAR3 file matching
// base — the index file when present, plus every archive and recovery
// volume. The repeated critical-packet bundles inside volumes make the
// index itself recoverable: a deleted or corrupted <base>.par3 does not
// stop a verify or repair as long as one volume survives.
func loadSet(fs *hostfs.FS, cfg *config.Config, base string) (*loadedSet, error) {
	var paths []string
	indexPath := container.IndexFileName(base)
	if ok, _ := afero.Exists(fs, indexPath); ok {
		paths = append(paths, indexPath)
	}
	for _, pattern := range []string{base + ".vol*.par3", base + ".part*.par3"} {
		matches, err := afero.Glob(fs, pattern)
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, par3err.NewInsufficientError("no PAR3 files found for base %q", base)
	}

	var totalBytes int64
	for _, p := range paths {
		if info, err := fs.Stat(p); err == nil {
			totalBytes += info.Size()
		}
	}

	filter := newPacketFilter(cfg, totalBytes)
	defer filter.Close()

	mgr := packetset.NewManager()
	for _, p := range paths {
		if err := scanPacketsInto(fs, mgr, filter, p); err != nil {
			return nil, err
		}
	}
	return decodeLoadedSet(mgr)
}

// decodeLoadedSet resolves the effective SetID among everything mgr
// ingested, prunes foreign sets, and materialises the set's packets back
// into a Graph: one NewFile/NewChunk/NewBlock/AddSlice call per recorded
// descriptor, so the result is indistinguishable from the Graph buildGraph
// would have produced at create time, regardless of which input files are
// present now.
func decodeLoadedSet(mgr *packetset.Manager) (*loadedSet, error) {
	setID, err := effectiveSetID(mgr)
	if err != nil {
		return nil, err
	}
	mgr.Prune(setID)
	packets := mgr.PacketsForSet(setID)

	var (
		start     *packet.StartBody
		cauchy    *packet.CauchyBody
		matrixFP  hashing.Fingerprint
		root      *packet.RootBody
		rootFP    hashing.Fingerprint
		fileBodys []*packet.FileBody
		fileFPs   []hashing.Fingerprint
		dirBodys  []*packet.DirectoryBody
		dirFPs    []hashing.Fingerprint
		extRuns   []*packet.ExternalDataBody
		creator   string
		comment   string
	)

	// Start must be decoded before any File packet (its chunk descriptors
	// need BlockSize to parse), but packetset.Manager makes no ordering
	// guarantee, so it's pulled out in its own pass first.
	for _, pkt := range packets {
		switch pkt.Type {
		case packet.TypeStart:
			start, err = packet.DecodeStart(pkt.Body)
			if err != nil {
				return nil, fmt.Errorf("decode start packet: %w", err)
			}
		case packet.TypeCauchy:
			cauchy, err = packet.DecodeCauchy(pkt.Body)
			if err != nil {
				return nil, fmt.Errorf("decode cauchy packet: %w", err)
			}
			matrixFP = pkt.Fingerprint
		}
	}
	if start == nil {
		return nil, par3err.NewInsufficientError("no start packet found in any scanned file")
	}

	for _, pkt := range packets {
		switch pkt.Type {
		case packet.TypeCreator:
			creator = packet.DecodeCreator(pkt.Body)
		case packet.TypeComment:
			comment = packet.DecodeComment(pkt.Body)
		case packet.TypeFile:
			fb, err := packet.DecodeFile(pkt.Body, start.BlockSize)
			if err != nil {
				return nil, fmt.Errorf("decode file packet: %w", err)
			}
			fileBodys = append(fileBodys, fb)
			fileFPs = append(fileFPs, pkt.Fingerprint)
		case packet.TypeDirectory:
			db, err := packet.DecodeDirectory(pkt.Body)
			if err != nil {
				return nil, fmt.Errorf("decode directory packet: %w", err)
			}
			dirBodys = append(dirBodys, db)
			dirFPs = append(dirFPs, pkt.Fingerprint)
		case packet.TypeRoot:
			root, err = packet.DecodeRoot(pkt.Body)
			if err != nil {
				return nil, fmt.Errorf("decode root packet: %w", err)
			}
			rootFP = pkt.Fingerprint
		case packet.TypeExternalData:
			ed, err := packet.DecodeExternalData(pkt.Body)
			if err != nil {
				return nil, fmt.Errorf("decode external data packet: %w", err)
			}
			extRuns = append(extRuns, ed)
		}
	}

	graph := model.NewGraph(int(start.BlockSize))

	// First pass: allocate every block referenced by any chunk, so slice
	// insertion below always has a target block to thread onto.
	maxBlock := -1
	for _, fb := range fileBodys {
		for _, cd := range fb.Chunks {
			if cd.Size == 0 {
				continue
			}
			if cd.HasFirstBlock {
				fullBlocks := int(cd.Size) / graph.BlockSize
				last := int(cd.FirstBlockIndex) + fullBlocks - 1
				if last > maxBlock {
					maxBlock = last
				}
			}
			if cd.HasTail {
				if int(cd.TailBlock) > maxBlock {
					maxBlock = int(cd.TailBlock)
				}
			}
		}
	}
	for i := 0; i <= maxBlock; i++ {
		graph.NewBlock()
	}

	for _, ed := range extRuns {
		for i, e := range ed.Entries {
			b := graph.Blocks[int(ed.FirstBlockIndex)+i]
			b.CRC = e.CRC
			b.Fingerprint = e.FP
			b.State |= model.BlockHasFullData | model.BlockFullFound | model.BlockChecksumKnown
		}
	}

	for _, fb := range fileBodys {
		file := graph.NewFile(fb.Name)
		file.Fingerprint = fb.Fingerprint
		file.First16KCRC = fb.First16KCRC

		offset := int64(0)
		for _, cd := range fb.Chunks {
			chunk := graph.NewChunk(file.Index)
			chunk.Offset = offset
			chunk.Length = int64(cd.Size)
			file.ChunkIndices = append(file.ChunkIndices, chunk.Index)

			if cd.Size == 0 {
				chunk.Kind = model.ChunkUnprotected
				chunk.UnprotectedSpan = int64(cd.UnprotectedSpan)
				offset += int64(cd.UnprotectedSpan)
				continue
			}

			if cd.HasFirstBlock {
				chunk.HasFirstBlock = true
				chunk.FirstBlockIndex = int(cd.FirstBlockIndex)
				fullBlocks := int(cd.Size) / graph.BlockSize
				for i := 0; i < fullBlocks; i++ {
					bi := chunk.FirstBlockIndex + i
					graph.AddSlice(chunk.Index, bi, offset+int64(i*graph.BlockSize), int64(graph.BlockSize), 0)
				}
			}

			if cd.HasTail {
				remainder := int64(cd.Size) % int64(graph.BlockSize)
				b := graph.Blocks[int(cd.TailBlock)]
				b.State |= model.BlockHasTailData
				if !b.IsFull() && b.Fingerprint == (hashing.Fingerprint{}) {
					// Mirror the block's first tail's checksum, same as
					// packTail does at create time, for any caller that
					// still looks at the block rather than the slice.
					b.CRC = cd.TailCRC
					b.Fingerprint = cd.TailFP
				}
				tailFileOffset := offset + int64(cd.Size) - remainder
				s := graph.AddSlice(chunk.Index, int(cd.TailBlock), tailFileOffset, remainder, int(cd.TailOffset))
				s.TailCRC = cd.TailCRC
				s.TailFP = cd.TailFP
				chunk.TailSliceIndex = s.Index
			} else if len(cd.InlineBytes) > 0 {
				chunk.InlineTail = cd.InlineBytes
			}

			offset += int64(cd.Size)
		}
		file.Size = offset
	}

	rebuildDirectoryForest(graph, root, dirBodys, fileFPs, dirFPs)

	var rowHints []uint64
	if cauchy != nil {
		rowHints = cauchy.RowHints
	}
	return &loadedSet{
		SetID:     setID,
		Graph:     graph,
		Width:     start.GaloisWidth,
		Generator: start.Generator,
		RowHints:  rowHints,
		RootFP:    rootFP,
		MatrixFP:  matrixFP,
		Creator:   creator,
		Comment:   comment,
	}, nil
}

// effectiveSetID picks which SetID's packets to decode when mgr holds more
// than one family: the root family with the most total ingested packets
// (the real set, versus a smaller unrelated PAR3 file's stray packets
// dropped in the same stream), and within that family the deepest
// descendant in its ParentSetID chain — the most specific derived set,
// which is always the one a create/repair run actually produced last.
func effectiveSetID(mgr *packetset.Manager) (uint64, error) {
	ids := mgr.KnownSetIDs()
	if len(ids) == 0 {
		return 0, par3err.NewInsufficientError("no packets found")
	}

	chains := make(map[uint64][]uint64, len(ids))
	familySize := make(map[uint64]int, len(ids))
	for _, id := range ids {
		chain := mgr.ResolveChain(id)
		chains[id] = chain
		familySize[chain[0]] += len(mgr.PacketsForSet(id))
	}

	var bestRoot uint64
	bestCount := -1
	for root, count := range familySize {
		if count > bestCount {
			bestRoot, bestCount = root, count
		}
	}

	var best uint64
	bestDepth := -1
	for _, id := range ids {
		chain := chains[id]
		if chain[0] != bestRoot {
			continue
		}
		if len(chain) > bestDepth {
			best, bestDepth = id, len(chain)
		}
	}
	return best, nil
}

// rebuildDirectoryForest reconstructs the Graph's Directory tree from the
// Directory and Root packets' fingerprint-referenced child lists, mirroring
// buildGraph's dirTree in reverse: every directory is resolved to a File or
// Directory index by matching the fingerprint its own File/Directory packet
// was stamped with (pkt.Fingerprint, captured per-packet while scanning).
func rebuildDirectoryForest(graph *model.Graph, root *packet.RootBody, dirBodys []*packet.DirectoryBody, fileFPs, dirFPs []hashing.Fingerprint) {
	fpToFile := make(map[hashing.Fingerprint]int, len(fileFPs))
	for i, fp := range fileFPs {
		fpToFile[fp] = i
	}

	rootDir := graph.NewDirectory("")
	graph.RootIndex = rootDir.Index

	fpToDir := make(map[hashing.Fingerprint]int, len(dirBodys))
	for i, db := range dirBodys {
		d := graph.NewDirectory(db.Name)
		fpToDir[dirFPs[i]] = d.Index
	}

	link := func(d *model.Directory, children []hashing.Fingerprint) {
		for _, fp := range children {
			if fi, ok := fpToFile[fp]; ok {
				d.FileIdx = append(d.FileIdx, fi)
			} else if di, ok := fpToDir[fp]; ok {
				d.DirIdx = append(d.DirIdx, di)
			}
		}
	}

	for i, db := range dirBodys {
		link(graph.Directories[rootDir.Index+1+i], db.Children)
	}
	if root != nil {
		link(rootDir, root.Children)
	}
}
