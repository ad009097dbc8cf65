package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/marmos91/par3/internal/logger"
	"github.com/marmos91/par3/pkg/config"
	"github.com/marmos91/par3/pkg/container"
	"github.com/marmos91/par3/pkg/gf"
	"github.com/marmos91/par3/pkg/hashing"
	"github.com/marmos91/par3/pkg/hostfs"
	"github.com/marmos91/par3/pkg/metrics"
	"github.com/marmos91/par3/pkg/model"
	"github.com/marmos91/par3/pkg/packet"
	"github.com/marmos91/par3/pkg/par3err"
	"github.com/marmos91/par3/pkg/repair"
	"github.com/marmos91/par3/pkg/rs"
	"github.com/marmos91/par3/pkg/search"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var repairOutBase string

var repairCmd = &cobra.Command{
	Use:   "repair [base name]",
	Short: "Reconstruct damaged or missing blocks from recovery volumes",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRepair,
}

func init() {
	repairCmd.Flags().StringVarP(&repairOutBase, "out", "o", "", "base name of the set to repair (default: positional argument)")
}

func runRepair(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.Config(cfg.Logging)); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	base := repairOutBase
	if base == "" && len(args) > 0 {
		base = args[0]
	}
	if base == "" {
		return fmt.Errorf("no base name given: pass one positionally or via --out")
	}

	fs := hostfs.NewOS()
	set, err := loadSet(fs, cfg, base)
	if err != nil {
		return fmt.Errorf("load set: %w", err)
	}

	missing, found, location, tailLoc, err := scanForMissingBlocks(set.Graph, fs, cfg)
	if err != nil {
		return fmt.Errorf("scan inputs: %w", err)
	}

	archiveData, err := loadArchiveData(fs, base)
	if err != nil {
		return fmt.Errorf("load archive volumes: %w", err)
	}
	for bi := range archiveData {
		found[bi] = true
	}
	missing = missing[:0]
	for _, b := range set.Graph.Blocks {
		if !found[b.Index] {
			missing = append(missing, b.Index)
		}
	}

	intact := intactFiles(fs, set.Graph)
	if len(missing) == 0 && len(intact) == len(set.Graph.Files) {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to repair: every file is complete")
		return nil
	}

	available := make(map[int][]byte, len(found))
	for bi := range archiveData {
		available[bi] = archiveData[bi]
	}
	for bi := range found {
		if _, ok := available[bi]; ok {
			continue
		}
		var data []byte
		if loc, ok := location[bi]; ok {
			// This block was matched somewhere other than its recorded
			// file/offset (e.g. a renamed or misplaced file) — read it back
			// from where the scan actually found it.
			data, err = readRange(fs, loc.path, loc.offset, int64(set.Graph.BlockSize))
		} else {
			data, err = readBlockBytes(fs, set.Graph, bi, tailLoc)
		}
		if err != nil {
			return fmt.Errorf("read surviving block %d: %w", bi, err)
		}
		available[bi] = data
	}

	plan := repair.Plan{Reconstructed: map[int][]byte{}}
	if len(missing) > 0 {
		recoveryData, err := loadRecoveryData(fs, base, set)
		if err != nil {
			return fmt.Errorf("load recovery volumes: %w", err)
		}
		if len(recoveryData) < len(missing) {
			return par3err.NewCoded(par3err.CodeRepairNotPossible,
				"repair not possible: %d blocks missing but only %d recovery blocks available", len(missing), len(recoveryData))
		}

		field, err := gf.New(gf.Width(set.Width), set.Generator)
		if err != nil {
			return fmt.Errorf("build field: %w", err)
		}

		// Each recovery row's x-value depends only on its own index, so the
		// rebuilt row set must reach the highest surviving index — volumes
		// for the low indices may be the ones that were lost.
		rowCount := 0
		for i := range recoveryData {
			if i+1 > rowCount {
				rowCount = i + 1
			}
		}
		params, err := rs.DefaultCauchyParams(field, len(set.Graph.Blocks), rowCount, set.RowHints)
		if err != nil {
			return fmt.Errorf("rebuild cauchy params: %w", err)
		}

		recoveryAvailable := make([]int, 0, len(recoveryData))
		for i := range recoveryData {
			recoveryAvailable = append(recoveryAvailable, i)
		}

		plan, err = repair.Reconstruct(field, params, set.Graph.BlockSize, missing, recoveryAvailable, available, recoveryData)
		if errors.Is(err, repair.ErrNotPossible) {
			return par3err.NewCoded(par3err.CodeRepairNotPossible, "repair not possible: %v", err)
		}
		if err != nil {
			return fmt.Errorf("reconstruct: %w", err)
		}
	}

	staging := newStagedWriter(fs)
	defer staging.discardUnpromoted()
	writeAt := staging.writeAt(set.Graph)
	if err := repair.RestoreFiles(set.Graph, plan, available, intact, writeAt); err != nil {
		return fmt.Errorf("restore files: %w", err)
	}
	// A non-intact file with no slice to write (an empty file, deleted)
	// still needs its staged copy created so promotion recreates it.
	for _, f := range set.Graph.Files {
		if intact[f.Index] {
			continue
		}
		if _, ok := staging.staged[f.Index]; !ok {
			if err := writeAt(f.Index, 0, nil); err != nil {
				return fmt.Errorf("stage %s: %w", f.Name, err)
			}
		}
	}
	if err := staging.promoteAll(); err != nil {
		return fmt.Errorf("promote repaired files: %w", err)
	}

	// Every rewritten file must now hash back to its recorded fingerprint;
	// anything less means the reconstruction itself went wrong, which is
	// worse reported loudly than papered over.
	for _, f := range set.Graph.Files {
		if intact[f.Index] {
			continue
		}
		data, err := readAll(fs, f.Name)
		if err != nil {
			return fmt.Errorf("reread repaired file %s: %w", f.Name, err)
		}
		if hashing.BLAKE3Fingerprint(data) != f.Fingerprint {
			return par3err.NewIntegrityError("repaired file %s does not match its recorded fingerprint", f.Name)
		}
	}

	statuses := repair.ReverifyFiles(set.Graph, set.Graph.Files, found, plan)
	for _, f := range set.Graph.Files {
		fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", statuses[f.Index], f.Name)
		metrics.Default().RecordRepairReconciled(statuses[f.Index].String())
	}
	logger.Info("repair complete", logger.RecoveryCount(len(plan.Reconstructed)))
	return nil
}

// intactFiles reports which recorded files are already bit-perfect on disk
// under their own names, cheapest checks first.
func intactFiles(fs *hostfs.FS, graph *model.Graph) map[int]bool {
	intact := make(map[int]bool, len(graph.Files))
	for _, f := range graph.Files {
		data, err := readAll(fs, f.Name)
		if err != nil || int64(len(data)) != f.Size {
			continue
		}
		if hashing.BLAKE3Fingerprint(data) == f.Fingerprint {
			intact[f.Index] = true
		}
	}
	return intact
}

// blockLocation names where on disk a slide-scan located a full-block match,
// which may differ from that block's originally recorded file and offset
// when the file holding it has since been renamed or moved.
type blockLocation struct {
	path   string
	offset int64
}

// scanForMissingBlocks slide-scans every non-PAR3 file present anywhere in
// the working directory tree — not only files matching a recorded name — so
// a block surviving under a renamed or misplaced file is still found. It
// reports which recorded blocks were found vs which are still missing,
// plus where each full-block and tail match was actually located.
func scanForMissingBlocks(graph *model.Graph, fs *hostfs.FS, cfg *config.Config) (missing []int, found map[int]bool, location map[int]blockLocation, tailLoc map[int]blockLocation, err error) {
	idx := search.NewIndex(graph)
	found = make(map[int]bool)
	location = make(map[int]blockLocation)
	tailLoc = make(map[int]blockLocation)

	var tailMatches []search.Match

	entries, err := fs.Walk(".", nil)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	for _, e := range entries {
		if isPar3File(e.Path) {
			continue
		}
		data, err := readAll(fs, e.Path)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		matches, err := idx.Scan(context.Background(), data, searchBudget(cfg))
		if err != nil && err != search.ErrBudgetExceeded {
			return nil, nil, nil, nil, err
		}
		if err == search.ErrBudgetExceeded {
			logger.Warn("slide scan abandoned on budget", logger.File(e.Path))
		}
		for _, m := range matches {
			switch m.Kind {
			case search.MatchFull:
				found[m.BlockIndex] = true
				if _, ok := location[m.BlockIndex]; !ok {
					location[m.BlockIndex] = blockLocation{path: e.Path, offset: m.Offset}
				}
			case search.MatchTail:
				tailMatches = append(tailMatches, m)
				if _, ok := tailLoc[m.SliceIndex]; !ok {
					tailLoc[m.SliceIndex] = blockLocation{path: e.Path, offset: m.Offset}
				}
			}
		}
	}

	// Tail-packed blocks need every one of their distinct tails matched,
	// not just one, before they're safe to read back directly rather than
	// reconstructed (a tail block can hold several unrelated tails sharing
	// spare capacity, and a partially verified one could otherwise be
	// copied straight off disk with an unverified portion intact).
	search.AggregateTailCompleteness(graph, tailMatches)
	for _, b := range graph.Blocks {
		if b.IsTailPacked() && b.State&model.BlockAllTailsFound != 0 {
			found[b.Index] = true
		}
	}

	for _, b := range graph.Blocks {
		if !found[b.Index] {
			missing = append(missing, b.Index)
		}
	}
	return missing, found, location, tailLoc, nil
}

// readBlockBytes reassembles a surviving block's bytes slice by slice,
// reading each tail from wherever the scan actually matched it and falling
// back to the slice's recorded file and offset otherwise.
func readBlockBytes(fs *hostfs.FS, graph *model.Graph, blockIndex int, tailLoc map[int]blockLocation) ([]byte, error) {
	buf := make([]byte, graph.BlockSize)
	for _, slice := range graph.SlicesOf(blockIndex) {
		name := graph.Files[graph.Chunks[slice.ChunkIndex].FileIndex].Name
		offset := slice.FileOffset
		if loc, ok := tailLoc[slice.Index]; ok {
			name = loc.path
			offset = loc.offset
		}
		data, err := readRange(fs, name, offset, slice.Length)
		if err != nil {
			return nil, err
		}
		copy(buf[slice.TailOffset:], data)
	}
	return buf, nil
}

// loadRecoveryData reads every recovery volume matching base and returns
// its payloads keyed by recovery-block index. Payloads referencing a
// different Root or matrix packet than the loaded set's are discarded: a
// stray volume from another set (or an older derivation of this one) must
// not feed the matrix solve.
func loadRecoveryData(fs *hostfs.FS, base string, set *loadedSet) (map[int][]byte, error) {
	names, err := afero.Glob(fs, base+".vol*.par3")
	if err != nil {
		return nil, err
	}

	out := make(map[int][]byte)
	for _, name := range names {
		if err := readRecoveryVolume(fs, name, set, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// loadArchiveData reads every archive volume matching base and returns its
// PAR DAT payloads keyed by absolute block index. Unlike recovery volumes,
// PAR DAT packets carry no block-index field of their own, so each volume's
// filename-encoded start/count (container.ParseVolumeName) assigns indices
// to packets in the order they appear in the file.
func loadArchiveData(fs *hostfs.FS, base string) (map[int][]byte, error) {
	names, err := afero.Glob(fs, base+".part*.par3")
	if err != nil {
		return nil, err
	}

	out := make(map[int][]byte)
	for _, name := range names {
		_, layout, err := container.ParseVolumeName(name)
		if err != nil {
			return nil, fmt.Errorf("parse archive volume name %q: %w", name, err)
		}
		if err := readArchiveVolume(fs, name, layout.Start, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readArchiveVolume(fs *hostfs.FS, path string, firstBlockIndex int, out map[int][]byte) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, err := packet.NewIncrementalReader(f, readerBufferSize)
	if err != nil {
		return err
	}
	blockIndex := firstBlockIndex
	for {
		pkt, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if pkt.Type != packet.TypeData {
			continue
		}
		out[blockIndex] = packet.DecodeData(pkt.Body).Payload
		blockIndex++
	}
}

// stagedWriter patches reconstructed bytes into a uniquely named temp copy
// of each target file, promoting (renaming) every staged file over its
// original only once every patch for that file has been applied
// successfully, so a repair run that fails partway through never leaves a
// target file half-overwritten.
type stagedFile struct {
	originalName string
	tempPath     string
	size         int64
}

type stagedWriter struct {
	fs      *hostfs.FS
	staged  map[int]stagedFile
	handles map[int]afero.File
}

func newStagedWriter(fs *hostfs.FS) *stagedWriter {
	return &stagedWriter{fs: fs, staged: map[int]stagedFile{}, handles: map[int]afero.File{}}
}

// writeAt returns a repair.Distribute-compatible callback that stages every
// patch under a temp file named with a random UUID suffix, seeding it from
// the original file's current contents (if any) on first touch.
func (w *stagedWriter) writeAt(graph *model.Graph) func(fileIndex int, fileOffset int64, data []byte) error {
	return func(fileIndex int, fileOffset int64, data []byte) error {
		f, err := w.stagedFile(graph, fileIndex)
		if err != nil {
			return err
		}
		_, err = f.WriteAt(data, fileOffset)
		return err
	}
}

func (w *stagedWriter) stagedFile(graph *model.Graph, fileIndex int) (afero.File, error) {
	if f, ok := w.handles[fileIndex]; ok {
		return f, nil
	}

	name := graph.Files[fileIndex].Name
	tempPath := fmt.Sprintf("%s.repair-%s.tmp", name, uuid.NewString())

	if exists, err := afero.Exists(w.fs, name); err != nil {
		return nil, err
	} else if exists {
		src, err := readAll(w.fs, name)
		if err != nil {
			return nil, err
		}
		if err := afero.WriteFile(w.fs, tempPath, src, 0644); err != nil {
			return nil, err
		}
	}

	// No O_TRUNC: the temp file was just seeded with the original's bytes,
	// and the patches land on top of them.
	f, err := w.fs.OpenFile(tempPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	w.staged[fileIndex] = stagedFile{originalName: name, tempPath: tempPath, size: graph.Files[fileIndex].Size}
	w.handles[fileIndex] = f
	return f, nil
}

// promoteAll truncates every staged temp file to its recorded size (a
// damaged original may have had bytes appended past the real end), closes
// it, and renames it over its original.
func (w *stagedWriter) promoteAll() error {
	for fileIndex, sf := range w.staged {
		f := w.handles[fileIndex]
		delete(w.handles, fileIndex)
		if err := f.Truncate(sf.size); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		if err := w.fs.Rename(sf.tempPath, sf.originalName); err != nil {
			return err
		}
	}
	return nil
}

// discardUnpromoted closes any staged temp file left open after a failed
// repair run, so a retry doesn't trip over a stale handle.
func (w *stagedWriter) discardUnpromoted() {
	for fileIndex, f := range w.handles {
		f.Close()
		delete(w.handles, fileIndex)
	}
}

func readRecoveryVolume(fs *hostfs.FS, path string, set *loadedSet, out map[int][]byte) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, err := packet.NewIncrementalReader(f, readerBufferSize)
	if err != nil {
		return err
	}
	var zero hashing.Fingerprint
	for {
		pkt, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if pkt.Type != packet.TypeRecoveryData || pkt.SetID != set.SetID {
			continue
		}
		rd, err := packet.DecodeRecoveryData(pkt.Body)
		if err != nil {
			return err
		}
		if set.RootFP != zero && rd.RootFP != set.RootFP {
			continue
		}
		if set.MatrixFP != zero && rd.MatrixFP != set.MatrixFP {
			continue
		}
		out[int(rd.RecoveryBlockIndex)] = rd.Payload
	}
}
