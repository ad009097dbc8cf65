package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/marmos91/par3/internal/bytesize"
	"github.com/marmos91/par3/internal/logger"
	"github.com/marmos91/par3/pkg/blockcache"
	"github.com/marmos91/par3/pkg/bufpool"
	"github.com/marmos91/par3/pkg/config"
	"github.com/marmos91/par3/pkg/container"
	"github.com/marmos91/par3/pkg/gf"
	"github.com/marmos91/par3/pkg/hashing"
	"github.com/marmos91/par3/pkg/hostfs"
	"github.com/marmos91/par3/pkg/mapper"
	"github.com/marmos91/par3/pkg/metrics"
	"github.com/marmos91/par3/pkg/model"
	"github.com/marmos91/par3/pkg/packet"
	"github.com/marmos91/par3/pkg/packetset"
	"github.com/marmos91/par3/pkg/rs"
	"github.com/spf13/cobra"
)

// schemeFromName maps a config string to a container.Scheme.
func schemeFromName(name string) container.Scheme {
	switch name {
	case "uniform":
		return container.SchemeUniform
	case "size-limited":
		return container.SchemeSizeLimited
	default:
		return container.SchemePowerOfTwo
	}
}

var (
	createOutBase      string
	createCreatorText  string
	createCommentText  string
	createWriteArchive bool
	createInsideZip    string
)

var createCmd = &cobra.Command{
	Use:   "create [files or directories...]",
	Short: "Create a PAR3 recovery set for the given inputs",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCreate,
}

func init() {
	createCmd.Flags().StringVarP(&createOutBase, "out", "o", "", "base name for the output set (default: derived from the first input)")
	createCmd.Flags().StringVar(&createCreatorText, "creator", "", "free-form text identifying the application that created this set (PAR CRE packet, omitted if empty)")
	createCmd.Flags().StringVar(&createCommentText, "comment", "", "free-form user comment to attach to this set (PAR COM packet, omitted if empty)")
	createCmd.Flags().BoolVar(&createWriteArchive, "archive", false, "also write archive volumes embedding every block's own payload (PAR DAT packets), so the set can be rebuilt without the original inputs")
	createCmd.Flags().StringVar(&createInsideZip, "inside-zip", "", "also embed the index packets inside this ZIP archive, producing <archive>.par3zip in addition to <out>.par3")
}

func runCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.Config(cfg.Logging)); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	lc := logger.NewLogContext("create")
	logger.Info("creating recovery set", logger.Operation(lc.Operation))

	base := createOutBase
	if base == "" {
		base = args[0]
	}

	fs := hostfs.NewOS()

	if createInsideZip != "" {
		info, err := fs.Stat(createInsideZip)
		if err != nil {
			return fmt.Errorf("stat inside-zip archive: %w", err)
		}
		recoveryBlocks := int64(cfg.Recovery.BlockCount)
		cfg.Mapper.BlockSize = bytesize.ByteSize(container.SelectBlockSize(info.Size(), func(blockSize int64) int64 {
			return recoveryBlocks * blockSize
		}))
		logger.Info("selected block size for inside-zip mode", logger.Size(int64(cfg.Mapper.BlockSize)))
	}

	cache, err := blockcache.New(fileCacheBudget, int64(cfg.Mapper.BlockSize)*4)
	if err != nil {
		return fmt.Errorf("init file cache: %w", err)
	}
	defer cache.Close()

	graph, absPaths, err := buildGraph(fs, cache, args, int(cfg.Mapper.BlockSize), cfg.Mapper.Strategy)
	if err != nil {
		return fmt.Errorf("map inputs: %w", err)
	}

	width, err := mapper.SelectField(graph, cfg.Recovery.BlockCount)
	if err != nil {
		return fmt.Errorf("select field: %w", err)
	}
	field, err := gf.New(width, cfg.Mapper.Generator)
	if err != nil {
		return fmt.Errorf("build field: %w", err)
	}

	// The base path is folded into the SetID only when the set records
	// absolute paths: two hosts protecting the same tree under different
	// mount points must otherwise agree on the derived identity.
	seedPath := ""
	if cfg.Mapper.AbsolutePath {
		if abs, err := filepath.Abs(base); err == nil {
			seedPath = abs
		}
	}
	setID := packetset.DeriveInputSetID(graph, seedPath, 0, hashing.Fingerprint{}, uint64(cfg.Mapper.BlockSize), uint8(width), field.Generator())

	index, err := buildIndexPackets(graph, setID, uint64(cfg.Mapper.BlockSize), uint8(width), field.Generator(), cfg.Recovery.RowHints, createCreatorText, createCommentText)
	if err != nil {
		return fmt.Errorf("build index packets: %w", err)
	}

	indexPath := container.IndexFileName(base)
	if err := writePackets(fs, indexPath, index.packets); err != nil {
		return fmt.Errorf("write index file: %w", err)
	}
	logger.Info("wrote index file", logger.File(indexPath), logger.SetID(setID))

	if createInsideZip != "" {
		zipOut, err := writeInsideZip(fs, createInsideZip, index.packets)
		if err != nil {
			return fmt.Errorf("write inside-zip archive: %w", err)
		}
		logger.Info("embedded index packets inside zip archive", logger.File(zipOut))
	}

	if cfg.Recovery.BlockCount > 0 && len(graph.Blocks) > 0 {
		recoveryPaths, err := writeRecoveryVolume(fs, cache, field, cfg, graph, absPaths, setID, base, index)
		if err != nil {
			return fmt.Errorf("write recovery volume: %w", err)
		}
		logger.Info("wrote recovery volumes", logger.RecoveryCount(cfg.Recovery.BlockCount), logger.Size(int64(len(recoveryPaths))))
	}

	if createWriteArchive && len(graph.Blocks) > 0 {
		archivePaths, err := writeArchiveVolume(fs, cache, cfg, graph, absPaths, setID, base, index)
		if err != nil {
			return fmt.Errorf("write archive volume: %w", err)
		}
		logger.Info("wrote archive volumes", logger.Size(int64(len(archivePaths))))
	}

	logger.Info("create complete", logger.DurationMs(lc.DurationMs()))
	return nil
}

// indexSet is the built critical-packet bundle plus the two fingerprints
// every Recovery Data packet descends from: the Root packet's and the
// Cauchy matrix packet's.
type indexSet struct {
	packets  [][]byte
	rootFP   hashing.Fingerprint
	matrixFP hashing.Fingerprint
}

// buildIndexPackets assembles the Creator/Start/Cauchy/File/Directory/Root/
// External-Data/Comment packets describing the set, in that fixed emission
// order. creatorText and commentText are both optional and user-supplied;
// their packets are omitted entirely when empty rather than written as
// zero-length bodies.
func buildIndexPackets(graph *model.Graph, setID uint64, blockSize uint64, width uint8, generator uint32, rowHints []uint64, creatorText, commentText string) (indexSet, error) {
	var out indexSet

	if creatorText != "" {
		out.packets = append(out.packets, packet.Encode(setID, packet.TypeCreator, packet.EncodeCreator(creatorText)))
	}

	start := packet.EncodeStart(packet.StartBody{
		BlockSize:   blockSize,
		GaloisWidth: width,
		Generator:   generator,
	})
	out.packets = append(out.packets, packet.Encode(setID, packet.TypeStart, start))

	// The matrix packet is always written, row hints or not: it is what
	// declares the set's FEC method, and its fingerprint is what every
	// Recovery Data packet references back to.
	cauchy := packet.Encode(setID, packet.TypeCauchy, packet.EncodeCauchy(packet.CauchyBody{RowHints: rowHints}))
	out.packets = append(out.packets, cauchy)
	out.matrixFP = fingerprintOf(cauchy)

	fileFPs := make([]hashing.Fingerprint, len(graph.Files))
	for _, f := range graph.Files {
		body := packet.FileBody{
			Name:        f.Name,
			First16KCRC: f.First16KCRC,
			Fingerprint: f.Fingerprint,
			Chunks:      chunkDescriptorsFor(graph, f, blockSize),
		}
		pkt := packet.Encode(setID, packet.TypeFile, packet.EncodeFile(body, blockSize))
		out.packets = append(out.packets, pkt)
		fileFPs[f.Index] = fingerprintOf(pkt)
	}

	// Directory packets are emitted deepest-first: NewDirectory always
	// allocates a parent before its children (dirTree.ensure in build.go
	// recurses into the parent path first), so processing indices in
	// descending order guarantees every child's fingerprint is already
	// known by the time its parent is encoded.
	dirFPs := make([]hashing.Fingerprint, len(graph.Directories))
	for i := len(graph.Directories) - 1; i >= 0; i-- {
		d := graph.Directories[i]
		if i == graph.RootIndex {
			continue
		}
		children := directoryChildren(d, fileFPs, dirFPs)
		pkt := packet.Encode(setID, packet.TypeDirectory, packet.EncodeDirectory(packet.DirectoryBody{Name: d.Name, Children: children}))
		out.packets = append(out.packets, pkt)
		dirFPs[i] = fingerprintOf(pkt)
	}

	var rootChildren []hashing.Fingerprint
	if graph.RootIndex != model.NoIndex {
		rootChildren = directoryChildren(graph.Directories[graph.RootIndex], fileFPs, dirFPs)
	}
	rootPkt := packet.Encode(setID, packet.TypeRoot, packet.EncodeRoot(packet.RootBody{
		NextFreeBlockIndex: uint64(len(graph.Blocks)),
		Children:           rootChildren,
	}))
	out.packets = append(out.packets, rootPkt)
	out.rootFP = fingerprintOf(rootPkt)

	out.packets = append(out.packets, externalDataPackets(graph, setID)...)

	if commentText != "" {
		out.packets = append(out.packets, packet.Encode(setID, packet.TypeComment, packet.EncodeComment(commentText)))
	}

	return out, nil
}

// fingerprintOf reads the fingerprint packet.Encode just stamped into a
// serialized packet's header.
func fingerprintOf(pkt []byte) hashing.Fingerprint {
	var fp hashing.Fingerprint
	copy(fp[:], pkt[8:24])
	return fp
}

// directoryChildren collects a directory's file and subdirectory
// fingerprints, files before subdirectories.
func directoryChildren(d *model.Directory, fileFPs, dirFPs []hashing.Fingerprint) []hashing.Fingerprint {
	children := make([]hashing.Fingerprint, 0, len(d.FileIdx)+len(d.DirIdx))
	for _, fi := range d.FileIdx {
		children = append(children, fileFPs[fi])
	}
	for _, di := range d.DirIdx {
		children = append(children, dirFPs[di])
	}
	return children
}

// externalDataPackets emits one External Data packet per contiguous run of
// full blocks, carrying the authoritative CRC/fingerprint pair a verify or
// repair pass needs to tell a surviving full block from a corrupted one.
// Tail blocks need no entry here: their
// checksum already travels inline in the owning chunk's tail descriptor.
func externalDataPackets(graph *model.Graph, setID uint64) [][]byte {
	var out [][]byte
	var run []packet.ExternalDataEntry
	runStart := -1

	flush := func() {
		if len(run) == 0 {
			return
		}
		body := packet.EncodeExternalData(packet.ExternalDataBody{
			FirstBlockIndex: uint64(runStart),
			Entries:         run,
		})
		out = append(out, packet.Encode(setID, packet.TypeExternalData, body))
		run = nil
		runStart = -1
	}

	for _, b := range graph.Blocks {
		if !b.IsFull() {
			flush()
			continue
		}
		if runStart == -1 {
			runStart = b.Index
		}
		run = append(run, packet.ExternalDataEntry{CRC: b.CRC, FP: b.Fingerprint})
	}
	flush()
	return out
}

// chunkDescriptorsFor renders a file's mapper-produced chunks into wire
// descriptors.
func chunkDescriptorsFor(graph *model.Graph, f *model.File, blockSize uint64) []packet.ChunkDescriptor {
	descs := make([]packet.ChunkDescriptor, 0, len(f.ChunkIndices))
	for _, ci := range f.ChunkIndices {
		c := graph.Chunks[ci]
		d := packet.ChunkDescriptor{Size: uint64(c.Length)}
		if c.Kind == model.ChunkUnprotected {
			d.UnprotectedSpan = uint64(c.UnprotectedSpan)
			descs = append(descs, d)
			continue
		}
		if c.HasFirstBlock {
			d.HasFirstBlock = true
			d.FirstBlockIndex = uint64(c.FirstBlockIndex)
		}
		if c.TailSliceIndex != model.NoIndex {
			s := graph.Slices[c.TailSliceIndex]
			d.HasTail = true
			d.TailCRC = s.TailCRC
			d.TailFP = s.TailFP
			d.TailBlock = uint64(s.BlockIndex)
			d.TailOffset = uint64(s.TailOffset)
		} else if len(c.InlineTail) > 0 {
			d.InlineBytes = c.InlineTail
		}
		descs = append(descs, d)
	}
	return descs
}

// writeInsideZip embeds indexPackets directly inside a ZIP archive as an
// unprotected trailing chunk: the archive's existing bytes
// through the end of its central directory become the protected data and
// footer chunks, the index packets are appended as the unprotected chunk,
// and the footer is written once more after them so the archive stays
// openable by readers that only look at their own trailing EOCD record. The
// combined result is written to a new path rather than overwriting
// zipPath, since the caller's original archive is not this command's to
// destroy.
func writeInsideZip(fs *hostfs.FS, zipPath string, indexPackets [][]byte) (string, error) {
	data, err := readAll(fs, zipPath)
	if err != nil {
		return "", fmt.Errorf("read zip archive: %w", err)
	}

	eocd, err := container.LocateEOCD(data)
	if err != nil {
		return "", fmt.Errorf("locate zip EOCD: %w", err)
	}
	footer := data[eocd.FooterBoundary():]

	var packets []byte
	for _, p := range indexPackets {
		packets = append(packets, p...)
	}

	layout := container.PlanInsideZip(eocd.FooterBoundary(), int64(len(footer)), int64(len(packets)))

	out := make([]byte, 0, int(layout.FooterDupOffset)+len(footer))
	out = append(out, data[layout.DataOffset:layout.DataOffset+layout.DataLength]...)
	out = append(out, footer...)
	out = append(out, packets...)
	out = append(out, footer...)

	outPath := zipPath + ".par3zip"
	f, err := fs.CreateAt(outPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(out); err != nil {
		return "", err
	}
	return outPath, nil
}

func writePackets(fs *hostfs.FS, path string, packets [][]byte) error {
	f, err := fs.CreateAt(path)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, p := range packets {
		if _, err := f.Write(p); err != nil {
			return err
		}
	}
	return nil
}

// writeRecoveryVolume computes the recovery-block cohort via pkg/rs, reading
// each protected block's bytes back from the original input files, and
// distributes the resulting Recovery Data packets across volume files sized
// per the configured container scheme. Every volume file opens with one
// copy of the full critical-packet bundle and interleaves
// container.Schedule's extra copies across its payload packets, so a volume
// surviving alone still carries enough of the index to be useful.
func writeRecoveryVolume(fs *hostfs.FS, cache *blockcache.Cache, field *gf.Field, cfg *config.Config,
	graph *model.Graph, absPaths []string, setID uint64, base string, index indexSet) ([]string, error) {

	blockSize := int(cfg.Mapper.BlockSize)
	params, err := rs.DefaultCauchyParams(field, len(graph.Blocks), cfg.Recovery.BlockCount, cfg.Recovery.RowHints)
	if err != nil {
		return nil, err
	}

	// One pooled region serves every column: rs.Encode consumes each
	// DataSource result synchronously before asking for the next column,
	// so the previous column's buffer can be returned to the pool right
	// before the next one is fetched.
	pool := bufpool.New(blockSize)
	var prevPayload []byte
	source := func(column int) ([]byte, error) {
		if prevPayload != nil {
			pool.Put(prevPayload)
		}
		buf, err := blockPayload(fs, cache, graph, absPaths, pool, column)
		if err != nil {
			return nil, err
		}
		prevPayload = buf
		return buf, nil
	}

	recovery := make([][]byte, len(params.X))
	for i := range recovery {
		recovery[i] = make([]byte, blockSize)
	}
	encodeStart := time.Now()
	err = rs.Encode(field, params, blockSize, source, recovery)
	metrics.Default().ObserveEncodeSeconds(time.Since(encodeStart).Seconds())
	if err != nil {
		return nil, err
	}

	// Recovery volumes honour the max-file-size hint when the uniform
	// scheme is left without an explicit file count.
	var layouts []container.Layout
	if cfg.Container.Scheme == "uniform" && cfg.Container.FileCount == 0 && cfg.Container.MaxFileSize > 0 {
		layouts, err = container.UniformOverride(len(recovery), blockSize, int(cfg.Container.MaxFileSize))
	} else {
		layouts, err = container.Plan(schemeFromName(cfg.Container.Scheme), len(recovery), cfg.Container.FileCount, cfg.Container.MaxBlocksPerFile)
	}
	if err != nil {
		return nil, err
	}
	names := container.FileNames(base, container.KindRecovery, layouts)
	if len(names) != len(layouts) {
		return nil, fmt.Errorf("container: volume name count %d does not match layout count %d", len(names), len(layouts))
	}

	var written []string
	for fi, layout := range layouts {
		schedule := container.Schedule(layout.Count, len(index.packets), cfg.Container.CriticalPacketRepeatLimit)
		packets := append([][]byte(nil), index.packets...)
		for n, i := 0, layout.Start; i < layout.Start+layout.Count; n, i = n+1, i+1 {
			for r := 0; r < schedule[n]; r++ {
				packets = append(packets, index.packets...)
			}
			body := packet.EncodeRecoveryData(packet.RecoveryDataBody{
				RootFP:             index.rootFP,
				MatrixFP:           index.matrixFP,
				RecoveryBlockIndex: uint64(i),
				Payload:            recovery[i],
			})
			packets = append(packets, packet.Encode(setID, packet.TypeRecoveryData, body))
		}
		if err := writePackets(fs, names[fi], packets); err != nil {
			return nil, err
		}
		written = append(written, names[fi])
	}
	return written, nil
}

// writeArchiveVolume packages every block's own payload (full or
// tail-packed) into PAR DAT packets, distributed across archive files sized
// per the configured container scheme. Unlike the recovery volume, archive
// volumes carry the input data itself, so a set can be rebuilt from
// `<BASE>.par3` + archive files alone even if the original input files are
// later deleted or unavailable.
func writeArchiveVolume(fs *hostfs.FS, cache *blockcache.Cache, cfg *config.Config,
	graph *model.Graph, absPaths []string, setID uint64, base string, index indexSet) ([]string, error) {

	blockSize := int(cfg.Mapper.BlockSize)
	layouts, err := container.Plan(schemeFromName(cfg.Container.Scheme), len(graph.Blocks), cfg.Container.FileCount, cfg.Container.MaxBlocksPerFile)
	if err != nil {
		return nil, err
	}
	names := container.FileNames(base, container.KindArchive, layouts)
	if len(names) != len(layouts) {
		return nil, fmt.Errorf("container: archive name count %d does not match layout count %d", len(names), len(layouts))
	}

	pool := bufpool.New(blockSize)
	var written []string
	for fi, layout := range layouts {
		schedule := container.Schedule(layout.Count, len(index.packets), cfg.Container.CriticalPacketRepeatLimit)
		packets := append([][]byte(nil), index.packets...)
		for n, i := 0, layout.Start; i < layout.Start+layout.Count; n, i = n+1, i+1 {
			for r := 0; r < schedule[n]; r++ {
				packets = append(packets, index.packets...)
			}
			payload, err := blockPayload(fs, cache, graph, absPaths, pool, i)
			if err != nil {
				return nil, err
			}
			body := packet.EncodeData(packet.DataBody{Payload: payload})
			packets = append(packets, packet.Encode(setID, packet.TypeData, body))
			// packet.Encode copied payload into its own buffer above, so
			// this block's region can be recycled for the next one.
			pool.Put(payload)
		}
		if err := writePackets(fs, names[fi], packets); err != nil {
			return nil, err
		}
		written = append(written, names[fi])
	}
	return written, nil
}

// blockPayload reconstructs one block's bytes (full or tail-packed) by
// reading back every slice threaded onto it into a pooled block-sized
// buffer, positioned at each slice's TailOffset: one block-data region at
// a time, not one allocation per block.
// The caller owns the returned buffer and must return it to pool once
// nothing else references it.
func blockPayload(fs *hostfs.FS, cache *blockcache.Cache, graph *model.Graph, absPaths []string, pool *bufpool.Pool, blockIndex int) ([]byte, error) {
	buf := pool.Get()
	for _, slice := range graph.SlicesOf(blockIndex) {
		chunk := graph.Chunks[slice.ChunkIndex]
		path := absPaths[chunk.FileIndex]
		data, err := readRangeCached(fs, cache, path, slice.FileOffset, slice.Length)
		if err != nil {
			return nil, err
		}
		copy(buf[slice.TailOffset:], data)
	}
	return buf, nil
}

// fileCacheBudget bounds how much input-file content readRangeCached keeps
// resident across the mapper and RS-encode passes of a single create run.
const fileCacheBudget = 256 << 20

func readRange(fs *hostfs.FS, path string, offset, length int64) ([]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// readRangeCached serves a byte range out of cache when the whole file was
// already read once this run (by buildGraph's mapper pass), falling back to
// a positioned disk read otherwise.
func readRangeCached(fs *hostfs.FS, cache *blockcache.Cache, path string, offset, length int64) ([]byte, error) {
	if cache != nil {
		if whole, ok := cache.Get(path); ok && offset+length <= int64(len(whole)) {
			return whole[offset : offset+length], nil
		}
	}
	return readRange(fs, path, offset, length)
}
