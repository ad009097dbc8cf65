package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/par3/internal/logger"
	"github.com/marmos91/par3/pkg/config"
	"github.com/marmos91/par3/pkg/hashing"
	"github.com/marmos91/par3/pkg/hostfs"
	"github.com/marmos91/par3/pkg/model"
	"github.com/marmos91/par3/pkg/par3err"
	"github.com/marmos91/par3/pkg/search"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var verifyOutBase string

var verifyCmd = &cobra.Command{
	Use:   "verify [base name]",
	Short: "Check input files against a recorded PAR3 set and report their status",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runVerify,
}

func init() {
	verifyCmd.Flags().StringVarP(&verifyOutBase, "out", "o", "", "base name of the set to verify (default: positional argument)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.Config(cfg.Logging)); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	base := verifyOutBase
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

	report, err := verifySet(fs, cfg, set.Graph, base)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	printVerifyReport(cmd, report)
	return verifyVerdict(report, recoveryVolumesExist(fs, base))
}

// fileReport is one file's verify verdict.
type fileReport struct {
	Name   string
	Status search.FileStatus
}

// verifyVerdict folds per-file statuses into the process exit code: 0 when
// everything is complete (renamed files included: the data survives), 1
// when damage exists but recovery volumes are present, 2 when it is not
// coverable. A wholly missing file is fixable too, as long as recovery
// data exists to rebuild its blocks.
func verifyVerdict(report []fileReport, recoverable bool) error {
	damaged, repairable := 0, 0
	for _, r := range report {
		switch r.Status {
		case search.StatusComplete, search.StatusRenamed:
		case search.StatusRepairable:
			repairable++
		case search.StatusMissing:
			if recoverable {
				repairable++
			} else {
				damaged++
			}
		default:
			damaged++
		}
	}
	switch {
	case damaged == 0 && repairable == 0:
		return nil
	case damaged == 0:
		return par3err.NewCoded(par3err.CodeRepairPossible, "%d file(s) need repair and recovery data is available", repairable)
	default:
		return par3err.NewCoded(par3err.CodeRepairNotPossible, "%d file(s) damaged with no recovery data to cover them", damaged)
	}
}

// searchBudget derives a per-file slide-scan deadline from the configured
// limit. Zero or negative limits mean unbounded.
func searchBudget(cfg *config.Config) search.Budget {
	if cfg == nil || cfg.Search.LimitMillis <= 0 {
		return search.Budget{}
	}
	return search.Budget{Deadline: time.Now().Add(time.Duration(cfg.Search.LimitMillis) * time.Millisecond)}
}

// verifySet scans every file currently on disk — not just the ones recorded
// in graph, under their recorded names — against the slide-search index, so
// a block that survives under a renamed or misplaced file is still located.
// Each recorded file is then classified via the five-way status.
func verifySet(fs *hostfs.FS, cfg *config.Config, graph *model.Graph, base string) ([]fileReport, error) {
	idx := search.NewIndex(graph)
	recoverable := recoveryVolumesExist(fs, base)

	found, _, err := scanWorkingTree(fs, cfg, idx, graph)
	if err != nil {
		return nil, err
	}

	var out []fileReport
	for _, f := range graph.Files {
		exists, err := afero.Exists(fs, f.Name)
		if err != nil {
			return nil, err
		}

		status := search.ClassifyFile(graph, f, found, recoverable)
		if !exists && search.DetectRenamed(graph, f, found, exists) {
			status = search.StatusRenamed
		}
		out = append(out, fileReport{Name: f.Name, Status: status})
	}
	return out, nil
}

// scanWorkingTree locates every recorded block across the whole working
// directory tree. A recorded file still present under its own name is
// checked cheapest-first — size, then the CRC of its first 16 KiB, then the
// full fingerprint — and credited without any slide scan when all three
// hold. Every other non-PAR3 file present, whether it matches a recorded
// name or not, is slide-scanned, so blocks surviving under an unexpected
// name are still found. Each file's scan runs under its own wall-clock
// budget: an expired budget costs completeness on that file only.
func scanWorkingTree(fs *hostfs.FS, cfg *config.Config, idx *search.Index, graph *model.Graph) (found map[int]bool, settled map[string]bool, err error) {
	found = make(map[int]bool)
	settled = make(map[string]bool, len(graph.Files))

	for _, f := range graph.Files {
		exists, err := afero.Exists(fs, f.Name)
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			continue
		}
		data, err := readAll(fs, f.Name)
		if err != nil {
			return nil, nil, err
		}
		if int64(len(data)) != f.Size {
			continue
		}
		head := data
		if len(head) > 16<<10 {
			head = head[:16<<10]
		}
		if hashing.CRC64(head, 0) != f.First16KCRC {
			continue
		}
		if hashing.BLAKE3Fingerprint(data) == f.Fingerprint {
			for _, bi := range search.RequiredBlocks(graph, f) {
				found[bi] = true
			}
			settled[f.Name] = true
		}
	}

	entries, err := fs.Walk(".", nil)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range entries {
		if settled[e.Path] || isPar3File(e.Path) {
			continue
		}
		data, err := readAll(fs, e.Path)
		if err != nil {
			return nil, nil, err
		}
		matches, err := idx.Scan(context.Background(), data, searchBudget(cfg))
		if err != nil && err != search.ErrBudgetExceeded {
			return nil, nil, err
		}
		if err == search.ErrBudgetExceeded {
			logger.Warn("slide scan abandoned on budget", logger.File(e.Path))
		}
		for _, m := range matches {
			found[m.BlockIndex] = true
		}
	}
	return found, settled, nil
}

// isPar3File reports whether path is one of this set's own PAR3 files
// (index, recovery, or archive volumes), which scanWorkingTree must not
// slide-scan as if they were survivor input data.
func isPar3File(path string) bool {
	return strings.HasSuffix(path, ".par3")
}

// recoveryVolumesExist reports whether any *.vol*.par3 file matching base
// is present, which is all verify needs to know to call a damaged file
// "repairable" rather than "damaged" (the repair command does the real
// block-count accounting).
func recoveryVolumesExist(fs *hostfs.FS, base string) bool {
	matches, err := afero.Glob(fs, base+".vol*.par3")
	return err == nil && len(matches) > 0
}

func printVerifyReport(cmd *cobra.Command, report []fileReport) {
	for _, r := range report {
		fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", r.Status, r.Name)
	}
}
