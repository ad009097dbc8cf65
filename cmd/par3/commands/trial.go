package commands

import (
	"fmt"
	"strconv"

	"github.com/marmos91/par3/internal/cliout"
	"github.com/marmos91/par3/pkg/container"
	"github.com/spf13/cobra"
)

var (
	trialBlocks           int
	trialFileCount        int
	trialMaxBlocksPerFile int
	trialBlockSize        int
)

var trialCmd = &cobra.Command{
	Use:   "trial",
	Short: "Report the volume layout a container scheme would produce, without writing any files",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrial,
}

func init() {
	trialCmd.Flags().IntVar(&trialBlocks, "blocks", 0, "number of recovery blocks to size for (default: config's recovery.block_count)")
	trialCmd.Flags().IntVar(&trialFileCount, "file-count", 0, "desired file count, for the uniform scheme")
	trialCmd.Flags().IntVar(&trialMaxBlocksPerFile, "max-blocks-per-file", 0, "cap on blocks per file, for the size-limited scheme")
	trialCmd.Flags().IntVar(&trialBlockSize, "block-size", 0, "block size in bytes (default: config's mapper.block_size)")
}

func runTrial(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	scheme := schemeFromName(args[0])
	n := trialBlocks
	if n == 0 {
		n = cfg.Recovery.BlockCount
	}
	fileCount := trialFileCount
	if fileCount == 0 {
		fileCount = cfg.Container.FileCount
	}
	maxBlocks := trialMaxBlocksPerFile
	if maxBlocks == 0 {
		maxBlocks = cfg.Container.MaxBlocksPerFile
	}
	blockSize := trialBlockSize
	if blockSize == 0 {
		blockSize = int(cfg.Mapper.BlockSize)
	}

	report, err := container.Trial(scheme, n, fileCount, maxBlocks, blockSize)
	if err != nil {
		return fmt.Errorf("trial: %w", err)
	}

	names := container.FileNames("trial", container.KindRecovery, report.Layouts)
	table := cliout.NewTableData("FILE", "START", "COUNT", "SIZE (bytes)")
	for i, l := range report.Layouts {
		table.AddRow(names[i], strconv.Itoa(l.Start), strconv.Itoa(l.Count), strconv.FormatInt(report.FileSize[i], 10))
	}
	return cliout.PrintTable(cmd.OutOrStdout(), table)
}
