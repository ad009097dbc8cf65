package commands

import (
	"fmt"
	"strconv"

	"github.com/marmos91/par3/internal/cliout"
	"github.com/marmos91/par3/internal/logger"
	"github.com/marmos91/par3/pkg/hostfs"
	"github.com/spf13/cobra"
)

var listOutBase string

var listCmd = &cobra.Command{
	Use:   "list [base name]",
	Short: "List the files and blocks recorded in a PAR3 set's index",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVarP(&listOutBase, "out", "o", "", "base name of the set to list (default: positional argument)")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.Config(cfg.Logging)); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	base := listOutBase
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

	if set.Creator != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "creator: %s\n", set.Creator)
	}
	if set.Comment != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "comment: %s\n", set.Comment)
	}

	table := cliout.NewTableData("FILE", "SIZE", "CHUNKS", "FULL BLOCKS", "FINGERPRINT")
	for _, f := range set.Graph.Files {
		fullBlocks := 0
		for _, ci := range f.ChunkIndices {
			c := set.Graph.Chunks[ci]
			if c.HasFirstBlock {
				fullBlocks += int(c.Length) / set.Graph.BlockSize
			}
		}
		table.AddRow(
			f.Name,
			strconv.FormatInt(f.Size, 10),
			strconv.Itoa(len(f.ChunkIndices)),
			strconv.Itoa(fullBlocks),
			fmt.Sprintf("%x", f.Fingerprint[:4]),
		)
	}

	return cliout.PrintTable(cmd.OutOrStdout(), table)
}
