package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KevoDB/seqset/pkg/engine"
	"github.com/KevoDB/seqset/pkg/search"
)

// NewBuildCmd packs a delimited file into the block file.
func NewBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build INPUT",
		Short: "Build the block file from a comma separated input file",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(func(cmd *cobra.Command, eng *engine.Engine, args []string) error {
			res, err := eng.Build(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Built %d records in %d blocks (%d bytes)\n", res.Records, res.Blocks, res.Bytes)

			if skip, _ := cmd.Flags().GetBool("skip-index"); skip {
				return nil
			}
			idx, err := eng.RebuildIndexes()
			if err != nil {
				return err
			}
			printIndexResult(cmd, idx)
			return nil
		}),
	}
	cmd.Flags().Bool("skip-index", false, "leave the block file flagged stale")
	return cmd
}

// NewConvertCmd writes the length-indicated copy of a delimited file.
func NewConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert INPUT",
		Short: "Convert a comma separated file to length-indicated records",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(func(cmd *cobra.Command, eng *engine.Engine, args []string) error {
			res, err := eng.Convert(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Converted %d rows (%d bytes, %d fields truncated)\n",
				res.Rows, res.Bytes, res.Truncated)
			return nil
		}),
	}
}

// NewIndexCmd rebuilds every index with an existing data file.
func NewIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Rebuild the block and offset indexes",
		Args:  cobra.NoArgs,
		RunE: withEngine(func(cmd *cobra.Command, eng *engine.Engine, args []string) error {
			idx, err := eng.RebuildIndexes()
			if err != nil {
				return err
			}
			printIndexResult(cmd, idx)
			return nil
		}),
	}
}

func printIndexResult(cmd *cobra.Command, idx engine.IndexResult) {
	out := cmd.OutOrStdout()
	if idx.BlockBuilt {
		fmt.Fprintf(out, "Block index: %d entries, %d skipped\n", idx.Block.Entries, idx.Block.Skipped)
	}
	if idx.OffsetBuilt {
		fmt.Fprintf(out, "Offset index: %d entries, %d skipped\n", idx.Offset.Entries, idx.Offset.Skipped)
	}
}

// NewSearchCmd looks up keys given as arguments or as one delimited batch.
func NewSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search KEY...",
		Short: "Look up records by primary key",
		Example: `  seqset search 10001 10002
  seqset search --batch "10001 -z 10002 -z 56301"
  seqset search --offset 10001`,
		RunE: withEngine(func(cmd *cobra.Command, eng *engine.Engine, args []string) error {
			keys := args
			if batch, _ := cmd.Flags().GetString("batch"); batch != "" {
				keys = append(keys, search.SplitKeys(batch, eng.Config().KeyDelimiter)...)
			}
			if len(keys) == 0 {
				return fmt.Errorf("no keys given")
			}

			var (
				results []search.Result
				err     error
			)
			if offset, _ := cmd.Flags().GetBool("offset"); offset {
				results, err = eng.SearchOffset(keys...)
			} else {
				results, err = eng.Search(keys...)
			}
			for _, r := range results {
				fmt.Fprintln(cmd.OutOrStdout(), search.Format(r))
			}
			return err
		}),
	}
	cmd.Flags().StringP("batch", "b", "", "keys separated by the configured key delimiter")
	cmd.Flags().Bool("offset", false, "search the length-indicated file through the offset index")
	return cmd
}

// NewDumpCmd prints the store in physical or logical order.
func NewDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "dump [physical|logical]",
		Short:     "Print every block",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"physical", "logical"},
		RunE: withEngine(func(cmd *cobra.Command, eng *engine.Engine, args []string) error {
			if len(args) == 1 && args[0] == "logical" {
				return eng.DumpLogical(cmd.OutOrStdout())
			}
			return eng.DumpPhysical(cmd.OutOrStdout())
		}),
	}
}

// NewBlockCmd prints the details of one block.
func NewBlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block RBN",
		Short: "Show one block's list, records and links",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(func(cmd *cobra.Command, eng *engine.Engine, args []string) error {
			rbn, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid RBN %q", args[0])
			}
			_, err = eng.Describe(cmd.OutOrStdout(), rbn)
			return err
		}),
	}
}

// NewMostCmd prints the per-state extreme postal codes.
func NewMostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "most",
		Short: "List the easternmost, westernmost, northernmost and southernmost code per state",
		Args:  cobra.NoArgs,
		RunE: withEngine(func(cmd *cobra.Command, eng *engine.Engine, args []string) error {
			return eng.ListMost(cmd.OutOrStdout())
		}),
	}
}

// NewValidateCmd checks the chain structure of the block file.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the active and avail chains for faults",
		Args:  cobra.NoArgs,
		RunE: withEngine(func(cmd *cobra.Command, eng *engine.Engine, args []string) error {
			report, err := eng.Validate()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Active chain: %s\n", joinInts(report.Active))
			fmt.Fprintf(out, "Avail chain: %s\n", joinInts(report.Avail))
			if len(report.Unlinked) > 0 {
				fmt.Fprintf(out, "Unlinked blocks: %s\n", joinInts(report.Unlinked))
			}
			return nil
		}),
	}
}

func joinInts(ns []int) string {
	if len(ns) == 0 {
		return "(empty)"
	}
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, " ")
}

// NewStaleCmd reports whether the block file changed since it was indexed.
func NewStaleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stale",
		Short: "Report whether the block index is out of date",
		Args:  cobra.NoArgs,
		RunE: withEngine(func(cmd *cobra.Command, eng *engine.Engine, args []string) error {
			stale, err := eng.Stale()
			if err != nil {
				return err
			}
			if stale {
				fmt.Fprintln(cmd.OutOrStdout(), "stale: run \"seqset index\" to rebuild")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "up to date")
			}
			return nil
		}),
	}
}

// NewArchiveCmd snapshots the data files.
func NewArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive DEST",
		Short: "Write the data files and manifest to a compressed archive",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(func(cmd *cobra.Command, eng *engine.Engine, args []string) error {
			st, err := eng.Archive(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived %d files (%d bytes stored as %d)\n",
				st.Entries, st.RawBytes, st.StoredSize)
			return nil
		}),
	}
}

// NewRestoreCmd extracts an archive into the data directory.
func NewRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore SRC",
		Short: "Restore the data files from an archive",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(func(cmd *cobra.Command, eng *engine.Engine, args []string) error {
			written, err := eng.Restore(args[0])
			if err != nil {
				return err
			}
			for _, p := range written {
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", p)
			}
			return nil
		}),
	}
}
