package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/KevoDB/seqset/pkg/engine"
	"github.com/KevoDB/seqset/pkg/search"
	"github.com/KevoDB/seqset/pkg/seqset/block"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".physical"),
	readline.PcItem(".logical"),
	readline.PcItem(".block"),
	readline.PcItem(".most"),
	readline.PcItem(".search"),
	readline.PcItem(".offset"),
	readline.PcItem(".index"),
	readline.PcItem(".stale"),
	readline.PcItem(".validate"),
	readline.PcItem(".stats"),
	readline.PcItem(".exit"),
)

const shellHelpText = `
seqset console

Commands:
  .help                   - Show this help message
  .physical               - Dump blocks in physical (RBN) order
  .logical                - Dump blocks by following the active chain
  .block RBN [FIELD]      - Show a block; FIELD is one of details, available,
                            records, predecessor, successor (default details)
  .most                   - List the extreme postal codes of every state
  .search KEYS            - Search keys separated by %[1]q
  .offset KEYS            - Search keys through the offset index
  .index                  - Rebuild the indexes
  .stale                  - Check whether the block index is out of date
  .validate               - Check the chain structure
  .stats                  - Show statistics
  .exit                   - Exit the program

Any other input is searched as keys separated by %[1]q.
`

// NewShellCmd starts the interactive console.
func NewShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start the interactive console",
		Args:  cobra.NoArgs,
		RunE: withEngine(func(cmd *cobra.Command, eng *engine.Engine, args []string) error {
			return runShell(eng, cmd.OutOrStdout())
		}),
	}
}

// console executes one line of shell input at a time.
type console struct {
	eng *engine.Engine
	out io.Writer
}

func runShell(eng *engine.Engine, out io.Writer) error {
	fmt.Fprintln(out, "seqset console")
	fmt.Fprintln(out, "Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".seqset_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "seqset> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
		Stdout:          out,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	c := &console{eng: eng, out: out}
	for {
		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if readErr == io.EOF {
				fmt.Fprintln(out, "Goodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		if c.exec(line) {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}
	}
	return nil
}

// exec runs one line and reports whether the console should exit.
func (c *console) exec(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, ".") {
		c.search(line, false)
		return false
	}

	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	rest := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))

	var err error
	switch cmd {
	case ".help":
		fmt.Fprintf(c.out, shellHelpText, c.eng.Config().KeyDelimiter)

	case ".exit", ".quit":
		return true

	case ".physical":
		err = c.eng.DumpPhysical(c.out)

	case ".logical":
		err = c.eng.DumpLogical(c.out)

	case ".block":
		err = c.block(parts[1:])

	case ".most":
		err = c.eng.ListMost(c.out)

	case ".search":
		c.search(rest, false)

	case ".offset":
		c.search(rest, true)

	case ".index":
		var idx engine.IndexResult
		if idx, err = c.eng.RebuildIndexes(); err == nil {
			if idx.BlockBuilt {
				fmt.Fprintf(c.out, "Block index: %d entries\n", idx.Block.Entries)
			}
			if idx.OffsetBuilt {
				fmt.Fprintf(c.out, "Offset index: %d entries\n", idx.Offset.Entries)
			}
		}

	case ".stale":
		var stale bool
		if stale, err = c.eng.Stale(); err == nil {
			if stale {
				fmt.Fprintln(c.out, "Index is stale, run .index to rebuild")
			} else {
				fmt.Fprintln(c.out, "Index is up to date")
			}
		}

	case ".validate":
		if _, err = c.eng.Validate(); err == nil {
			fmt.Fprintln(c.out, "Chains are consistent")
		}

	case ".stats":
		c.printStats()

	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n", cmd)
	}

	if err != nil {
		fmt.Fprintf(c.out, "Error: %s\n", err)
	}
	return false
}

func (c *console) search(text string, offset bool) {
	keys := search.SplitKeys(text, c.eng.Config().KeyDelimiter)
	if len(keys) == 0 {
		fmt.Fprintln(c.out, "Error: no keys given")
		return
	}

	var (
		results []search.Result
		err     error
	)
	if offset {
		results, err = c.eng.SearchOffset(keys...)
	} else {
		results, err = c.eng.Search(keys...)
	}
	for _, r := range results {
		fmt.Fprintln(c.out, search.Format(r))
	}
	if err != nil {
		fmt.Fprintf(c.out, "Error: %s\n", err)
	}
}

func (c *console) block(args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(c.out, "Error: .block requires an RBN argument")
		return nil
	}
	rbn, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Error: invalid RBN %q\n", args[0])
		return nil
	}

	field := "details"
	if len(args) > 1 {
		field = strings.ToLower(args[1])
	}
	if field == "details" {
		_, err := c.eng.Describe(c.out, rbn)
		return err
	}

	b, ok, err := c.eng.Block(rbn)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(c.out, "Block with RBN %d not found.\n", rbn)
		return nil
	}

	switch field {
	case "available":
		available := "No"
		if b.List == block.Avail {
			available = "Yes"
		}
		fmt.Fprintf(c.out, "Available: %s\n", available)
	case "records":
		fmt.Fprintf(c.out, "Records: %s\n", strings.Join(b.Records, " "))
	case "predecessor":
		fmt.Fprintf(c.out, "Predecessor RBN: %d\n", b.Prev)
	case "successor":
		fmt.Fprintf(c.out, "Successor RBN: %d\n", b.Next)
	default:
		fmt.Fprintf(c.out, "Unknown block field: %s\n", field)
	}
	return nil
}

func (c *console) printStats() {
	stats := c.eng.Stats()

	// Helper function to safely get a uint64 value with default
	getUint64 := func(m map[string]interface{}, key string) uint64 {
		if v, ok := m[key].(uint64); ok {
			return v
		}
		return 0
	}

	fmt.Fprintln(c.out, "Operations:")
	for _, op := range []string{"build", "convert", "load", "index", "search", "dump", "archive", "restore"} {
		n := getUint64(stats, op+"_ops")
		if n == 0 {
			continue
		}
		line := fmt.Sprintf("  %s: %d", toTitle(op), n)
		if ts, ok := stats["last_"+op+"_time"].(int64); ok && ts > 0 {
			line += fmt.Sprintf(" (last %s)", time.Unix(0, ts).Format(time.RFC3339))
		}
		if latency, ok := stats[op+"_latency"].(map[string]interface{}); ok {
			if avgNs, ok := latency["avg_ns"].(uint64); ok {
				line += fmt.Sprintf(", avg %.2f ms", float64(avgNs)/1000000.0)
			}
		}
		fmt.Fprintln(c.out, line)
	}

	fmt.Fprintln(c.out, "\nSearches:")
	fmt.Fprintf(c.out, "  Hits: %d\n", getUint64(stats, "search_hits"))
	fmt.Fprintf(c.out, "  Misses: %d\n", getUint64(stats, "search_misses"))

	if store, ok := stats["store"].(map[string]interface{}); ok {
		fmt.Fprintln(c.out, "\nStore:")
		fmt.Fprintf(c.out, "  Blocks: %d\n", getUint64(store, "blocks"))
		fmt.Fprintf(c.out, "  Records: %d\n", getUint64(store, "records"))
		fmt.Fprintf(c.out, "  Skipped Lines: %d\n", getUint64(store, "skipped_lines"))
	}

	fmt.Fprintln(c.out, "\nI/O:")
	fmt.Fprintf(c.out, "  Total Bytes Read: %d\n", getUint64(stats, "total_bytes_read"))
	fmt.Fprintf(c.out, "  Total Bytes Written: %d\n", getUint64(stats, "total_bytes_written"))

	if errs, ok := stats["errors"].(map[string]uint64); ok && len(errs) > 0 {
		fmt.Fprintln(c.out, "\nErrors:")
		names := make([]string, 0, len(errs))
		for name := range errs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(c.out, "  %s: %d\n", toTitle(strings.ReplaceAll(name, "_", " ")), errs[name])
		}
	}
}

// toTitle replaces strings.Title which is deprecated
// It converts the first character of each word to title case
func toTitle(s string) string {
	prev := ' '
	return strings.Map(
		func(r rune) rune {
			if unicode.IsSpace(prev) || unicode.IsPunct(prev) {
				prev = r
				return unicode.ToTitle(r)
			}
			prev = r
			return r
		},
		s)
}
