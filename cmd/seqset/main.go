package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/KevoDB/seqset/pkg/common/log"
	"github.com/KevoDB/seqset/pkg/config"
	"github.com/KevoDB/seqset/pkg/engine"
)

// Persistent flag names
const (
	flagConfig   = "config"
	flagDir      = "dir"
	flagLogLevel = "log-level"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd builds the seqset command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "seqset",
		Short: "Build, index and query blocked sequence set files",
		Long: `seqset packs delimited postal records into fixed-budget blocks,
indexes them by primary key and answers lookups against the index.

Run "seqset shell" for the interactive console.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP(flagConfig, "c", "", "JSON configuration file")
	root.PersistentFlags().StringP(flagDir, "d", "", "data directory (default: the config file's directory, or .)")
	root.PersistentFlags().String(flagLogLevel, "", "log level: debug, info, warn, error, off")

	root.AddCommand(
		NewBuildCmd(),
		NewConvertCmd(),
		NewIndexCmd(),
		NewSearchCmd(),
		NewDumpCmd(),
		NewBlockCmd(),
		NewMostCmd(),
		NewValidateCmd(),
		NewStaleCmd(),
		NewArchiveCmd(),
		NewRestoreCmd(),
		NewShellCmd(),
	)
	return root
}

// loadConfig resolves the configuration from the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	cfgPath, _ := flags.GetString(flagConfig)
	dir, _ := flags.GetString(flagDir)
	level, _ := flags.GetString(flagLogLevel)

	var cfg *config.Config
	if cfgPath != "" {
		var err error
		cfg, err = config.LoadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", cfgPath, err)
		}
	} else {
		if dir == "" {
			dir = "."
		}
		cfg = config.NewDefaultConfig(dir)
	}

	cfg.Update(func(c *config.Config) {
		if dir != "" {
			c.DataDir = dir
		}
		if level != "" {
			c.LogLevel = level
		}
	})
	return cfg, nil
}

// openEngine opens an engine configured from cmd's flags. Logs go to the
// command's error stream.
func openEngine(cmd *cobra.Command) (*engine.Engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := log.NewStandardLogger(
		log.WithLevel(level),
		log.WithOutput(cmd.ErrOrStderr()),
	)

	eng, err := engine.Open(cfg, engine.WithLogger(logger))
	if err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			return nil, fmt.Errorf("%w (check --config and --dir)", err)
		}
		return nil, err
	}
	return eng, nil
}

// withEngine runs fn against an engine that is closed afterwards.
func withEngine(fn func(cmd *cobra.Command, eng *engine.Engine, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()
		return fn(cmd, eng, args)
	}
}
