// cmd/enfd/root.go
package main

import (
	"fmt"
	"io"

	"accessorycard-go/services/config"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	// Version is the release version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	cfgFile  string
	board    string
	logLevel string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "enfd",
		Short: "ENF accessory card slot daemon",
		Long: `enfd attaches ENF accessory cards found in the gateway's accessory slots,
owns their reset lines and publishes their controls and identity fields.

Examples:
  enfd run --board mtcdt            Attach cards and serve until interrupted
  enfd attr show enf/product-id     Print one attribute
  enfd attr store enf/reset 0       Pulse the first card's reset; the line returns
                                    high when the command exits
  enfd config show                  Print the effective configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.cfgFile, "config", "", "config file (YAML or TOML); default is the embedded board config")
	root.PersistentFlags().StringVar(&g.board, "board", "", "embedded board config to use (env ENFD_BOARD)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override log_level")

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newConfigCmd(g))
	root.AddCommand(newAttrCmd(g))
	root.AddCommand(newSlotsCmd(g))
	root.AddCommand(newVersionCmd())
	return root
}

func (g *globals) load() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{File: g.cfgFile, Board: g.board})
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg *config.Config) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Prefix:          "enfd",
		Level:           cfg.Level(),
		ReportTimestamp: true,
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "enfd %s (%s)\n", Version, Commit)
		},
	}
}
