package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"harvester/pkg/config"
	"harvester/pkg/ui"
)

var (
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	dataDir    string
	noColor    bool
	quiet      bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Resumable crawler for medicine encyclopedia entries",
	Long: `Harvester collects medicine records from an encyclopedia site.

Two crawl modes are available:
  - keywords: search the API for each keyword in a durable queue and store
    every relevant result, refilling the queue from collected records
  - range:    walk a numeric document-ID range in a shuffled order, skipping
    identifiers already processed or known to be invalid

Every run is resumable. Ledgers, checkpoints and records live in the data
directory; interrupt with Ctrl+C once to drain, twice to exit at once.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet {
			ui.SetQuietMode(true)
		}
		if noColor {
			ui.SetColor(false)
		}
	},
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./harvester.yaml or $XDG_CONFIG_HOME/harvester/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "directory for ledgers, checkpoints and records")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show logs instead of the progress line")

	rootCmd.SetVersionTemplate(`Harvester {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// globalFlags collects the persistent flags into the map config.Load merges
func globalFlags() map[string]interface{} {
	flags := make(map[string]interface{})
	if dataDir != "" {
		flags["data-dir"] = dataDir
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	if quiet {
		flags["log-level"] = "error"
	}
	if verbose && logLevel == "" {
		flags["log-level"] = "debug"
	}
	return flags
}

func loadConfig(extra map[string]interface{}) (*config.Config, error) {
	flags := globalFlags()
	for k, v := range extra {
		flags[k] = v
	}
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
