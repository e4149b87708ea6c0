package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"harvester/internal/runlock"
	"harvester/pkg/checkpoint"
	"harvester/pkg/config"
	"harvester/pkg/ledger"
	"harvester/pkg/logger"
	"harvester/pkg/orchestrator"
	"harvester/pkg/quota"
	"harvester/pkg/ui"
)

var statusJSON bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted state of the data directory",
	Long: `Show checkpoints, ledger sizes, the search quota and whether a run
currently holds the data directory. Nothing is modified.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the report as JSON")
}

// statusReport is everything status prints
type statusReport struct {
	DataDir     string                            `json:"data_dir"`
	Lock        *runlock.Owner                    `json:"lock,omitempty"`
	Checkpoints map[string]map[string]interface{} `json:"checkpoints"`
	Quota       quota.Status                      `json:"quota"`
	Ledgers     map[string]int                    `json:"ledgers"`
	Failures    int                               `json:"failures"`
	CurrentUnit string                            `json:"current_unit,omitempty"`
}

// statusLedgers are reported by line count, in this order
var statusLedgers = []string{
	"keywords_todo.txt",
	"keywords_done.txt",
	"seen_ids.txt",
	"processed_ids.txt",
	"invalid_ids.txt",
	"missing_ids.txt",
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	report, err := collectStatus(cfg)
	if err != nil {
		return err
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printStatus(report)
	return nil
}

func collectStatus(cfg *config.Config) (*statusReport, error) {
	nop := logger.NewNopLogger()
	report := &statusReport{
		DataDir:     cfg.Output.BaseDirectory,
		Checkpoints: map[string]map[string]interface{}{},
		Ledgers:     map[string]int{},
	}

	if owner, err := runlock.ReadOwner(cfg.Output.BaseDirectory); err == nil {
		report.Lock = &owner
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read run lock: %w", err)
	}

	for _, mode := range []string{orchestrator.ModeKeywords, orchestrator.ModeRange} {
		info, err := checkpoint.NewManager(cfg.Output.Path(checkpointFile(mode)), nop).Info()
		if err != nil {
			return nil, err
		}
		if info != nil {
			report.Checkpoints[mode] = info
		}
	}

	report.Quota = quota.NewCounter(cfg.Output.Path(cfg.Quota.File), cfg.Quota.DailyLimit, nop).Status()

	for _, name := range statusLedgers {
		items, exists, err := ledger.NewList(cfg.Output.Path(name)).Load()
		if err != nil {
			return nil, err
		}
		if exists {
			report.Ledgers[name] = len(items)
		}
	}

	failures, err := ledger.NewFailureLog(cfg.Output.Path("failed_units.txt")).Entries()
	if err != nil {
		return nil, err
	}
	report.Failures = len(failures)

	current, err := ledger.NewMarker(cfg.Output.Path("current_unit.txt")).Get()
	if err != nil {
		return nil, err
	}
	report.CurrentUnit = current
	return report, nil
}

func printStatus(r *statusReport) {
	ui.PrintHighlight("Harvester Status")
	ui.PrintInfo("Data directory", r.DataDir)

	if r.Lock != nil {
		ui.PrintWarning(fmt.Sprintf("Locked by pid %d on %s (run %s, since %s)", r.Lock.PID, r.Lock.Hostname, r.Lock.RunID, r.Lock.CreatedAt))
	} else {
		ui.PrintInfo("Lock", "free")
	}
	if r.CurrentUnit != "" {
		ui.PrintInfo("Last unit", r.CurrentUnit)
	}

	fmt.Println()
	for _, mode := range []string{orchestrator.ModeKeywords, orchestrator.ModeRange} {
		info, ok := r.Checkpoints[mode]
		if !ok {
			ui.PrintInfo("Checkpoint "+mode, "none")
			continue
		}
		if reason, corrupt := info["corrupt"]; corrupt {
			ui.PrintWarning("Checkpoint "+mode+" is corrupt", reason)
			continue
		}
		age, _ := info["age"].(time.Duration)
		ui.PrintInfo("Checkpoint "+mode, fmt.Sprintf("%v processed, %v saved, current %q, updated %s ago",
			info["processed_count"], info["saved"], info["current_unit"], ui.FormatDuration(age)))
	}

	fmt.Println()
	ui.PrintInfo("Search quota", fmt.Sprintf("%d/%d used on %s (%d left)", r.Quota.Count, r.Quota.Limit, r.Quota.Date, r.Quota.Remaining))
	for _, name := range statusLedgers {
		if n, ok := r.Ledgers[name]; ok {
			ui.PrintInfo(name, fmt.Sprintf("%d", n))
		}
	}
	ui.PrintInfo("Failed units", fmt.Sprintf("%d", r.Failures))
}
