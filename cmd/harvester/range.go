package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"harvester/pkg/extract"
	"harvester/pkg/ledger"
	"harvester/pkg/orchestrator"
	"harvester/pkg/unitsource"
)

var (
	rangeStart int64
	rangeEnd   int64
	rangeLimit int
)

var rangeCmd = &cobra.Command{
	Use:   "range",
	Short: "Walk a numeric document-ID range and store every valid entry",
	Long: `Run an ID-range crawl.

Every identifier in [start, end] that is neither in processed_ids.txt nor in
invalid_ids.txt is fetched once, in a shuffled order persisted to
missing_ids.txt so an interrupted run resumes in the same order from the
offset in crawl_resume.json. Identifiers that redirect away from the medicine
category or return 404 are remembered as invalid.`,
	Example: `  # Crawl the configured range
  harvester range

  # Crawl part of the range, at most 1000 identifiers this run
  harvester range --start 2120920 --end 2200000 --limit 1000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl(orchestrator.ModeRange, map[string]interface{}{
			"start": rangeStart,
			"end":   rangeEnd,
			"limit": rangeLimit,
		}, setupRange)
	},
}

func init() {
	rootCmd.AddCommand(rangeCmd)
	addCrawlFlags(rangeCmd)
	rangeCmd.Flags().Int64Var(&rangeStart, "start", 0, "first document ID (inclusive)")
	rangeCmd.Flags().Int64Var(&rangeEnd, "end", 0, "last document ID (inclusive)")
	rangeCmd.Flags().IntVar(&rangeLimit, "limit", 0, "maximum identifiers to visit this run")
}

func setupRange(env *crawlEnv) (unitsource.Source, orchestrator.Processor, error) {
	cfg := env.cfg

	processed, err := ledger.Open(cfg.Output.Path("processed_ids.txt"))
	if err != nil {
		return nil, nil, err
	}
	env.onClose(processed.Close)
	env.onClose(processed.Compact)
	invalid, err := ledger.Open(cfg.Output.Path("invalid_ids.txt"))
	if err != nil {
		return nil, nil, err
	}
	env.onClose(invalid.Close)
	env.onClose(invalid.Compact)

	// Records stored by either mode count as processed
	added, err := processed.AddMany(sourceIDs(env.storedIDs))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to merge stored ids: %w", err)
	}
	env.log.InfoWithFields("Range ledgers ready", map[string]interface{}{
		"processed":      processed.Len(),
		"merged_records": added,
		"invalid":        invalid.Len(),
	})

	explorer, err := unitsource.OpenRangeExplorer(processed, invalid, unitsource.RangeOptions{
		Start:       cfg.Range.Start,
		End:         cfg.Range.End,
		MissingPath: cfg.Output.Path("missing_ids.txt"),
		ResumePath:  cfg.Output.Path("crawl_resume.json"),
		OffsetEvery: cfg.Range.OffsetEvery,
		Limit:       cfg.Range.Limit,
		Reuse:       !cfg.Crawl.ForceRestart,
	}, env.log)
	if err != nil {
		return nil, nil, err
	}

	processor, err := orchestrator.NewRangeProcessor(orchestrator.RangeOptions{
		URLTemplate: cfg.Range.URLTemplate,
		Extractor:   extract.NewSelectorExtractor(cfg.Extract, cfg.Range.IDParam),
		Dedup:       env.dedup,
		Sink:        env.sink,
		Processed:   processed,
		Invalid:     invalid,
		Logger:      env.log,
	})
	if err != nil {
		return nil, nil, err
	}
	return explorer, processor, nil
}
