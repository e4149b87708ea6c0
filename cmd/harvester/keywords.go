package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"harvester/pkg/auth"
	"harvester/pkg/extract"
	"harvester/pkg/ledger"
	"harvester/pkg/orchestrator"
	"harvester/pkg/quota"
	"harvester/pkg/search"
	"harvester/pkg/storage"
	"harvester/pkg/ui"
	"harvester/pkg/unitsource"
)

var requeueFailed bool

var keywordsCmd = &cobra.Command{
	Use:   "keywords",
	Short: "Search the API keyword by keyword and store every relevant result",
	Long: `Run a keyword crawl.

Keywords come from keywords_todo.txt in the data directory (seeded from the
configuration on first run). Each keyword is searched through the API, the
results are filtered to medicine entries, and every new record is stored.
Completed keywords move to keywords_done.txt. When the queue runs dry it is
refilled from names found in stored records, then from a prefix sweep.

Search API credentials come from the configuration, the environment
(HARVESTER_SEARCH_CLIENT_ID / HARVESTER_SEARCH_CLIENT_SECRET) or the
credential store ('harvester auth login').`,
	Example: `  # Run with defaults
  harvester keywords

  # Four workers, stop after 500 new records, expose metrics
  harvester keywords -w 4 --max-items 500 --metrics-addr 127.0.0.1:9090

  # Put keywords that soft-failed in earlier runs back in the queue first
  harvester keywords --requeue-failed`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl(orchestrator.ModeKeywords, nil, setupKeywords)
	},
}

func init() {
	rootCmd.AddCommand(keywordsCmd)
	addCrawlFlags(keywordsCmd)
	keywordsCmd.Flags().BoolVar(&requeueFailed, "requeue-failed", false, "move failed keywords back to the todo queue before running")
}

func setupKeywords(env *crawlEnv) (unitsource.Source, orchestrator.Processor, error) {
	cfg := env.cfg

	if err := resolveSearchCredentials(env); err != nil {
		return nil, nil, err
	}

	generators := []unitsource.Generator{}
	if catalog, ok := env.sink.(storage.Catalog); ok {
		records := storage.RecordSource{Catalog: catalog, Context: env.ctx}
		generators = append(generators, unitsource.NewFrequencyGenerator(records, cfg.Keywords))
	}
	if len(cfg.Keywords.SweepAlphabet) > 0 {
		generators = append(generators, unitsource.NewSweepGenerator(cfg.Keywords.SweepAlphabet, cfg.Keywords.MaxNew))
	}

	queue, err := unitsource.OpenKeywordQueue(
		cfg.Output.Path("keywords_todo.txt"),
		cfg.Output.Path("keywords_done.txt"),
		unitsource.QueueOptions{
			Seeds:      cfg.Keywords.Seeds,
			Generators: generators,
			MaxRefills: cfg.Keywords.MaxRefills,
		},
		env.log,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open keyword queue: %w", err)
	}
	env.onClose(queue.Close)

	if requeueFailed {
		if err := requeueFailedKeywords(env, queue); err != nil {
			return nil, nil, err
		}
	}

	counter := quota.NewCounter(cfg.Output.Path(cfg.Quota.File), cfg.Quota.DailyLimit, env.log)
	status := counter.Status()
	ui.PrintInfo("Search quota", fmt.Sprintf("%d/%d used on %s", status.Count, status.Limit, status.Date))

	processor, err := orchestrator.NewKeywordProcessor(orchestrator.KeywordOptions{
		NewSearcher: func(int) orchestrator.Searcher {
			return search.NewClient(env.newFetcher(), meteredQuota{counter}, cfg.Search, env.log)
		},
		Filter:        cfg.Search,
		FetchPages:    cfg.Extract.FetchPages,
		PageExtractor: extract.NewSelectorExtractor(cfg.Extract, cfg.Range.IDParam),
		ItemExtractor: extract.NewSearchItemExtractor(cfg.Range.IDParam),
		Dedup:         env.dedup,
		Sink:          env.sink,
		Logger:        env.log,
	})
	if err != nil {
		return nil, nil, err
	}
	return queue, processor, nil
}

// resolveSearchCredentials fills missing client credentials from the credential store
func resolveSearchCredentials(env *crawlEnv) error {
	s := &env.cfg.Search
	if s.ClientID == "" || s.ClientSecret == "" {
		manager, err := auth.NewManager()
		if err != nil {
			env.log.WithError(err).Warn("Credential store unavailable")
		} else {
			id, secret, err := manager.Resolve(s.Profile, s.ClientID, s.ClientSecret)
			if err == nil {
				env.log.WithField("profile", s.Profile).Info("Using stored search credentials")
			}
			s.ClientID, s.ClientSecret = id, secret
		}
	}
	if err := env.cfg.ValidateSearch(); err != nil {
		return fmt.Errorf("%w\nrun 'harvester auth login' or set HARVESTER_SEARCH_CLIENT_ID and HARVESTER_SEARCH_CLIENT_SECRET", err)
	}
	return nil
}

// requeueFailedKeywords moves every keyword in the failure log back to todo
func requeueFailedKeywords(env *crawlEnv, queue *unitsource.KeywordQueue) error {
	failures := ledger.NewFailureLog(env.cfg.Output.Path("failed_units.txt"))
	entries, err := failures.Entries()
	if err != nil {
		return fmt.Errorf("failed to read failure log: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	units := make([]string, 0, len(entries))
	for _, entry := range entries {
		units = append(units, entry.Unit)
	}
	moved, err := queue.Requeue(units)
	if err != nil {
		return fmt.Errorf("failed to requeue keywords: %w", err)
	}
	if err := failures.Remove(units); err != nil {
		return fmt.Errorf("failed to prune failure log: %w", err)
	}

	env.log.InfoWithFields("Requeued failed keywords", map[string]interface{}{
		"failed":   len(units),
		"requeued": moved,
	})
	ui.PrintInfo("Requeued failed keywords", fmt.Sprintf("%d", moved))
	return nil
}
