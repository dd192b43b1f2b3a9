package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"voltio/internal/catalog"
	"voltio/internal/collector"
	"voltio/internal/config"
	"voltio/internal/model"
	"voltio/internal/providers"
	"voltio/internal/providers/esios"
	"voltio/internal/ratelimit"
)

var (
	collectFrom        string
	collectTo          string
	collectMaxPriority int
	collectReset       bool
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect ESIOS electricity indicators over a historical range",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := esios.NewWithConfig(esiosConfig())
		if err != nil {
			return err
		}

		entities, err := loadCatalogEntities(model.SourceESIOS, collectMaxPriority)
		if err != nil {
			return err
		}
		return runCollection(cmd.Context(), provider, entities, cfg.ESIOS, collectFrom, collectTo, collectReset)
	},
}

func init() {
	collectCmd.Flags().StringVar(&collectFrom, "from", "", "start date YYYY-MM-DD (default: configured default_start)")
	collectCmd.Flags().StringVar(&collectTo, "to", "", "end date YYYY-MM-DD, exclusive (default: today)")
	collectCmd.Flags().IntVar(&collectMaxPriority, "max-priority", 0, "only collect entities at or above this priority (default: configured)")
	collectCmd.Flags().BoolVar(&collectReset, "reset-checkpoints", false, "discard checkpoints and refetch everything")
}

// loadCatalogEntities reads the curated catalog and filters it for one
// source. The catalog subcommand generates the file.
func loadCatalogEntities(source model.Source, maxPriority int) ([]model.Entity, error) {
	if maxPriority <= 0 {
		maxPriority = cfg.MaxPriority
	}

	all, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("loading catalog %s (run `collector catalog` first?): %w", cfg.CatalogPath, err)
	}

	var entities []model.Entity
	for _, entity := range all {
		if entity.Source != source || !entity.IsActive || entity.Priority > maxPriority {
			continue
		}
		entities = append(entities, entity)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("catalog %s holds no active %s entities at priority <= %d", cfg.CatalogPath, source, maxPriority)
	}
	catalog.Sort(entities)
	return entities, nil
}

// runCollection is the shared fetch loop behind collect, weather and
// commodities.
func runCollection(ctx context.Context, provider providers.Source, entities []model.Entity, src config.SourceConfig, from, to string, reset bool) error {
	start, end, err := parseWindow(from, to)
	if err != nil {
		return err
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	if reset {
		if err := rt.checkpoints.Reset(ctx); err != nil {
			return err
		}
		log.Warn("checkpoints reset, full refetch ahead")
	}

	if err := rt.store.UpsertEntities(ctx, entities); err != nil {
		return err
	}

	coll, err := collector.New(collector.Config{
		Source:      provider,
		Store:       rt.store,
		Checkpoints: rt.checkpoints,
		CSV:         rt.csv,
		Limiter:     ratelimit.New(src.RequestsPerMinute, time.Minute),
		Location:    cfg.Location(),
		Logger:      log,
		WarnRatio:   cfg.Validation.CompletenessWarnRatio,
	})
	if err != nil {
		return err
	}

	summary, err := coll.Run(ctx, entities, start, end)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d chunk(s) failed, rerun to retry them", summary.Failed)
	}
	return nil
}

func esiosConfig() esios.Config {
	pc := esios.ConfigFromEnv()
	if cfg.ESIOS.BaseURL != "" {
		pc.BaseURL = cfg.ESIOS.BaseURL
	}
	if cfg.ESIOS.MaxSpanDays > 0 {
		pc.MaxSpanDays = cfg.ESIOS.MaxSpanDays
	}
	pc.Timeout = cfg.ESIOS.TimeoutDuration()
	return pc
}
