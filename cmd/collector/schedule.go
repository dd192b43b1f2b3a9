package main

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"voltio/internal/collector"
	"voltio/internal/model"
	"voltio/internal/providers/aemet"
	"voltio/internal/providers/capital"
	"voltio/internal/providers/esios"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run all collection flows on the configured cron schedule",
	Long: "Runs the esios, weather and commodities flows on the configured cron\n" +
		"expression. Checkpoints make each pass incremental: completed chunks\n" +
		"are skipped and only the open tail of the range is refetched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		scheduler := cron.New()
		_, err := scheduler.AddFunc(cfg.Schedule, func() {
			if err := runAllFlows(ctx); err != nil {
				log.WithError(err).Error("scheduled collection failed")
			}
		})
		if err != nil {
			return err
		}

		log.WithField("schedule", cfg.Schedule).Info("scheduler started")
		scheduler.Start()

		<-ctx.Done()
		log.Info("shutting down scheduler")

		stopped := scheduler.Stop()
		<-stopped.Done()
		return nil
	},
}

// runAllFlows runs the three collection flows back to back. An aborted run
// (bad credential) stops the pass; a run with failed chunks continues so
// the other sources still ingest.
func runAllFlows(ctx context.Context) error {
	flows := []struct {
		name string
		run  func(context.Context) error
	}{
		{"esios", runScheduledESIOS},
		{"weather", runScheduledWeather},
		{"commodities", runScheduledCommodities},
	}

	var firstErr error
	for _, flow := range flows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithField("flow", flow.name).Info("scheduled flow starting")
		if err := flow.run(ctx); err != nil {
			if errors.Is(err, collector.ErrRunAborted) || ctx.Err() != nil {
				return err
			}
			log.WithError(err).WithField("flow", flow.name).Error("scheduled flow failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func runScheduledESIOS(ctx context.Context) error {
	provider, err := esios.NewWithConfig(esiosConfig())
	if err != nil {
		return err
	}
	entities, err := loadCatalogEntities(model.SourceESIOS, cfg.MaxPriority)
	if err != nil {
		return err
	}
	return runCollection(ctx, provider, entities, cfg.ESIOS, "", "", false)
}

func runScheduledWeather(ctx context.Context) error {
	provider, err := aemet.NewWithConfig(aemetConfig())
	if err != nil {
		return err
	}
	return runCollection(ctx, provider, weatherEntities(nil), cfg.AEMET, "", "", false)
}

func runScheduledCommodities(ctx context.Context) error {
	provider, err := capital.NewWithConfig(capitalConfig())
	if err != nil {
		return err
	}
	return runCollection(ctx, provider, commodityEntities(nil), cfg.Capital, "", "", false)
}
