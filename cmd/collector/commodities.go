package main

import (
	"sort"

	"github.com/spf13/cobra"

	"voltio/internal/model"
	"voltio/internal/providers/capital"
)

var (
	commoditiesFrom  string
	commoditiesTo    string
	commoditiesEpics []string
	commoditiesReset bool
)

// Capital.com EPIC codes for the fuels that drive marginal electricity
// prices in Spain.
var defaultEpics = map[string]string{
	"NATURALGAS": "Natural Gas",
	"OIL_CRUDE":  "Crude Oil Brent",
}

var commoditiesCmd = &cobra.Command{
	Use:   "commodities",
	Short: "Collect Capital.com hourly commodity prices",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := capital.NewWithConfig(capitalConfig())
		if err != nil {
			return err
		}

		entities := commodityEntities(commoditiesEpics)
		return runCollection(cmd.Context(), provider, entities, cfg.Capital, commoditiesFrom, commoditiesTo, commoditiesReset)
	},
}

func init() {
	commoditiesCmd.Flags().StringVar(&commoditiesFrom, "from", "", "start date YYYY-MM-DD (default: configured default_start)")
	commoditiesCmd.Flags().StringVar(&commoditiesTo, "to", "", "end date YYYY-MM-DD, exclusive (default: today)")
	commoditiesCmd.Flags().StringSliceVar(&commoditiesEpics, "epics", nil, "EPIC codes to collect (default: built-in set)")
	commoditiesCmd.Flags().BoolVar(&commoditiesReset, "reset-checkpoints", false, "discard checkpoints and refetch everything")
}

func commodityEntities(epics []string) []model.Entity {
	if len(epics) == 0 {
		epics = make([]string, 0, len(defaultEpics))
		for epic := range defaultEpics {
			epics = append(epics, epic)
		}
		sort.Strings(epics)
	}

	var entities []model.Entity
	for _, epic := range epics {
		name := defaultEpics[epic]
		if name == "" {
			name = epic
		}
		entities = append(entities, model.Entity{
			ID:       epic,
			Name:     name,
			Source:   model.SourceCapital,
			Category: model.CategoryCommodity,
			Priority: 2,
			IsActive: true,
		})
	}
	return entities
}

func capitalConfig() capital.Config {
	pc := capital.ConfigFromEnv()
	if cfg.Capital.BaseURL != "" {
		pc.BaseURL = cfg.Capital.BaseURL
	}
	if cfg.Capital.MaxSpanDays > 0 {
		pc.MaxSpanDays = cfg.Capital.MaxSpanDays
	}
	pc.Timeout = cfg.Capital.TimeoutDuration()
	return pc
}
