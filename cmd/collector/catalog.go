package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"voltio/internal/catalog"
	"voltio/internal/model"
	"voltio/internal/providers/esios"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Refresh the entity catalog from the ESIOS indicator list",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := esios.NewWithConfig(esiosConfig())
		if err != nil {
			return err
		}

		indicators, err := provider.ListIndicators(cmd.Context())
		if err != nil {
			return err
		}

		entities := make([]model.Entity, 0, len(indicators))
		for _, ind := range indicators {
			entities = append(entities, catalog.BuildEntity(ind.ID, ind.Name, ind.ShortName, ind.Description))
		}
		catalog.Sort(entities)

		if err := catalog.Save(cfg.CatalogPath, entities); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"indicators": len(entities),
			"path":       cfg.CatalogPath,
		}).Info("catalog refreshed")

		if cfg.DatabasePath != "" {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.close()
			if err := rt.store.UpsertEntities(cmd.Context(), entities); err != nil {
				return err
			}
		}
		return nil
	},
}
