// Command exporter rebuilds the per-entity latest CSV views and a meta.json
// summary from the sqlite database. It is the read-side companion to the
// collector: run it after a collection pass to refresh downstream files.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"voltio/internal/model"
	"voltio/internal/store/csvstore"
	"voltio/internal/store/sqlite"
)

type entityMeta struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Priority int    `json:"priority"`
	Rows     int    `json:"rows"`
	First    string `json:"first,omitempty"`
	Last     string `json:"last,omitempty"`
	File     string `json:"file"`
}

type meta struct {
	GeneratedAt string       `json:"generated_at"`
	Database    string       `json:"database"`
	Entities    []entityMeta `json:"entities"`
}

func main() {
	dbPath := flag.String("db", "voltio.db", "sqlite database to read")
	outDir := flag.String("out", "data", "output directory for CSV views and meta.json")
	maxPriority := flag.Int("max-priority", 5, "export entities at or above this priority")
	logLevel := flag.String("log-level", "info", "logrus level")
	flag.Parse()

	log := logrus.New()
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(level)
	}

	if err := run(context.Background(), log, *dbPath, *outDir, *maxPriority); err != nil {
		log.WithError(err).Fatal("export failed")
	}
}

func run(ctx context.Context, log *logrus.Logger, dbPath, outDir string, maxPriority int) error {
	db, err := sqlite.New(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	writer, err := csvstore.New(outDir)
	if err != nil {
		return err
	}

	summary := meta{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Database:    dbPath,
	}

	for _, source := range []model.Source{model.SourceESIOS, model.SourceAEMET, model.SourceCapital} {
		entities, err := db.ListEntities(ctx, source, maxPriority, true)
		if err != nil {
			return err
		}
		for _, entity := range entities {
			rows, err := db.ObservationsForEntity(ctx, entity.ID)
			if err != nil {
				return err
			}
			if err := writer.ReplaceLatest(entity.ID, rows); err != nil {
				return err
			}

			em := entityMeta{
				ID:       entity.ID,
				Name:     entity.Name,
				Category: string(entity.Category),
				Priority: entity.Priority,
				Rows:     len(rows),
				File:     filepath.Base(writer.LatestPath(entity.ID)),
			}
			if len(rows) > 0 {
				em.First = rows[0].Timestamp.UTC().Format(time.RFC3339)
				em.Last = rows[len(rows)-1].Timestamp.UTC().Format(time.RFC3339)
			}
			summary.Entities = append(summary.Entities, em)

			log.WithFields(logrus.Fields{
				"entity": entity.ID,
				"rows":   len(rows),
			}).Info("view exported")
		}
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, "meta.json"), data, 0o644)
}
