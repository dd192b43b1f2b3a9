// Command collector pulls historical time series from ESIOS, AEMET and
// Capital.com into sqlite and per-entity CSV files, chunk by chunk, with
// durable checkpoints so interrupted runs resume where they stopped.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"voltio/internal/checkpoint"
	"voltio/internal/config"
	"voltio/internal/store"
	"voltio/internal/store/csvstore"
	"voltio/internal/store/sqlite"
)

var (
	cfgPath  string
	logLevel string

	cfg *config.Config
	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:          "collector",
	Short:        "Historical energy data collector",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		level := cfg.Logging
		if logLevel != "" {
			level = logLevel
		}
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		log.SetLevel(parsed)
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "voltio.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override configured log level")

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(weatherCmd)
	rootCmd.AddCommand(commoditiesCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("collector failed")
		os.Exit(1)
	}
}

// runtime bundles the open persistence handles for one invocation.
type runtime struct {
	store       store.Store
	checkpoints store.Checkpoints
	csv         *csvstore.Writer
	close       func()
}

// openRuntime wires persistence from the config. With a database the
// checkpoints live in sqlite next to the data; without one a JSON file
// carries them.
func openRuntime() (*runtime, error) {
	rt := &runtime{store: &store.NopStore{}, close: func() {}}

	if cfg.DatabasePath != "" {
		db, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		rt.store = db
		rt.checkpoints = db
		rt.close = func() { _ = db.Close() }
	} else {
		ckpt, err := checkpoint.NewFileStore(cfg.CheckpointPath)
		if err != nil {
			return nil, err
		}
		rt.checkpoints = ckpt
	}

	if cfg.CSVDir != "" {
		writer, err := csvstore.New(cfg.CSVDir)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.csv = writer
	}
	return rt, nil
}

// parseWindow resolves the --from/--to flags against the configured
// default start and today.
func parseWindow(from, to string) (time.Time, time.Time, error) {
	if from == "" {
		from = cfg.DefaultStart
	}
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q: %w", from, err)
	}

	var end time.Time
	if to == "" {
		now := time.Now().UTC()
		end = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		end, err = time.Parse("2006-01-02", to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: %w", to, err)
		}
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from %s must be before --to %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return start, end, nil
}
