// Package collector drives chunked historical collection: split, fetch,
// validate, persist, checkpoint, one (entity, chunk) pair at a time.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"voltio/internal/chunk"
	"voltio/internal/model"
	"voltio/internal/providers"
	"voltio/internal/ratelimit"
	"voltio/internal/store"
	"voltio/internal/store/csvstore"
)

// ErrRunAborted wraps the credential failure that stopped a run early.
var ErrRunAborted = errors.New("collector: run aborted")

const (
	defaultMaxAttempts = 5
	defaultBackoffBase = 2 * time.Second
	backoffCap         = 60 * time.Second
)

// Config wires one collection run.
type Config struct {
	Source      providers.Source
	Store       store.Store
	Checkpoints store.Checkpoints
	CSV         *csvstore.Writer // optional
	Limiter     *ratelimit.Limiter
	Location    *time.Location
	Logger      logrus.FieldLogger

	// WarnRatio is the completeness fraction below which a chunk is
	// logged as sparse. Zero disables the warning.
	WarnRatio float64

	// MaxAttempts bounds fetch retries per chunk. Zero means the default.
	MaxAttempts int

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

type Collector struct {
	cfg Config
	log logrus.FieldLogger
}

// Summary counts terminal chunk outcomes for one run.
type Summary struct {
	Entities  int
	Chunks    int
	Skipped   int
	Succeeded int
	Partial   int
	Failed    int
	Rows      int
}

func (s Summary) String() string {
	return fmt.Sprintf("entities=%d chunks=%d skipped=%d success=%d partial=%d failed=%d rows=%d",
		s.Entities, s.Chunks, s.Skipped, s.Succeeded, s.Partial, s.Failed, s.Rows)
}

func New(cfg Config) (*Collector, error) {
	if cfg.Source == nil {
		return nil, errors.New("collector: source is required")
	}
	if cfg.Store == nil {
		cfg.Store = &store.NopStore{}
	}
	if cfg.Checkpoints == nil {
		return nil, errors.New("collector: checkpoints are required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.sleep == nil {
		cfg.sleep = providers.SleepWithContext
	}
	return &Collector{
		cfg: cfg,
		log: cfg.Logger.WithField("source", cfg.Source.Name()),
	}, nil
}

// Run collects [start, end) for every entity, in priority order as given.
// A credential failure aborts the whole run; any other chunk failure is
// recorded and the run moves on.
func (c *Collector) Run(ctx context.Context, entities []model.Entity, start, end time.Time) (Summary, error) {
	var summary Summary

	ranges, err := chunk.Split(start, end, c.cfg.Source.MaxSpanDays())
	if err != nil {
		return summary, err
	}

	c.log.WithFields(logrus.Fields{
		"entities": len(entities),
		"chunks":   len(ranges),
		"start":    start.Format("2006-01-02"),
		"end":      end.Format("2006-01-02"),
	}).Info("starting collection run")

	for _, entity := range entities {
		if !entity.IsActive {
			continue
		}
		summary.Entities++

		for _, r := range ranges {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			summary.Chunks++

			outcome, err := c.collectChunk(ctx, entity, r)
			if err != nil {
				if errors.Is(err, providers.ErrAuth) {
					return summary, fmt.Errorf("%w: %v", ErrRunAborted, err)
				}
				return summary, err
			}

			switch outcome.status {
			case model.StatusSuccess:
				summary.Succeeded++
			case model.StatusPartial:
				summary.Partial++
			case model.StatusFailed:
				summary.Failed++
			case statusSkipped:
				summary.Chunks--
				summary.Skipped++
			}
			summary.Rows += outcome.rows
		}
	}

	c.log.WithField("summary", summary.String()).Info("collection run finished")
	return summary, nil
}

// statusSkipped is internal to the run loop; it never reaches the log table.
const statusSkipped model.Status = "skipped"

type chunkOutcome struct {
	status model.Status
	rows   int
}

// collectChunk handles one (entity, chunk) pair end to end. The checkpoint
// is written only after every persistence sink has accepted the rows.
func (c *Collector) collectChunk(ctx context.Context, entity model.Entity, r chunk.Range) (chunkOutcome, error) {
	log := c.log.WithFields(logrus.Fields{
		"entity": entity.ID,
		"chunk":  r.String(),
	})

	done, err := c.cfg.Checkpoints.IsDone(ctx, entity.ID, r)
	if err != nil {
		return chunkOutcome{}, err
	}
	if done {
		log.Debug("chunk already collected, skipping")
		return chunkOutcome{status: statusSkipped}, nil
	}

	began := time.Now()
	rows, err := c.fetchWithRetry(ctx, entity, r, log)
	if err != nil {
		if errors.Is(err, providers.ErrAuth) || ctx.Err() != nil {
			return chunkOutcome{}, err
		}
		log.WithError(err).Error("chunk failed")
		c.appendLog(ctx, entity, r, 0, model.StatusFailed, err, began)
		return chunkOutcome{status: model.StatusFailed}, nil
	}

	expected := expectedSlots(entity.Source, r, c.cfg.Location)
	clean, report := validateChunk(entity, r, expected, rows)

	if report.OutOfWindow > 0 || report.Duplicates > 0 || report.Implausible > 0 {
		log.WithFields(logrus.Fields{
			"out_of_window": report.OutOfWindow,
			"duplicates":    report.Duplicates,
			"implausible":   report.Implausible,
		}).Warn("chunk rows needed cleaning")
	}
	if c.cfg.WarnRatio > 0 && report.Completeness() < c.cfg.WarnRatio {
		log.WithFields(logrus.Fields{
			"expected": report.Expected,
			"kept":     report.Kept,
		}).Warn("chunk is sparse")
	}

	stored, err := c.persist(ctx, entity, r, clean)
	if err != nil {
		log.WithError(err).Error("persisting chunk failed")
		c.appendLog(ctx, entity, r, 0, model.StatusFailed, err, began)
		return chunkOutcome{status: model.StatusFailed}, nil
	}

	if err := c.cfg.Checkpoints.MarkDone(ctx, entity.ID, r); err != nil {
		return chunkOutcome{}, fmt.Errorf("collector: checkpoint: %w", err)
	}

	status := model.StatusSuccess
	if report.Empty {
		status = model.StatusPartial
		log.Info("chunk returned no rows")
	}
	c.appendLog(ctx, entity, r, stored, status, nil, began)

	log.WithFields(logrus.Fields{
		"rows":     stored,
		"status":   status,
		"duration": time.Since(began).Round(time.Millisecond).String(),
	}).Info("chunk collected")
	return chunkOutcome{status: status, rows: stored}, nil
}

// fetchWithRetry acquires a rate-limit slot and calls the source, backing
// off exponentially on retryable failures.
func (c *Collector) fetchWithRetry(ctx context.Context, entity model.Entity, r chunk.Range, log logrus.FieldLogger) ([]model.ObservationRow, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.cfg.Limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		rows, err := c.cfg.Source.FetchRange(ctx, entity, r)
		if err == nil {
			return rows, nil
		}
		lastErr = err

		if !providers.Retryable(err) {
			return nil, err
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		delay := backoff(attempt)
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("fetch failed, retrying")
		if err := c.cfg.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("collector: giving up after %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

func (c *Collector) persist(ctx context.Context, entity model.Entity, r chunk.Range, rows []model.ObservationRow) (int, error) {
	stored, err := c.cfg.Store.UpsertObservations(ctx, rows)
	if err != nil {
		return 0, err
	}
	if c.cfg.CSV != nil {
		if _, err := c.cfg.CSV.WriteRange(entity.ID, r.Start, r.End, rows); err != nil {
			return 0, err
		}
	}
	return stored, nil
}

func (c *Collector) appendLog(ctx context.Context, entity model.Entity, r chunk.Range, stored int, status model.Status, cause error, began time.Time) {
	entry := model.CollectionLog{
		EntityID:      entity.ID,
		ChunkStart:    r.Start,
		ChunkEnd:      r.End,
		RecordsStored: stored,
		Status:        status,
		ExecutionTime: time.Since(began),
		CreatedAt:     time.Now().UTC(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := c.cfg.Store.AppendLog(ctx, entry); err != nil {
		c.log.WithError(err).Warn("writing collection log failed")
	}
}

func backoff(attempt int) time.Duration {
	delay := defaultBackoffBase << (attempt - 1)
	if delay > backoffCap {
		return backoffCap
	}
	return delay
}
