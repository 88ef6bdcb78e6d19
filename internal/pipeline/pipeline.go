// Package pipeline retrieves voucher rows from the external source for a
// date window and persists them idempotently.
//
// One query per window opens a cursor; pages come from draining it in
// chunks of the batch size. Each row is filtered against the target version,
// defensively parsed, buffered, and bulk-upserted. Ranges wider than the
// slicing threshold are cut into sub-windows that fail independently.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ganeshchavan786/TallyConnect-sub000/internal/audit"
	"github.com/ganeshchavan786/TallyConnect-sub000/internal/schema"
	"github.com/ganeshchavan786/TallyConnect-sub000/internal/source"
	"github.com/ganeshchavan786/TallyConnect-sub000/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	// MinBatchSize floors a misconfigured batch size.
	MinBatchSize = 50
	// DefaultBatchSize is used when the caller passes zero.
	DefaultBatchSize = 500
	// DefaultSliceThresholdDays is the span above which a window is
	// automatically sliced.
	DefaultSliceThresholdDays = 365
)

// Job names one fetch run for a single company identity.
type Job struct {
	Identity     schema.Identity
	Name         string
	SourceHandle string
	FromDate     time.Time
	ToDate       time.Time
	BatchSize    int

	// DisableSlicing skips automatic window slicing; the caller takes
	// responsibility for keeping the query tractable.
	DisableSlicing bool

	// SliceThresholdDays overrides DefaultSliceThresholdDays when positive.
	SliceThresholdDays int
}

// Result carries the pipeline's running counters.
type Result struct {
	RowsFetched      int64
	RowsInserted     int64
	RowsFiltered     int64 // version mismatch, discarded
	RowsSkipped      int64 // unparseable, skipped
	BatchesProcessed int
	Windows          int
	WindowsFailed    int
}

// BatchFunc is invoked after every persisted batch with the running result.
// The orchestrator uses it to revise heuristic progress.
type BatchFunc func(r Result)

// Runner drives fetch-transform-persist for one job at a time.
type Runner struct {
	db        *store.DB
	audit     *audit.Writer
	connector source.Connector
	logger    *logrus.Logger
}

// NewRunner wires a pipeline runner.
func NewRunner(db *store.DB, auditWriter *audit.Writer, connector source.Connector, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{db: db, audit: auditWriter, connector: connector, logger: logger}
}

// Run executes the job across one or more date windows. A window failure is
// logged and the remaining windows still run; it only becomes the job's
// error when the window was the sole one. Returns the accumulated counters
// alongside any error.
func (r *Runner) Run(ctx context.Context, job Job, onBatch BatchFunc) (Result, error) {
	var result Result

	if job.BatchSize <= 0 {
		job.BatchSize = DefaultBatchSize
	} else if job.BatchSize < MinBatchSize {
		job.BatchSize = MinBatchSize
	}

	conn, err := r.connector.Connect(ctx, job.SourceHandle)
	if err != nil {
		return result, fmt.Errorf("source connect failed: %w", err)
	}
	defer conn.Close()

	windows := []window{{from: job.FromDate, to: job.ToDate}}
	if !job.DisableSlicing {
		threshold := job.SliceThresholdDays
		if threshold <= 0 {
			threshold = DefaultSliceThresholdDays
		}
		windows = sliceWindows(job.FromDate, job.ToDate, threshold)
	}
	result.Windows = len(windows)

	var lastErr error
	for _, win := range windows {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := r.runWindow(ctx, conn, job, win, &result, onBatch); err != nil {
			result.WindowsFailed++
			lastErr = err

			if len(windows) == 1 {
				return result, err
			}

			// A failed slice must not abort completed slices.
			r.logger.WithFields(logrus.Fields{
				"identity": job.Identity.String(),
				"from":     win.from.Format(schema.DateLayout),
				"to":       win.to.Format(schema.DateLayout),
			}).Warnf("window failed, continuing with remaining slices: %v", err)
			r.audit.Warning(ctx, job.Identity, job.Name,
				fmt.Sprintf("Window %s..%s failed, continuing",
					win.from.Format(schema.DateLayout), win.to.Format(schema.DateLayout)),
				err.Error())
		}
	}

	if result.WindowsFailed == result.Windows && result.Windows > 0 {
		return result, fmt.Errorf("all %d windows failed: %w", result.Windows, lastErr)
	}

	return result, nil
}

// runWindow fetches and persists one date window.
func (r *Runner) runWindow(ctx context.Context, conn source.Connection, job Job, win window, result *Result, onBatch BatchFunc) error {
	stmt := source.VoucherQuery(win.from, win.to)

	cursor, err := conn.Query(ctx, stmt)
	if err != nil {
		r.audit.Error(ctx, job.Identity, job.Name,
			fmt.Sprintf("Query failed for window %s..%s",
				win.from.Format(schema.DateLayout), win.to.Format(schema.DateLayout)),
			err.Error())
		return fmt.Errorf("query failed: %w", err)
	}
	defer cursor.Close()

	for {
		// Cooperative cancellation between pages; the fetch itself blocks.
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := cursor.FetchPage(job.BatchSize)
		if err != nil {
			r.audit.Error(ctx, job.Identity, job.Name,
				fmt.Sprintf("Fetch failed for window %s..%s",
					win.from.Format(schema.DateLayout), win.to.Format(schema.DateLayout)),
				err.Error())
			return fmt.Errorf("fetch failed: %w", err)
		}
		if len(page) == 0 {
			return nil
		}

		batch := make([]*schema.Voucher, 0, len(page))
		for _, row := range page {
			result.RowsFetched++

			v, err := transformRow(row, job.Identity)
			if err != nil {
				result.RowsSkipped++
				r.logger.WithField("identity", job.Identity.String()).
					Debugf("skipping malformed row: %v", err)
				continue
			}
			if v == nil {
				// Row belongs to a different version of this identity.
				result.RowsFiltered++
				continue
			}
			batch = append(batch, v)
		}

		if len(batch) > 0 {
			inserted, err := r.db.InsertVouchers(ctx, batch)
			if err != nil {
				return fmt.Errorf("persist failed: %w", err)
			}
			result.RowsInserted += inserted
		}

		result.BatchesProcessed++
		if onBatch != nil {
			onBatch(*result)
		}
	}
}
