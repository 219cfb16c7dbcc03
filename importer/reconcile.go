package importer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"portaladmin/db"
	"portaladmin/model"
)

// Mode is the strategy for bringing the workers table in line with the roster.
type Mode string

const (
	// ModeReplace deletes every worker but the seed and inserts the roster, all or nothing.
	ModeReplace Mode = "replace"
	// ModeUpsert inserts or updates each roster row on its own; failed rows are reported.
	ModeUpsert Mode = "upsert"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeReplace, ModeUpsert:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q (want %s or %s)", ErrUnknownMode, s, ModeReplace, ModeUpsert)
}

type RowStatus string

const (
	RowWritten    RowStatus = "written"
	RowSkipped    RowStatus = "skipped"
	RowFailed     RowStatus = "failed"
	RowRolledBack RowStatus = "rolled_back"
)

// RowResult is the outcome for one active roster row. Index is the row's
// 1-based position among the active rows.
type RowResult struct {
	Index       int
	ID          string
	DisplayName string
	Role        model.Role
	Status      RowStatus
	Err         error
}

type Importer struct {
	store  db.Store
	policy Policy
	log    *zap.SugaredLogger
}

func New(store db.Store, policy Policy, log *zap.SugaredLogger) *Importer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Importer{store: store, policy: policy, log: log}
}

func (imp *Importer) Policy() Policy {
	return imp.policy
}

// Canonicalize filters records down to the active rows and maps each one.
func (imp *Importer) Canonicalize(records []SourceRecord) []model.Worker {
	active := FilterActive(records, imp.policy.ActiveSentinel)
	workers := make([]model.Worker, len(active))
	for i, rec := range active {
		workers[i] = imp.policy.MapToCanonical(rec)
	}
	return workers
}

// Run filters, maps and reconciles records and summarizes the outcome. The
// report is returned even when err is non-nil.
func (imp *Importer) Run(ctx context.Context, records []SourceRecord, mode Mode) (*Report, error) {
	started := time.Now()
	workers := imp.Canonicalize(records)
	imp.log.Infof("%d of %d roster rows are %q", len(workers), len(records), imp.policy.ActiveSentinel)

	results, err := imp.Reconcile(ctx, workers, mode)

	report := Summarize(mode, len(records), len(workers), results)
	report.StartedAt = started
	report.FinishedAt = time.Now()
	return report, err
}

func (imp *Importer) Reconcile(ctx context.Context, workers []model.Worker, mode Mode) ([]RowResult, error) {
	switch mode {
	case ModeReplace:
		return imp.replace(ctx, workers)
	case ModeUpsert:
		return imp.upsert(ctx, workers)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

func (imp *Importer) resultFor(i int, w *model.Worker) RowResult {
	return RowResult{Index: i + 1, ID: w.ID, DisplayName: w.DisplayName, Role: w.Role}
}

// seedResult reports whether w is the seed worker and, if so, records the skip.
func (imp *Importer) seedResult(i int, w *model.Worker, results *[]RowResult) bool {
	if w.ID != imp.policy.SeedID {
		return false
	}
	imp.log.Infof("row %d: skipping seed worker %s", i+1, w.ID)
	res := imp.resultFor(i, w)
	res.Status = RowSkipped
	*results = append(*results, res)
	return true
}

func (imp *Importer) replace(ctx context.Context, workers []model.Worker) ([]RowResult, error) {
	results := make([]RowResult, 0, len(workers))

	err := imp.store.Transaction(ctx, func(tx db.Store) error {
		deleted, err := tx.DeleteWorkersExcept(ctx, imp.policy.SeedID)
		if err != nil {
			return fmt.Errorf("clearing workers: %w", err)
		}
		imp.log.Infof("cleared %d existing workers, kept %s", deleted, imp.policy.SeedID)

		for i := range workers {
			w := &workers[i]
			if imp.seedResult(i, w, &results) {
				continue
			}
			res := imp.resultFor(i, w)
			if err := tx.InsertWorker(ctx, w); err != nil {
				res.Status = RowFailed
				res.Err = &RowWriteError{ID: w.ID, Err: err}
				results = append(results, res)
				imp.log.Errorf("row %d: %v", res.Index, res.Err)
				return res.Err
			}
			res.Status = RowWritten
			results = append(results, res)
			imp.log.Debugf("row %d: inserted %s (%s)", res.Index, w.ID, w.DisplayName)
		}
		return nil
	})
	if err != nil {
		markRolledBack(results)
		return results, fmt.Errorf("%w: %w", ErrReplaceAborted, err)
	}
	return results, nil
}

// upsert writes every row in its own savepoint inside one transaction, so a
// failed row neither aborts the others nor leaves the transaction unusable.
func (imp *Importer) upsert(ctx context.Context, workers []model.Worker) ([]RowResult, error) {
	results := make([]RowResult, 0, len(workers))

	err := imp.store.Transaction(ctx, func(tx db.Store) error {
		for i := range workers {
			w := &workers[i]
			if imp.seedResult(i, w, &results) {
				continue
			}
			res := imp.resultFor(i, w)
			err := tx.Transaction(ctx, func(row db.Store) error {
				return row.UpsertWorker(ctx, w)
			})
			if err != nil {
				res.Status = RowFailed
				res.Err = &RowWriteError{ID: w.ID, Err: err}
				imp.log.Warnf("row %d: %v", res.Index, res.Err)
			} else {
				res.Status = RowWritten
				imp.log.Debugf("row %d: upserted %s (%s)", res.Index, w.ID, w.DisplayName)
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		markRolledBack(results)
		return results, fmt.Errorf("upsert transaction: %w", err)
	}
	return results, nil
}

func markRolledBack(results []RowResult) {
	for i := range results {
		if results[i].Status == RowWritten {
			results[i].Status = RowRolledBack
		}
	}
}
