package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"portaladmin/db"
	"portaladmin/model"
)

const seedID = "SG-001"

func setupImporter(t *testing.T) (*Importer, *db.SQLStore) {
	t.Helper()
	store, err := db.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.AutoMigrate(context.Background()))

	seed := model.Worker{
		ID:          seedID,
		DisplayName: "Portal Admin",
		Email:       "admin@example.com",
		Role:        model.RoleAdmin,
		HourlyRate:  decimal.RequireFromString("30"),
		Language:    "English",
		IsActive:    true,
		W9Status:    model.W9Approved,
		Notes:       "App Access: Admin",
	}
	require.NoError(t, store.InsertWorker(context.Background(), &seed))

	return New(store, DefaultPolicy(), zap.NewNop().Sugar()), store
}

func row(id, name, role, rate string) SourceRecord {
	return SourceRecord{
		WorkerIDHdr:     id,
		DisplayNameHdr:  name,
		EmailHdr:        fmt.Sprintf("%s@example.com", id),
		RoleHdr:         role,
		HourlyRateHdr:   rate,
		W9StatusHdr:     "approved",
		AvailabilityHdr: "Active",
	}
}

func inactive(rec SourceRecord, availability string) SourceRecord {
	rec[AvailabilityHdr] = availability
	return rec
}

func workerIDs(t *testing.T, store db.Store) []string {
	t.Helper()
	workers, err := store.ListWorkers(context.Background())
	require.NoError(t, err)
	ids := make([]string, len(workers))
	for i, w := range workers {
		ids[i] = w.ID
	}
	return ids
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Replace ")
	require.NoError(t, err)
	assert.Equal(t, ModeReplace, m)

	m, err = ParseMode("upsert")
	require.NoError(t, err)
	assert.Equal(t, ModeUpsert, m)

	_, err = ParseMode("merge")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestRunSkipsInactiveRows(t *testing.T) {
	for _, mode := range []Mode{ModeReplace, ModeUpsert} {
		t.Run(string(mode), func(t *testing.T) {
			imp, store := setupImporter(t)
			records := []SourceRecord{
				row("A-1", "Ann", "1", "18"),
				inactive(row("B-2", "Ben", "1", "18"), "Inactive"),
				inactive(row("C-3", "Cat", "2", "18"), "active"),
				inactive(row("D-4", "Dan", "2", "18"), ""),
				row("E-5", "Eve", "2", "20"),
			}

			report, err := imp.Run(context.Background(), records, mode)
			require.NoError(t, err)
			assert.Equal(t, 5, report.SourceRows)
			assert.Equal(t, 2, report.ActiveRows)
			assert.Equal(t, 2, report.Written)
			assert.Empty(t, report.Failures)
			assert.Equal(t, []string{"A-1", "E-5", seedID}, workerIDs(t, store))
		})
	}
}

func TestRunLeavesSeedUntouched(t *testing.T) {
	for _, mode := range []Mode{ModeReplace, ModeUpsert} {
		t.Run(string(mode), func(t *testing.T) {
			imp, store := setupImporter(t)
			ctx := context.Background()
			before, err := store.GetWorker(ctx, seedID)
			require.NoError(t, err)

			records := []SourceRecord{
				row(seedID, "Impostor", "1", "1"),
				row("A-1", "Ann", "1", "18"),
			}
			report, err := imp.Run(ctx, records, mode)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Skipped)
			assert.Equal(t, 1, report.Written)

			after, err := store.GetWorker(ctx, seedID)
			require.NoError(t, err)
			assert.Equal(t, "Portal Admin", after.DisplayName)
			assert.Equal(t, model.RoleAdmin, after.Role)
			assert.True(t, after.UpdatedAt.Equal(before.UpdatedAt))
		})
	}
}

func TestReplace(t *testing.T) {
	ctx := context.Background()

	t.Run("removes workers missing from the roster", func(t *testing.T) {
		imp, store := setupImporter(t)
		_, err := imp.Run(ctx, []SourceRecord{row("OLD-1", "Old", "1", "18"), row("OLD-2", "Older", "1", "18")}, ModeReplace)
		require.NoError(t, err)

		report, err := imp.Run(ctx, []SourceRecord{row("NEW-1", "New", "2", "18")}, ModeReplace)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Written)
		assert.Equal(t, map[model.Role]int{model.RoleLead: 1}, report.ByRole)
		assert.Equal(t, []string{"NEW-1", seedID}, workerIDs(t, store))
	})

	t.Run("a failing row rolls back the whole run", func(t *testing.T) {
		imp, store := setupImporter(t)
		_, err := imp.Run(ctx, []SourceRecord{row("OLD-1", "Old", "1", "18"), row("OLD-2", "Older", "1", "18")}, ModeReplace)
		require.NoError(t, err)

		var records []SourceRecord
		for i := 1; i <= 10; i++ {
			records = append(records, row(fmt.Sprintf("N-%02d", i), fmt.Sprintf("Worker %d", i), "1", "18"))
		}
		records[4] = row("N-02", "Duplicate", "1", "18")

		report, err := imp.Run(ctx, records, ModeReplace)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrReplaceAborted)
		var rowErr *RowWriteError
		require.True(t, errors.As(err, &rowErr))
		assert.Equal(t, "N-02", rowErr.ID)

		assert.Equal(t, 0, report.Written)
		assert.Equal(t, 4, report.RolledBack)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, 5, report.Failures[0].Row)

		assert.Equal(t, []string{"OLD-1", "OLD-2", seedID}, workerIDs(t, store))
	})

	t.Run("duplicate id in the roster is a conflict", func(t *testing.T) {
		imp, store := setupImporter(t)
		records := []SourceRecord{row("X-200", "First", "1", "20"), row("X-200", "Second", "2", "21")}

		_, err := imp.Run(ctx, records, ModeReplace)
		assert.ErrorIs(t, err, ErrReplaceAborted)
		assert.Equal(t, []string{seedID}, workerIDs(t, store))
	})
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()

	t.Run("running twice is the same as running once", func(t *testing.T) {
		imp, store := setupImporter(t)
		records := []SourceRecord{
			row("A-1", "Ann", "1", "18.50"),
			row("B-2", "Ben", "2", ""),
			row("C-3", "Cat", "Admin", "25"),
		}
		snapshot := func() []model.Worker {
			workers, err := store.ListWorkers(ctx)
			require.NoError(t, err)
			for i := range workers {
				workers[i].UpdatedAt = time.Time{}
			}
			return workers
		}

		_, err := imp.Run(ctx, records, ModeUpsert)
		require.NoError(t, err)
		once := snapshot()

		report, err := imp.Run(ctx, records, ModeUpsert)
		require.NoError(t, err)
		assert.Equal(t, 3, report.Written)
		assert.Equal(t, once, snapshot())
	})

	t.Run("later duplicate wins", func(t *testing.T) {
		imp, store := setupImporter(t)
		records := []SourceRecord{row("X-200", "First", "1", "20"), row("X-200", "Second", "2", "21")}

		report, err := imp.Run(ctx, records, ModeUpsert)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Written)

		got, err := store.GetWorker(ctx, "X-200")
		require.NoError(t, err)
		assert.Equal(t, "Second", got.DisplayName)
		assert.Equal(t, model.RoleLead, got.Role)
		assert.True(t, decimal.RequireFromString("21").Equal(got.HourlyRate))
	})

	t.Run("updates existing workers in place", func(t *testing.T) {
		imp, store := setupImporter(t)
		_, err := imp.Run(ctx, []SourceRecord{row("A-1", "Ann", "1", "18")}, ModeUpsert)
		require.NoError(t, err)
		before, err := store.GetWorker(ctx, "A-1")
		require.NoError(t, err)

		_, err = imp.Run(ctx, []SourceRecord{row("A-1", "Ann Bell", "3", "24")}, ModeUpsert)
		require.NoError(t, err)
		after, err := store.GetWorker(ctx, "A-1")
		require.NoError(t, err)
		assert.Equal(t, "Ann Bell", after.DisplayName)
		assert.Equal(t, model.RoleSupervisor, after.Role)
		assert.True(t, after.CreatedAt.Equal(before.CreatedAt))
	})

	t.Run("a failing row does not stop the others", func(t *testing.T) {
		imp, store := setupImporter(t)
		records := []SourceRecord{
			row("A-1", "Ann", "1", "18"),
			row("", "No Id", "1", "18"),
			row("B-2", "Ben", "2", "18"),
		}

		report, err := imp.Run(ctx, records, ModeUpsert)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Written)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, 2, report.Failures[0].Row)
		assert.Equal(t, "", report.Failures[0].ID)
		assert.Equal(t, []string{"A-1", "B-2", seedID}, workerIDs(t, store))
	})
}

func TestReconcileUnknownMode(t *testing.T) {
	imp, _ := setupImporter(t)
	_, err := imp.Reconcile(context.Background(), nil, Mode("merge"))
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestPlan(t *testing.T) {
	ctx := context.Background()
	imp, store := setupImporter(t)
	_, err := imp.Run(ctx, []SourceRecord{row("A-1", "Ann", "1", "18"), row("B-2", "Ben", "1", "18")}, ModeUpsert)
	require.NoError(t, err)

	workers := imp.Canonicalize([]SourceRecord{
		row(seedID, "Impostor", "1", "18"),
		row("A-1", "Ann Bell", "1", "19"),
		row("C-3", "Cat", "2", "18"),
		row("C-3", "Cat Again", "2", "18"),
	})

	t.Run("upsert", func(t *testing.T) {
		plan, err := imp.Plan(ctx, workers, ModeUpsert)
		require.NoError(t, err)
		assert.Equal(t, []string{seedID}, plan.Skipped)
		require.Len(t, plan.Adds, 1)
		assert.Equal(t, "Cat Again", plan.Adds[0].DisplayName)
		require.Len(t, plan.Updates, 1)
		assert.Equal(t, "A-1", plan.Updates[0].ID)
		assert.Equal(t, []FieldChange{
			{Field: "display_name", From: "Ann", To: "Ann Bell"},
			{Field: "hourly_rate", From: "18.00", To: "19.00"},
		}, plan.Updates[0].Changes)
		assert.Empty(t, plan.Deletes)
		assert.False(t, plan.HasConflicts())
	})

	t.Run("replace", func(t *testing.T) {
		plan, err := imp.Plan(ctx, workers, ModeReplace)
		require.NoError(t, err)
		assert.Equal(t, []string{"B-2"}, plan.Deletes)
		assert.True(t, plan.HasConflicts())
		assert.Contains(t, plan.Conflicts[0], "C-3")

		var out bytes.Buffer
		plan.Print(&out)
		assert.Contains(t, out.String(), "- B-2")
		assert.Contains(t, out.String(), "+ C-3")
	})

	assert.Equal(t, []string{"A-1", "B-2", seedID}, workerIDs(t, store), "planning never writes")
}

func TestSummarizeAndVerify(t *testing.T) {
	ctx := context.Background()
	imp, store := setupImporter(t)

	report, err := imp.Run(ctx, []SourceRecord{
		row("A-1", "Ann", "1", "18"),
		row("B-2", "Ben", "2", "18"),
		row("C-3", "Cat", "2", "18"),
		row("", "Nobody", "1", "18"),
	}, ModeUpsert)
	require.NoError(t, err)
	report.Warnings = []ParseWarning{{Row: 7, Message: "row has 3 columns, expected 10; padding with empty values"}}

	assert.Equal(t, map[model.Role]int{model.RoleWorker: 1, model.RoleLead: 2}, report.ByRole)
	assert.NotEqual(t, report.RunID.String(), "00000000-0000-0000-0000-000000000000")
	assert.False(t, report.FinishedAt.Before(report.StartedAt))

	var out bytes.Buffer
	report.Print(&out)
	assert.Contains(t, out.String(), "written:      3")
	assert.Contains(t, out.String(), "failed:       1")
	assert.Contains(t, out.String(), "row 7: row has 3 columns")

	v, err := Verify(ctx, store, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v.ActiveWorkers)
	assert.Len(t, v.Recent, 4)
	assert.Equal(t, db.RoleCount{Role: model.RoleLead, Count: 2}, v.Roles[0])

	out.Reset()
	v.Print(&out)
	assert.Contains(t, out.String(), "Active workers in database: 4")
}
