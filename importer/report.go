package importer

import (
	"context"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"portaladmin/db"
	"portaladmin/model"
)

type Failure struct {
	Row    int
	ID     string
	Reason string
}

// Report summarizes one import run.
type Report struct {
	RunID      uuid.UUID
	Mode       Mode
	StartedAt  time.Time
	FinishedAt time.Time

	SourceRows int
	ActiveRows int
	Written    int
	Skipped    int
	RolledBack int
	ByRole     map[model.Role]int
	Failures   []Failure
	Warnings   []ParseWarning
}

func Summarize(mode Mode, sourceRows, activeRows int, results []RowResult) *Report {
	r := &Report{
		RunID:      uuid.New(),
		Mode:       mode,
		SourceRows: sourceRows,
		ActiveRows: activeRows,
		ByRole:     make(map[model.Role]int),
	}
	for _, res := range results {
		switch res.Status {
		case RowWritten:
			r.Written++
			r.ByRole[res.Role]++
		case RowSkipped:
			r.Skipped++
		case RowRolledBack:
			r.RolledBack++
		case RowFailed:
			reason := "unknown error"
			if res.Err != nil {
				reason = res.Err.Error()
			}
			r.Failures = append(r.Failures, Failure{Row: res.Index, ID: res.ID, Reason: reason})
		}
	}
	return r
}

func (r *Report) Failed() int {
	return len(r.Failures)
}

func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Import %s (%s)\n", r.RunID, r.Mode)
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  duration:     %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "  source rows:  %d\n", r.SourceRows)
	fmt.Fprintf(w, "  active rows:  %d\n", r.ActiveRows)
	fmt.Fprintf(w, "  written:      %d\n", r.Written)
	fmt.Fprintf(w, "  skipped:      %d\n", r.Skipped)
	if r.RolledBack > 0 {
		fmt.Fprintf(w, "  rolled back:  %d\n", r.RolledBack)
	}
	fmt.Fprintf(w, "  failed:       %d\n", r.Failed())

	if len(r.ByRole) > 0 {
		fmt.Fprintln(w, "\nWritten by role:")
		roles := make([]model.Role, 0, len(r.ByRole))
		for role := range r.ByRole {
			roles = append(roles, role)
		}
		slices.Sort(roles)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, role := range roles {
			fmt.Fprintf(tw, "  %s\t%d\n", role, r.ByRole[role])
		}
		tw.Flush()
	}

	if len(r.Failures) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  row %d  %s: %s\n", f.Row, f.ID, f.Reason)
		}
	}
	if len(r.Warnings) > 0 {
		fmt.Fprintln(w, "\nSource warnings:")
		for _, pw := range r.Warnings {
			fmt.Fprintf(w, "  %s\n", pw)
		}
	}
}

// Verification is the state of the workers table after a run.
type Verification struct {
	ActiveWorkers int64
	Roles         []db.RoleCount
	Recent        []model.Worker
}

func Verify(ctx context.Context, store db.Store, recent int) (*Verification, error) {
	active, err := store.CountActiveWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting active workers: %w", err)
	}
	roles, err := store.RoleDistribution(ctx)
	if err != nil {
		return nil, fmt.Errorf("role distribution: %w", err)
	}
	latest, err := store.RecentWorkers(ctx, recent)
	if err != nil {
		return nil, fmt.Errorf("recent workers: %w", err)
	}
	return &Verification{ActiveWorkers: active, Roles: roles, Recent: latest}, nil
}

func (v *Verification) Print(w io.Writer) {
	fmt.Fprintf(w, "\nActive workers in database: %d\n", v.ActiveWorkers)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nRole\tCount")
	for _, rc := range v.Roles {
		fmt.Fprintf(tw, "%s\t%d\n", rc.Role, rc.Count)
	}
	tw.Flush()

	if len(v.Recent) == 0 {
		return
	}
	fmt.Fprintln(w, "\nMost recent workers:")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, wk := range v.Recent {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", wk.ID, wk.DisplayName, wk.Role, wk.HourlyRate.StringFixed(2))
	}
	tw.Flush()
}
