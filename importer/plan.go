package importer

import (
	"context"
	"fmt"
	"io"
	"slices"

	"portaladmin/model"
)

type FieldChange struct {
	Field string
	From  string
	To    string
}

type PlannedUpdate struct {
	ID      string
	Changes []FieldChange
}

// Plan is what a run would do, computed without writing.
type Plan struct {
	Mode      Mode
	Adds      []model.Worker
	Updates   []PlannedUpdate
	Unchanged int
	Deletes   []string
	Skipped   []string
	Conflicts []string
}

// Plan compares workers against the table. In replace mode a repeated id is a
// conflict that would abort the run; in upsert mode the later row wins.
func (imp *Importer) Plan(ctx context.Context, workers []model.Worker, mode Mode) (*Plan, error) {
	if mode != ModeReplace && mode != ModeUpsert {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	current, err := imp.store.ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading current workers: %w", err)
	}
	existing := make(map[string]model.Worker, len(current))
	for _, w := range current {
		existing[w.ID] = w
	}

	plan := &Plan{Mode: mode}
	final := make(map[string]model.Worker, len(workers))
	var order []string
	for i, w := range workers {
		switch {
		case w.ID == imp.policy.SeedID:
			plan.Skipped = append(plan.Skipped, w.ID)
			continue
		case w.ID == "":
			plan.Conflicts = append(plan.Conflicts, fmt.Sprintf("row %d: empty %s", i+1, WorkerIDHdr))
			continue
		}
		if _, dup := final[w.ID]; dup {
			if mode == ModeReplace {
				plan.Conflicts = append(plan.Conflicts, fmt.Sprintf("row %d: duplicate id %q", i+1, w.ID))
				continue
			}
		} else {
			order = append(order, w.ID)
		}
		final[w.ID] = w
	}

	for _, id := range order {
		w := final[id]
		cur, ok := existing[id]
		if !ok {
			plan.Adds = append(plan.Adds, w)
			continue
		}
		if changes := diffWorker(cur, w); len(changes) > 0 {
			plan.Updates = append(plan.Updates, PlannedUpdate{ID: id, Changes: changes})
		} else {
			plan.Unchanged++
		}
	}

	if mode == ModeReplace {
		for _, w := range current {
			if _, keep := final[w.ID]; !keep && w.ID != imp.policy.SeedID {
				plan.Deletes = append(plan.Deletes, w.ID)
			}
		}
		slices.Sort(plan.Deletes)
	}
	return plan, nil
}

func diffWorker(from, to model.Worker) []FieldChange {
	var changes []FieldChange
	add := func(field, a, b string) {
		if a != b {
			changes = append(changes, FieldChange{Field: field, From: a, To: b})
		}
	}
	add("display_name", from.DisplayName, to.DisplayName)
	add("email", from.Email, to.Email)
	add("phone", deref(from.Phone), deref(to.Phone))
	add("role", string(from.Role), string(to.Role))
	if !from.HourlyRate.Equal(to.HourlyRate) {
		changes = append(changes, FieldChange{Field: "hourly_rate",
			From: from.HourlyRate.StringFixed(2), To: to.HourlyRate.StringFixed(2)})
	}
	add("language", from.Language, to.Language)
	add("is_active", fmt.Sprint(from.IsActive), fmt.Sprint(to.IsActive))
	add("w9_status", string(from.W9Status), string(to.W9Status))
	add("notes", from.Notes, to.Notes)
	return changes
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// HasConflicts reports whether a replace run would be aborted.
func (p *Plan) HasConflicts() bool {
	return len(p.Conflicts) > 0
}

func (p *Plan) Print(w io.Writer) {
	fmt.Fprintf(w, "Dry run (%s): %d to add, %d to update, %d unchanged", p.Mode, len(p.Adds), len(p.Updates), p.Unchanged)
	if p.Mode == ModeReplace {
		fmt.Fprintf(w, ", %d to delete", len(p.Deletes))
	}
	fmt.Fprintln(w)

	for _, a := range p.Adds {
		fmt.Fprintf(w, "  + %s %s (%s, %s)\n", a.ID, a.DisplayName, a.Role, a.HourlyRate.StringFixed(2))
	}
	for _, u := range p.Updates {
		fmt.Fprintf(w, "  ~ %s\n", u.ID)
		for _, c := range u.Changes {
			fmt.Fprintf(w, "      %s: %q -> %q\n", c.Field, c.From, c.To)
		}
	}
	for _, id := range p.Deletes {
		fmt.Fprintf(w, "  - %s\n", id)
	}
	for _, id := range p.Skipped {
		fmt.Fprintf(w, "  = %s (seed, untouched)\n", id)
	}
	if len(p.Conflicts) > 0 {
		fmt.Fprintln(w, "Conflicts:")
		for _, c := range p.Conflicts {
			fmt.Fprintf(w, "  ! %s\n", c)
		}
	}
}
