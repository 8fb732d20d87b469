package sync

import (
	"fmt"

	"github.com/arwahdevops/surveysync/internal/schema"
)

// DiffOptions are the run-level switches the differ honors.
type DiffOptions struct {
	// Force replaces every existing desired table instead of altering it.
	Force bool
	// IgnoreMissingColumns keeps columns the desired schema no longer has.
	IgnoreMissingColumns bool
	GenerateViews        bool
}

// Diff compares the desired tables with the current database and returns the
// ordered plan. It never touches storage. Only a foreign key cycle among the
// desired tables is returned as an error; conflicts are part of the plan.
func Diff(desired, current []schema.TableSpec, opts DiffOptions) (*Plan, error) {
	ordered, err := orderTables(desired)
	if err != nil {
		return nil, err
	}

	currentByName := make(map[string]*schema.TableSpec, len(current))
	for i := range current {
		currentByName[current[i].Name] = &current[i]
	}
	desiredByName := make(map[string]*schema.TableSpec, len(desired))
	for i := range desired {
		desiredByName[desired[i].Name] = &desired[i]
	}

	recreated := make(map[string]bool)
	if opts.Force {
		for _, t := range ordered {
			if _, ok := currentByName[t.Name]; ok {
				recreated[t.Name] = true
			}
		}
	}

	d := &differ{
		opts:      opts,
		current:   current,
		byName:    currentByName,
		desired:   desiredByName,
		recreated: recreated,
		plan:      &Plan{Outcomes: make(map[string]TableOutcome, len(desired))},
	}
	for _, t := range ordered {
		d.plan.Order = append(d.plan.Order, t.Name)
		cur, exists := currentByName[t.Name]
		switch {
		case !exists:
			d.create(t)
			d.plan.Outcomes[t.Name] = OutcomeCreated
		case opts.Force:
			d.recreate(t)
			d.plan.Outcomes[t.Name] = OutcomeRecreated
		default:
			d.plan.Outcomes[t.Name] = d.alter(t, cur)
		}
	}
	return d.plan, nil
}

type differ struct {
	opts      DiffOptions
	current   []schema.TableSpec
	byName    map[string]*schema.TableSpec
	desired   map[string]*schema.TableSpec
	recreated map[string]bool
	plan      *Plan
}

func (d *differ) add(a Action) {
	d.plan.Actions = append(d.plan.Actions, a)
}

// create emits table, foreign keys, indexes and view in dependency order.
func (d *differ) create(t *schema.TableSpec) {
	d.add(Action{Kind: ActionCreateTable, Table: t.Name, Spec: t})
	for i := range t.ForeignKeys {
		d.add(Action{Kind: ActionCreateForeignKey, Table: t.Name, Spec: t, Column: t.ForeignKeys[i].Column, ForeignKey: &t.ForeignKeys[i]})
	}
	for i := range t.Indexes {
		d.add(Action{Kind: ActionCreateIndex, Table: t.Name, Spec: t, Index: &t.Indexes[i]})
	}
	if d.opts.GenerateViews && t.GenerateView {
		d.add(Action{Kind: ActionCreateView, Table: t.Name, Spec: t})
	}
}

// recreate drops the table with everything that depends on it, creates it
// again, and restores dependents owned by tables that are not recreated
// later in the plan.
func (d *differ) recreate(t *schema.TableSpec) {
	deps := &Dependents{Views: []string{t.ViewName()}}
	var restoreViews []*schema.TableSpec
	for i := range d.current {
		other := &d.current[i]
		if other.Name == t.Name {
			continue
		}
		referencing := false
		for _, fk := range other.ForeignKeys {
			if fk.RefTable != t.Name {
				continue
			}
			referencing = true
			deps.ForeignKeys = append(deps.ForeignKeys, DependentFK{Table: other.Name, ForeignKey: fk})
		}
		if referencing && other.GenerateView {
			deps.Views = append(deps.Views, other.ViewName())
			if !d.recreated[other.Name] {
				spec := other
				if want, ok := d.desired[other.Name]; ok {
					spec = want
				}
				restoreViews = append(restoreViews, spec)
			}
		}
	}

	d.add(Action{Kind: ActionDestroyAndRecreate, Table: t.Name, Spec: t, Dependents: deps})
	d.create(t)

	for i := range deps.ForeignKeys {
		dep := deps.ForeignKeys[i]
		if d.recreated[dep.Table] {
			continue
		}
		d.add(Action{Kind: ActionCreateForeignKey, Table: dep.Table, Column: dep.ForeignKey.Column, ForeignKey: &dep.ForeignKey})
	}
	if d.opts.GenerateViews {
		for _, spec := range restoreViews {
			d.add(Action{Kind: ActionCreateView, Table: spec.Name, Spec: spec})
		}
	}
}

// alter compares an existing table column by column. Any conflict stops
// planning for the table; every conflict found in it is still reported.
func (d *differ) alter(t, cur *schema.TableSpec) TableOutcome {
	var conflicts []Conflict
	for _, want := range t.Columns {
		have, ok := cur.Column(want.Name)
		if !ok {
			continue
		}
		if reason, changed := typeChange(want, *have); changed {
			conflicts = append(conflicts, Conflict{Table: t.Name, Column: want.Name, Kind: ConflictTypeChange, Reason: reason})
		}
	}
	if !d.opts.IgnoreMissingColumns {
		for _, have := range cur.Columns {
			if _, ok := t.Column(have.Name); !ok {
				conflicts = append(conflicts, Conflict{
					Table:  t.Name,
					Column: have.Name,
					Kind:   ConflictMissingColumn,
					Reason: "column exists in the database but not in the source schema",
				})
			}
		}
	}
	if len(conflicts) > 0 {
		for i := range conflicts {
			d.add(Action{Kind: ActionConflict, Table: t.Name, Spec: t, Column: conflicts[i].Column, Conflict: &conflicts[i]})
		}
		return OutcomeConflicted
	}

	before := len(d.plan.Actions)
	var added []string
	for _, want := range t.Columns {
		if _, ok := cur.Column(want.Name); ok {
			continue
		}
		d.add(Action{Kind: ActionAddColumn, Table: t.Name, Spec: t, Column: want.Name})
		added = append(added, want.Name)
	}
	for _, col := range added {
		if fk, ok := t.ForeignKey(col); ok {
			d.add(Action{Kind: ActionCreateForeignKey, Table: t.Name, Spec: t, Column: col, ForeignKey: fk})
		}
	}
	for i := range t.Indexes {
		if _, ok := cur.Index(t.Indexes[i].Name); !ok {
			d.add(Action{Kind: ActionCreateIndex, Table: t.Name, Spec: t, Index: &t.Indexes[i]})
		}
	}
	if d.opts.GenerateViews && t.GenerateView && (!cur.GenerateView || len(added) > 0) {
		d.add(Action{Kind: ActionCreateView, Table: t.Name, Spec: t})
	}

	if len(d.plan.Actions) > before {
		return OutcomeAltered
	}
	return OutcomeUnchanged
}

// typeChange reports a difference in declared type. Text length changes in
// either direction count, including bounded versus unbounded text.
func typeChange(want, have schema.ColumnSpec) (string, bool) {
	wt, ht := want.StorageType(), have.StorageType()
	if wt != ht {
		return fmt.Sprintf("declared type %s differs from existing %s", describeType(want), describeType(have)), true
	}
	if wt == schema.TypeText && want.Size != have.Size {
		return fmt.Sprintf("declared type %s differs from existing %s", describeType(want), describeType(have)), true
	}
	return "", false
}

func describeType(c schema.ColumnSpec) string {
	t := c.StorageType()
	if t == schema.TypeText {
		if c.Size > 0 {
			return fmt.Sprintf("text(%d)", c.Size)
		}
		return "text"
	}
	return t.String()
}
