package sync

import (
	"fmt"

	"github.com/arwahdevops/surveysync/internal/schema"
)

// ActionKind identifies one schema change.
type ActionKind int

const (
	ActionCreateTable ActionKind = iota + 1
	ActionAddColumn
	ActionCreateForeignKey
	ActionCreateIndex
	ActionCreateView
	ActionConflict
	ActionDestroyAndRecreate
)

func (k ActionKind) String() string {
	switch k {
	case ActionCreateTable:
		return "create_table"
	case ActionAddColumn:
		return "add_column"
	case ActionCreateForeignKey:
		return "create_foreign_key"
	case ActionCreateIndex:
		return "create_index"
	case ActionCreateView:
		return "create_view"
	case ActionConflict:
		return "conflict"
	case ActionDestroyAndRecreate:
		return "destroy_and_recreate"
	default:
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
}

// Action is one step of a SchemaDiffPlan.
type Action struct {
	Kind  ActionKind
	Table string
	// Spec is the table definition the action renders from. For restored
	// dependents of a recreated table it is the introspected definition.
	Spec       *schema.TableSpec
	Column     string
	ForeignKey *schema.ForeignKeySpec
	Index      *schema.IndexSpec
	Conflict   *Conflict
	Dependents *Dependents
}

func (a Action) String() string {
	switch a.Kind {
	case ActionAddColumn:
		return fmt.Sprintf("%s %s.%s", a.Kind, a.Table, a.Column)
	case ActionCreateForeignKey:
		return fmt.Sprintf("%s %s", a.Kind, a.ForeignKey.ConstraintName(a.Table))
	case ActionCreateIndex:
		return fmt.Sprintf("%s %s on %s", a.Kind, a.Index.Name, a.Table)
	case ActionConflict:
		return fmt.Sprintf("%s: %s", a.Kind, a.Conflict.Error())
	default:
		return fmt.Sprintf("%s %s", a.Kind, a.Table)
	}
}

// DependentFK is a foreign key on another table that references a table
// being recreated.
type DependentFK struct {
	Table      string
	ForeignKey schema.ForeignKeySpec
}

// Dependents lists what must be dropped before a table can be dropped, in
// drop order: views first, then referencing foreign keys.
type Dependents struct {
	Views       []string
	ForeignKeys []DependentFK
}

// TableOutcome summarizes what the plan does to one table.
type TableOutcome string

const (
	OutcomeCreated    TableOutcome = "created"
	OutcomeRecreated  TableOutcome = "recreated"
	OutcomeAltered    TableOutcome = "altered"
	OutcomeUnchanged  TableOutcome = "unchanged"
	OutcomeConflicted TableOutcome = "conflicted"
)

// Plan is an ordered SchemaDiffPlan plus per-table outcomes.
type Plan struct {
	Actions []Action
	// Order is the table processing order, referenced tables first.
	Order    []string
	Outcomes map[string]TableOutcome
}

// Conflicts returns every conflict in plan order.
func (p *Plan) Conflicts() []Conflict {
	var out []Conflict
	for _, a := range p.Actions {
		if a.Kind == ActionConflict {
			out = append(out, *a.Conflict)
		}
	}
	return out
}

// Empty reports whether the plan would change anything.
func (p *Plan) Empty() bool {
	for _, a := range p.Actions {
		if a.Kind != ActionConflict {
			return false
		}
	}
	return true
}

// Count returns how many tables ended with the given outcome.
func (p *Plan) Count(outcome TableOutcome) int {
	n := 0
	for _, o := range p.Outcomes {
		if o == outcome {
			n++
		}
	}
	return n
}
