package source

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/arwahdevops/surveysync/internal/schema"
	"github.com/arwahdevops/surveysync/internal/sync"
)

// Filter keeps the rows for which a boolean expression over the row's
// columns holds, e.g. `status == "complete" && visit_no > 1`. Columns a row
// lacks evaluate to nil.
type Filter struct {
	source  string
	program *vm.Program
}

// NewFilter compiles expression. An empty expression yields a nil Filter,
// which keeps every row. Builtin functions are disabled so that columns
// such as count or len resolve to row values.
func NewFilter(expression string) (*Filter, error) {
	if expression == "" {
		return nil, nil
	}
	program, err := expr.Compile(expression, expr.AsBool(), expr.AllowUndefinedVariables(), expr.DisableAllBuiltins())
	if err != nil {
		return nil, fmt.Errorf("compile record filter: %w", err)
	}
	return &Filter{source: expression, program: program}, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

// Keep reports whether row passes the filter.
func (f *Filter) Keep(row schema.Row) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, err := expr.Run(f.program, map[string]any(row))
	if err != nil {
		return false, err
	}
	keep, _ := out.(bool)
	return keep, nil
}

// Apply returns set without the rows the filter rejects, and how many were
// dropped.
func (f *Filter) Apply(set sync.RecordSet) (sync.RecordSet, int, error) {
	if f == nil {
		return set, 0, nil
	}
	kept := make([]schema.Row, 0, len(set.Rows))
	for i, row := range set.Rows {
		ok, err := f.Keep(row)
		if err != nil {
			return set, 0, fmt.Errorf("record filter on row %d: %w", i, err)
		}
		if ok {
			kept = append(kept, row)
		}
	}
	dropped := len(set.Rows) - len(kept)
	set.Rows = kept
	return set, dropped, nil
}
