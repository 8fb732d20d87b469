package sync

import (
	"fmt"
)

// ConflictKind classifies a schema difference that needs a human decision.
type ConflictKind string

const (
	ConflictMissingColumn ConflictKind = "missing_column"
	ConflictTypeChange    ConflictKind = "type_change"
)

// Conflict is a schema difference the run will not resolve on its own.
type Conflict struct {
	Table  string
	Column string
	Kind   ConflictKind
	Reason string
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("conflict in %s.%s (%s): %s", c.Table, c.Column, c.Kind, c.Reason)
}

// ExecError is a failed database call. It halts the run at the action
// boundary where it occurred.
type ExecError struct {
	Action    string
	Table     string
	Statement string
	Err       error
}

func (e *ExecError) Error() string {
	if e.Statement != "" {
		return fmt.Sprintf("%s on %s failed: [%s]: %v", e.Action, e.Table, e.Statement, e.Err)
	}
	return fmt.Sprintf("%s on %s failed: %v", e.Action, e.Table, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }
