package sync

import (
	"context"

	"github.com/arwahdevops/surveysync/internal/schema"
)

// Introspector reads the current database schema in the same shape as the
// desired one. A view named <table>_view sets GenerateView on its table.
type Introspector interface {
	Introspect(ctx context.Context) ([]schema.TableSpec, error)
}

// Execer runs one DDL statement.
type Execer interface {
	Exec(ctx context.Context, stmt string) error
}

// RowStore reads and writes the rows of one table at a time. Rows use
// canonical column names and coerced values; the point column holds a
// geo.Point.
type RowStore interface {
	LoadRows(ctx context.Context, t *schema.TableSpec) ([]schema.Row, error)
	Insert(ctx context.Context, t *schema.TableSpec, row schema.Row) error
	Update(ctx context.Context, t *schema.TableSpec, key, changes schema.Row) error
	DeleteAll(ctx context.Context, t *schema.TableSpec) (int64, error)
}

// OrchestratorInterface runs one reconciliation.
type OrchestratorInterface interface {
	Run(ctx context.Context, in Input) *RunReport
}
