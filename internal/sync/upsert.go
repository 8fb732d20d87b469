package sync

import (
	"context"
	"iter"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/arwahdevops/surveysync/internal/metrics"
	"github.com/arwahdevops/surveysync/internal/schema"
)

// WriteOp is an upsert intent.
type WriteOp int

const (
	OpInsert WriteOp = iota + 1
	OpUpdate
)

func (o WriteOp) String() string {
	if o == OpInsert {
		return "insert"
	}
	return "update"
}

// Write is one step of an UpsertPlan. Updates carry only the changed columns.
type Write struct {
	Op      WriteOp
	Row     schema.Row
	Key     schema.Row
	Changes schema.Row
}

// UpsertPlan keeps the incoming stream order.
type UpsertPlan struct {
	Writes    []Write
	Unchanged int
}

// PlanUpserts turns match results into write intents.
func PlanUpserts(matches iter.Seq[MatchResult]) UpsertPlan {
	var plan UpsertPlan
	for m := range matches {
		switch m.Kind {
		case MatchNew:
			plan.Writes = append(plan.Writes, Write{Op: OpInsert, Row: m.Row})
		case MatchChanged:
			changes := make(schema.Row, len(m.Changed))
			for _, c := range m.Changed {
				changes[c] = m.Row[c]
			}
			plan.Writes = append(plan.Writes, Write{Op: OpUpdate, Row: m.Row, Key: m.Key, Changes: changes})
		default:
			plan.Unchanged++
		}
	}
	return plan
}

// UpsertReport is the record outcome for one table.
type UpsertReport struct {
	Table     string
	Strategy  string
	Deleted   int64
	Inserted  int
	Updated   int
	Unchanged int
	DryRun    bool
	// Err is the write that halted the table, as an *ExecError.
	Err error
}

// UpsertOptions control one table's record reconciliation.
type UpsertOptions struct {
	Force             bool
	Reset             bool
	DryRun            bool
	GeometryTolerance float64
	// TableExists is false when a dry run plans the table's creation; its
	// existing rows are then empty.
	TableExists bool
}

// Upserter reconciles the rows of one table per call.
type Upserter struct {
	store   RowStore
	logger  *zap.Logger
	metrics *metrics.Store
}

func NewUpserter(store RowStore, logger *zap.Logger, metricsStore *metrics.Store) *Upserter {
	return &Upserter{store: store, logger: logger.Named("upserter"), metrics: metricsStore}
}

// Reconcile applies rows to the table t. loadSpec names the columns that
// can be read back, which during a dry run may be fewer than t declares.
//
// With Reset, every existing row is deleted before anything else happens,
// and is not restored if a later insert fails: the table is left with the
// rows inserted up to the failure.
func (u *Upserter) Reconcile(ctx context.Context, t, loadSpec *schema.TableSpec, rows []schema.Row, opts UpsertOptions) UpsertReport {
	log := u.logger.With(zap.String("table", t.Name))
	strategy := StrategyFor(t)
	report := UpsertReport{Table: t.Name, Strategy: strategy.Name(), DryRun: opts.DryRun}

	var existing []schema.Row
	if opts.TableExists {
		if opts.Reset {
			if opts.DryRun {
				loaded, err := u.store.LoadRows(ctx, loadSpec)
				if err != nil {
					report.Err = &ExecError{Action: "load_rows", Table: t.Name, Err: err}
					return report
				}
				report.Deleted = int64(len(loaded))
				log.Info("Dry run: reset would delete all rows", zap.Int64("rows", report.Deleted))
			} else {
				deleted, err := u.store.DeleteAll(ctx, t)
				if err != nil {
					report.Err = &ExecError{Action: "reset", Table: t.Name, Err: err}
					return report
				}
				report.Deleted = deleted
				u.metrics.Rows(t.Name, "deleted", int(deleted))
				log.Warn("Reset deleted all existing rows before loading", zap.Int64("rows", deleted))
			}
		}
		if !opts.Reset || !opts.DryRun {
			loaded, err := u.store.LoadRows(ctx, loadSpec)
			if err != nil {
				report.Err = &ExecError{Action: "load_rows", Table: t.Name, Err: err}
				return report
			}
			existing = loaded
		}
	}

	matches := Match(t, strategy, slices.Values(rows), existing, MatchOptions{Force: opts.Force, GeometryTolerance: opts.GeometryTolerance})
	plan := PlanUpserts(matches)
	report.Unchanged = plan.Unchanged
	log.Info("Planned record writes",
		zap.String("strategy", strategy.Name()),
		zap.Int("incoming", len(rows)),
		zap.Int("existing", len(existing)),
		zap.Int("writes", len(plan.Writes)),
		zap.Int("unchanged", plan.Unchanged))

	for _, w := range plan.Writes {
		if opts.DryRun {
			u.count(&report, w.Op)
			continue
		}
		if err := ctx.Err(); err != nil {
			report.Err = &ExecError{Action: w.Op.String(), Table: t.Name, Err: err}
			break
		}
		start := time.Now()
		var err error
		if w.Op == OpInsert {
			err = u.store.Insert(ctx, t, w.Row)
		} else {
			err = u.store.Update(ctx, t, w.Key, w.Changes)
		}
		u.metrics.RowWrite(t.Name, w.Op.String(), time.Since(start).Seconds())
		if err != nil {
			report.Err = &ExecError{Action: w.Op.String(), Table: t.Name, Err: err}
			log.Error("Record write failed, halting", zap.String("op", w.Op.String()), zap.Error(err),
				zap.Int("inserted_before_failure", report.Inserted), zap.Int("updated_before_failure", report.Updated))
			break
		}
		u.count(&report, w.Op)
	}

	u.metrics.Rows(t.Name, "inserted", report.Inserted)
	u.metrics.Rows(t.Name, "updated", report.Updated)
	u.metrics.Rows(t.Name, "unchanged", report.Unchanged)
	if report.Err != nil {
		u.metrics.Error("records", t.Name)
	}
	return report
}

func (u *Upserter) count(r *UpsertReport, op WriteOp) {
	if op == OpInsert {
		r.Inserted++
	} else {
		r.Updated++
	}
}
