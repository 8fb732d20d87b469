package sync

import (
	"context"
	"errors"
	"regexp"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arwahdevops/surveysync/internal/metrics"
)

type gormExecer struct {
	db *gorm.DB
}

func (e gormExecer) Exec(ctx context.Context, stmt string) error {
	return e.db.WithContext(ctx).Exec(stmt).Error
}

// ActionStatus is how far an action got.
type ActionStatus string

const (
	StatusApplied      ActionStatus = "applied"
	StatusPlanned      ActionStatus = "planned"
	StatusSkipped      ActionStatus = "skipped"
	StatusFailed       ActionStatus = "failed"
	StatusNotAttempted ActionStatus = "not_attempted"
)

// ActionResult records one action and the statements rendered for it.
type ActionResult struct {
	Action     Action
	Statements []string
	Status     ActionStatus
	Err        error
}

// ExecutionReport lists every plan action with its status, in plan order.
type ExecutionReport struct {
	DryRun  bool
	Results []ActionResult
}

// Count returns the number of actions with the given status.
func (r *ExecutionReport) Count(status ActionStatus) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Failed returns the action that stopped execution, if any.
func (r *ExecutionReport) Failed() (*ActionResult, bool) {
	if r == nil {
		return nil, false
	}
	for i := range r.Results {
		if r.Results[i].Status == StatusFailed {
			return &r.Results[i], true
		}
	}
	return nil, false
}

// Executor applies a plan strictly in order and stops at the first failure.
type Executor struct {
	execer  Execer
	gen     *DDLGenerator
	dialect string
	logger  *zap.Logger
	metrics *metrics.Store
}

func NewExecutor(execer Execer, gen *DDLGenerator, logger *zap.Logger, metricsStore *metrics.Store) *Executor {
	return &Executor{
		execer:  execer,
		gen:     gen,
		dialect: gen.dialect,
		logger:  logger.Named("ddl-executor"),
		metrics: metricsStore,
	}
}

// Execute runs the plan. A dry run renders and classifies every action the
// same way but never calls the database. Applied actions stay applied when a
// later one fails; the report marks the remainder as not attempted and the
// returned error is an *ExecError.
func (e *Executor) Execute(ctx context.Context, plan *Plan, dryRun bool) (*ExecutionReport, error) {
	report := &ExecutionReport{DryRun: dryRun, Results: make([]ActionResult, 0, len(plan.Actions))}
	var halted error

	for _, a := range plan.Actions {
		res := ActionResult{Action: a}
		if halted != nil {
			res.Status = StatusNotAttempted
			report.Results = append(report.Results, res)
			e.metrics.DDLAction(a.Kind.String(), string(res.Status))
			continue
		}

		log := e.logger.With(zap.String("table", a.Table), zap.String("action", a.Kind.String()))
		stmts, err := e.gen.Statements(a)
		if err != nil {
			res.Status = StatusFailed
			res.Err = &ExecError{Action: a.Kind.String(), Table: a.Table, Err: err}
			halted = res.Err
			log.Error("Failed to render DDL for action", zap.Error(err))
		} else {
			res.Statements = stmts
			switch {
			case a.Kind == ActionConflict:
				res.Status = StatusSkipped
			case dryRun:
				res.Status = StatusPlanned
				for _, stmt := range stmts {
					log.Info("Dry run: DDL not executed", zap.String("ddl", stmt))
				}
			default:
				if err := ctx.Err(); err != nil {
					res.Status = StatusNotAttempted
					halted = err
					break
				}
				res.Status = StatusApplied
				for _, stmt := range stmts {
					log.Debug("Executing DDL", zap.String("ddl", stmt))
					if err := e.execer.Exec(ctx, stmt); err != nil {
						if isDropStatement(stmt) && e.isMissingObjectError(err) {
							log.Warn("DDL drop target does not exist, continuing", zap.String("ddl", stmt), zap.Error(err))
							continue
						}
						res.Status = StatusFailed
						res.Err = &ExecError{Action: a.Kind.String(), Table: a.Table, Statement: stmt, Err: err}
						halted = res.Err
						log.Error("Failed to execute DDL, halting", zap.String("ddl", stmt), zap.Error(err))
						break
					}
				}
				if res.Status == StatusApplied {
					log.Info("Applied schema action", zap.Int("statements", len(stmts)))
				}
			}
		}
		report.Results = append(report.Results, res)
		e.metrics.DDLAction(a.Kind.String(), string(res.Status))
	}

	if halted != nil {
		e.metrics.Error("schema_execution", "")
		return report, halted
	}
	return report, nil
}

func isDropStatement(stmt string) bool {
	upper := strings.ToUpper(stmt)
	return strings.HasPrefix(upper, "DROP ") || strings.Contains(upper, " DROP FOREIGN KEY ") || strings.Contains(upper, " DROP CONSTRAINT ")
}

var sqliteMissingObject = regexp.MustCompile(`no such (table|view|index)`)

// isMissingObjectError reports whether err says a dropped object was already
// gone. Nothing else is tolerated.
func (e *Executor) isMissingObjectError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// undefined_table, undefined_object
		return pgErr.Code == "42P01" || pgErr.Code == "42704"
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		// ER_BAD_TABLE_ERROR, ER_CANT_DROP_FIELD_OR_KEY
		return myErr.Number == 1051 || myErr.Number == 1091
	}
	if e.dialect == "sqlite" {
		return sqliteMissingObject.MatchString(strings.ToLower(err.Error()))
	}
	return false
}
