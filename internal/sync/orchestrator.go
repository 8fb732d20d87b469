package sync

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arwahdevops/surveysync/internal/config"
	"github.com/arwahdevops/surveysync/internal/db"
	"github.com/arwahdevops/surveysync/internal/geo"
	"github.com/arwahdevops/surveysync/internal/metrics"
	"github.com/arwahdevops/surveysync/internal/schema"
)

// Options are the run-level switches.
type Options struct {
	Force                bool
	Reset                bool
	IgnoreMissingColumns bool
	GenerateViews        bool
	DryRun               bool
	DBSRID               int
	SourceSRID           int
	GeometryTolerance    float64
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Force:                cfg.Force,
		Reset:                cfg.Reset,
		IgnoreMissingColumns: cfg.IgnoreMissingColumns,
		GenerateViews:        cfg.GenerateViews,
		DryRun:               cfg.DryRun,
		DBSRID:               cfg.DBSRID,
		SourceSRID:           cfg.SourceSRID,
		GeometryTolerance:    cfg.GeometryTolerance,
	}
}

// Input is what one run reconciles. Tables may be empty when only records
// are loaded into tables that already exist.
type Input struct {
	Tables  []schema.TableSpec
	Records []RecordSet
}

// RunReport is the aggregated result of one run.
type RunReport struct {
	DryRun   bool
	Duration time.Duration

	TablesCreated    int
	TablesRecreated  int
	TablesAltered    int
	TablesUnchanged  int
	TablesConflicted int
	// TablesSkipped counts record sets that were not loaded: their table is
	// conflicted or does not exist.
	TablesSkipped int

	RowsDeleted   int64
	RowsInserted  int
	RowsUpdated   int
	RowsUnchanged int

	Conflicts []Conflict
	Plan      *Plan
	Execution *ExecutionReport
	Tables    []UpsertReport

	// Invariant is set when the desired model could not be planned at all.
	Invariant error
	// Failure is the error that halted the run, usually an *ExecError.
	Failure error
}

// Err combines every problem of the run, or nil for a clean run.
func (r *RunReport) Err() error {
	var errs error
	errs = multierr.Append(errs, r.Invariant)
	for i := range r.Conflicts {
		errs = multierr.Append(errs, &r.Conflicts[i])
	}
	for _, t := range r.Tables {
		if t.Err != nil && t.Err != r.Failure {
			errs = multierr.Append(errs, t.Err)
		}
	}
	return multierr.Append(errs, r.Failure)
}

// Halted reports whether the run stopped before reconciling everything.
func (r *RunReport) Halted() bool {
	return r.Invariant != nil || r.Failure != nil
}

// Orchestrator runs schema reconciliation and then record reconciliation,
// one table at a time, against a single database.
type Orchestrator struct {
	introspector Introspector
	executor     *Executor
	normalizer   *Normalizer
	upserter     *Upserter
	opts         Options
	logger       *zap.Logger
	metrics      *metrics.Store
}

var _ OrchestratorInterface = (*Orchestrator)(nil)

func NewOrchestrator(conn *db.Connector, opts Options, names *schema.NameMap, reprojector geo.Reprojector, logger *zap.Logger, metricsStore *metrics.Store) (*Orchestrator, error) {
	introspector, err := NewIntrospector(conn.DB, conn.Dialect, logger)
	if err != nil {
		return nil, err
	}
	gen, err := NewDDLGenerator(conn.Dialect, opts.DBSRID)
	if err != nil {
		return nil, err
	}
	store := NewRowStore(conn.DB, conn.Dialect, logger)
	return newOrchestrator(introspector, gormExecer{db: conn.DB}, gen, store, opts, names, reprojector, logger, metricsStore), nil
}

func newOrchestrator(introspector Introspector, execer Execer, gen *DDLGenerator, store RowStore, opts Options, names *schema.NameMap, reprojector geo.Reprojector, logger *zap.Logger, metricsStore *metrics.Store) *Orchestrator {
	return &Orchestrator{
		introspector: introspector,
		executor:     NewExecutor(execer, gen, logger, metricsStore),
		normalizer:   NewNormalizer(names, reprojector, opts.DBSRID, opts.SourceSRID, store, logger),
		upserter:     NewUpserter(store, logger, metricsStore),
		opts:         opts,
		logger:       logger.Named("orchestrator"),
		metrics:      metricsStore,
	}
}

// Run reconciles the schema, then the records. It never returns early with
// a bare error: everything that happened is in the report.
func (o *Orchestrator) Run(ctx context.Context, in Input) *RunReport {
	start := time.Now()
	report := &RunReport{DryRun: o.opts.DryRun}
	o.logger.Info("Starting reconciliation run",
		zap.Int("desired_tables", len(in.Tables)),
		zap.Int("record_sets", len(in.Records)),
		zap.Bool("force", o.opts.Force),
		zap.Bool("reset", o.opts.Reset),
		zap.Bool("ignore_missing_columns", o.opts.IgnoreMissingColumns),
		zap.Bool("generate_views", o.opts.GenerateViews),
		zap.Bool("dry_run", o.opts.DryRun))
	if o.metrics != nil {
		o.metrics.RunActive.Set(1)
	}
	defer func() {
		report.Duration = time.Since(start)
		if o.metrics != nil {
			o.metrics.RunActive.Set(0)
			o.metrics.RunDuration.Observe(report.Duration.Seconds())
		}
		o.logger.Info("Reconciliation run finished", zap.Duration("duration", report.Duration), zap.Bool("halted", report.Halted()))
	}()

	current, err := o.introspector.Introspect(ctx)
	if err != nil {
		report.Failure = &ExecError{Action: "introspect", Err: err}
		o.metrics.Error("introspection", "")
		o.logger.Error("Failed to read the current schema", zap.Error(err))
		return report
	}
	currentByName := make(map[string]*schema.TableSpec, len(current))
	known := make(map[string]bool, len(current))
	for i := range current {
		currentByName[current[i].Name] = &current[i]
		known[current[i].Name] = true
	}

	if err := schema.Validate(in.Tables, known); err != nil {
		report.Invariant = err
		o.metrics.Error("invariant", "")
		o.logger.Error("Desired schema violates model invariants, nothing was changed", zap.Error(err))
		return report
	}

	plan, err := Diff(in.Tables, current, DiffOptions{
		Force:                o.opts.Force,
		IgnoreMissingColumns: o.opts.IgnoreMissingColumns,
		GenerateViews:        o.opts.GenerateViews,
	})
	if err != nil {
		report.Invariant = err
		o.metrics.Error("invariant", "")
		o.logger.Error("Failed to plan schema changes, nothing was changed", zap.Error(err))
		return report
	}
	report.Plan = plan
	report.Conflicts = plan.Conflicts()
	report.TablesCreated = plan.Count(OutcomeCreated)
	report.TablesRecreated = plan.Count(OutcomeRecreated)
	report.TablesAltered = plan.Count(OutcomeAltered)
	report.TablesUnchanged = plan.Count(OutcomeUnchanged)
	report.TablesConflicted = plan.Count(OutcomeConflicted)
	for _, c := range report.Conflicts {
		o.metrics.Conflict(string(c.Kind))
		o.logger.Warn("Schema conflict requires manual intervention",
			zap.String("table", c.Table), zap.String("column", c.Column),
			zap.String("kind", string(c.Kind)), zap.String("reason", c.Reason))
	}
	o.logger.Info("Planned schema changes",
		zap.Strings("order", plan.Order),
		zap.Int("actions", len(plan.Actions)),
		zap.Int("created", report.TablesCreated),
		zap.Int("recreated", report.TablesRecreated),
		zap.Int("altered", report.TablesAltered),
		zap.Int("unchanged", report.TablesUnchanged),
		zap.Int("conflicted", report.TablesConflicted))

	execution, err := o.executor.Execute(ctx, plan, o.opts.DryRun)
	report.Execution = execution
	if err != nil {
		report.Failure = err
		o.logger.Error("Schema execution halted, records were not loaded",
			zap.Int("applied", execution.Count(StatusApplied)),
			zap.Int("not_attempted", execution.Count(StatusNotAttempted)),
			zap.Error(err))
		return report
	}
	for _, name := range plan.Order {
		o.metrics.TableOutcome(string(plan.Outcomes[name]))
	}

	o.reconcileRecords(ctx, in, plan, currentByName, report)
	return report
}

// recordGroup is every record set that maps onto one table.
type recordGroup struct {
	table string
	sets  []RecordSet
}

// groupRecords keeps the first appearance order of each table.
func (o *Orchestrator) groupRecords(sets []RecordSet) []*recordGroup {
	var groups []*recordGroup
	byTable := make(map[string]*recordGroup)
	for _, set := range sets {
		name := o.normalizer.names.Table(set.Table)
		g, ok := byTable[name]
		if !ok {
			g = &recordGroup{table: name}
			byTable[name] = g
			groups = append(groups, g)
		}
		g.sets = append(g.sets, set)
	}
	return groups
}

// reconcileRecords loads records table by table in plan order, then for
// tables that only exist in the database. A failed write halts the run.
func (o *Orchestrator) reconcileRecords(ctx context.Context, in Input, plan *Plan, current map[string]*schema.TableSpec, report *RunReport) {
	groups := o.groupRecords(in.Records)
	if len(groups) == 0 {
		return
	}
	byTable := make(map[string]*recordGroup, len(groups))
	for _, g := range groups {
		byTable[g.table] = g
	}
	desired := make(map[string]*schema.TableSpec, len(in.Tables))
	for i := range in.Tables {
		desired[in.Tables[i].Name] = &in.Tables[i]
	}

	var order []*recordGroup
	planned := make(map[string]bool, len(plan.Order))
	for _, name := range plan.Order {
		planned[name] = true
		if g, ok := byTable[name]; ok {
			order = append(order, g)
		}
	}
	for _, g := range groups {
		if !planned[g.table] {
			order = append(order, g)
		}
	}

	for _, g := range order {
		log := o.logger.With(zap.String("table", g.table))
		if err := ctx.Err(); err != nil {
			report.Failure = &ExecError{Action: "records", Table: g.table, Err: err}
			log.Warn("Run cancelled before loading records", zap.Error(err))
			return
		}

		outcome, inPlan := plan.Outcomes[g.table]
		if outcome == OutcomeConflicted {
			report.TablesSkipped++
			log.Warn("Skipping records for a table with schema conflicts")
			continue
		}
		spec := desired[g.table]
		cur, exists := current[g.table]
		if spec == nil {
			if !exists {
				report.TablesSkipped++
				log.Warn("Skipping records for a table that neither the schema nor the database declares")
				continue
			}
			spec = cur
		}

		// A dry run changed nothing, so reads must stay within what exists.
		tableExists := true
		loadSpec := spec
		lookupsAvailable := true
		if o.opts.DryRun {
			tableExists = exists && !(inPlan && outcome == OutcomeRecreated)
			if tableExists {
				loadSpec = existingColumns(spec, cur)
			}
			for _, ref := range lookupTables(spec) {
				if _, ok := current[ref]; !ok || plan.Outcomes[ref] == OutcomeRecreated {
					lookupsAvailable = false
				}
			}
		}

		var rows []schema.Row
		var normErr error
		for _, set := range g.sets {
			normalized, err := o.normalizer.Normalize(ctx, spec, set, lookupsAvailable)
			if err != nil {
				normErr = err
				break
			}
			rows = append(rows, normalized...)
		}
		if normErr != nil {
			report.Tables = append(report.Tables, UpsertReport{Table: g.table, DryRun: o.opts.DryRun, Err: &ExecError{Action: "normalize", Table: g.table, Err: normErr}})
			o.metrics.Error("normalize", g.table)
			log.Error("Could not map incoming records onto the table, skipping it", zap.Error(normErr))
			continue
		}

		res := o.upserter.Reconcile(ctx, spec, loadSpec, rows, UpsertOptions{
			Force:             o.opts.Force,
			Reset:             o.opts.Reset,
			DryRun:            o.opts.DryRun,
			GeometryTolerance: o.opts.GeometryTolerance,
			TableExists:       tableExists,
		})
		report.Tables = append(report.Tables, res)
		report.RowsDeleted += res.Deleted
		report.RowsInserted += res.Inserted
		report.RowsUpdated += res.Updated
		report.RowsUnchanged += res.Unchanged
		o.normalizer.Invalidate(g.table)

		if res.Err != nil {
			report.Failure = res.Err
			log.Error("Record reconciliation halted", zap.Error(res.Err))
			return
		}
		log.Info("Reconciled records",
			zap.String("strategy", res.Strategy),
			zap.Int64("deleted", res.Deleted),
			zap.Int("inserted", res.Inserted),
			zap.Int("updated", res.Updated),
			zap.Int("unchanged", res.Unchanged))
	}
}

// existingColumns narrows t to the columns cur already has.
func existingColumns(t, cur *schema.TableSpec) *schema.TableSpec {
	if cur == nil || cur == t {
		return t
	}
	narrowed := *t
	narrowed.Columns = nil
	for _, c := range t.Columns {
		if _, ok := cur.Column(c.Name); ok {
			narrowed.Columns = append(narrowed.Columns, c)
		}
	}
	return &narrowed
}
