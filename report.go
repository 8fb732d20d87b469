package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arwahdevops/surveysync/internal/logger"
	projectSync "github.com/arwahdevops/surveysync/internal/sync"
)

const (
	exitOK        = 0
	exitFailed    = 1 // invariant violation or a halted run
	exitConflicts = 2 // completed, but conflicts or per-table errors need attention
	exitNothing   = 3 // every record set was skipped
)

// processReport logs the run outcome and returns the exit code.
func processReport(report *projectSync.RunReport, recordSets int) int {
	log := logger.Log

	if res, ok := report.Execution.Failed(); ok {
		log.Error("Schema action FAILED",
			zap.String("table", res.Action.Table),
			zap.String("action", res.Action.String()),
			zap.Strings("statements", res.Statements),
			zap.Error(res.Err))
	}
	for _, c := range report.Conflicts {
		log.Warn("Table CONFLICTED, manual intervention required",
			zap.String("table", c.Table), zap.String("column", c.Column),
			zap.String("kind", string(c.Kind)), zap.String("reason", c.Reason))
	}

	tableErrors := 0
	for _, t := range report.Tables {
		fields := []zap.Field{
			zap.String("table", t.Table),
			zap.String("strategy", t.Strategy),
			zap.Int64("deleted", t.Deleted),
			zap.Int("inserted", t.Inserted),
			zap.Int("updated", t.Updated),
			zap.Int("unchanged", t.Unchanged),
			zap.Bool("dry_run", t.DryRun),
		}
		level := zapcore.InfoLevel
		msg := "Table records reconciled."
		if t.Err != nil {
			tableErrors++
			level = zapcore.ErrorLevel
			msg = "Table records FAILED."
			fields = append(fields, zap.Error(t.Err))
		}
		log.Check(level, msg).Write(fields...)
	}

	log.Info("-------------------- Reconciliation Summary --------------------",
		zap.Bool("dry_run", report.DryRun),
		zap.Duration("duration", report.Duration),
		zap.Int("tables_created", report.TablesCreated),
		zap.Int("tables_recreated", report.TablesRecreated),
		zap.Int("tables_altered", report.TablesAltered),
		zap.Int("tables_unchanged", report.TablesUnchanged),
		zap.Int("tables_conflicted", report.TablesConflicted),
		zap.Int("record_sets_skipped", report.TablesSkipped),
		zap.Int64("rows_deleted", report.RowsDeleted),
		zap.Int("rows_inserted", report.RowsInserted),
		zap.Int("rows_updated", report.RowsUpdated),
		zap.Int("rows_unchanged", report.RowsUnchanged),
	)

	switch {
	case report.Invariant != nil:
		log.Error("Overall reconciliation: REJECTED, the desired schema violates model invariants. Nothing was changed.", zap.Error(report.Invariant))
		return exitFailed
	case report.Failure != nil:
		log.Error("Overall reconciliation: HALTED. Actions applied before the failure remain applied.", zap.Error(report.Failure))
		return exitFailed
	case len(report.Conflicts) > 0 || tableErrors > 0:
		log.Warn("Overall reconciliation: COMPLETED WITH CONFLICTS OR TABLE ERRORS (check logs for details).")
		return exitConflicts
	case recordSets > 0 && report.TablesSkipped > 0 && len(report.Tables) == 0:
		log.Warn("Overall reconciliation: COMPLETED, BUT ALL RECORD SETS WERE SKIPPED (check logs for reasons).")
		return exitNothing
	}
	log.Info("Overall reconciliation: COMPLETED SUCCESSFULLY.")
	return exitOK
}
