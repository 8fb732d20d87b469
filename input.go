package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/surveysync/internal/config"
	"github.com/arwahdevops/surveysync/internal/logger"
	"github.com/arwahdevops/surveysync/internal/schema"
	"github.com/arwahdevops/surveysync/internal/source"
	projectSync "github.com/arwahdevops/surveysync/internal/sync"
)

// readInput reads the layer document and the records file named in cfg.
func readInput(cfg *config.Config, names *schema.NameMap) (projectSync.Input, error) {
	var in projectSync.Input
	if cfg.SchemaFile != "" {
		s, err := readSchemaFile(cfg, names)
		if err != nil {
			return in, err
		}
		in.Tables = s.Tables
		in.Records = append(in.Records, s.Seeds...)
	}
	if cfg.RecordsFile != "" {
		set, err := readRecordsFile(cfg)
		if err != nil {
			return in, err
		}
		in.Records = append(in.Records, set)
	}
	return in, nil
}

// readSchemaFile reads a layer document (.json) or a CSV schema sheet
// describing a single table (.csv).
func readSchemaFile(cfg *config.Config, names *schema.NameMap) (*source.Schema, error) {
	f, err := os.Open(cfg.SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("open schema file: %w", err)
	}
	defer f.Close()

	var s *source.Schema
	switch ext := strings.ToLower(filepath.Ext(cfg.SchemaFile)); ext {
	case ".json":
		s, err = source.ReadSchema(f, source.SchemaOptions{
			Names:             names,
			DefaultPrimaryKey: cfg.DefaultPrimaryKey,
			SRID:              cfg.DBSRID,
			GenerateViews:     cfg.GenerateViews,
		}, logger.Log)
	case ".csv":
		s, err = source.ReadSchemaSheet(f, source.SchemaSheetOptions{
			Table:         externalTable(cfg.RecordsTable, cfg.SchemaFile),
			Names:         names,
			PrimaryKey:    cfg.DefaultPrimaryKey,
			XColumn:       cfg.CSVXColumn,
			YColumn:       cfg.CSVYColumn,
			SRID:          cfg.DBSRID,
			GenerateViews: cfg.GenerateViews,
		}, logger.Log)
	default:
		return nil, fmt.Errorf("unsupported schema format %q (use .json or .csv)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("read schema file %s: %w", cfg.SchemaFile, err)
	}
	return s, nil
}

// externalTable is the configured table name, or the base name of path.
func externalTable(configured, path string) string {
	if configured != "" {
		return configured
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// readRecordsFile reads feature JSON or CSV, by extension, and applies the
// record filter.
func readRecordsFile(cfg *config.Config) (projectSync.RecordSet, error) {
	table := externalTable(cfg.RecordsTable, cfg.RecordsFile)

	f, err := os.Open(cfg.RecordsFile)
	if err != nil {
		return projectSync.RecordSet{}, fmt.Errorf("open records file: %w", err)
	}
	defer f.Close()

	var set projectSync.RecordSet
	switch ext := strings.ToLower(filepath.Ext(cfg.RecordsFile)); ext {
	case ".json":
		set, err = source.ReadFeatures(f, table)
	case ".csv":
		set, err = source.ReadCSV(f, table, source.CSVOptions{XColumn: cfg.CSVXColumn, YColumn: cfg.CSVYColumn})
	default:
		return set, fmt.Errorf("unsupported records format %q (use .json or .csv)", ext)
	}
	if err != nil {
		return set, fmt.Errorf("read records %s: %w", cfg.RecordsFile, err)
	}

	filter, err := source.NewFilter(cfg.RecordFilter)
	if err != nil {
		return set, err
	}
	read := len(set.Rows)
	set, dropped, err := filter.Apply(set)
	if err != nil {
		return set, err
	}
	logger.Log.Info("Read records",
		zap.String("file", cfg.RecordsFile),
		zap.String("table", table),
		zap.Int("rows", read),
		zap.Int("filtered_out", dropped),
		zap.String("filter", filter.String()))
	return set, nil
}
