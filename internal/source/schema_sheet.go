package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/surveysync/internal/schema"
)

// Default header names of a schema sheet.
const (
	SheetFieldNameHeader   = "Field Name"
	SheetDataTypeHeader    = "Data Type"
	SheetDescriptionHeader = "Description (Optional)"
)

// sheetTypes maps the data types a schema sheet may name.
var sheetTypes = map[string]schema.ColumnSpec{
	"number":     {Type: schema.TypeFloat},
	"short text": {Type: schema.TypeText, Size: 255},
	"date/time":  {Type: schema.TypeDate},
	"yes/no":     {Type: schema.TypeBoolean},
}

// SchemaSheetOptions configure ReadSchemaSheet. Table is the external name of
// the table the sheet describes. XColumn and YColumn, when set, name the
// coordinate fields that are replaced by a point column.
type SchemaSheetOptions struct {
	Table      string
	Names      *schema.NameMap
	PrimaryKey string
	XColumn    string
	YColumn    string
	SRID       int
	// Header names; empty means the defaults.
	FieldNameHeader   string
	DataTypeHeader    string
	DescriptionHeader string
	GenerateViews     bool
}

// ReadSchemaSheet reads a one-table schema from a CSV export of a schema
// sheet: a header row, then one row per field with its name, data type and
// an optional description.
func ReadSchemaSheet(r io.Reader, opts SchemaSheetOptions, logger *zap.Logger) (*Schema, error) {
	if opts.Table == "" {
		return nil, fmt.Errorf("schema sheet needs a table name")
	}
	log := logger.Named("schema_sheet").With(zap.String("external_table", opts.Table))
	headers := [3]string{opts.FieldNameHeader, opts.DataTypeHeader, opts.DescriptionHeader}
	for i, def := range [3]string{SheetFieldNameHeader, SheetDataTypeHeader, SheetDescriptionHeader} {
		if headers[i] == "" {
			headers[i] = def
		}
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("schema sheet has no header row")
		}
		return nil, fmt.Errorf("read schema sheet header: %w", err)
	}
	idx := [3]int{-1, -1, -1}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		for j := range headers {
			if strings.EqualFold(h, headers[j]) {
				idx[j] = i
			}
		}
	}
	if idx[0] < 0 || idx[1] < 0 {
		return nil, fmt.Errorf("schema sheet header lacks %q or %q", headers[0], headers[1])
	}

	t := schema.TableSpec{Name: opts.Names.Table(opts.Table), GenerateView: opts.GenerateViews}
	cell := func(record []string, i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	var seenX, seenY bool
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read schema sheet: %w", err)
		}
		line, _ := cr.FieldPos(0)
		field := cell(record, idx[0])
		if field == "" {
			continue
		}
		if opts.XColumn != "" && strings.EqualFold(field, opts.XColumn) {
			seenX = true
			continue
		}
		if opts.YColumn != "" && strings.EqualFold(field, opts.YColumn) {
			seenY = true
			continue
		}

		dataType := cell(record, idx[1])
		col, ok := sheetTypes[strings.ToLower(dataType)]
		if !ok {
			return nil, fmt.Errorf("schema sheet line %d: unknown data type %q for field %s", line, dataType, field)
		}
		col.Name = opts.Names.Column(opts.Table, field)
		col.Comment = cell(record, idx[2])
		col.Nullable = true
		if opts.PrimaryKey != "" && strings.EqualFold(field, opts.PrimaryKey) {
			col.Nullable = false
			t.PrimaryKey = col.Name
		}
		if _, dup := t.Column(col.Name); dup {
			return nil, fmt.Errorf("schema sheet line %d: field %s is declared twice", line, field)
		}
		t.Columns = append(t.Columns, col)
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("schema sheet declares no fields")
	}

	if opts.XColumn != "" {
		if !seenX || !seenY {
			return nil, fmt.Errorf("schema sheet lacks coordinate fields %s and %s", opts.XColumn, opts.YColumn)
		}
		t.Columns = append(t.Columns, schema.ColumnSpec{Name: GeometryColumn, Type: schema.TypeGeometry, Nullable: true, Comment: "Auto-generated column"})
		t.Geometry = &schema.GeometrySpec{Column: GeometryColumn, SRID: opts.SRID}
	}

	if t.PrimaryKey == "" && opts.PrimaryKey != "" {
		pk := schema.Canonicalize(opts.PrimaryKey)
		t.Columns = append([]schema.ColumnSpec{{Name: pk, Type: schema.TypeInteger, AutoIncrement: true}}, t.Columns...)
		t.PrimaryKey = pk
		log.Debug("Added default primary key", zap.String("column", pk))
	}

	log.Info("Read schema sheet",
		zap.String("table", t.Name),
		zap.Int("columns", len(t.Columns)),
		zap.Bool("point", t.Geometry != nil))
	return &Schema{Tables: []schema.TableSpec{t}}, nil
}
