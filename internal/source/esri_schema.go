// Package source turns feature service exports into the table model and
// record sets the reconciliation engine consumes.
package source

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/surveysync/internal/schema"
	"github.com/arwahdevops/surveysync/internal/sync"
)

// GeometryColumn is the column a point layer stores its shape in.
const GeometryColumn = "geom"

const (
	defaultUniqueIDField = "objectid"
	defaultTextLength    = 255
	lookupTextLength     = 256
	globalIDLength       = 36
)

type esriDocument struct {
	Layers []esriLayer `json:"layers"`
	Tables []esriLayer `json:"tables"`
}

type esriLayer struct {
	ID            int                `json:"id"`
	Name          string             `json:"name"`
	GeometryType  string             `json:"geometryType"`
	Fields        []esriField        `json:"fields"`
	UniqueIDField *esriUniqueID      `json:"uniqueIdField"`
	Indexes       []esriIndex        `json:"indexes"`
	Relationships []esriRelationship `json:"relationships"`
}

type esriUniqueID struct {
	Name string `json:"name"`
}

type esriField struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Alias    string      `json:"alias"`
	Nullable *bool       `json:"nullable"`
	Length   int         `json:"length"`
	Domain   *esriDomain `json:"domain"`
}

type esriDomain struct {
	Type        string           `json:"type"`
	Name        string           `json:"name"`
	CodedValues []esriCodedValue `json:"codedValues"`
}

type esriCodedValue struct {
	Name string `json:"name"`
	Code any    `json:"code"`
}

type esriIndex struct {
	Name        string `json:"name"`
	Fields      string `json:"fields"`
	IsUnique    bool   `json:"isUnique"`
	Description string `json:"description"`
}

type esriRelationship struct {
	Name           string `json:"name"`
	RelatedTableID int    `json:"relatedTableId"`
	Role           string `json:"role"`
	KeyField       string `json:"keyField"`
}

// SchemaOptions control how a layer document becomes tables.
type SchemaOptions struct {
	Names *schema.NameMap
	// DefaultPrimaryKey is added as an auto-increment key to tables that do
	// not declare one. Empty disables it.
	DefaultPrimaryKey string
	SRID              int
	GenerateViews     bool
}

// Schema is the desired model read from a layer document, plus the rows
// that seed its lookup tables.
type Schema struct {
	Tables []schema.TableSpec
	Seeds  []sync.RecordSet
}

// ReadSchema parses an exported layer document.
func ReadSchema(r io.Reader, opts SchemaOptions, logger *zap.Logger) (*Schema, error) {
	var doc esriDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode layer document: %w", err)
	}
	if len(doc.Layers) == 0 && len(doc.Tables) == 0 {
		return nil, fmt.Errorf("layer document has no layers or tables")
	}
	b := &schemaBuilder{
		opts:    opts,
		logger:  logger.Named("esri_schema"),
		byID:    make(map[int]*esriLayer),
		lookups: make(map[string]bool),
	}
	return b.build(append(doc.Layers, doc.Tables...))
}

type schemaBuilder struct {
	opts    SchemaOptions
	logger  *zap.Logger
	byID    map[int]*esriLayer
	lookups map[string]bool
	out     Schema
}

func (b *schemaBuilder) build(layers []esriLayer) (*Schema, error) {
	for i := range layers {
		b.byID[layers[i].ID] = &layers[i]
	}
	var tables []schema.TableSpec
	for i := range layers {
		t, err := b.table(&layers[i])
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", layers[i].Name, err)
		}
		tables = append(tables, t)
	}
	// Lookup tables come first so the declaration order is already a valid
	// creation order.
	b.out.Tables = append(b.out.Tables, tables...)
	b.uniqueReferencedKeys()
	b.logger.Info("Read layer document",
		zap.Int("tables", len(b.out.Tables)),
		zap.Int("lookup_tables", len(b.lookups)),
		zap.Int("seed_sets", len(b.out.Seeds)))
	return &b.out, nil
}

func (b *schemaBuilder) table(l *esriLayer) (schema.TableSpec, error) {
	name := b.opts.Names.Table(l.Name)
	log := b.logger.With(zap.String("table", name))
	t := schema.TableSpec{Name: name, GenerateView: b.opts.GenerateViews}

	uniqueID := defaultUniqueIDField
	if l.UniqueIDField != nil && l.UniqueIDField.Name != "" {
		uniqueID = l.UniqueIDField.Name
	}

	for _, f := range l.Fields {
		if f.Name == "" || f.Type == "" {
			return t, fmt.Errorf("field is missing a name or type")
		}
		col, ok, err := b.column(l, &t, f, uniqueID)
		if err != nil {
			return t, err
		}
		if ok {
			t.Columns = append(t.Columns, col)
		}
	}

	switch l.GeometryType {
	case "":
	case "esriGeometryPoint":
		t.Columns = append(t.Columns, schema.ColumnSpec{Name: GeometryColumn, Type: schema.TypeGeometry, Nullable: true})
		t.Geometry = &schema.GeometrySpec{Column: GeometryColumn, SRID: b.opts.SRID}
	default:
		return t, fmt.Errorf("geometry type %s is not supported, only points are", l.GeometryType)
	}

	if t.PrimaryKey == "" && b.opts.DefaultPrimaryKey != "" {
		pk := schema.Canonicalize(b.opts.DefaultPrimaryKey)
		if _, exists := t.Column(pk); !exists {
			t.Columns = append([]schema.ColumnSpec{{Name: pk, Type: schema.TypeInteger, AutoIncrement: true}}, t.Columns...)
			t.PrimaryKey = pk
			log.Debug("Added default primary key", zap.String("column", pk))
		}
	}

	for _, rel := range l.Relationships {
		if err := b.relationship(l, &t, rel); err != nil {
			return t, err
		}
	}
	b.indexes(l, &t, log)
	return t, nil
}

// column maps one field. ok is false for fields that have no column of
// their own, such as the shape field of a layer.
func (b *schemaBuilder) column(l *esriLayer, t *schema.TableSpec, f esriField, uniqueID string) (schema.ColumnSpec, bool, error) {
	col := schema.ColumnSpec{
		Name:     b.opts.Names.Column(l.Name, f.Name),
		Nullable: f.Nullable == nil || *f.Nullable,
	}
	if f.Alias != "" && f.Alias != f.Name {
		col.Comment = f.Alias
	}

	switch f.Type {
	case "esriFieldTypeOID":
		col.Type = schema.TypeInteger
		if strings.EqualFold(f.Name, uniqueID) && t.PrimaryKey == "" {
			t.PrimaryKey = col.Name
			col.Nullable = false
		}
	case "esriFieldTypeGlobalID", "esriFieldTypeGUID":
		col.Type = schema.TypeText
		col.Size = globalIDLength
	case "esriFieldTypeInteger", "esriFieldTypeSmallInteger":
		col.Type = schema.TypeInteger
	case "esriFieldTypeDouble", "esriFieldTypeSingle":
		col.Type = schema.TypeFloat
	case "esriFieldTypeDate":
		col.Type = schema.TypeDate
	case "esriFieldTypeString":
		if f.Domain != nil {
			lookup, err := b.lookup(f.Domain)
			if err != nil {
				return col, false, fmt.Errorf("field %s: %w", f.Name, err)
			}
			col.Type = schema.TypeForeignKey
			col.RefType = schema.TypeInteger
			t.ForeignKeys = append(t.ForeignKeys, schema.ForeignKeySpec{
				Column:        col.Name,
				RefTable:      lookup,
				RefColumn:     "id",
				DisplayColumn: "name",
				LookupColumn:  "code",
			})
			t.Indexes = append(t.Indexes, schema.IndexSpec{Name: "idx_" + t.Name + "_" + col.Name, Columns: []string{col.Name}})
			break
		}
		col.Type = schema.TypeText
		col.Size = f.Length
		if col.Size <= 0 {
			col.Size = defaultTextLength
		}
	case "esriFieldTypeGeometry":
		return col, false, nil
	default:
		return col, false, fmt.Errorf("field %s has unsupported type %s", f.Name, f.Type)
	}
	return col, true, nil
}

// lookup declares the table behind a coded-value domain once and queues
// its seed rows. It returns the lookup table name.
func (b *schemaBuilder) lookup(d *esriDomain) (string, error) {
	if d.Type != "codedValue" {
		return "", fmt.Errorf("domain %q has type %q, expected codedValue", d.Name, d.Type)
	}
	if d.Name == "" {
		return "", fmt.Errorf("coded value domain has no name")
	}
	name := b.opts.Names.Table(d.Name)
	if b.lookups[name] {
		return name, nil
	}
	b.lookups[name] = true

	b.out.Tables = append(b.out.Tables, schema.TableSpec{
		Name:       name,
		PrimaryKey: "id",
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: schema.TypeInteger, AutoIncrement: true},
			{Name: "name", Type: schema.TypeText, Size: lookupTextLength},
			{Name: "code", Type: schema.TypeText, Size: lookupTextLength},
		},
	})
	seed := sync.RecordSet{Table: d.Name, Rows: make([]schema.Row, 0, len(d.CodedValues))}
	for _, v := range d.CodedValues {
		seed.Rows = append(seed.Rows, schema.Row{"name": v.Name, "code": codeString(v.Code)})
	}
	b.out.Seeds = append(b.out.Seeds, seed)
	return name, nil
}

func codeString(code any) string {
	if f, ok := code.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(code)
}

// relationship makes the key field of a repeating group reference the
// parent's global id.
func (b *schemaBuilder) relationship(l *esriLayer, t *schema.TableSpec, rel esriRelationship) error {
	if rel.Role != "esriRelRoleDestination" || rel.KeyField == "" {
		return nil
	}
	parent, ok := b.byID[rel.RelatedTableID]
	if !ok {
		return fmt.Errorf("relationship %q refers to unknown table id %d", rel.Name, rel.RelatedTableID)
	}
	var parentKey string
	for _, f := range parent.Fields {
		if f.Type == "esriFieldTypeGlobalID" {
			parentKey = b.opts.Names.Column(parent.Name, f.Name)
			break
		}
	}
	if parentKey == "" {
		return fmt.Errorf("relationship %q: parent %q has no global id field", rel.Name, parent.Name)
	}

	colName := b.opts.Names.Column(l.Name, rel.KeyField)
	col, ok := t.Column(colName)
	if !ok {
		return fmt.Errorf("relationship %q: key field %s is not a field of the table", rel.Name, rel.KeyField)
	}
	if _, exists := t.ForeignKey(colName); exists {
		return nil
	}
	col.Type = schema.TypeForeignKey
	col.RefType = schema.TypeText
	col.Size = globalIDLength
	t.ForeignKeys = append(t.ForeignKeys, schema.ForeignKeySpec{
		Column:    colName,
		RefTable:  b.opts.Names.Table(parent.Name),
		RefColumn: parentKey,
	})
	t.Indexes = append(t.Indexes, schema.IndexSpec{Name: "idx_" + t.Name + "_" + colName, Columns: []string{colName}})
	return nil
}

// uniqueReferencedKeys gives every column referenced by a foreign key, other
// than a primary key, a unique index. Databases refuse the constraint
// otherwise.
func (b *schemaBuilder) uniqueReferencedKeys() {
	byName := make(map[string]*schema.TableSpec, len(b.out.Tables))
	for i := range b.out.Tables {
		byName[b.out.Tables[i].Name] = &b.out.Tables[i]
	}
	for _, t := range b.out.Tables {
		for _, fk := range t.ForeignKeys {
			parent, ok := byName[fk.RefTable]
			if !ok || parent.PrimaryKey == fk.RefColumn || hasUniqueIndex(parent, fk.RefColumn) {
				continue
			}
			parent.Indexes = append(parent.Indexes, schema.IndexSpec{
				Name:    "idx_" + parent.Name + "_" + fk.RefColumn,
				Columns: []string{fk.RefColumn},
				Unique:  true,
			})
		}
	}
}

func hasUniqueIndex(t *schema.TableSpec, column string) bool {
	for _, idx := range t.Indexes {
		if idx.Unique && len(idx.Columns) == 1 && idx.Columns[0] == column {
			return true
		}
	}
	return false
}

// indexes adds the layer's declared indexes. Indexes naming columns the
// table does not have are dropped.
func (b *schemaBuilder) indexes(l *esriLayer, t *schema.TableSpec, log *zap.Logger) {
	for _, idx := range l.Indexes {
		var cols []string
		valid := true
		for _, f := range strings.Split(idx.Fields, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			c := b.opts.Names.Column(l.Name, f)
			if _, ok := t.Column(c); !ok {
				valid = false
				break
			}
			cols = append(cols, c)
		}
		if !valid || len(cols) == 0 {
			log.Warn("Skipping index with unknown columns", zap.String("index", idx.Name), zap.String("fields", idx.Fields))
			continue
		}
		if len(cols) == 1 && cols[0] == t.PrimaryKey {
			continue
		}
		name := "idx_" + t.Name + "_" + schema.Canonicalize(strings.ToLower(idx.Name))
		if _, exists := t.Index(name); exists {
			continue
		}
		t.Indexes = append(t.Indexes, schema.IndexSpec{Name: name, Columns: cols, Unique: idx.IsUnique, Comment: idx.Description})
	}
}
