package source

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arwahdevops/surveysync/internal/schema"
)

const surveyLayers = `{
  "layers": [{
    "id": 0,
    "name": "Plot Survey",
    "geometryType": "esriGeometryPoint",
    "uniqueIdField": {"name": "objectid"},
    "fields": [
      {"name": "objectid", "type": "esriFieldTypeOID", "nullable": false},
      {"name": "globalid", "type": "esriFieldTypeGlobalID", "nullable": false},
      {"name": "Site Name", "type": "esriFieldTypeString", "alias": "Site", "length": 120},
      {"name": "species", "type": "esriFieldTypeString", "domain": {
        "type": "codedValue", "name": "Species List",
        "codedValues": [{"name": "Pine", "code": "PIN"}, {"name": "Oak", "code": 2}]
      }},
      {"name": "surveyed", "type": "esriFieldTypeDate"},
      {"name": "Shape", "type": "esriFieldTypeGeometry"}
    ],
    "indexes": [
      {"name": "GlobalID_Index", "fields": "globalid", "isUnique": true, "description": "unique id"},
      {"name": "PK", "fields": "objectid", "isUnique": true},
      {"name": "Broken", "fields": "globalid, missing", "isUnique": false}
    ]
  }],
  "tables": [{
    "id": 1,
    "name": "tree",
    "fields": [
      {"name": "objectid", "type": "esriFieldTypeOID"},
      {"name": "parentglobalid", "type": "esriFieldTypeGUID"},
      {"name": "height", "type": "esriFieldTypeDouble"},
      {"name": "backup_species", "type": "esriFieldTypeString", "domain": {
        "type": "codedValue", "name": "Species List",
        "codedValues": [{"name": "Pine", "code": "PIN"}, {"name": "Oak", "code": 2}]
      }}
    ],
    "relationships": [{"name": "plot_tree", "relatedTableId": 0, "role": "esriRelRoleDestination", "keyField": "parentglobalid"}]
  }]
}`

func TestReadSchema(t *testing.T) {
	names := &schema.NameMap{Tables: map[string]string{"Plot Survey": "plot"}}
	s, err := ReadSchema(strings.NewReader(surveyLayers), SchemaOptions{Names: names, SRID: 2193, GenerateViews: true}, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.Len(t, s.Tables, 3)
	assert.Equal(t, []string{"Species_List", "plot", "tree"}, []string{s.Tables[0].Name, s.Tables[1].Name, s.Tables[2].Name})

	expectedPlot := schema.TableSpec{
		Name:       "plot",
		PrimaryKey: "objectid",
		Columns: []schema.ColumnSpec{
			{Name: "objectid", Type: schema.TypeInteger},
			{Name: "globalid", Type: schema.TypeText, Size: 36},
			{Name: "Site_Name", Type: schema.TypeText, Size: 120, Nullable: true, Comment: "Site"},
			{Name: "species", Type: schema.TypeForeignKey, RefType: schema.TypeInteger, Nullable: true},
			{Name: "surveyed", Type: schema.TypeDate, Nullable: true},
			{Name: "geom", Type: schema.TypeGeometry, Nullable: true},
		},
		Geometry: &schema.GeometrySpec{Column: "geom", SRID: 2193},
		ForeignKeys: []schema.ForeignKeySpec{
			{Column: "species", RefTable: "Species_List", RefColumn: "id", DisplayColumn: "name", LookupColumn: "code"},
		},
		Indexes: []schema.IndexSpec{
			{Name: "idx_plot_species", Columns: []string{"species"}},
			{Name: "idx_plot_globalid_index", Columns: []string{"globalid"}, Unique: true, Comment: "unique id"},
		},
		GenerateView: true,
	}
	if diff := cmp.Diff(expectedPlot, s.Tables[1]); diff != "" {
		t.Errorf("plot mismatch (-want +got):\n%s", diff)
	}

	lookup := s.Tables[0]
	assert.Equal(t, "id", lookup.PrimaryKey)
	assert.False(t, lookup.GenerateView)
	assert.True(t, lookup.Columns[0].AutoIncrement)

	require.Len(t, s.Seeds, 1, "a domain shared by two fields is declared once")
	assert.Equal(t, "Species List", s.Seeds[0].Table)
	assert.Equal(t, []schema.Row{{"name": "Pine", "code": "PIN"}, {"name": "Oak", "code": "2"}}, s.Seeds[0].Rows)

	tree := s.Tables[2]
	col, ok := tree.Column("parentglobalid")
	require.True(t, ok)
	assert.Equal(t, schema.TypeForeignKey, col.Type)
	assert.Equal(t, schema.TypeText, col.RefType)
	fk, ok := tree.ForeignKey("parentglobalid")
	require.True(t, ok)
	assert.Equal(t, "plot", fk.RefTable)
	assert.Equal(t, "globalid", fk.RefColumn)
	assert.Equal(t, "objectid", tree.PrimaryKey, "objectid is the default unique id field")
	assert.Nil(t, tree.Geometry)
}

func TestReadSchemaAddsUniqueIndexForReferencedKey(t *testing.T) {
	doc := `{"layers": [
	  {"id": 3, "name": "visit", "fields": [
	    {"name": "objectid", "type": "esriFieldTypeOID"},
	    {"name": "globalid", "type": "esriFieldTypeGlobalID"}]},
	  {"id": 4, "name": "note", "fields": [
	    {"name": "objectid", "type": "esriFieldTypeOID"},
	    {"name": "visit_guid", "type": "esriFieldTypeGUID"}],
	   "relationships": [{"relatedTableId": 3, "role": "esriRelRoleDestination", "keyField": "visit_guid"}]}
	]}`
	s, err := ReadSchema(strings.NewReader(doc), SchemaOptions{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	idx, ok := s.Tables[0].Index("idx_visit_globalid")
	require.True(t, ok)
	assert.True(t, idx.Unique)
	_, ok = s.Tables[1].Index("idx_note_visit_guid")
	assert.True(t, ok)
}

func TestReadSchemaDefaultPrimaryKey(t *testing.T) {
	doc := `{"tables": [{"id": 1, "name": "reading", "uniqueIdField": {"name": "rid"}, "fields": [
	  {"name": "objectid", "type": "esriFieldTypeOID"},
	  {"name": "value", "type": "esriFieldTypeSingle"}]}]}`

	s, err := ReadSchema(strings.NewReader(doc), SchemaOptions{DefaultPrimaryKey: "UAID"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	reading := s.Tables[0]
	assert.Equal(t, "UAID", reading.PrimaryKey)
	assert.Equal(t, schema.ColumnSpec{Name: "UAID", Type: schema.TypeInteger, AutoIncrement: true}, reading.Columns[0])

	s, err = ReadSchema(strings.NewReader(doc), SchemaOptions{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, s.Tables[0].PrimaryKey)
}

func TestReadSchemaErrors(t *testing.T) {
	testCases := []struct {
		name     string
		doc      string
		contains string
	}{
		{"Not JSON", `layers:`, "decode layer document"},
		{"Empty Document", `{}`, "no layers or tables"},
		{"Polygon Layer", `{"layers": [{"id": 0, "name": "area", "geometryType": "esriGeometryPolygon", "fields": []}]}`, "only points"},
		{"Unknown Field Type", `{"tables": [{"id": 0, "name": "t", "fields": [{"name": "pic", "type": "esriFieldTypeBlob"}]}]}`, "unsupported type"},
		{"Range Domain", `{"tables": [{"id": 0, "name": "t", "fields": [{"name": "d", "type": "esriFieldTypeString", "domain": {"type": "range", "name": "r"}}]}]}`, "expected codedValue"},
		{"Unknown Parent", `{"tables": [{"id": 0, "name": "t", "fields": [{"name": "k", "type": "esriFieldTypeGUID"}], "relationships": [{"relatedTableId": 9, "role": "esriRelRoleDestination", "keyField": "k"}]}]}`, "unknown table id 9"},
		{"Missing Field Name", `{"tables": [{"id": 0, "name": "t", "fields": [{"type": "esriFieldTypeInteger"}]}]}`, "missing a name"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadSchema(strings.NewReader(tc.doc), SchemaOptions{}, zaptest.NewLogger(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.contains)
		})
	}
}
