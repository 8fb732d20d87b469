package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arwahdevops/surveysync/internal/geo"
	"github.com/arwahdevops/surveysync/internal/schema"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts.UTC()
}

func TestCoerceValue(t *testing.T) {
	scanned := func(v any) *any { return &v }
	testCases := []struct {
		name      string
		typ       schema.LogicalType
		input     any
		expected  any
		expectErr bool
	}{
		{"Nil Stays Nil", schema.TypeInteger, nil, nil, false},
		{"Integer From Whole Float", schema.TypeInteger, 12.0, int64(12), false},
		{"Integer From String", schema.TypeInteger, " 7 ", int64(7), false},
		{"Integer Rejects Fraction", schema.TypeInteger, 1.5, nil, true},
		{"Integer From Bytes", schema.TypeInteger, []byte("42"), int64(42), false},
		{"Empty String Is Null For Numbers", schema.TypeFloat, "  ", nil, false},
		{"Empty String Stays Text", schema.TypeText, "", "", false},
		{"Float From Float32", schema.TypeFloat, float32(0.1), 0.1, false},
		{"Float Rejects Words", schema.TypeFloat, "ten", nil, true},
		{"Text From Number", schema.TypeText, 2.50, "2.5", false},
		{"Date From Epoch Millis", schema.TypeDate, int64(0), time.Unix(0, 0).UTC(), false},
		{"Date From Date Only", schema.TypeDate, "2024-02-29", mustTime(t, "2024-02-29T00:00:00Z"), false},
		{"Date From Offset Timestamp", schema.TypeDate, "2024-02-29T12:00:00+13:00", mustTime(t, "2024-02-28T23:00:00Z"), false},
		{"Date Rejects Garbage", schema.TypeDate, "yesterday", nil, true},
		{"Boolean From Yes", schema.TypeBoolean, "Yes", true, false},
		{"Boolean From Zero", schema.TypeBoolean, int64(0), false, false},
		{"Point From EWKT", schema.TypeGeometry, "SRID=4326;POINT(174.7 -36.8)", geo.Point{X: 174.7, Y: -36.8, SRID: 4326}, false},
		{"Point From Scanned EWKT Bytes", schema.TypeGeometry, scanned([]byte("SRID=2193;POINT(1 2)")), geo.Point{X: 1, Y: 2, SRID: 2193}, false},
		{"Point From Scanned EWKT String", schema.TypeGeometry, scanned("SRID=4326;POINT(3 4)"), geo.Point{X: 3, Y: 4, SRID: 4326}, false},
		{"Scanned Null", schema.TypeGeometry, scanned(nil), nil, false},
		{"Integer From Scanned Value", schema.TypeInteger, scanned(int64(5)), int64(5), false},
		{"Point Rejects Polygons", schema.TypeGeometry, "POLYGON((0 0,1 1,1 0,0 0))", nil, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := coerceValue(tc.typ, tc.input)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestCoerceRowDropsUndeclaredColumns(t *testing.T) {
	table := personTable()
	row, dropped, err := coerceRow(table, schema.Row{"id": "3", "name": "A", "shape_area": 1.2})
	require.NoError(t, err)
	assert.Equal(t, schema.Row{"id": int64(3), "name": "A"}, row)
	assert.Equal(t, []string{"shape_area"}, dropped)

	_, _, err = coerceRow(table, schema.Row{"id": "three"})
	assert.ErrorContains(t, err, "column id")
}

func TestValuesEqual(t *testing.T) {
	testCases := []struct {
		name  string
		typ   schema.LogicalType
		a, b  any
		equal bool
	}{
		{"Both Nil", schema.TypeText, nil, nil, true},
		{"Nil And Value", schema.TypeText, nil, "", false},
		{"Integer And Whole Float", schema.TypeInteger, int64(5), 5.0, true},
		{"Float Digits", schema.TypeFloat, 0.1, 0.10000000000000001, true},
		{"Float Difference", schema.TypeFloat, 0.1, 0.2, false},
		{"Dates Within A Second", schema.TypeDate, mustTime(t, "2024-01-01T00:00:00Z"), mustTime(t, "2024-01-01T00:00:00Z").Add(900 * time.Millisecond), true},
		{"Dates A Second Apart", schema.TypeDate, mustTime(t, "2024-01-01T00:00:00Z"), mustTime(t, "2024-01-01T00:00:01Z"), false},
		{"Points Within Tolerance", schema.TypeGeometry, geo.Point{X: 1, Y: 2, SRID: 4326}, geo.Point{X: 1 + 1e-12, Y: 2, SRID: 4326}, true},
		{"Points In Different Systems", schema.TypeGeometry, geo.Point{X: 1, Y: 2, SRID: 4326}, geo.Point{X: 1, Y: 2, SRID: 2193}, false},
		{"Booleans", schema.TypeBoolean, true, false, false},
		{"Text Is Case Sensitive", schema.TypeText, "Pine", "pine", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.equal, valuesEqual(tc.typ, tc.a, tc.b, 1e-9))
		})
	}
}

func TestCanonicalKey(t *testing.T) {
	assert.Equal(t, canonicalKey(schema.TypeFloat, int64(1)), canonicalKey(schema.TypeFloat, 1.0))
	assert.Equal(t, "1.5", canonicalKey(schema.TypeFloat, 1.50))
	assert.NotEqual(t, canonicalKey(schema.TypeText, nil), canonicalKey(schema.TypeText, ""))
	assert.Equal(t,
		canonicalKey(schema.TypeDate, mustTime(t, "2024-01-01T10:00:00Z")),
		canonicalKey(schema.TypeDate, mustTime(t, "2024-01-01T10:00:00Z").Add(time.Millisecond)))
}
