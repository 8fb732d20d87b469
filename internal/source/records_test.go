package source

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arwahdevops/surveysync/internal/geo"
	"github.com/arwahdevops/surveysync/internal/schema"
	"github.com/arwahdevops/surveysync/internal/sync"
)

func TestReadFeatures(t *testing.T) {
	doc := `{
	  "spatialReference": {"wkid": 102100, "latestWkid": 3857},
	  "features": [
	    {"attributes": {"objectid": 1, "species": "PIN", "surveyed": 1700000000000}, "geometry": {"x": 19446000.5, "y": -4411000.25}},
	    {"attributes": {"objectid": 2, "species": null}, "geometry": {"x": 174.7, "y": -36.8, "spatialReference": {"wkid": 4326}}},
	    {"attributes": {"objectid": 3}, "geometry": {}},
	    {"attributes": {"objectid": 4}}
	  ]
	}`
	set, err := ReadFeatures(strings.NewReader(doc), "Plot Survey")
	require.NoError(t, err)
	assert.Equal(t, "Plot Survey", set.Table)
	require.Len(t, set.Rows, 4)

	assert.Equal(t, schema.Row{
		"objectid": 1.0,
		"species":  "PIN",
		"surveyed": 1700000000000.0,
		"geom":     geo.Point{X: 19446000.5, Y: -4411000.25, SRID: 3857},
	}, set.Rows[0])
	assert.Equal(t, geo.Point{X: 174.7, Y: -36.8, SRID: 4326}, set.Rows[1]["geom"])
	assert.Contains(t, set.Rows[2], "geom")
	assert.Nil(t, set.Rows[2]["geom"])
	assert.NotContains(t, set.Rows[3], "geom")

	_, err = ReadFeatures(strings.NewReader(`{"features": 3}`), "x")
	assert.ErrorContains(t, err, "decode feature set")
}

func TestReadCSV(t *testing.T) {
	data := "\ufeffobjectid,site,lon,lat,note\n" +
		"1,North,174.7,-36.8,\n" +
		"2, South,,,\"has, comma\"\n"

	set, err := ReadCSV(strings.NewReader(data), "plot", CSVOptions{XColumn: "lon", YColumn: "lat", SRID: 4326})
	require.NoError(t, err)
	require.Len(t, set.Rows, 2)
	assert.Equal(t, schema.Row{
		"objectid": "1",
		"site":     "North",
		"note":     nil,
		"geom":     geo.Point{X: 174.7, Y: -36.8, SRID: 4326},
	}, set.Rows[0])
	assert.Equal(t, schema.Row{
		"objectid": "2",
		"site":     "South",
		"note":     "has, comma",
		"geom":     nil,
	}, set.Rows[1])
}

func TestReadCSVErrors(t *testing.T) {
	testCases := []struct {
		name     string
		data     string
		opts     CSVOptions
		contains string
	}{
		{"Empty", "", CSVOptions{}, "no header row"},
		{"Missing Coordinate Columns", "a,b\n1,2\n", CSVOptions{XColumn: "x", YColumn: "y"}, "lacks coordinate columns"},
		{"Bad Coordinate", "x,y\n1,north\n", CSVOptions{XColumn: "x", YColumn: "y"}, "csv line 2: invalid y coordinate"},
		{"Ragged Row", "a,b\n1\n", CSVOptions{}, "read csv"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tc.data), "t", tc.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.contains)
		})
	}
}

func TestFilter(t *testing.T) {
	set := sync.RecordSet{Table: "plot", Rows: []schema.Row{
		{"status": "complete", "visit_no": 2.0},
		{"status": "draft", "visit_no": 3.0},
		{"status": "complete", "visit_no": 1.0},
		{"status": "complete"},
	}}

	f, err := NewFilter(`status == "complete" && visit_no != nil && visit_no > 1`)
	require.NoError(t, err)
	filtered, dropped, err := f.Apply(set)
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)
	assert.Equal(t, []schema.Row{{"status": "complete", "visit_no": 2.0}}, filtered.Rows)
	assert.Len(t, set.Rows, 4, "the input set is not modified")

	t.Run("Empty Expression Keeps Everything", func(t *testing.T) {
		f, err := NewFilter("")
		require.NoError(t, err)
		assert.Nil(t, f)
		out, dropped, err := f.Apply(set)
		require.NoError(t, err)
		assert.Zero(t, dropped)
		assert.Len(t, out.Rows, 4)
	})

	t.Run("Compile Error", func(t *testing.T) {
		_, err := NewFilter(`status ==`)
		assert.ErrorContains(t, err, "compile record filter")
	})

	t.Run("Non Boolean Expression", func(t *testing.T) {
		_, err := NewFilter(`"complete"`)
		assert.Error(t, err)
	})

	t.Run("Columns Named Like Functions", func(t *testing.T) {
		tally := sync.RecordSet{Table: "tally", Rows: []schema.Row{
			{"count": 2.0, "len": "x", "max": 5.0},
			{"count": 0.0, "len": "y", "max": nil},
		}}
		testCases := []struct {
			name       string
			expression string
			want       []schema.Row
		}{
			{"Count", `count > 1`, tally.Rows[:1]},
			{"Len", `len == "y"`, tally.Rows[1:]},
			{"Max", `max == nil`, tally.Rows[1:]},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				f, err := NewFilter(tc.expression)
				require.NoError(t, err)
				out, dropped, err := f.Apply(tally)
				require.NoError(t, err)
				assert.Equal(t, 1, dropped)
				assert.Equal(t, tc.want, out.Rows)
			})
		}
	})
}
