package source

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/arwahdevops/surveysync/internal/geo"
	"github.com/arwahdevops/surveysync/internal/schema"
	"github.com/arwahdevops/surveysync/internal/sync"
)

type esriFeatureSet struct {
	SpatialReference *esriSpatialReference `json:"spatialReference"`
	Features         []esriFeature         `json:"features"`
}

type esriSpatialReference struct {
	WKID       int `json:"wkid"`
	LatestWKID int `json:"latestWkid"`
}

func (s *esriSpatialReference) srid() int {
	if s == nil {
		return 0
	}
	if s.LatestWKID > 0 {
		return s.LatestWKID
	}
	return s.WKID
}

type esriFeature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   *esriPoint     `json:"geometry"`
}

type esriPoint struct {
	X                *float64              `json:"x"`
	Y                *float64              `json:"y"`
	SpatialReference *esriSpatialReference `json:"spatialReference"`
}

// ReadFeatures parses a feature set export into records for table, the
// external table name. Point geometry lands in GeometryColumn; a point
// without a spatial reference is left for the run's source SRID. Dates stay
// epoch milliseconds and are converted with the rest of the row.
func ReadFeatures(r io.Reader, table string) (sync.RecordSet, error) {
	set := sync.RecordSet{Table: table}
	var fs esriFeatureSet
	if err := json.NewDecoder(r).Decode(&fs); err != nil {
		return set, fmt.Errorf("decode feature set: %w", err)
	}
	srid := fs.SpatialReference.srid()

	set.Rows = make([]schema.Row, 0, len(fs.Features))
	for i, f := range fs.Features {
		row := make(schema.Row, len(f.Attributes)+1)
		for k, v := range f.Attributes {
			row[k] = v
		}
		if g := f.Geometry; g != nil {
			p, ok, err := g.point(srid)
			if err != nil {
				return set, fmt.Errorf("feature %d: %w", i, err)
			}
			if ok {
				row[GeometryColumn] = p
			} else {
				row[GeometryColumn] = nil
			}
		}
		set.Rows = append(set.Rows, row)
	}
	return set, nil
}

// point returns ok false for an empty geometry.
func (g *esriPoint) point(defaultSRID int) (geo.Point, bool, error) {
	if g.X == nil || g.Y == nil {
		return geo.Point{}, false, nil
	}
	if math.IsNaN(*g.X) || math.IsNaN(*g.Y) || math.IsInf(*g.X, 0) || math.IsInf(*g.Y, 0) {
		return geo.Point{}, false, fmt.Errorf("geometry has non-finite coordinates")
	}
	srid := g.SpatialReference.srid()
	if srid == 0 {
		srid = defaultSRID
	}
	return geo.Point{X: *g.X, Y: *g.Y, SRID: srid}, true, nil
}
