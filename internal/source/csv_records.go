package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/arwahdevops/surveysync/internal/geo"
	"github.com/arwahdevops/surveysync/internal/schema"
	"github.com/arwahdevops/surveysync/internal/sync"
)

// CSVOptions name the coordinate columns that form the point. Both empty
// means the file carries no geometry.
type CSVOptions struct {
	XColumn string
	YColumn string
	SRID    int
}

// ReadCSV reads a header row followed by records for table. Empty cells are
// NULL.
func ReadCSV(r io.Reader, table string, opts CSVOptions) (sync.RecordSet, error) {
	set := sync.RecordSet{Table: table}
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return set, fmt.Errorf("csv has no header row")
		}
		return set, fmt.Errorf("read csv header: %w", err)
	}
	xIdx, yIdx := -1, -1
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		switch {
		case opts.XColumn != "" && header[i] == opts.XColumn:
			xIdx = i
		case opts.YColumn != "" && header[i] == opts.YColumn:
			yIdx = i
		}
	}
	if opts.XColumn != "" && (xIdx < 0 || yIdx < 0) {
		return set, fmt.Errorf("csv header lacks coordinate columns %s and %s", opts.XColumn, opts.YColumn)
	}

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return set, fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		row := make(schema.Row, len(header))
		for i, v := range record {
			if i == xIdx || i == yIdx {
				continue
			}
			if v == "" {
				row[header[i]] = nil
			} else {
				row[header[i]] = v
			}
		}
		if xIdx >= 0 {
			p, ok, err := csvPoint(record[xIdx], record[yIdx], opts.SRID)
			if err != nil {
				return set, fmt.Errorf("csv line %d: %w", line, err)
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

func csvPoint(xs, ys string, srid int) (geo.Point, bool, error) {
	xs, ys = strings.TrimSpace(xs), strings.TrimSpace(ys)
	if xs == "" && ys == "" {
		return geo.Point{}, false, nil
	}
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil {
		return geo.Point{}, false, fmt.Errorf("invalid x coordinate %q", xs)
	}
	y, err := strconv.ParseFloat(ys, 64)
	if err != nil {
		return geo.Point{}, false, fmt.Errorf("invalid y coordinate %q", ys)
	}
	return geo.Point{X: x, Y: y, SRID: srid}, true, nil
}
