// Package geo holds the point type shared by the schema and record engines
// and the reprojection boundary.
package geo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// Point is a 2-D coordinate pair in the coordinate system SRID (an EPSG code).
// SRID 0 means unknown.
type Point struct {
	X    float64
	Y    float64
	SRID int
}

// WKT renders the point as well-known text without the SRID.
func (p Point) WKT() string {
	return "POINT(" + formatCoord(p.X) + " " + formatCoord(p.Y) + ")"
}

// EWKT renders the point with an SRID prefix, the form used to store points
// in engines without spatial types.
func (p Point) EWKT() string {
	return fmt.Sprintf("SRID=%d;%s", p.SRID, p.WKT())
}

func (p Point) String() string { return p.EWKT() }

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ParseEWKT parses "SRID=n;POINT(x y)" or plain "POINT(x y)".
func ParseEWKT(s string) (Point, error) {
	var p Point
	s = strings.TrimSpace(s)
	if head, rest, ok := strings.Cut(s, ";"); ok {
		if !strings.HasPrefix(strings.ToUpper(head), "SRID=") {
			return p, fmt.Errorf("invalid EWKT prefix %q", head)
		}
		srid, err := strconv.Atoi(head[len("SRID="):])
		if err != nil {
			return p, fmt.Errorf("invalid SRID in %q: %w", s, err)
		}
		p.SRID = srid
		s = strings.TrimSpace(rest)
	}
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "POINT") {
		return p, fmt.Errorf("unsupported geometry %q: only points are supported", s)
	}
	body := strings.TrimSpace(s[len("POINT"):])
	if !strings.HasPrefix(body, "(") || !strings.HasSuffix(body, ")") {
		return p, fmt.Errorf("malformed point %q", s)
	}
	coords := strings.Fields(body[1 : len(body)-1])
	if len(coords) != 2 {
		return p, fmt.Errorf("malformed point %q: expected two coordinates", s)
	}
	var err error
	if p.X, err = strconv.ParseFloat(coords[0], 64); err != nil {
		return p, fmt.Errorf("invalid x in %q: %w", s, err)
	}
	if p.Y, err = strconv.ParseFloat(coords[1], 64); err != nil {
		return p, fmt.Errorf("invalid y in %q: %w", s, err)
	}
	return p, nil
}

var decimalCtx = apd.BaseContext.WithPrecision(34)

// Equal reports whether both points share an SRID and each coordinate differs
// by at most tolerance. The difference is computed in decimal so a tolerance
// of 1e-9 behaves the same for large projected coordinates.
func Equal(a, b Point, tolerance float64) bool {
	if a.SRID != b.SRID {
		return false
	}
	return within(a.X, b.X, tolerance) && within(a.Y, b.Y, tolerance)
}

func within(a, b, tolerance float64) bool {
	if a == b {
		return true
	}
	da, errA := new(apd.Decimal).SetFloat64(a)
	db, errB := new(apd.Decimal).SetFloat64(b)
	tol, errT := new(apd.Decimal).SetFloat64(tolerance)
	if errA != nil || errB != nil || errT != nil {
		return false
	}
	var diff apd.Decimal
	if _, err := decimalCtx.Sub(&diff, da, db); err != nil {
		return false
	}
	diff.Abs(&diff)
	return diff.Cmp(tol) <= 0
}
