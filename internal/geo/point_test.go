package geo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEWKT(t *testing.T) {
	testCases := []struct {
		name      string
		input     string
		expected  Point
		expectErr bool
	}{
		{"EWKT", "SRID=4326;POINT(-110.95 32.23)", Point{X: -110.95, Y: 32.23, SRID: 4326}, false},
		{"Plain WKT", "POINT(1 2)", Point{X: 1, Y: 2}, false},
		{"Lowercase With Spaces", " srid=3857; point ( 10.5  20 ) ", Point{X: 10.5, Y: 20, SRID: 3857}, false},
		{"Linestring Rejected", "LINESTRING(0 0, 1 1)", Point{}, true},
		{"Bad SRID", "SRID=x;POINT(1 2)", Point{}, true},
		{"Three Coordinates", "POINT(1 2 3)", Point{}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParseEWKT(tc.input)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, p)
		})
	}
}

func TestPointRoundTripText(t *testing.T) {
	p := Point{X: -110.9512, Y: 32.2319, SRID: 4326}
	assert.Equal(t, "SRID=4326;POINT(-110.9512 32.2319)", p.EWKT())
	back, err := ParseEWKT(p.EWKT())
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestEqual(t *testing.T) {
	a := Point{X: -110.9512345, Y: 32.2319876, SRID: 4326}

	assert.True(t, Equal(a, a, 0))
	assert.True(t, Equal(a, Point{X: -110.9512345000004, Y: 32.2319876000002, SRID: 4326}, 1e-9))
	assert.False(t, Equal(a, Point{X: -110.95124, Y: 32.2319876, SRID: 4326}, 1e-9))
	assert.False(t, Equal(a, Point{X: a.X, Y: a.Y, SRID: 3857}, 1))
	assert.True(t, Equal(Point{X: 1e7, Y: 5e6, SRID: 3857}, Point{X: 1e7 + 0.0004, Y: 5e6, SRID: 3857}, 0.001))
}

func TestIdentityReprojector(t *testing.T) {
	ctx := context.Background()
	var r Identity

	p, err := r.Reproject(ctx, Point{X: 1, Y: 2}, 4326)
	require.NoError(t, err)
	assert.Equal(t, 4326, p.SRID)

	p, err = r.Reproject(ctx, Point{X: 1, Y: 2, SRID: 4326}, 4326)
	require.NoError(t, err)
	assert.Equal(t, Point{X: 1, Y: 2, SRID: 4326}, p)

	_, err = r.Reproject(ctx, Point{X: 1, Y: 2, SRID: 3857}, 4326)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoTransform))
}

func TestTransformQuery(t *testing.T) {
	p := Point{X: 174.7633, Y: -36.8485, SRID: 4326}
	testCases := []struct {
		name      string
		dialect   string
		contains  []string
		wantArgs  []any
		wantError bool
	}{
		{"PostgreSQL", "postgres", []string{"ST_MakePoint(?, ?)", "ST_X(g)"}, []any{174.7633, -36.8485, 4326, 3857}, false},
		{"MySQL Reads Longitude First", "mysql", []string{"ST_GeomFromText(?, ?, 'axis-order=long-lat')", "ST_X(ST_SRID(g, 0))", "ST_Y(ST_SRID(g, 0))"}, []any{"POINT(174.7633 -36.8485)", 4326, 3857}, false},
		{"SQLite", "sqlite", nil, nil, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			query, args, err := transformQuery(tc.dialect, p, 3857)
			if tc.wantError {
				assert.ErrorIs(t, err, ErrNoTransform)
				return
			}
			require.NoError(t, err)
			for _, s := range tc.contains {
				assert.Contains(t, query, s)
			}
			assert.Equal(t, tc.wantArgs, args)
		})
	}
}
