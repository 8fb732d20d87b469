package geo

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNoTransform is returned when a point must change coordinate system but
// the reprojector cannot do it.
var ErrNoTransform = errors.New("no coordinate transform available")

// Reprojector converts a point into another coordinate system.
type Reprojector interface {
	Reproject(ctx context.Context, p Point, toSRID int) (Point, error)
}

// Identity only accepts points already in the target system. A point with an
// unknown SRID is assumed to be in the target system.
type Identity struct{}

func (Identity) Reproject(_ context.Context, p Point, toSRID int) (Point, error) {
	if p.SRID == 0 || p.SRID == toSRID {
		p.SRID = toSRID
		return p, nil
	}
	return p, fmt.Errorf("reproject EPSG:%d to EPSG:%d: %w", p.SRID, toSRID, ErrNoTransform)
}

// SQLReprojector delegates the projection math to the database's
// ST_Transform.
type SQLReprojector struct {
	db      *gorm.DB
	dialect string
	logger  *zap.Logger
}

func NewSQLReprojector(db *gorm.DB, dialect string, logger *zap.Logger) *SQLReprojector {
	return &SQLReprojector{db: db, dialect: dialect, logger: logger.Named("reprojector")}
}

func (r *SQLReprojector) Reproject(ctx context.Context, p Point, toSRID int) (Point, error) {
	if p.SRID == 0 || p.SRID == toSRID {
		p.SRID = toSRID
		return p, nil
	}

	query, args, err := transformQuery(r.dialect, p, toSRID)
	if err != nil {
		return p, err
	}

	var out struct {
		X float64 `gorm:"column:x"`
		Y float64 `gorm:"column:y"`
	}
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&out).Error; err != nil {
		return p, fmt.Errorf("reproject EPSG:%d to EPSG:%d: %w", p.SRID, toSRID, err)
	}
	r.logger.Debug("Reprojected point",
		zap.String("from", p.EWKT()),
		zap.Float64("x", out.X), zap.Float64("y", out.Y), zap.Int("srid", toSRID))
	return Point{X: out.X, Y: out.Y, SRID: toSRID}, nil
}

// transformQuery returns the statement that transforms p into toSRID. MySQL
// reads WKT in long-lat order and its output is read through SRID 0 so
// geographic axis order never swaps the coordinates.
func transformQuery(dialect string, p Point, toSRID int) (string, []any, error) {
	switch dialect {
	case "postgres":
		return `SELECT ST_X(g) AS x, ST_Y(g) AS y FROM (SELECT ST_Transform(ST_SetSRID(ST_MakePoint(?, ?), ?), ?) AS g) AS t`,
			[]any{p.X, p.Y, p.SRID, toSRID}, nil
	case "mysql":
		return `SELECT ST_X(ST_SRID(g, 0)) AS x, ST_Y(ST_SRID(g, 0)) AS y FROM (SELECT ST_Transform(ST_GeomFromText(?, ?, 'axis-order=long-lat'), ?) AS g) AS t`,
			[]any{p.WKT(), p.SRID, toSRID}, nil
	default:
		return "", nil, fmt.Errorf("reproject EPSG:%d to EPSG:%d on %s: %w", p.SRID, toSRID, dialect, ErrNoTransform)
	}
}
