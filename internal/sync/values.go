package sync

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/arwahdevops/surveysync/internal/geo"
	"github.com/arwahdevops/surveysync/internal/schema"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerceValue converts v to the Go type used for the logical type:
// int64, float64, string, time.Time (UTC), bool or geo.Point. nil stays nil.
func coerceValue(t schema.LogicalType, v any) (any, error) {
	// gorm scans columns of undeclared affinity into *any.
	for {
		ptr, ok := v.(*any)
		if !ok {
			break
		}
		if ptr == nil {
			return nil, nil
		}
		v = *ptr
	}
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if s, ok := v.(string); ok && t != schema.TypeText && strings.TrimSpace(s) == "" {
		return nil, nil
	}

	switch t {
	case schema.TypeInteger:
		return toInt64(v)
	case schema.TypeFloat:
		return toFloat64(v)
	case schema.TypeText:
		switch x := v.(type) {
		case string:
			return x, nil
		case time.Time:
			return x.UTC().Format(time.RFC3339), nil
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		default:
			return fmt.Sprint(x), nil
		}
	case schema.TypeDate:
		return toTime(v)
	case schema.TypeBoolean:
		return toBool(v)
	case schema.TypeGeometry:
		switch x := v.(type) {
		case geo.Point:
			return x, nil
		case *geo.Point:
			if x == nil {
				return nil, nil
			}
			return *x, nil
		case string:
			return geo.ParseEWKT(x)
		default:
			return nil, fmt.Errorf("cannot use %T as a point", v)
		}
	default:
		return v, nil
	}
}

func toInt64(v any) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", x)
		}
		return int64(x), nil
	case float32:
		return floatToInt(float64(x))
	case float64:
		return floatToInt(x)
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", x)
		}
		return floatToInt(f)
	default:
		return nil, fmt.Errorf("cannot use %T as an integer", v)
	}
}

func floatToInt(f float64) (any, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, fmt.Errorf("value %v is not a whole number", f)
	}
	return int64(f), nil
}

func toFloat64(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		// Through the decimal form so 0.1 stays 0.1.
		return strconv.ParseFloat(strconv.FormatFloat(float64(x), 'g', -1, 32), 64)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", x)
		}
		return f, nil
	case bool:
		if x {
			return 1.0, nil
		}
		return 0.0, nil
	default:
		n, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("cannot use %T as a number", v)
		}
		return float64(n.(int64)), nil
	}
}

func toTime(v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return x.UTC(), nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return nil, fmt.Errorf("invalid date %q", x)
	case int64:
		return time.UnixMilli(x).UTC(), nil
	case float64:
		return time.UnixMilli(int64(x)).UTC(), nil
	default:
		return nil, fmt.Errorf("cannot use %T as a date", v)
	}
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "t", "true", "y", "yes":
			return true, nil
		case "0", "f", "false", "n", "no":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", x)
	default:
		n, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("cannot use %T as a boolean", v)
		}
		return n.(int64) != 0, nil
	}
}

// coerceRow coerces every column of row that the table declares. Columns
// the table does not declare are dropped and returned by name.
func coerceRow(t *schema.TableSpec, row schema.Row) (schema.Row, []string, error) {
	out := make(schema.Row, len(row))
	var dropped []string
	for k, v := range row {
		col, ok := t.Column(k)
		if !ok {
			dropped = append(dropped, k)
			continue
		}
		cv, err := coerceValue(col.StorageType(), v)
		if err != nil {
			return nil, dropped, fmt.Errorf("column %s: %w", k, err)
		}
		out[k] = cv
	}
	return out, dropped, nil
}

// valuesEqual compares two coerced values of one column. Numbers compare as
// exact decimals, dates at second precision and points within tolerance.
func valuesEqual(t schema.LogicalType, a, b any, tolerance float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch t {
	case schema.TypeInteger, schema.TypeFloat:
		da, okA := toDecimal(a)
		db, okB := toDecimal(b)
		if !okA || !okB {
			return false
		}
		return da.Cmp(db) == 0
	case schema.TypeDate:
		ta, okA := a.(time.Time)
		tb, okB := b.(time.Time)
		return okA && okB && ta.Truncate(time.Second).Equal(tb.Truncate(time.Second))
	case schema.TypeGeometry:
		pa, okA := a.(geo.Point)
		pb, okB := b.(geo.Point)
		return okA && okB && geo.Equal(pa, pb, tolerance)
	default:
		return a == b
	}
}

func toDecimal(v any) (*apd.Decimal, bool) {
	switch x := v.(type) {
	case int64:
		return apd.New(x, 0), true
	case float64:
		d, err := new(apd.Decimal).SetFloat64(x)
		if err != nil {
			return nil, false
		}
		return d, true
	default:
		return nil, false
	}
}

// canonicalKey renders a coerced value so equal values produce equal keys.
func canonicalKey(t schema.LogicalType, v any) string {
	if v == nil {
		return "\x00"
	}
	switch t {
	case schema.TypeInteger, schema.TypeFloat:
		if d, ok := toDecimal(v); ok {
			var reduced apd.Decimal
			reduced.Reduce(d)
			return reduced.Text('f')
		}
	case schema.TypeDate:
		if ts, ok := v.(time.Time); ok {
			return ts.Truncate(time.Second).Format(time.RFC3339)
		}
	case schema.TypeBoolean:
		if b, ok := v.(bool); ok {
			return strconv.FormatBool(b)
		}
	}
	return fmt.Sprint(v)
}
