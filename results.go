package secops

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
)

// shapeEvents flattens a resolved events payload into an EventResult.
func shapeEvents(payload any) (*EventResult, error) {
	raw, ok := payload.([]any)
	if !ok {
		return nil, shapingError("events payload is %T, want array", payload)
	}

	events := make([]Event, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, shapingError("event %d is %T, want object", i, item)
		}
		events = append(events, Event(m))
	}

	return &EventResult{
		Events:      events,
		TotalEvents: len(events),
	}, nil
}

// statsColumn is one column of a columnar stats response.
type statsColumn struct {
	name   string
	values []any
}

// shapeStats zips a columnar stats payload into rows. Every column must
// carry the same number of values.
func shapeStats(payload any) (*StatsResult, error) {
	stats, ok := payload.(map[string]any)
	if !ok {
		return nil, shapingError("stats payload is %T, want object", payload)
	}

	result := &StatsResult{
		Columns: []string{},
		Rows:    []map[string]any{},
	}

	rawResults, present := stats["results"]
	if !present || rawResults == nil {
		return result, nil
	}
	rawColumns, ok := rawResults.([]any)
	if !ok {
		return nil, shapingError("stats results is %T, want array", rawResults)
	}

	columns := make([]statsColumn, 0, len(rawColumns))
	for i, rc := range rawColumns {
		col, ok := rc.(map[string]any)
		if !ok {
			return nil, shapingError("column %d is %T, want object", i, rc)
		}
		name, _ := col["column"].(string)
		if name == "" {
			return nil, shapingError("column %d has no name", i)
		}
		var values []any
		if rv, present := col["values"]; present && rv != nil {
			if values, ok = rv.([]any); !ok {
				return nil, shapingError("column %q values is %T, want array", name, rv)
			}
		}
		columns = append(columns, statsColumn{name: name, values: values})
		result.Columns = append(result.Columns, name)
	}

	if len(columns) == 0 {
		return result, nil
	}

	numRows := len(columns[0].values)
	for _, col := range columns[1:] {
		if len(col.values) != numRows {
			return nil, shapingError("column %q has %d values, column %q has %d",
				col.name, len(col.values), columns[0].name, numRows)
		}
	}

	for i := range numRows {
		row := make(map[string]any, len(columns))
		for _, col := range columns {
			v, err := statsValue(col.values[i])
			if err != nil {
				return nil, shapingError("column %q row %d: %v", col.name, i, err)
			}
			row[col.name] = v
		}
		result.Rows = append(result.Rows, row)
	}
	result.TotalRows = len(result.Rows)

	return result, nil
}

// statsValue converts a typed stats cell into a Go scalar. The typed value
// is either the entry itself or nested under "value". Unknown type tags
// yield nil.
func statsValue(entry any) (any, error) {
	cell, ok := entry.(map[string]any)
	if !ok {
		return nil, nil
	}
	if inner, ok := cell["value"].(map[string]any); ok {
		cell = inner
	}

	if s, ok := cell["stringVal"]; ok {
		str, isString := s.(string)
		if !isString {
			return nil, fmt.Errorf("stringVal is %T", s)
		}
		return str, nil
	}
	if v, ok := cell["int64Val"]; ok {
		return toInt64(v)
	}
	return nil, nil
}

// maxExactFloat is the largest magnitude below which every integer has an
// exact float64 representation.
const maxExactFloat = 1 << 53

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid int64Val %q", n)
		}
		return i, nil
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > maxExactFloat {
			return 0, fmt.Errorf("invalid int64Val %v", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case json.Number:
		i, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid int64Val %s", n)
		}
		return i, nil
	case *big.Int:
		if !n.IsInt64() {
			return 0, fmt.Errorf("int64Val %s out of range", n)
		}
		return n.Int64(), nil
	default:
		return 0, fmt.Errorf("int64Val is %T", v)
	}
}

func shapingError(format string, args ...any) *SearchError {
	return &SearchError{
		Kind:    KindResultShaping,
		Message: "error processing results: " + fmt.Sprintf(format, args...),
	}
}
