package extract

import (
	"sort"
	"strconv"

	"github.com/wearlab/polar-pipeline/table"
)

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asNumber(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// cellString renders a JSON scalar as a table cell. Nested values and nulls
// report ok=false.
func cellString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, x != ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return "", false
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// sortedKeys returns map keys in a stable order so flattened column
// introduction is deterministic.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// setScalar stores a scalar JSON value on the row, skipping nested values.
func setScalar(row table.Row, col string, v any) {
	if s, ok := cellString(v); ok {
		row[col] = s
	}
}

// flattenInto copies the scalars of a nested object onto the row as
// "prefix_subkey" columns, one level deep.
func flattenInto(row table.Row, prefix string, m map[string]any) {
	for _, k := range sortedKeys(m) {
		setScalar(row, prefix+"_"+k, m[k])
	}
}
