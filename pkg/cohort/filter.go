// Package cohort applies declarative filters to patient tables, computes
// descriptive statistics, and executes plan steps against a cohort.
package cohort

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/malbeclabs/rwe/pkg/tablestore"
)

// FilterSpec maps a column to either a list of accepted values or a scalar
// matched as a case-insensitive substring. Keys are ANDed.
type FilterSpec map[string]any

// ApplyFilter returns the rows of t that match spec. A column missing from
// t matches nothing, so the result is empty rather than an error.
func ApplyFilter(t *tablestore.Table, spec FilterSpec) *tablestore.Table {
	if len(spec) == 0 {
		return t
	}

	type predicate struct {
		col    int
		set    map[string]struct{}
		needle string
	}
	preds := make([]predicate, 0, len(spec))
	for col, val := range spec {
		idx := t.ColumnIndex(col)
		if idx < 0 {
			return t.WithRows([][]string{})
		}
		p := predicate{col: idx}
		if list, ok := asList(val); ok {
			p.set = make(map[string]struct{}, len(list))
			for _, v := range list {
				p.set[ValueString(v)] = struct{}{}
			}
		} else {
			p.needle = strings.ToLower(ValueString(val))
		}
		preds = append(preds, p)
	}

	rows := make([][]string, 0)
	for _, row := range t.Rows {
		keep := true
		for _, p := range preds {
			cell := row[p.col]
			if p.set != nil {
				if _, ok := p.set[cell]; !ok {
					keep = false
				}
			} else if !strings.Contains(strings.ToLower(cell), p.needle) {
				keep = false
			}
			if !keep {
				break
			}
		}
		if keep {
			rows = append(rows, row)
		}
	}
	return t.WithRows(rows)
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// ValueString renders a decoded JSON value the way it is compared against
// table cells. Null renders as "None" so a null filter narrows the cohort
// instead of matching every cell.
func ValueString(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
