package cohort

import (
	"sort"
	"strings"

	"github.com/malbeclabs/rwe/pkg/analysis"
	"github.com/malbeclabs/rwe/pkg/tablestore"
)

const sampleIDLimit = 5

// PatientIDColumn returns the first column whose name contains "Patient ID"
// or equals "patient_id" ignoring case.
func PatientIDColumn(columns []string) (string, bool) {
	for _, c := range columns {
		if strings.Contains(c, "Patient ID") || strings.EqualFold(c, "patient_id") {
			return c, true
		}
	}
	return "", false
}

// Summarize describes a cohort. PatientCount is nil when the table has no
// patient identifier column.
func Summarize(t *tablestore.Table, filter FilterSpec) *analysis.CohortSummary {
	s := &analysis.CohortSummary{
		TableUsed:     t.Name,
		FilterApplied: filter,
		RowCount:      t.Len(),
		SampleIDs:     []string{},
	}

	col, ok := PatientIDColumn(t.Columns)
	if !ok {
		return s
	}
	s.PatientIDColumn = col

	distinct := make(map[string]struct{})
	for _, id := range t.Column(col) {
		if id == "" {
			continue
		}
		distinct[id] = struct{}{}
		if len(s.SampleIDs) < sampleIDLimit {
			s.SampleIDs = append(s.SampleIDs, id)
		}
	}
	n := len(distinct)
	s.PatientCount = &n
	return s
}

// ValueCount is one distinct value and how many rows hold it.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// ValueCounts counts distinct values of column in descending count order,
// ties broken by value. Empty cells are skipped. A limit of zero or less
// returns every value.
func ValueCounts(t *tablestore.Table, column string, limit int) ([]ValueCount, bool) {
	if !t.HasColumn(column) {
		return nil, false
	}
	counts := make(map[string]int)
	for _, v := range t.Column(column) {
		if v == "" {
			continue
		}
		counts[v]++
	}
	out := make([]ValueCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, ValueCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, true
}
