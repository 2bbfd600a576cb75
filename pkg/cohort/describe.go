package cohort

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/malbeclabs/rwe/pkg/analysis"
	"github.com/malbeclabs/rwe/pkg/tablestore"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// NumericValues coerces a column to float64, dropping empty, non-numeric
// and non-finite cells.
func NumericValues(t *tablestore.Table, column string) ([]float64, bool) {
	if !t.HasColumn(column) {
		return nil, false
	}
	var out []float64
	for _, cell := range t.Column(column) {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		out = append(out, f)
	}
	return out, true
}

// DescribeFeature computes descriptive statistics for a numeric column.
func DescribeFeature(t *tablestore.Table, feature string) (*analysis.Metrics, error) {
	values, ok := NumericValues(t, feature)
	if !ok {
		return nil, fmt.Errorf("%w: column not found: %s", ErrFeatureNotComputable, feature)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no numeric values available for feature: %s", ErrFeatureNotComputable, feature)
	}
	return Describe(values), nil
}

// Describe computes count, mean, sample std, min, max, median and the
// 25th/75th percentiles of values. values must be non-empty.
func Describe(values []float64) *analysis.Metrics {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	m := &analysis.Metrics{
		Count:  len(sorted),
		Mean:   stat.Mean(sorted, nil),
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
		Median: quantile(sorted, 0.5),
		IQR:    [2]float64{quantile(sorted, 0.25), quantile(sorted, 0.75)},
	}
	if len(sorted) >= 2 {
		sd := stat.StdDev(sorted, nil)
		m.Std = &sd
	}
	return m
}

// quantile returns the p-quantile of sorted data using linear interpolation
// between closest ranks: h = (n-1)p.
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * p
	lo := math.Floor(h)
	i := int(lo)
	if i >= n-1 {
		return sorted[n-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}
