package cohort_test

import (
	"context"
	"fmt"

	"github.com/malbeclabs/rwe/pkg/tablestore"
)

var patientColumns = []string{"Patient ID", "Cancer Type", "Stage", "TMB (nonsynonymous)", "Age", "Sex"}

// patientsTable mirrors the fixed rows of the fixtures package.
func patientsTable() *tablestore.Table {
	return tablestore.NewTable("patients", "/data/patients.tsv", "Patient ID", patientColumns, [][]string{
		{"P-0001", "NSCLC", "Stage 4", "4.0", "61", "Female"},
		{"P-0002", "NSCLC", "Stage 4", "10.0", "55", "Male"},
		{"P-0003", "NSCLC", "Stage 4", "", "70", "Male"},
		{"P-0004", "NSCLC", "Stage 2", "3.0", "48", "Female"},
		{"P-0005", "Breast Cancer", "Stage 4", "1.0", "66", "Female"},
		{"P-0006", "nsclc adenocarcinoma", "Stage 4", "7.0", "59", "Male"},
		{"P-0002", "NSCLC", "Stage 4", "NA", "55", "Male"},
		{"P-0007", "Colorectal Cancer", "Stage 3", "12.5", "72", "Male"},
	})
}

type fakeSource struct {
	tables map[string]*tablestore.Table
	loads  map[string]int
}

func newFakeSource(tables ...*tablestore.Table) *fakeSource {
	s := &fakeSource{tables: map[string]*tablestore.Table{}, loads: map[string]int{}}
	for _, t := range tables {
		s.tables[t.Name] = t
	}
	return s
}

func (s *fakeSource) Load(_ context.Context, name string) (*tablestore.Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tablestore.ErrUnknownTable, name)
	}
	s.loads[name]++
	return t, nil
}

func (s *fakeSource) Lookup(name string) (tablestore.TableConfig, bool) {
	t, ok := s.tables[name]
	if !ok {
		return tablestore.TableConfig{}, false
	}
	return tablestore.TableConfig{Name: t.Name, Path: t.Path, IDColumn: t.IDColumn}, true
}

func ptr[T any](v T) *T {
	return &v
}
