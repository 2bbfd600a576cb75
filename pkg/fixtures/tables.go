package fixtures

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/malbeclabs/rwe/pkg/tablestore"
)

// PatientsTable parses the rendered patients fixture into an in-memory
// table registered as "patients", bypassing the table store.
func PatientsTable(c Cohort) (*tablestore.Table, error) {
	content, err := PatientsTSV(c)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	columns := strings.Split(lines[0], "\t")
	rows := make([][]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		rows = append(rows, strings.Split(line, "\t"))
	}
	return tablestore.NewTable("patients", "patients.tsv", "Patient ID", columns, rows), nil
}

// StaticSource serves fixed tables by logical name. It satisfies the
// cohort engine's table source.
type StaticSource struct {
	tables map[string]*tablestore.Table
}

func NewStaticSource(tables ...*tablestore.Table) *StaticSource {
	s := &StaticSource{tables: make(map[string]*tablestore.Table, len(tables))}
	for _, t := range tables {
		s.tables[t.Name] = t
	}
	return s
}

func (s *StaticSource) Load(_ context.Context, name string) (*tablestore.Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tablestore.ErrUnknownTable, name)
	}
	return t, nil
}

func (s *StaticSource) Lookup(name string) (tablestore.TableConfig, bool) {
	t, ok := s.tables[name]
	if !ok {
		return tablestore.TableConfig{}, false
	}
	return tablestore.TableConfig{Name: t.Name, Path: t.Path, IDColumn: t.IDColumn}, true
}

// Tables lists the registered tables.
func (s *StaticSource) Tables() []tablestore.TableConfig {
	out := make([]tablestore.TableConfig, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, tablestore.TableConfig{Name: t.Name, Path: t.Path, IDColumn: t.IDColumn})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
