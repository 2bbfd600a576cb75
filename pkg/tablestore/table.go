package tablestore

// Table is an immutable, fully materialized tabular file. Every cell is kept
// as its string form; missing values are empty strings.
type Table struct {
	Name     string
	Path     string
	IDColumn string
	Columns  []string
	Rows     [][]string

	index map[string]int
}

// NewTable builds a table from columns and rows. Rows shorter than the
// header are padded with empty cells.
func NewTable(name, path, idColumn string, columns []string, rows [][]string) *Table {
	t := &Table{
		Name:     name,
		Path:     path,
		IDColumn: idColumn,
		Columns:  columns,
		Rows:     rows,
		index:    make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if _, dup := t.index[c]; !dup {
			t.index[c] = i
		}
	}
	for i, r := range t.Rows {
		if len(r) < len(columns) {
			padded := make([]string, len(columns))
			copy(padded, r)
			t.Rows[i] = padded
		}
	}
	return t
}

// ColumnIndex returns the position of column, or -1.
func (t *Table) ColumnIndex(column string) int {
	if i, ok := t.index[column]; ok {
		return i
	}
	return -1
}

func (t *Table) HasColumn(column string) bool {
	return t.ColumnIndex(column) >= 0
}

func (t *Table) Len() int {
	return len(t.Rows)
}

// Column returns every value of column, or nil if the column is absent.
func (t *Table) Column(column string) []string {
	i := t.ColumnIndex(column)
	if i < 0 {
		return nil
	}
	out := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out
}

// WithRows returns a table sharing this table's schema with a new row set.
// The receiver is not modified.
func (t *Table) WithRows(rows [][]string) *Table {
	return &Table{
		Name:     t.Name,
		Path:     t.Path,
		IDColumn: t.IDColumn,
		Columns:  t.Columns,
		Rows:     rows,
		index:    t.index,
	}
}
