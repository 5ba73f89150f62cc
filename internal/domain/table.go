package domain

// Cell is a single nullable value. Invalid cells are null.
type Cell struct {
	Value string
	Valid bool
}

// Null is the null cell.
var Null = Cell{}

// Str returns a non-null cell holding s.
func Str(s string) Cell {
	return Cell{Value: s, Valid: true}
}

// Row is one record; cells are positional and follow Table.Columns.
type Row []Cell

// Table is a header plus records. Source tables are read with SELECT *, so
// the column set is only known at runtime.
type Table struct {
	Columns []string
	Rows    []Row
}

// NewTable creates an empty table with the given columns.
func NewTable(columns ...string) Table {
	return Table{Columns: append([]string(nil), columns...)}
}

// Index returns the position of col, or -1 when absent.
func (t Table) Index(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Require returns a schema error naming the first column of cols missing from t.
func (t Table) Require(table string, cols ...string) error {
	for _, c := range cols {
		if t.Index(c) < 0 {
			return Schema("%s: missing required column %q (have %v)", table, c, t.Columns)
		}
	}
	return nil
}

// Len returns the number of rows.
func (t Table) Len() int {
	return len(t.Rows)
}

// Append adds a row. Short rows are padded with nulls.
func (t *Table) Append(cells ...Cell) {
	row := make(Row, len(t.Columns))
	copy(row, cells)
	t.Rows = append(t.Rows, row)
}

// Get returns the cell of row i in column col, or Null when the column is absent.
func (t Table) Get(i int, col string) Cell {
	idx := t.Index(col)
	if idx < 0 || idx >= len(t.Rows[i]) {
		return Null
	}
	return t.Rows[i][idx]
}

// Drop returns a copy of t without the named column. Dropping an absent
// column is a no-op.
func (t Table) Drop(col string) Table {
	idx := t.Index(col)
	if idx < 0 {
		return t
	}
	out := Table{
		Columns: make([]string, 0, len(t.Columns)-1),
		Rows:    make([]Row, 0, len(t.Rows)),
	}
	out.Columns = append(out.Columns, t.Columns[:idx]...)
	out.Columns = append(out.Columns, t.Columns[idx+1:]...)
	for _, r := range t.Rows {
		nr := make(Row, 0, len(out.Columns))
		nr = append(nr, r[:idx]...)
		nr = append(nr, r[idx+1:]...)
		out.Rows = append(out.Rows, nr)
	}
	return out
}
