package domain

const (
	leftSuffix  = "_x"
	rightSuffix = "_y"
)

// LeftJoin joins right onto left where left[leftKey] == right[rightKey].
//
// Every left row appears exactly once in the output. Unmatched rows, and rows
// whose key is null, get nulls for all right-hand columns. A duplicate
// non-null key on the right side is a schema error because it would fan out
// left rows.
//
// Output columns are the left columns followed by the right columns. When
// both keys share a name the right key is omitted; any other name present on
// both sides gets a _x / _y suffix.
func LeftJoin(left, right Table, leftKey, rightKey string) (Table, error) {
	if err := left.Require("left join input", leftKey); err != nil {
		return Table{}, err
	}
	if err := right.Require("left join input", rightKey); err != nil {
		return Table{}, err
	}
	li := left.Index(leftKey)
	ri := right.Index(rightKey)
	sameKey := leftKey == rightKey

	lookup := make(map[string]int, len(right.Rows))
	for n, r := range right.Rows {
		if ri >= len(r) || !r[ri].Valid {
			continue
		}
		k := r[ri].Value
		if _, dup := lookup[k]; dup {
			return Table{}, Schema("left join: duplicate key %q in column %q", k, rightKey)
		}
		lookup[k] = n
	}

	// right column positions carried to the output
	var keep []int
	for i := range right.Columns {
		if sameKey && i == ri {
			continue
		}
		keep = append(keep, i)
	}

	overlap := make(map[string]bool)
	for _, i := range keep {
		if c := right.Columns[i]; left.Index(c) >= 0 && !(sameKey && c == leftKey) {
			overlap[c] = true
		}
	}

	out := Table{
		Columns: make([]string, 0, len(left.Columns)+len(keep)),
		Rows:    make([]Row, 0, len(left.Rows)),
	}
	for _, c := range left.Columns {
		if overlap[c] {
			c += leftSuffix
		}
		out.Columns = append(out.Columns, c)
	}
	for _, i := range keep {
		c := right.Columns[i]
		if overlap[c] {
			c += rightSuffix
		}
		out.Columns = append(out.Columns, c)
	}

	for _, lr := range left.Rows {
		row := make(Row, len(left.Columns), len(out.Columns))
		copy(row, lr)

		match := -1
		if k := row[li]; k.Valid {
			if n, ok := lookup[k.Value]; ok {
				match = n
			}
		}
		for _, i := range keep {
			if match < 0 {
				row = append(row, Null)
				continue
			}
			rr := right.Rows[match]
			if i >= len(rr) {
				row = append(row, Null)
				continue
			}
			row = append(row, rr[i])
		}
		out.Rows = append(out.Rows, row)
	}

	return out, nil
}
