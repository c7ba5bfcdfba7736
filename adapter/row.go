package adapter

import (
	"database/sql"
)

// Row is one materialized result row. Decoding into typed values is left to
// the caller.
type Row struct {
	Columns []string
	Values  []any
}

// Get returns the value of the named column.
func (r Row) Get(column string) (any, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}

	return nil, false
}

// Map returns the row keyed by column name. Later duplicate columns win.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}

	return m
}

func scanRow(rows *sql.Rows, columns []string) (Row, error) {
	values := make([]any, len(columns))

	dests := make([]any, len(columns))
	for i := range values {
		dests[i] = &values[i]
	}

	if err := rows.Scan(dests...); err != nil {
		return Row{}, err
	}

	return Row{Columns: columns, Values: values}, nil
}
