// Package export renders case history tables into downloadable documents.
package export

// Table is an ordered, positional view of a case's change history. The
// builder fixes the column order; renderers index rows by position and know
// nothing about cases or audit logs.
type Table struct {
	Columns []string
	Rows    [][]string
}
