package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/jwalitptl/patient-registry/internal/model"
)

const maxCellWidth = 40

// printResult renders rows as an aligned text table.
func printResult(w io.Writer, result *model.QueryResult) {
	if len(result.Fields) == 0 {
		fmt.Fprintf(w, "%d row(s) affected\n", result.RowsAffected)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	cols := result.Columns()
	fmt.Fprintln(tw, strings.Join(cols, "\t"))
	for _, row := range result.Rows {
		cells := make([]string, len(cols))
		for i, col := range cols {
			cells[i] = cell(row, col)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
	fmt.Fprintf(w, "(%d rows)\n", len(result.Rows))
}

func cell(row model.Row, col string) string {
	if b, ok := row[col].([]byte); ok {
		return fmt.Sprintf("<%d bytes>", len(b))
	}
	s := strings.Join(strings.Fields(row.String(col)), " ")
	if utf8.RuneCountInString(s) > maxCellWidth {
		r := []rune(s)
		s = string(r[:maxCellWidth-1]) + "…"
	}
	return s
}
