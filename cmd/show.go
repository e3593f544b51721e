package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/result-harvester/internal/table"
)

func newShowCmd() *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the result workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			wb := appInstance.Workbook()
			t, err := wb.Load(cmd.Context())
			if errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s does not exist yet\n", wb.Path)
				return nil
			}
			if err != nil {
				return err
			}
			renderTable(cmd.OutOrStdout(), t, last)
			return nil
		},
	}
	cmd.Flags().IntVar(&last, "last", 0, "only print the last N rows")
	return cmd
}

func renderTable(w io.Writer, t *table.Table, last int) {
	out := prettytable.NewWriter()
	out.SetOutputMirror(w)
	out.SetTitle(t.Title)

	header := make(prettytable.Row, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	out.AppendHeader(header)

	rows := t.Rows
	if last > 0 && last < len(rows) {
		rows = rows[len(rows)-last:]
	}
	for _, r := range rows {
		row := make(prettytable.Row, len(r))
		for i, cell := range r {
			row[i] = cell
		}
		out.AppendRow(row)
	}
	out.AppendFooter(prettytable.Row{fmt.Sprintf("%d rows", len(t.Rows))})
	out.SetStyle(prettytable.StyleRounded)
	out.Render()
}
